package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はニュース要約のHTMLとフォームの自由入力を無害化する。
// 内部のポリシーは生成後に変更しないため、複数goroutineから使える。
type Sanitizer struct {
	rich  *bluemonday.Policy
	plain *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。
//
// HTML用ポリシー:
//   - 許可タグ: p, br, ul, ol, li, strong, em, a
//   - aタグはhttp/httpsの絶対URLのみ、target="_blank"とrel="noopener noreferrer"を付与
//   - 画像・スクリプト・スタイル・イベント属性は除去
func NewSanitizer() *Sanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowURLSchemes("http", "https")
	rich.AllowRelativeURLs(false)
	rich.RequireParseableURLs(true)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)

	return &Sanitizer{
		rich:  rich,
		plain: bluemonday.StrictPolicy(),
	}
}

// HTML は許可タグのみを残したHTMLを返す。
func (s *Sanitizer) HTML(raw string) string {
	return strings.TrimSpace(s.rich.Sanitize(raw))
}

// Text はタグをすべて取り除いたプレーンテキストを返す。
// 表示時にテンプレートがエスケープするため、ここでは実体参照を戻しておく。
func (s *Sanitizer) Text(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.plain.Sanitize(raw)))
}
