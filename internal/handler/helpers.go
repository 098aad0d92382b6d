package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/bloodlink/internal/middleware"
	"github.com/hitoshi/bloodlink/internal/model"
	"github.com/hitoshi/bloodlink/internal/security"
)

// pages は各ハンドラーが共有する描画まわりの依存。
type pages struct {
	render    *Renderer
	flash     FlashConfig
	sanitizer *security.Sanitizer
}

// identityOf はサインイン中の本人情報を返す。未サインインならnil。
func identityOf(r *http.Request) *model.Identity {
	if s := middleware.SessionFromContext(r.Context()); s.UserKnown() {
		return s.Identity
	}
	return nil
}

// logError はリクエストIDとセッションを付けてエラーを記録する。
func logError(r *http.Request, msg string, err error) {
	ctx := r.Context()
	sid := middleware.SessionIDFromContext(ctx)
	if len(sid) > 8 {
		sid = sid[:8]
	}
	slog.Error(msg,
		slog.String("request_id", middleware.RequestIDFromContext(ctx)),
		slog.String("session", sid),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
}

// formText はフォーム値からタグを取り除き、前後の空白を削る。
func (p pages) formText(r *http.Request, name string) string {
	return p.sanitizer.Text(r.PostFormValue(name))
}

// statusFilter はクエリのstatusを検証する。未定義の値は絞り込みなし。
func statusFilter(r *http.Request) string {
	st, ok := model.ParseDonationStatus(r.URL.Query().Get("status"))
	if !ok {
		return ""
	}
	return string(st)
}

// returnTo はフォームのreturnが同じ一覧のパスならそれを、そうでなければfallbackを返す。
func returnTo(r *http.Request, fallback string) string {
	next := safeNext(r.PostFormValue("return"), fallback)
	if !strings.HasPrefix(next, fallback) {
		return fallback
	}
	return next
}

// Pager はページ送りの表示用データ。
type Pager struct {
	Page    int
	Pages   int
	Offset  int
	PrevURL string
	NextURL string
}

// Show はページ送りを表示すべきかを返す。
func (p Pager) Show() bool { return p.Pages > 1 }

// paginate は一覧をsize件ずつに区切り、pageページ目を返す。
// 範囲外のページは最寄りのページに丸める。
func paginate[T any](items []T, r *http.Request, size int) ([]T, Pager) {
	pages := (len(items) + size - 1) / size
	if pages < 1 {
		pages = 1
	}
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}

	start := (page - 1) * size
	end := min(start+size, len(items))
	pager := Pager{Page: page, Pages: pages, Offset: start}
	if page > 1 {
		pager.PrevURL = pageURL(r, page-1)
	}
	if page < pages {
		pager.NextURL = pageURL(r, page+1)
	}
	return items[start:end], pager
}

func pageURL(r *http.Request, page int) string {
	q := url.Values{}
	for k, v := range r.URL.Query() {
		q[k] = v
	}
	q.Set("page", strconv.Itoa(page))
	return r.URL.Path + "?" + q.Encode()
}

// Option はselect要素の選択肢。
type Option struct {
	Value    string
	Selected bool
}

func options(values []string, selected string) []Option {
	out := make([]Option, len(values))
	for i, v := range values {
		out[i] = Option{Value: v, Selected: v == selected}
	}
	return out
}

func statusOptions(selected string) []Option {
	values := make([]string, len(model.DonationStatuses))
	for i, st := range model.DonationStatuses {
		values[i] = string(st)
	}
	return options(values, selected)
}
