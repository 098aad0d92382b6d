package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hitoshi/bloodlink/internal/middleware"
	"github.com/hitoshi/bloodlink/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// layoutFile は全ページ共通のレイアウト。
const layoutFile = "templates/layout.html"

// Page はレイアウトに渡すデータ。Contentはページごとに異なる。
type Page struct {
	Title     string
	CSRFToken string
	Identity  *model.Identity
	Flash     *Flash
	// Notice はページ内で確定したメッセージ（Flashとは別に表示する）。
	Notice *Flash
	// Refresh が正なら、その秒数後にページを読み直す。
	Refresh int
	Content any
}

// Renderer はembedしたテンプレートからページを描画する。
type Renderer struct {
	pages map[string]*template.Template
	flash FlashConfig
}

var templateFuncs = template.FuncMap{
	"add": func(a, b int) int { return a + b },
	"formatTime": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format("2006-01-02 15:04")
	},
	"orDash": func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "-"
		}
		return s
	},
	"upper": strings.ToUpper,
}

// NewRenderer は全ページのテンプレートを解析する。
func NewRenderer(flash FlashConfig) (*Renderer, error) {
	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	rd := &Renderer{pages: make(map[string]*template.Template), flash: flash}
	for _, f := range files {
		if f == layoutFile {
			continue
		}
		name := strings.TrimSuffix(path.Base(f), ".html")
		t, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS, layoutFile, f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", f, err)
		}
		rd.pages[name] = t
	}
	return rd, nil
}

// Render はページを描画する。Flashはこの時点で読み出して消去する。
// 書き込み前にバッファへ描画し、失敗した場合は500を返す。
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, p Page) {
	t, ok := rd.pages[name]
	if !ok {
		slog.Error("template not found", slog.String("template", name))
		middleware.WriteInternalServerError(w)
		return
	}

	ctx := r.Context()
	p.CSRFToken = middleware.CSRFToken(ctx)
	if s := middleware.SessionFromContext(ctx); s.UserKnown() {
		p.Identity = s.Identity
	}
	if p.Flash == nil {
		p.Flash = rd.flash.take(w, r)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", p); err != nil {
		slog.Error("failed to render page",
			slog.String("template", name),
			slog.String("request_id", middleware.RequestIDFromContext(ctx)),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
