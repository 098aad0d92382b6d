package middleware

import (
	"html/template"
	"log/slog"
	"net/http"
)

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body><main><h1>{{.Title}}</h1><p>{{.Message}}</p><p><a href="/">Back to home</a></p></main></body></html>
`))

// WriteErrorPage はステータスコードに応じた簡易エラーページを書き込む。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func WriteErrorPage(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := errorPage.Execute(w, struct {
		Title   string
		Message string
	}{http.StatusText(statusCode), message}); err != nil {
		slog.Error("failed to render error page", slog.String("error", err.Error()))
	}
}

// WriteInternalServerError は内部サーバーエラーのページを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorPage(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
}
