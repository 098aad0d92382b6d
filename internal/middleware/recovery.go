package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// wroteHeaderWriter はレスポンスヘッダーが送信済みかを記録する。
type wroteHeaderWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *wroteHeaderWriter) WriteHeader(code int) {
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *wroteHeaderWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *wroteHeaderWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// NewRecoveryMiddleware はハンドラーのpanicを回復してエラーページを返す。
// ページ描画の途中でpanicした場合はステータスを書き直せないため、ログだけ残す。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := &wroteHeaderWriter{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("session_id", SessionIDFromContext(r.Context())),
					slog.Bool("response_started", ww.wrote),
					slog.String("stack", string(debug.Stack())),
				)
				if !ww.wrote {
					WriteInternalServerError(ww)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
