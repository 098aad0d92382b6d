package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/bloodlink/internal/metrics"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、request_id、session（サインイン済みの場合は先頭8文字）を含む。
// セッションを参照するため、セッションミドルウェアの後に配置する。
// recがnilでなければHTTPリクエストのメトリクスも記録する。
func NewLoggingMiddleware(logger *slog.Logger, rec metrics.Recorder) func(next http.Handler) http.Handler {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			sr := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)
			rec.RecordHTTPRequest(r.Method, sr.statusCode, duration)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sr.statusCode),
				slog.Float64("duration_ms", durationMs),
				slog.String("request_id", RequestIDFromContext(r.Context())),
			}
			if s := SessionFromContext(r.Context()); s.UserKnown() {
				args = append(args, slog.String("session", shortID(s.ID)))
			}

			// slogのログレベルをステータスコードに応じて変更
			level := slog.LevelInfo
			if sr.statusCode >= 500 {
				level = slog.LevelError
			} else if sr.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
