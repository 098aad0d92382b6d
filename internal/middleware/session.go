package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/bloodlink/internal/model"
)

// SessionCookieName はWebセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.WebSessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.WebSession, error)
}

// NewSessionMiddleware はHTTP Only CookieからWebセッションを読み込み、
// リクエストコンテキストに注入するミドルウェアを返す。
// 公開ページでも使うため、セッションがなくてもリクエストは拒否しない。
// アクセス制御はRequireUserが行う。
func NewSessionMiddleware(finder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := finder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if session == nil {
				// 期限切れまたは削除済み
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookieName,
					Value:    "",
					Path:     "/",
					MaxAge:   -1,
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// shortID はログ出力用にIDの先頭だけを返す。
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
