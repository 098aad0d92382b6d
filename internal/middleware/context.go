// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"

	"github.com/hitoshi/bloodlink/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	requestIDContextKey = contextKey("request_id")
	sessionContextKey   = contextKey("web_session")
	csrfContextKey      = contextKey("csrf_token")
	userContextKey      = contextKey("user")
)

// RequestIDFromContext はリクエストIDを返す。未設定なら空文字。
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// SessionFromContext はセッションミドルウェアが読み込んだWebセッションを返す。
// Cookieがない、または無効な場合はnil。
func SessionFromContext(ctx context.Context) *model.WebSession {
	s, _ := ctx.Value(sessionContextKey).(*model.WebSession)
	return s
}

// ContextWithSession はコンテキストにWebセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, s *model.WebSession) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// SessionIDFromContext はWebセッションIDを返す。セッションがなければ空文字。
func SessionIDFromContext(ctx context.Context) string {
	if s := SessionFromContext(ctx); s != nil {
		return s.ID
	}
	return ""
}

// CSRFToken はフォームに埋め込むCSRFトークンを返す。
func CSRFToken(ctx context.Context) string {
	t, _ := ctx.Value(csrfContextKey).(string)
	return t
}

// ContextWithCSRFToken はコンテキストにCSRFトークンを注入する。
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfContextKey, token)
}

// UserFromContext はRequireRoleが読み込んだリモートAPI上のユーザーを返す。
func UserFromContext(ctx context.Context) *model.User {
	u, _ := ctx.Value(userContextKey).(*model.User)
	return u
}

// ContextWithUser はコンテキストにユーザーを注入する。
func ContextWithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}
