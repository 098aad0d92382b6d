package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/bloodlink/internal/model"
)

// TokenReader はWebセッションに保存された有効なトークンを読む。
type TokenReader interface {
	Token(ctx context.Context, sessionID string) (string, error)
}

// ExchangeTracker はトークン交換の状態を参照し、必要なら交換をやり直す。
// session.Bootstrapperを抽象化する。
type ExchangeTracker interface {
	State(sessionID string) model.ExchangeState
	Await(ctx context.Context, sessionID string) (model.ExchangeState, error)
	SignedIn(ctx context.Context, sessionID string, identity *model.Identity) error
}

// GuardConfig はRequireUserの設定。
type GuardConfig struct {
	Tokens   TokenReader
	Exchange ExchangeTracker
	// Wait は交換の完了を待つ最大時間。
	Wait time.Duration
	// Pending は待っても交換が終わらない場合に返すページ。
	Pending http.Handler
	// LoginPath は未サインイン時のリダイレクト先。
	LoginPath string
}

// RequireUser はサインイン済みで、トークン交換が終わっているリクエストだけを通す。
//
//   - 未サインイン: LoginPath?next=元のURL にリダイレクト
//   - トークンあり: そのまま通す
//   - 交換中: Waitまで待ち、終わらなければPendingを返す
//   - トークンなしで交換していない（再起動後や期限切れ）: 同じ本人情報で交換をやり直す
//   - 交換失敗: そのまま通す。ページ側のAPI呼び出しがエラーを表示する
func RequireUser(cfg GuardConfig) func(next http.Handler) http.Handler {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess := SessionFromContext(ctx)
			if !sess.UserKnown() {
				http.Redirect(w, r, cfg.LoginPath+"?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
				return
			}

			token, err := cfg.Tokens.Token(ctx, sess.ID)
			if err != nil {
				slog.Error("failed to read session token",
					slog.String("request_id", RequestIDFromContext(ctx)),
					slog.String("session", shortID(sess.ID)),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if token != "" {
				next.ServeHTTP(w, r)
				return
			}

			switch cfg.Exchange.State(sess.ID) {
			case model.ExchangeFailed:
				next.ServeHTTP(w, r)
				return
			case model.ExchangeInFlight:
			default:
				if err := cfg.Exchange.SignedIn(ctx, sess.ID, sess.Identity); err != nil {
					slog.Error("failed to restart token exchange",
						slog.String("request_id", RequestIDFromContext(ctx)),
						slog.String("session", shortID(sess.ID)),
						slog.String("error", err.Error()),
					)
					WriteErrorPage(w, http.StatusServiceUnavailable, model.MsgServiceUnavailable)
					return
				}
			}

			waitCtx, cancel := context.WithTimeout(ctx, cfg.Wait)
			defer cancel()
			st, err := cfg.Exchange.Await(waitCtx, sess.ID)
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				// クライアントの切断
				return
			}
			if st == model.ExchangeInFlight {
				cfg.Pending.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserLoader はWebセッションに対応するリモートAPI上のユーザーを取得する。
type UserLoader interface {
	CurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// RequireRole はユーザーのロールがrolesのいずれかである場合だけ通す。
// ユーザーを取得できない場合はdonorとして扱う。
// 許可されない場合はredirectToにリダイレクトする。
// 取得したユーザーはUserFromContextで参照できる。すでにコンテキストにあれば取得し直さない。
func RequireRole(loader UserLoader, redirectTo string, roles ...model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sid := SessionIDFromContext(ctx)

			user := UserFromContext(ctx)
			var err error
			if user == nil {
				user, err = loader.CurrentUser(ctx, sid)
			}
			if err != nil {
				slog.Warn("failed to load user role, treating as donor",
					slog.String("request_id", RequestIDFromContext(ctx)),
					slog.String("session", shortID(sid)),
					slog.String("error", err.Error()),
				)
				user = nil
			}

			role := user.EffectiveRole()
			for _, allowed := range roles {
				if role == allowed {
					if user != nil {
						ctx = ContextWithUser(ctx, user)
					}
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}
			http.Redirect(w, r, redirectTo, http.StatusSeeOther)
		})
	}
}
