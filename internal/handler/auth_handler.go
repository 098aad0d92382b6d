// Package handler はHTMLページとフォームのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hitoshi/bloodlink/internal/middleware"
	"github.com/hitoshi/bloodlink/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthNextCookie  = "oauth_next"

	// defaultAfterLogin はnext指定がない場合のサインイン後の遷移先。
	defaultAfterLogin = "/dashboard"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code, previousSessionID string) (*model.WebSession, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はサインイン・サインアウトのHTTPハンドラー。
type AuthHandler struct {
	pages
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(p pages, service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{pages: p, service: service, config: config}
}

type loginPage struct {
	Next string
}

// LoginPage はサインインページを表示する。サインイン済みならnextへ進む。
// GET /login?next=/funding
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.URL.Query().Get("next"), defaultAfterLogin)
	if identityOf(r) != nil {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	h.render.Render(w, r, http.StatusOK, "login", Page{
		Title:   "Login",
		Content: loginPage{Next: next},
	})
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login?next=/funding
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setShortCookie(w, oauthStateCookie, state, 600)
	h.setShortCookie(w, oauthNextCookie, safeNext(r.URL.Query().Get("next"), defaultAfterLogin), 600)

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		middleware.WriteErrorPage(w, http.StatusBadRequest, "Invalid sign-in request. Please try again.")
		return
	}
	h.setShortCookie(w, oauthStateCookie, "", -1)

	next := defaultAfterLogin
	if c, err := r.Cookie(oauthNextCookie); err == nil {
		next = safeNext(c.Value, defaultAfterLogin)
	}
	h.setShortCookie(w, oauthNextCookie, "", -1)

	// 利用者が同意画面でキャンセルした
	if r.URL.Query().Get("error") != "" {
		h.flash.redirectWithFlash(w, r, "/login", FlashError, "Sign-in was canceled.")
		return
	}

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorPage(w, http.StatusBadRequest, "Missing authorization code.")
		return
	}

	// 3. 認証処理（以前のセッションがあれば破棄される）
	session, err := h.service.HandleCallback(r.Context(), code, middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		logError(r, "oauth callback failed", err)
		h.flash.redirectWithFlash(w, r, "/login", FlashError, "Sign-in failed. Please try again.")
		return
	}

	// 4. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, next, http.StatusSeeOther)
}

// Logout はサインアウトし、セッションCookieを削除する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sid := middleware.SessionIDFromContext(r.Context()); sid != "" {
		if err := h.service.Logout(r.Context(), sid); err != nil {
			logError(r, "failed to logout", err)
			middleware.WriteErrorPage(w, http.StatusServiceUnavailable, model.MsgServiceUnavailable)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	h.flash.redirectWithFlash(w, r, "/", FlashInfo, "You have been signed out.")
}

func (h *AuthHandler) setShortCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はOAuth stateパラメータ用のランダム文字列を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
