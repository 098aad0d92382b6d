package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
)

const flashCookieName = "flash"

// FlashKind はメッセージの種類。
type FlashKind string

const (
	FlashSuccess FlashKind = "success"
	FlashError   FlashKind = "error"
	FlashInfo    FlashKind = "info"
)

// Flash はリダイレクト後の1回だけ表示するメッセージ。
type Flash struct {
	Kind    FlashKind `json:"k"`
	Message string    `json:"m"`
}

// FlashConfig はFlash Cookieの属性。
type FlashConfig struct {
	CookieSecure bool
	CookieDomain string
}

func (c FlashConfig) set(w http.ResponseWriter, f Flash) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(b),
		Path:     "/",
		Domain:   c.CookieDomain,
		MaxAge:   60,
		HttpOnly: true,
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// take はFlashを読み出して消去する。なければnil。
func (c FlashConfig) take(w http.ResponseWriter, r *http.Request) *Flash {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	b, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}
	var f Flash
	if err := json.Unmarshal(b, &f); err != nil || f.Message == "" {
		return nil
	}
	switch f.Kind {
	case FlashSuccess, FlashError, FlashInfo:
	default:
		return nil
	}
	return &f
}

// redirectWithFlash はFlashを設定して303でリダイレクトする。
func (c FlashConfig) redirectWithFlash(w http.ResponseWriter, r *http.Request, to string, kind FlashKind, msg string) {
	c.set(w, Flash{Kind: kind, Message: msg})
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// safeNext はリダイレクト先としてサイト内のパスだけを許可する。
func safeNext(next, fallback string) string {
	if next == "" || next[0] != '/' || len(next) > 1 && (next[1] == '/' || next[1] == '\\') {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return next
}
