package middleware

import (
	"net/http"
	"strings"
)

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// formActionHostsはフォーム送信後のリダイレクト先として許可する外部ホスト（決済ページなど）。
func NewSecurityHeadersMiddleware(formActionHosts []string) func(next http.Handler) http.Handler {
	formAction := "'self'"
	for _, h := range formActionHosts {
		formAction += " https://" + strings.TrimSpace(h)
	}
	csp := "default-src 'self'; img-src 'self' https: data:; style-src 'self' 'unsafe-inline'; " +
		"script-src 'none'; frame-ancestors 'none'; base-uri 'self'; form-action " + formAction

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			w.Header().Set("Content-Security-Policy", csp)
			next.ServeHTTP(w, r)
		})
	}
}
