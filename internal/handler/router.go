package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bloodlink/internal/apiclient"
	"github.com/hitoshi/bloodlink/internal/metrics"
	"github.com/hitoshi/bloodlink/internal/middleware"
	"github.com/hitoshi/bloodlink/internal/model"
	"github.com/hitoshi/bloodlink/internal/security"
)

// SessionTokens はWebセッションのトークンの読み出し口。session.TokenStoreが実装する。
type SessionTokens interface {
	middleware.TokenReader
	TokenSources
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder   middleware.SessionFinder
	RateLimiter     *middleware.RateLimiter
	Tokens          SessionTokens
	Exchange        middleware.ExchangeTracker
	ExchangeWait    time.Duration
	FormActionHosts []string
	CookieSecure    bool
	CookieDomain    string
	Metrics         metrics.Recorder
	MetricsHandler  http.Handler
	Logger          *slog.Logger

	// 描画
	Renderer  *Renderer
	Sanitizer *security.Sanitizer

	// リモートAPI
	API *apiclient.Client

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 寄付
	Reconciler PaymentReconciler
	Checkout   CheckoutStarter

	// その他
	News NewsSource
	DB   Pinger
}

// NewRouter は全ページのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → SecurityHeaders → Session → Logging → RateLimit(General) → CSRF
//
// /health と /metrics はセッションとCSRFの外に置く。
// 保護ページはさらに RequireUser（と必要に応じて RequireRole）を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())

	api := NewAPIProvider(deps.API, deps.Tokens)
	p := pages{render: deps.Renderer, flash: deps.Renderer.flash, sanitizer: deps.Sanitizer}

	authHandler := NewAuthHandler(p, deps.AuthService, deps.AuthConfig)
	publicHandler := NewPublicHandler(p, api, deps.News)
	donationHandler := NewDonationHandler(p, api)
	fundingHandler := NewFundingHandler(p, api, deps.Reconciler, deps.Checkout)
	dashboardHandler := NewDashboardHandler(p, api)
	healthHandler := NewHealthHandler(deps.DB, deps.API)

	// --- 監視用 ---
	r.Group(func(r chi.Router) {
		r.Get("/health", healthHandler.Health)
		if deps.MetricsHandler != nil {
			r.Handle("/metrics", deps.MetricsHandler)
		}
	})

	// --- ページ ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware(deps.FormActionHosts))
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(middleware.CSRFConfig{
			CookieSecure: deps.CookieSecure,
			CookieDomain: deps.CookieDomain,
		}))

		// 公開ページ
		r.Get("/", publicHandler.Home)
		r.Get("/about", publicHandler.About)
		r.Get("/find-blood", publicHandler.FindBlood)
		r.Get("/donation-requests", publicHandler.DonationRequests)

		// 認証
		r.Get("/login", authHandler.LoginPage)
		r.Route("/auth", func(r chi.Router) {
			r.Get("/google/login", authHandler.Login)
			r.Get("/google/callback", authHandler.Callback)
			r.Post("/logout", authHandler.Logout)
		})

		// --- サインインが必要なページ ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser(middleware.GuardConfig{
				Tokens:   deps.Tokens,
				Exchange: deps.Exchange,
				Wait:     deps.ExchangeWait,
				Pending:  deps.Renderer.SigningIn(),
			}))

			r.Get("/donation-requests/{id}", donationHandler.Details)
			r.Post("/donation-requests/{id}/donate", donationHandler.Donate)

			// ここから下はリモートAPIのユーザー（ロール）をコンテキストに載せる
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(api, "/", model.RoleDonor, model.RoleVolunteer, model.RoleAdmin))

				r.Get("/register", dashboardHandler.Register)
				r.Post("/register", dashboardHandler.SubmitRegistration)

				r.Get("/funding", fundingHandler.Funding)
				r.With(deps.RateLimiter.CheckoutMiddleware()).Post("/funding/checkout", fundingHandler.Checkout)

				r.Route("/dashboard", func(r chi.Router) {
					r.Get("/", dashboardHandler.Overview)
					r.Get("/profile", dashboardHandler.Profile)
					r.Post("/profile", dashboardHandler.UpdateProfile)

					r.Get("/my-donation-requests", donationHandler.MyRequests)
					r.Post("/my-donation-requests/{id}/status", donationHandler.FinishMine)
					r.Post("/my-donation-requests/{id}/delete", donationHandler.DeleteMine)

					r.Get("/create-donation-request", donationHandler.NewRequest)
					r.Post("/create-donation-request", donationHandler.CreateRequest)
					r.Get("/edit-donation-request/{id}", donationHandler.EditRequest)
					r.Post("/edit-donation-request/{id}", donationHandler.UpdateRequest)

					// 管理者・ボランティア
					r.Group(func(r chi.Router) {
						r.Use(middleware.RequireRole(api, "/dashboard", model.RoleVolunteer, model.RoleAdmin))
						r.Get("/all-blood-donation-request", donationHandler.AllRequests)
						r.Post("/all-blood-donation-request/{id}/status", donationHandler.UpdateStatus)
					})

					// 管理者のみ
					r.Group(func(r chi.Router) {
						r.Use(middleware.RequireRole(api, "/dashboard", model.RoleAdmin))
						r.Post("/all-blood-donation-request/{id}/delete", donationHandler.DeleteAny)
						r.Get("/all-users", dashboardHandler.AllUsers)
						r.Post("/all-users/{id}/status", dashboardHandler.SetUserStatus)
						r.Post("/all-users/{id}/role", dashboardHandler.SetUserRole)
					})
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorPage(w, http.StatusNotFound, "Page not found.")
	})

	return r
}
