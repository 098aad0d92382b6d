package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/bloodlink/internal/apiclient"
	"github.com/hitoshi/bloodlink/internal/auth"
	"github.com/hitoshi/bloodlink/internal/config"
	"github.com/hitoshi/bloodlink/internal/database"
	"github.com/hitoshi/bloodlink/internal/events"
	"github.com/hitoshi/bloodlink/internal/handler"
	"github.com/hitoshi/bloodlink/internal/logger"
	"github.com/hitoshi/bloodlink/internal/metrics"
	"github.com/hitoshi/bloodlink/internal/middleware"
	"github.com/hitoshi/bloodlink/internal/news"
	"github.com/hitoshi/bloodlink/internal/payment"
	"github.com/hitoshi/bloodlink/internal/repository"
	"github.com/hitoshi/bloodlink/internal/security"
	"github.com/hitoshi/bloodlink/internal/session"
	"github.com/hitoshi/bloodlink/internal/store"
	"github.com/hitoshi/bloodlink/internal/worker/cleanup"
)

const (
	dbConnectTimeout = 5 * time.Second
	claimSweepPeriod = 10 * time.Minute
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	inv, err := ParseCommand(args)
	if err != nil {
		return err
	}
	cmd := inv.Command

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, inv.Migrate)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxが終わる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクス・イベント
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	publisher := events.NewPublisher(cfg.AMQPURL, cfg.AMQPQueue)
	if c, ok := publisher.(io.Closer); ok {
		defer c.Close()
	}

	// 3. リポジトリ・排他ストア
	sessionRepo := repository.NewPostgresWebSessionRepo(db)
	confirmRepo := repository.NewPostgresConfirmationRepo(db)

	var claims store.ClaimStore
	if rc := store.NewRedisClient(store.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}); rc != nil {
		defer rc.Close()
		claims = store.NewRedisClaimStore(rc)
		slog.Info("using redis claim store", slog.String("addr", cfg.RedisAddr))
	} else {
		mem := store.NewMemoryClaimStore()
		claims = mem
		go sweepClaims(ctx, mem)
		slog.Info("using in-memory claim store")
	}

	// 4. リモートAPI・セッション
	api := apiclient.New(apiclient.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.APITimeout,
		Metrics: collector,
		Logger:  slog.Default(),
	})

	boot := session.NewBootstrapper(sessionRepo, api.Public(), session.Config{
		Workers:  cfg.ExchangeWorkers,
		EntryTTL: cfg.ExchangeStateTTL,
		Metrics:  collector,
		Events:   publisher,
		Logger:   slog.Default(),
	})
	tokens := session.NewTokenStore(sessionRepo)

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(oauthProvider, sessionRepo, boot, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
	})

	// 5. 決済
	guard := security.NewURLGuard()
	sanitizer := security.NewSanitizer()

	reconciler := payment.NewReconciler(claims, confirmRepo, payment.ReconcilerConfig{
		ClaimTTL: cfg.ConfirmClaimTTL,
		Metrics:  collector,
		Events:   publisher,
		Logger:   slog.Default(),
	})
	checkout := payment.NewCheckout(claims, guard, payment.CheckoutConfig{
		MinAmount:    cfg.CheckoutMinAmount,
		LatchTTL:     cfg.CheckoutLatchTTL,
		AllowedHosts: cfg.CheckoutAllowedHosts,
		Metrics:      collector,
		Logger:       slog.Default(),
	})

	// 6. ニュース
	newsService := news.NewService(guard, sanitizer, news.Config{
		FeedURL: cfg.NewsFeedURL,
		Timeout: cfg.NewsFetchTimeout,
		MaxSize: cfg.NewsMaxSize,
		Metrics: collector,
		Logger:  slog.Default(),
	})

	// 7. ルーターの構築
	renderer, err := handler.NewRenderer(handler.FlashConfig{
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	})
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}

	// RATE_LIMIT_GENERALはreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionFinder:   sessionRepo,
		RateLimiter:     rateLimiter,
		Tokens:          tokens,
		Exchange:        boot,
		ExchangeWait:    cfg.ExchangeWait,
		FormActionHosts: cfg.CheckoutAllowedHosts,
		CookieSecure:    cfg.CookieSecure,
		CookieDomain:    cfg.CookieDomain,
		Metrics:         collector,
		MetricsHandler:  metrics.Handler(reg),
		Logger:          slog.Default(),

		Renderer:  renderer,
		Sanitizer: sanitizer,
		API:       api,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Reconciler: reconciler,
		Checkout:   checkout,

		News: newsService,
		DB:   db,
	}

	router := handler.NewRouter(deps)

	// 8. バックグラウンド処理
	bgCtx, cancelBg := context.WithCancel(context.Background())
	bgDone := make(chan struct{}, 2)
	go func() {
		boot.Run(bgCtx)
		bgDone <- struct{}{}
	}()
	go func() {
		newsService.Run(bgCtx, cfg.NewsRefreshInterval)
		bgDone <- struct{}{}
	}()

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down web server...")
	case serveErr = <-errCh:
		if serveErr != nil {
			slog.Error("server listen error", slog.String("error", serveErr.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("server shutdown failed: %w", err))
	}

	// 処理中のリクエストが終わってからワーカーを止める
	cancelBg()
	for i := 0; i < 2; i++ {
		<-bgDone
	}

	if serveErr != nil {
		return serveErr
	}
	slog.Info("web server stopped gracefully")
	return nil
}

// sweepClaims はインメモリの排他キーのうち期限切れのものを定期的に削除する。
func sweepClaims(ctx context.Context, mem *store.MemoryClaimStore) {
	ticker := time.NewTicker(claimSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mem.Sweep(); n > 0 {
				slog.Debug("expired claims swept", slog.Int("count", n))
			}
		}
	}
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れデータのクリーンアップを定期実行する。
// ctxが終わるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := cleanup.NewCleanupJob(
		repository.NewPostgresWebSessionRepo(db),
		repository.NewPostgresConfirmationRepo(db),
		slog.Default(),
	)
	if cfg.ConfirmationRetentionDays > 0 {
		job.RetentionDays = cfg.ConfirmationRetentionDays
	}

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", job.RetentionDays),
	)
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// upは未適用分をすべて適用し、downは1段階だけ戻し、versionは現在のバージョンを記録する。
func runMigrate(cfg *config.Config, action MigrateAction) error {
	dbURL := maskDatabaseURL(cfg.DatabaseURL)
	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", dbURL),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("reading migration version failed: %w", err)
		}
		slog.Info("database migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
		return nil
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	slog.Info("database migrations completed successfully", slog.String("action", string(action)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
