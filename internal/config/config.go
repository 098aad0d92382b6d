package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Remote API
	APIBaseURL string
	APITimeout time.Duration

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge   int
	ExchangeWorkers int
	ExchangeWait    time.Duration
	// ExchangeStateTTL は完了した交換状態をメモリに保持する時間
	ExchangeStateTTL time.Duration

	// Payment
	CheckoutMinAmount    float64
	CheckoutLatchTTL     time.Duration
	CheckoutAllowedHosts []string
	ConfirmClaimTTL      time.Duration

	// Redis（未設定時はインメモリで動作する）
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AMQP（未設定時はイベントを発行しない）
	AMQPURL   string
	AMQPQueue string

	// News
	NewsFeedURL         string
	NewsRefreshInterval time.Duration
	NewsFetchTimeout    time.Duration
	NewsMaxSize         int64

	// Rate Limit
	RateLimitGeneral int

	// Cleanup（workerコマンド）
	CleanupInterval           time.Duration
	ConfirmationRetentionDays int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom は指定した.envファイルを読み込んだ上でConfigを構築する。
// ファイルが存在しない場合は環境変数のみを使う。
func LoadFrom(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string, dst *string) {
		*dst = os.Getenv(key)
		if *dst == "" {
			missing = append(missing, key)
		}
	}

	required("DATABASE_URL", &cfg.DatabaseURL)
	required("API_BASE_URL", &cfg.APIBaseURL)
	required("GOOGLE_CLIENT_ID", &cfg.GoogleClientID)
	required("GOOGLE_CLIENT_SECRET", &cfg.GoogleClientSecret)
	required("GOOGLE_REDIRECT_URL", &cfg.GoogleRedirectURL)
	required("BASE_URL", &cfg.BaseURL)

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	// Optional fields with defaults
	cfg.APITimeout = getEnvDuration("API_TIMEOUT", 10*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.ExchangeWorkers = getEnvInt("EXCHANGE_WORKERS", 8)
	cfg.ExchangeWait = getEnvDuration("EXCHANGE_WAIT", 5*time.Second)
	cfg.ExchangeStateTTL = getEnvDuration("EXCHANGE_STATE_TTL", 15*time.Minute)
	cfg.CheckoutMinAmount = getEnvFloat("CHECKOUT_MIN_AMOUNT", 10)
	cfg.CheckoutLatchTTL = getEnvDuration("CHECKOUT_LATCH_TTL", 2*time.Minute)
	cfg.CheckoutAllowedHosts = getEnvList("CHECKOUT_ALLOWED_HOSTS", []string{"checkout.stripe.com"})
	cfg.ConfirmClaimTTL = getEnvDuration("CONFIRM_CLAIM_TTL", 24*time.Hour)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.AMQPURL = getEnvString("AMQP_URL", "")
	cfg.AMQPQueue = getEnvString("AMQP_QUEUE", "bloodlink.activity")
	cfg.NewsFeedURL = getEnvString("NEWS_FEED_URL", "")
	cfg.NewsRefreshInterval = getEnvDuration("NEWS_REFRESH_INTERVAL", 30*time.Minute)
	cfg.NewsFetchTimeout = getEnvDuration("NEWS_FETCH_TIMEOUT", 10*time.Second)
	cfg.NewsMaxSize = getEnvInt64("NEWS_MAX_SIZE", 5242880)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.ConfirmationRetentionDays = getEnvInt("CONFIRMATION_RETENTION_DAYS", 30)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")

	if cfg.ExchangeWorkers < 1 {
		cfg.ExchangeWorkers = 1
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
