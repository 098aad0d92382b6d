package payment

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/bloodlink/internal/metrics"
	"github.com/hitoshi/bloodlink/internal/model"
	"github.com/hitoshi/bloodlink/internal/store"
)

// RedirectGuard はブラウザを送り出す外部URLを検証する。
type RedirectGuard interface {
	ValidateRedirect(rawURL string, allowedHosts []string) error
}

// CheckoutConfig はCheckoutの設定。
type CheckoutConfig struct {
	MinAmount    float64
	LatchTTL     time.Duration
	AllowedHosts []string
	Metrics      metrics.Recorder
	Logger       *slog.Logger
}

// Checkout は寄付のチェックアウトを開始する。
// Webセッションごとのラッチでボタンの連打による二重作成を防ぐ。
// ラッチは失敗時に外し、成功時はTTLで切れるか戻りリダイレクトの処理で外れる。
type Checkout struct {
	claims store.ClaimStore
	guard  RedirectGuard
	cfg    CheckoutConfig
}

// NewCheckout はCheckoutを生成する。
func NewCheckout(claims store.ClaimStore, guard RedirectGuard, cfg CheckoutConfig) *Checkout {
	if cfg.MinAmount <= 0 {
		cfg.MinAmount = 10
	}
	if cfg.LatchTTL <= 0 {
		cfg.LatchTTL = 2 * time.Minute
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Checkout{claims: claims, guard: guard, cfg: cfg}
}

// MinAmount は最低寄付額を返す。
func (c *Checkout) MinAmount() float64 { return c.cfg.MinAmount }

// ParseAmount はフォームの金額を解釈する。数値でない場合や最低額未満はエラー。
func (c *Checkout) ParseAmount(raw string) (float64, error) {
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n < c.cfg.MinAmount {
		return 0, model.NewUserFacingError(model.MinimumAmountMessage(c.cfg.MinAmount))
	}
	return n, nil
}

// Start はチェックアウトセッションを作成し、遷移先URLを返す。
// 返すエラーは model.UserMessage で表示用の文言に変換できる。
func (c *Checkout) Start(ctx context.Context, webSessionID string, api FundingAPI, rawAmount, name, email string) (string, error) {
	amount, err := c.ParseAmount(rawAmount)
	if err != nil {
		c.cfg.Metrics.RecordCheckoutStart(metrics.CheckoutBelowMinimum)
		return "", err
	}

	key := latchKey(webSessionID)
	ok, err := c.claims.Claim(ctx, key, c.cfg.LatchTTL)
	if err != nil {
		c.cfg.Metrics.RecordCheckoutStart(metrics.CheckoutFailed)
		return "", model.NewUserFacingError(model.MsgCheckoutFailed)
	}
	if !ok {
		c.cfg.Metrics.RecordCheckoutStart(metrics.CheckoutLatched)
		return "", model.NewUserFacingError(model.MsgCheckoutInProgress)
	}

	cs, err := api.CreateCheckoutSession(ctx, model.CheckoutRequest{Amount: amount, Name: name, Email: email})
	if err != nil {
		c.release(ctx, webSessionID)
		c.cfg.Metrics.RecordCheckoutStart(metrics.CheckoutFailed)
		c.cfg.Logger.Warn("チェックアウトの作成に失敗しました",
			slog.String("session_id", webSessionID),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	if cs == nil || cs.URL == "" {
		c.release(ctx, webSessionID)
		c.cfg.Metrics.RecordCheckoutStart(metrics.CheckoutInvalidURL)
		return "", model.NewUserFacingError(model.MsgCheckoutURLMissing)
	}
	if err := c.guard.ValidateRedirect(cs.URL, c.cfg.AllowedHosts); err != nil {
		c.release(ctx, webSessionID)
		c.cfg.Metrics.RecordCheckoutStart(metrics.CheckoutInvalidURL)
		c.cfg.Logger.Warn("チェックアウトURLが許可されていません",
			slog.String("session_id", webSessionID),
			slog.String("error", err.Error()),
		)
		return "", model.NewUserFacingError(model.MsgCheckoutURLMissing)
	}

	c.cfg.Metrics.RecordCheckoutStart(metrics.CheckoutStarted)
	return cs.URL, nil
}

func (c *Checkout) release(ctx context.Context, webSessionID string) {
	if err := c.claims.Release(context.WithoutCancel(ctx), latchKey(webSessionID)); err != nil {
		c.cfg.Logger.Warn("チェックアウトのラッチ解除に失敗しました",
			slog.String("session_id", webSessionID),
			slog.String("error", err.Error()),
		)
	}
}
