package payment

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/bloodlink/internal/events"
	"github.com/hitoshi/bloodlink/internal/metrics"
	"github.com/hitoshi/bloodlink/internal/model"
	"github.com/hitoshi/bloodlink/internal/repository"
	"github.com/hitoshi/bloodlink/internal/store"
)

// Outcome は決済確認の結果。
type Outcome string

const (
	OutcomeIdle       Outcome = "idle"
	OutcomeConfirming Outcome = "confirming"
	OutcomeConfirmed  Outcome = "confirmed"
	OutcomeFailed     Outcome = "failed"
	OutcomeCanceled   Outcome = "canceled"
)

// MsgConfirming は別のリクエストが確認中の場合に表示する。
const MsgConfirming = "Confirming payment..."

// Result はReconcileの結果。
type Result struct {
	Outcome Outcome
	Message string
	// StripQuery はクエリを外したURLへリダイレクトすべきかを示す。
	StripQuery bool
	// RefreshFundings は寄付一覧を取り直すべきかを示す。
	RefreshFundings bool
}

// ReconcilerConfig はReconcilerの設定。
type ReconcilerConfig struct {
	ClaimTTL time.Duration
	Metrics  metrics.Recorder
	Events   events.Publisher
	Logger   *slog.Logger
}

// Reconciler はチェックアウトからの戻りを、チェックアウトセッションごとに1回だけの確認呼び出しに変換する。
// 同時に来た重複はsingleflightで1つにまとめ、後から来た重複はClaimStoreのキーで止める。
type Reconciler struct {
	claims        store.ClaimStore
	confirmations repository.ConfirmationRepository
	group         singleflight.Group
	cfg           ReconcilerConfig
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(claims store.ClaimStore, confirmations repository.ConfirmationRepository, cfg ReconcilerConfig) *Reconciler {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 24 * time.Hour
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reconciler{claims: claims, confirmations: confirmations, cfg: cfg}
}

// Reconcile はページのクエリを調べ、必要なら決済確認を行う。
// マーカーは値が空でなければ立っているとみなす。
//   - canceled: 確認は行わず、キャンセルを伝えてクエリを外す
//   - success と session_id: 確認を1回だけ呼ぶ
//   - どちらもない: idle
func (r *Reconciler) Reconcile(ctx context.Context, webSessionID string, api FundingAPI, q url.Values) Result {
	if q.Get("canceled") != "" {
		r.releaseLatch(ctx, webSessionID)
		r.cfg.Metrics.RecordPaymentConfirmation(metrics.ConfirmCanceled)
		return Result{Outcome: OutcomeCanceled, Message: model.MsgPaymentCanceled, StripQuery: true}
	}

	cs := q.Get("session_id")
	if q.Get("success") == "" || cs == "" {
		return Result{Outcome: OutcomeIdle}
	}

	v, _, shared := r.group.Do(cs, func() (any, error) {
		return r.confirm(ctx, webSessionID, api, cs), nil
	})
	if shared {
		r.cfg.Logger.Debug("決済確認の重複呼び出しをまとめました", slog.String("checkout_session_id", cs))
	}
	return v.(Result)
}

func (r *Reconciler) confirm(ctx context.Context, webSessionID string, api FundingAPI, cs string) Result {
	log := r.cfg.Logger.With(
		slog.String("checkout_session_id", cs),
		slog.String("session_id", webSessionID),
	)

	prev, err := r.confirmations.FindByCheckoutSessionID(ctx, cs)
	if err != nil {
		log.Warn("決済確認記録の取得に失敗しました", slog.String("error", err.Error()))
	}
	if prev != nil && prev.Status == model.ConfirmationConfirmed {
		r.cfg.Metrics.RecordPaymentConfirmation(metrics.ConfirmDuplicate)
		return confirmedResult()
	}

	claimed, err := r.claims.Claim(ctx, confirmKey(cs), r.cfg.ClaimTTL)
	if err != nil {
		log.Error("決済確認の排他取得に失敗しました", slog.String("error", err.Error()))
		r.cfg.Metrics.RecordPaymentConfirmation(metrics.ConfirmFailed)
		return Result{Outcome: OutcomeFailed, Message: model.MsgPaymentConfirmFailed}
	}
	if !claimed {
		r.cfg.Metrics.RecordPaymentConfirmation(metrics.ConfirmDuplicate)
		return Result{Outcome: OutcomeConfirming, Message: MsgConfirming}
	}

	r.save(ctx, log, &model.PaymentConfirmation{
		CheckoutSessionID: cs,
		WebSessionID:      webSessionID,
		Status:            model.ConfirmationPending,
	})

	if err := api.ConfirmFunding(ctx, cs); err != nil {
		msg := model.UserMessage(err, model.MsgPaymentConfirmFailed)
		r.save(ctx, log, &model.PaymentConfirmation{
			CheckoutSessionID: cs,
			WebSessionID:      webSessionID,
			Status:            model.ConfirmationFailed,
			Message:           msg,
		})
		// 新しいページ読み込みで再試行できるよう排他を戻す
		if rerr := r.claims.Release(context.WithoutCancel(ctx), confirmKey(cs)); rerr != nil {
			log.Warn("決済確認の排他解除に失敗しました", slog.String("error", rerr.Error()))
		}
		r.cfg.Metrics.RecordPaymentConfirmation(metrics.ConfirmFailed)
		log.Warn("決済確認に失敗しました", slog.String("error", err.Error()))
		return Result{Outcome: OutcomeFailed, Message: msg}
	}

	r.save(ctx, log, &model.PaymentConfirmation{
		CheckoutSessionID: cs,
		WebSessionID:      webSessionID,
		Status:            model.ConfirmationConfirmed,
		Message:           model.MsgPaymentConfirmed,
	})
	r.releaseLatch(ctx, webSessionID)
	r.cfg.Metrics.RecordPaymentConfirmation(metrics.ConfirmConfirmed)
	_ = r.cfg.Events.Publish(ctx, events.New(events.TypeFundingConfirmed, map[string]string{
		"checkoutSessionId": cs,
	}))
	log.Info("決済を確認しました")
	return confirmedResult()
}

func confirmedResult() Result {
	return Result{
		Outcome:         OutcomeConfirmed,
		Message:         model.MsgPaymentConfirmed,
		StripQuery:      true,
		RefreshFundings: true,
	}
}

// save は確認記録を保存する。失敗はログに残すだけにする。
func (r *Reconciler) save(ctx context.Context, log *slog.Logger, c *model.PaymentConfirmation) {
	if err := r.confirmations.Save(ctx, c); err != nil {
		log.Warn("決済確認記録の保存に失敗しました",
			slog.String("status", string(c.Status)),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Reconciler) releaseLatch(ctx context.Context, webSessionID string) {
	if err := r.claims.Release(ctx, latchKey(webSessionID)); err != nil {
		r.cfg.Logger.Warn("チェックアウトのラッチ解除に失敗しました",
			slog.String("session_id", webSessionID),
			slog.String("error", err.Error()),
		)
	}
}
