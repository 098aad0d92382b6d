// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 期限切れのWebセッションと、保持期間を過ぎた決済確認記録を削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/bloodlink/internal/repository"
)

// SessionPurger は期限切れWebセッションの削除。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// ConfirmationPurger は古い決済確認記録の削除。
type ConfirmationPurger interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

var (
	_ SessionPurger      = (repository.WebSessionRepository)(nil)
	_ ConfirmationPurger = (repository.ConfirmationRepository)(nil)
)

// CleanupJob は期限切れデータの削除ジョブ。何度実行しても結果は変わらない。
type CleanupJob struct {
	sessions      SessionPurger
	confirmations ConfirmationPurger
	logger        *slog.Logger
	now           func() time.Time

	// RetentionDays は決済確認記録の保持日数（デフォルト: 30）。
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions SessionPurger, confirmations ConfirmationPurger, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions:      sessions,
		confirmations: confirmations,
		logger:        logger,
		now:           time.Now,
		RetentionDays: 30,
	}
}

// Run は1回分の削除を行う。片方が失敗してももう片方は実行し、エラーはまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	var errs []error

	sessions, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("期限切れセッションの削除に失敗: %w", err))
	}

	before := j.now().AddDate(0, 0, -j.RetentionDays)
	confirmations, err := j.confirmations.DeleteOlderThan(ctx, before)
	if err != nil {
		j.logger.Error("決済確認記録の削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		errs = append(errs, fmt.Errorf("決済確認記録の削除に失敗: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_confirmations", confirmations),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行し、ctxが終わるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました", slog.Duration("interval", interval))

	// 失敗は次の周期で再試行する
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
