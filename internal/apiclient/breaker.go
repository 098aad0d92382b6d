package apiclient

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hitoshi/bloodlink/internal/metrics"
	"github.com/hitoshi/bloodlink/internal/model"
)

// newBreaker はリモートAPI用のサーキットブレーカーを生成する。
// 直近1分で10件以上かつ失敗率60%以上でopenになる。
// 4xx応答と呼び出し元のキャンセルは失敗として数えない。
func newBreaker(name string, timeout time.Duration, rec metrics.Recorder, logger *slog.Logger) *gobreaker.CircuitBreaker[*response] {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rec.RecordBreakerState(name, stateValue(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= 0.6
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *model.APIError
			return errors.As(err, &apiErr) && apiErr.Status < 500
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("サーキットブレーカーの状態が変化しました",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			rec.RecordBreakerState(name, stateValue(to))
		},
	})
}

// stateValue はメトリクス用に状態を数値化する。
func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
