// Package events はアクティビティイベントをメッセージキューへ送る。
// 送信の失敗はログに残すだけで、呼び出し元の処理は止めない。
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// イベント種別
const (
	TypeUserSignedIn     = "user.signed_in"
	TypeFundingConfirmed = "funding.confirmed"
)

// Event はキューに送るイベント。
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurredAt"`
	Data       map[string]string `json:"data,omitempty"`
}

// New はIDと発生時刻を埋めたイベントを生成する。
func New(eventType string, data map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher はイベントの送信先。
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop は何も送らないPublisher。AMQP_URL未設定時に使う。
type Nop struct{}

// Publish は何もしない。
func (Nop) Publish(context.Context, Event) error { return nil }
