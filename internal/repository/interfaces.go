// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/bloodlink/internal/model"
)

// WebSessionRepository はWebセッションの永続化インターフェース。
// キャッシュされたセッショントークンはaccess_tokenカラムに保持する。
type WebSessionRepository interface {
	// Create はWebセッションを作成する。
	Create(ctx context.Context, session *model.WebSession) error
	// FindByID は指定IDのWebセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.WebSession, error)
	// SetIdentity はIdPの本人情報を記録する。
	SetIdentity(ctx context.Context, id string, identity *model.Identity) error
	// ClearIdentity は本人情報とトークンを同時に消去する。
	ClearIdentity(ctx context.Context, id string) error
	// SetAccessToken はセッショントークンを保存する。
	SetAccessToken(ctx context.Context, id, token string) error
	// ClearAccessToken はセッショントークンを消去する。
	ClearAccessToken(ctx context.Context, id string) error
	// GetAccessToken はセッショントークンを取得する。未保存の場合は空文字を返す。
	GetAccessToken(ctx context.Context, id string) (string, error)
	// DeleteByID は指定IDのWebセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのWebセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ConfirmationRepository は決済確認結果の永続化インターフェース。
type ConfirmationRepository interface {
	// FindByCheckoutSessionID は記録を取得する。見つからない場合はnilを返す。
	FindByCheckoutSessionID(ctx context.Context, checkoutSessionID string) (*model.PaymentConfirmation, error)
	// Save は記録をUPSERTする。
	Save(ctx context.Context, c *model.PaymentConfirmation) error
	// DeleteOlderThan は指定時刻より前に作成された記録を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
