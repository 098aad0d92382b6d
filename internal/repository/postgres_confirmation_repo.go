package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/bloodlink/internal/model"
)

// PostgresConfirmationRepo はPostgreSQLを使用した決済確認記録リポジトリ。
type PostgresConfirmationRepo struct {
	db *sql.DB
}

// NewPostgresConfirmationRepo はPostgresConfirmationRepoを生成する。
func NewPostgresConfirmationRepo(db *sql.DB) *PostgresConfirmationRepo {
	return &PostgresConfirmationRepo{db: db}
}

// FindByCheckoutSessionID は記録を取得する。見つからない場合はnilを返す。
func (r *PostgresConfirmationRepo) FindByCheckoutSessionID(ctx context.Context, checkoutSessionID string) (*model.PaymentConfirmation, error) {
	var (
		c            model.PaymentConfirmation
		webSessionID sql.NullString
		message      sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT checkout_session_id, web_session_id, status, message, created_at, updated_at
		 FROM payment_confirmations
		 WHERE checkout_session_id = $1`,
		checkoutSessionID,
	).Scan(&c.CheckoutSessionID, &webSessionID, &c.Status, &message, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment confirmation: %w", err)
	}
	c.WebSessionID = webSessionID.String
	c.Message = message.String
	return &c, nil
}

// Save は記録をUPSERTする。created_atは初回作成時の値を維持する。
func (r *PostgresConfirmationRepo) Save(ctx context.Context, c *model.PaymentConfirmation) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_confirmations
		   (checkout_session_id, web_session_id, status, message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (checkout_session_id) DO UPDATE
		 SET status = EXCLUDED.status, message = EXCLUDED.message, updated_at = EXCLUDED.updated_at`,
		c.CheckoutSessionID, nullString(c.WebSessionID), string(c.Status), nullString(c.Message),
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save payment confirmation: %w", err)
	}
	return nil
}

// DeleteOlderThan は指定時刻より前に作成された記録を削除する。
func (r *PostgresConfirmationRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM payment_confirmations WHERE created_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete payment confirmations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ ConfirmationRepository = (*PostgresConfirmationRepo)(nil)
