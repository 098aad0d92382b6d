package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/bloodlink/internal/model"
)

// PostgresWebSessionRepo はPostgreSQLを使用したWebセッションリポジトリ。
type PostgresWebSessionRepo struct {
	db *sql.DB
}

// NewPostgresWebSessionRepo はPostgresWebSessionRepoを生成する。
func NewPostgresWebSessionRepo(db *sql.DB) *PostgresWebSessionRepo {
	return &PostgresWebSessionRepo{db: db}
}

// Create はWebセッションを作成する。
func (r *PostgresWebSessionRepo) Create(ctx context.Context, s *model.WebSession) error {
	var email, name, avatar, provider, providerUserID sql.NullString
	if s.Identity != nil {
		email = nullString(s.Identity.Email)
		name = nullString(s.Identity.Name)
		avatar = nullString(s.Identity.AvatarURL)
		provider = nullString(s.Identity.Provider)
		providerUserID = nullString(s.Identity.ProviderUserID)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO web_sessions
		   (id, email, name, avatar_url, provider, provider_user_id, access_token, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		s.ID, email, name, avatar, provider, providerUserID,
		nullString(s.AccessToken), s.ExpiresAt, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create web session: %w", err)
	}
	return nil
}

// FindByID は指定IDのWebセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresWebSessionRepo) FindByID(ctx context.Context, id string) (*model.WebSession, error) {
	var (
		s                                                  model.WebSession
		email, name, avatar, provider, providerUserID, tok sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, avatar_url, provider, provider_user_id, access_token,
		        expires_at, created_at, updated_at
		 FROM web_sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&s.ID, &email, &name, &avatar, &provider, &providerUserID, &tok,
		&s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find web session: %w", err)
	}

	if email.Valid && email.String != "" {
		s.Identity = &model.Identity{
			Email:          email.String,
			Name:           name.String,
			AvatarURL:      avatar.String,
			Provider:       provider.String,
			ProviderUserID: providerUserID.String,
		}
	}
	s.AccessToken = tok.String
	return &s, nil
}

// SetIdentity はIdPの本人情報を記録する。
func (r *PostgresWebSessionRepo) SetIdentity(ctx context.Context, id string, identity *model.Identity) error {
	if identity == nil {
		return r.ClearIdentity(ctx, id)
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE web_sessions
		 SET email = $2, name = $3, avatar_url = $4, provider = $5, provider_user_id = $6, updated_at = now()
		 WHERE id = $1`,
		id, identity.Email, identity.Name, identity.AvatarURL, identity.Provider, identity.ProviderUserID,
	)
	if err != nil {
		return fmt.Errorf("failed to set identity: %w", err)
	}
	return nil
}

// ClearIdentity は本人情報とトークンを同時に消去する。
func (r *PostgresWebSessionRepo) ClearIdentity(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE web_sessions
		 SET email = NULL, name = NULL, avatar_url = NULL, provider = NULL,
		     provider_user_id = NULL, access_token = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to clear identity: %w", err)
	}
	return nil
}

// SetAccessToken はセッショントークンを保存する。
func (r *PostgresWebSessionRepo) SetAccessToken(ctx context.Context, id, token string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE web_sessions SET access_token = $2, updated_at = now() WHERE id = $1`,
		id, token,
	)
	if err != nil {
		return fmt.Errorf("failed to set access token: %w", err)
	}
	return nil
}

// ClearAccessToken はセッショントークンを消去する。
func (r *PostgresWebSessionRepo) ClearAccessToken(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE web_sessions SET access_token = NULL, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to clear access token: %w", err)
	}
	return nil
}

// GetAccessToken はセッショントークンを取得する。未保存・期限切れの場合は空文字を返す。
func (r *PostgresWebSessionRepo) GetAccessToken(ctx context.Context, id string) (string, error) {
	var tok sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT access_token FROM web_sessions WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&tok)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}
	return tok.String, nil
}

// DeleteByID は指定IDのWebセッションを削除する。
func (r *PostgresWebSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM web_sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete web session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのWebセッションを削除する。
func (r *PostgresWebSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM web_sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired web sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ WebSessionRepository = (*PostgresWebSessionRepo)(nil)
