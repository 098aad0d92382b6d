// Package auth はOAuthによるサインイン・サインアウトとWebセッションの発行を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/bloodlink/internal/model"
	"github.com/hitoshi/bloodlink/internal/repository"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、本人情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*model.Identity, error)
}

// Transitions はサインイン状態の遷移の通知先。
type Transitions interface {
	SignedIn(ctx context.Context, sessionID string, identity *model.Identity) error
	SignedOut(ctx context.Context, sessionID string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	sessions    repository.WebSessionRepository
	transitions Transitions
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(oauth OAuthProvider, sessions repository.WebSessionRepository, transitions Transitions, config ServiceConfig) *Service {
	return &Service{
		oauth:       oauth,
		sessions:    sessions,
		transitions: transitions,
		config:      config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、新しいWebセッションを発行する。
// 本人情報はこの呼び出しの中でセッションに記録され、トークン交換は裏で進む。
// previousSessionIDがあれば、そのセッションはサインアウトさせて破棄する。
func (s *Service) HandleCallback(ctx context.Context, code, previousSessionID string) (*model.WebSession, error) {
	identity, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	session, err := s.createSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.transitions.SignedIn(ctx, session.ID, identity); err != nil {
		return nil, fmt.Errorf("failed to start sign-in: %w", err)
	}
	session.Identity = identity

	if previousSessionID != "" && previousSessionID != session.ID {
		if err := s.Logout(ctx, previousSessionID); err != nil {
			slog.Warn("以前のセッションの破棄に失敗しました",
				slog.String("session_id", previousSessionID),
				slog.String("error", err.Error()),
			)
		}
	}

	slog.Info("user signed in",
		slog.String("session_id", session.ID),
		slog.String("provider", identity.Provider),
	)
	return session, nil
}

// Logout はサインアウト遷移を通知してからセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.transitions.SignedOut(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user signed out", slog.String("session_id", sessionID))
	return nil
}

// createSession は未サインインのWebセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context) (*model.WebSession, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.WebSession{
		ID:        id,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
