package session

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/bloodlink/internal/apiclient"
	"github.com/hitoshi/bloodlink/internal/repository"
)

// expirySkew より残り時間が短いトークンは期限切れとして扱う。
const expirySkew = 30 * time.Second

// TokenExpired はJWTのexpが過ぎているかを返す。
// 署名の検証はリモートAPIの役割なので、ここではクレームを読むだけにする。
// JWTとして読めないトークンやexpのないトークンは期限なしとみなす。
func TokenExpired(token string, now time.Time) bool {
	if token == "" {
		return true
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Add(expirySkew).Before(exp.Time)
}

// TokenStore はWebセッションに保存されたトークンを読む。
type TokenStore struct {
	repo repository.WebSessionRepository
	now  func() time.Time
}

// NewTokenStore はTokenStoreを生成する。
func NewTokenStore(repo repository.WebSessionRepository) *TokenStore {
	return &TokenStore{repo: repo, now: time.Now}
}

// Token はセッションの有効なトークンを返す。未保存または期限切れなら空文字。
func (s *TokenStore) Token(ctx context.Context, sessionID string) (string, error) {
	token, err := s.repo.GetAccessToken(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if token == "" || TokenExpired(token, s.now()) {
		return "", nil
	}
	return token, nil
}

// For はセッションに紐付いたapiclient.TokenSourceを返す。
// 呼び出しのたびに保存先から読み直す。
func (s *TokenStore) For(sessionID string) apiclient.TokenSource {
	return apiclient.TokenSourceFunc(func(ctx context.Context) (string, error) {
		return s.Token(ctx, sessionID)
	})
}
