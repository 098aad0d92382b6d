package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/bloodlink/internal/apiclient"
	"github.com/hitoshi/bloodlink/internal/middleware"
	"github.com/hitoshi/bloodlink/internal/model"
)

// TokenSources はWebセッションごとのトークンの読み出し口を返す。
// session.TokenStoreが実装する。
type TokenSources interface {
	For(sessionID string) apiclient.TokenSource
}

// APIProvider はリクエストのWebセッションに紐付いたリモートAPIを返す。
// トークンは呼び出しのたびに保存先から読み直される。
type APIProvider struct {
	client *apiclient.Client
	tokens TokenSources
}

// NewAPIProvider はAPIProviderを生成する。
func NewAPIProvider(client *apiclient.Client, tokens TokenSources) *APIProvider {
	return &APIProvider{client: client, tokens: tokens}
}

// ForSession は指定Webセッションのトークンで認証するAPIを返す。
func (p *APIProvider) ForSession(sessionID string) *apiclient.API {
	return p.client.For(p.tokens.For(sessionID))
}

// ForRequest はリクエストのWebセッションのトークンで認証するAPIを返す。
func (p *APIProvider) ForRequest(r *http.Request) *apiclient.API {
	return p.ForSession(middleware.SessionIDFromContext(r.Context()))
}

// Public は認証なしのAPIを返す。
func (p *APIProvider) Public() *apiclient.API {
	return p.client.Public()
}

// CurrentUser はmiddleware.UserLoaderを実装する。
func (p *APIProvider) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	return p.ForSession(sessionID).Me(ctx)
}

var _ middleware.UserLoader = (*APIProvider)(nil)
