package apiclient

import (
	"context"
	"net/http"

	"github.com/hitoshi/bloodlink/internal/model"
)

// Fundings は寄付記録を取得する。管理者・ボランティアは全件、それ以外は本人分のみ。
func (a *API) Fundings(ctx context.Context) ([]model.Funding, error) {
	var list []model.Funding
	if err := a.do(ctx, request{
		method:   http.MethodGet,
		path:     "/fundings",
		endpoint: "fundings.list",
	}, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ConfirmFunding はチェックアウトセッションの支払いを確認し、寄付記録を保存させる。
func (a *API) ConfirmFunding(ctx context.Context, checkoutSessionID string) error {
	return a.do(ctx, request{
		method:   http.MethodPost,
		path:     "/fundings/confirm",
		body:     map[string]string{"sessionId": checkoutSessionID},
		endpoint: "fundings.confirm",
	}, nil)
}

// CreateCheckoutSession は外部決済のチェックアウトセッションを作成する。
func (a *API) CreateCheckoutSession(ctx context.Context, req model.CheckoutRequest) (*model.CheckoutSession, error) {
	var cs model.CheckoutSession
	if err := a.do(ctx, request{
		method:   http.MethodPost,
		path:     "/create-checkout-session",
		body:     req,
		endpoint: "checkout.create",
	}, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}
