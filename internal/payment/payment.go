// Package payment は外部チェックアウトの開始と、戻りリダイレクトの決済確認を扱う。
package payment

import (
	"context"

	"github.com/hitoshi/bloodlink/internal/model"
)

// FundingAPI は決済で使うリモートAPI。Webセッションのトークンで認証済みのものを渡す。
type FundingAPI interface {
	ConfirmFunding(ctx context.Context, checkoutSessionID string) error
	CreateCheckoutSession(ctx context.Context, req model.CheckoutRequest) (*model.CheckoutSession, error)
}

// ClaimStoreのキー
func latchKey(webSessionID string) string        { return "checkout:" + webSessionID }
func confirmKey(checkoutSessionID string) string { return "confirm:" + checkoutSessionID }
