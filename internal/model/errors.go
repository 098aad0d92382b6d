package model

import (
	"errors"
	"fmt"
)

// APIError はリモートAPIが返した非2xx応答を表す。
// APIにエラーコード体系はないため、HTTPステータスとサーバーのmessageだけを保持する。
type APIError struct {
	Status  int    // HTTPステータスコード
	Message string // サーバーが返したmessage（空の場合あり）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// 画面に表示する汎用メッセージ
const (
	MsgGenericFailure       = "Something went wrong. Please try again."
	MsgLoadFailed           = "Failed to load data."
	MsgPaymentConfirmed     = "Payment successful! Funding saved."
	MsgPaymentConfirmFailed = "Payment confirmation failed."
	MsgPaymentCanceled      = "Payment canceled."
	MsgCheckoutURLMissing   = "Checkout URL not received."
	MsgCheckoutFailed       = "Checkout failed."
	MsgCheckoutInProgress   = "Checkout is already in progress."
	MsgBlockedUser          = "Your account is blocked. You cannot create donation requests."
	MsgServiceUnavailable   = "Service is temporarily unavailable. Please try again later."
)

// MinimumAmountMessage は最低寄付額を下回った場合のメッセージを返す。
func MinimumAmountMessage(min float64) string {
	return fmt.Sprintf("Minimum funding amount is %v.", min)
}

// UserMessage はエラーを利用者向けの文言に変換する。
// サーバーのmessageがあればそれを、なければfallbackを返す。
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var um *UserFacingError
	if errors.As(err, &um) {
		return um.Message
	}
	return fallback
}

// UserFacingError は利用者にそのまま表示してよいエラー。
// 入力検証など、ネットワーク呼び出し前に確定するエラーに使う。
type UserFacingError struct {
	Message string
}

func (e *UserFacingError) Error() string { return e.Message }

// NewUserFacingError はUserFacingErrorを生成する。
func NewUserFacingError(msg string) *UserFacingError {
	return &UserFacingError{Message: msg}
}

// StatusOf はエラーがAPIErrorであればそのHTTPステータスを返す。それ以外は0。
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
