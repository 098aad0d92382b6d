package model

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Funding はリモートAPIが所有する寄付記録。決済確認を経て間接的に作成される。
type Funding struct {
	ID        string    `json:"_id,omitempty"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"createdAt"`
}

// FormattedAmount は通貨コード付きの金額表記を返す。BDTはタカ記号で表示する。
func (f Funding) FormattedAmount() string {
	cur := strings.ToUpper(f.Currency)
	if cur == "" {
		cur = "USD"
	}
	if cur == "BDT" {
		return fmt.Sprintf("৳ %s", amountPrinter.Sprintf("%v", f.Amount))
	}
	return fmt.Sprintf("%s %s", cur, amountPrinter.Sprintf("%v", f.Amount))
}

var amountPrinter = message.NewPrinter(language.English)

// CheckoutRequest はチェックアウトセッション作成リクエストの本文。
type CheckoutRequest struct {
	Amount float64 `json:"amount"`
	Name   string  `json:"name"`
	Email  string  `json:"email"`
}

// CheckoutSession は外部決済プロバイダーのチェックアウトセッション。
type CheckoutSession struct {
	URL string `json:"url"`
}

// ConfirmationStatus は決済確認の記録状態。
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationFailed    ConfirmationStatus = "failed"
)

// PaymentConfirmation はチェックアウトセッションIDごとの確認結果の記録。
// 同じチェックアウトセッションを二重に確認しないための冪等キーを兼ねる。
type PaymentConfirmation struct {
	CheckoutSessionID string
	WebSessionID      string
	Status            ConfirmationStatus
	Message           string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
