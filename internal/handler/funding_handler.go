package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/hitoshi/bloodlink/internal/middleware"
	"github.com/hitoshi/bloodlink/internal/model"
	"github.com/hitoshi/bloodlink/internal/payment"
)

const (
	fundingPath          = "/funding"
	defaultFundingAmount = "200"
)

var fundingPresets = []string{"100", "200", "500"}

// PaymentReconciler はチェックアウトからの戻りを確認する。payment.Reconcilerが実装する。
type PaymentReconciler interface {
	Reconcile(ctx context.Context, webSessionID string, api payment.FundingAPI, q url.Values) payment.Result
}

// CheckoutStarter はチェックアウトを開始する。payment.Checkoutが実装する。
type CheckoutStarter interface {
	Start(ctx context.Context, webSessionID string, api payment.FundingAPI, rawAmount, name, email string) (string, error)
	MinAmount() float64
}

// FundingHandler は寄付ページを扱う。
type FundingHandler struct {
	pages
	api        *APIProvider
	reconciler PaymentReconciler
	checkout   CheckoutStarter
}

// NewFundingHandler はFundingHandlerを生成する。
func NewFundingHandler(p pages, api *APIProvider, reconciler PaymentReconciler, checkout CheckoutStarter) *FundingHandler {
	return &FundingHandler{pages: p, api: api, reconciler: reconciler, checkout: checkout}
}

type fundingPage struct {
	Fundings  model.Remote[[]model.Funding]
	Amount    string
	Presets   []string
	MinAmount float64
	Name      string
	Email     string
	// ShowAll は全員の寄付を表示しているか（管理者・ボランティア）。
	ShowAll bool
}

// Funding は寄付一覧と寄付フォームを表示する。
// チェックアウトからの戻り（success / canceled）があれば先に確認し、
// 結果をFlashに載せてクエリなしのURLへリダイレクトする。
// GET /funding?success=true&session_id=cs_123
func (h *FundingHandler) Funding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	api := h.api.ForRequest(r)
	res := h.reconciler.Reconcile(ctx, middleware.SessionIDFromContext(ctx), api, r.URL.Query())

	if res.StripQuery {
		kind := FlashError
		if res.Outcome == payment.OutcomeConfirmed {
			kind = FlashSuccess
		}
		h.flash.redirectWithFlash(w, r, fundingPath, kind, res.Message)
		return
	}

	var notice *Flash
	switch res.Outcome {
	case payment.OutcomeConfirming:
		notice = &Flash{Kind: FlashInfo, Message: res.Message}
	case payment.OutcomeFailed:
		notice = &Flash{Kind: FlashError, Message: res.Message}
	}
	h.renderFunding(w, r, http.StatusOK, defaultFundingAmount, notice)
}

// Checkout はチェックアウトセッションを作成し、決済ページへリダイレクトする。
// 金額が最低額未満の場合や連打された場合はリモートAPIを呼ばずにエラーを表示する。
// POST /funding/checkout
func (h *FundingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	amount := r.PostFormValue("amount")
	name, email := h.payer(r)

	to, err := h.checkout.Start(ctx, middleware.SessionIDFromContext(ctx), h.api.ForRequest(r), amount, name, email)
	if err != nil {
		status := http.StatusBadGateway
		if model.StatusOf(err) == 0 {
			status = http.StatusUnprocessableEntity
		}
		h.renderFunding(w, r, status, amount, &Flash{Kind: FlashError, Message: model.UserMessage(err, model.MsgCheckoutFailed)})
		return
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

func (h *FundingHandler) renderFunding(w http.ResponseWriter, r *http.Request, status int, amount string, notice *Flash) {
	fundings, err := h.api.ForRequest(r).Fundings(r.Context())
	if err != nil {
		logError(r, "failed to load fundings", err)
	}
	name, email := h.payer(r)
	h.render.Render(w, r, status, "funding", Page{
		Title:  "Funding",
		Notice: notice,
		Content: fundingPage{
			Fundings:  model.FromResult(fundings, err, "Failed to load fundings."),
			Amount:    amount,
			Presets:   fundingPresets,
			MinAmount: h.checkout.MinAmount(),
			Name:      name,
			Email:     email,
			ShowAll:   middleware.UserFromContext(r.Context()).EffectiveRole().IsStaff(),
		},
	})
}

// payer は寄付者の名前とメールアドレスを返す。
// リモートAPIのユーザー情報を優先し、なければIdPの本人情報を使う。
func (h *FundingHandler) payer(r *http.Request) (string, string) {
	var name, email string
	if id := identityOf(r); id != nil {
		name, email = id.Name, id.Email
	}
	if u := middleware.UserFromContext(r.Context()); u != nil {
		if u.Name != "" {
			name = u.Name
		}
		if u.Email != "" {
			email = u.Email
		}
	}
	return name, email
}
