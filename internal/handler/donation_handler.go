package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bloodlink/internal/middleware"
	"github.com/hitoshi/bloodlink/internal/model"
	"github.com/hitoshi/bloodlink/internal/validation"
)

const (
	myRequestsPath     = "/dashboard/my-donation-requests"
	allRequestsPath    = "/dashboard/all-blood-donation-request"
	myRequestsPageSize = 8

	msgNotRequestOwner = "You are not allowed to edit this request."
)

// DonationHandler は献血リクエストの詳細・作成・編集・一覧を扱う。
type DonationHandler struct {
	pages
	api *APIProvider
}

// NewDonationHandler はDonationHandlerを生成する。
func NewDonationHandler(p pages, api *APIProvider) *DonationHandler {
	return &DonationHandler{pages: p, api: api}
}

type detailsPage struct {
	Request   model.Remote[*model.DonationRequest]
	CanDonate bool
	Donor     *model.Identity
}

// Details は献血リクエストの詳細を表示する。
// 受付中で他人のリクエストであれば、ドナーとして名乗り出るフォームを出す。
// GET /donation-requests/{id}
func (h *DonationHandler) Details(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := h.api.ForRequest(r).GetRequest(r.Context(), id)
	if err != nil {
		logError(r, "failed to load donation request", err)
	}

	content := detailsPage{
		Request: model.FromResult(req, err, "Failed to load request."),
		Donor:   identityOf(r),
	}
	if err == nil && req.Status == model.DonationPending && content.Donor != nil && !req.OwnedBy(content.Donor.Email) {
		content.CanDonate = true
	}
	h.render.Render(w, r, http.StatusOK, "request_details", Page{Title: "Request Details", Content: content})
}

// Donate はサインイン中のユーザーをドナーとしてリクエストを進行中にする。
// POST /donation-requests/{id}/donate
func (h *DonationHandler) Donate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	back := "/donation-requests/" + id
	donor := identityOf(r)
	if donor == nil {
		http.Redirect(w, r, "/login?next="+back, http.StatusSeeOther)
		return
	}

	err := h.api.ForRequest(r).UpdateRequestStatus(r.Context(), id, model.StatusUpdate{
		Status:     model.DonationInProgress,
		DonorName:  donor.Name,
		DonorEmail: donor.Email,
	})
	if err != nil {
		logError(r, "donate failed", err)
		h.flash.redirectWithFlash(w, r, back, FlashError, model.UserMessage(err, "Status update failed."))
		return
	}
	h.flash.redirectWithFlash(w, r, back, FlashSuccess, "Thank you! Donation is now in progress.")
}

type myRequestsPage struct {
	Status   string
	Statuses []Option
	Requests model.Remote[[]model.DonationRequest]
	Pager    Pager
	Return   string
}

// MyRequests は自分が作成したリクエストを状態で絞り込んで表示する。
// GET /dashboard/my-donation-requests?status=pending&page=1
func (h *DonationHandler) MyRequests(w http.ResponseWriter, r *http.Request) {
	status := statusFilter(r)
	content := myRequestsPage{
		Status:   status,
		Statuses: statusOptions(status),
		Return:   r.URL.RequestURI(),
	}

	reqs, err := h.api.ForRequest(r).MyRequests(r.Context(), status)
	if err != nil {
		logError(r, "failed to load my requests", err)
		content.Requests = model.Failed[[]model.DonationRequest](model.UserMessage(err, "Failed to load your requests."))
	} else {
		items, pager := paginate(reqs, r, myRequestsPageSize)
		content.Requests = model.Succeeded(items)
		content.Pager = pager
	}
	h.render.Render(w, r, http.StatusOK, "my_requests", Page{Title: "My Donation Requests", Content: content})
}

// FinishMine は進行中の自分のリクエストを完了またはキャンセルにする。
// POST /dashboard/my-donation-requests/{id}/status
func (h *DonationHandler) FinishMine(w http.ResponseWriter, r *http.Request) {
	back := returnTo(r, myRequestsPath)
	st, ok := model.ParseDonationStatus(r.PostFormValue("status"))
	if !ok || (st != model.DonationDone && st != model.DonationCanceled) {
		h.flash.redirectWithFlash(w, r, back, FlashError, "Status update failed.")
		return
	}
	h.updateStatus(w, r, back, st)
}

// UpdateStatus は任意のリクエストの状態を変更する（管理者・ボランティア）。
// POST /dashboard/all-blood-donation-request/{id}/status
func (h *DonationHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	back := returnTo(r, allRequestsPath)
	st, ok := model.ParseDonationStatus(r.PostFormValue("status"))
	if !ok {
		h.flash.redirectWithFlash(w, r, back, FlashError, "Status update failed.")
		return
	}
	h.updateStatus(w, r, back, st)
}

func (h *DonationHandler) updateStatus(w http.ResponseWriter, r *http.Request, back string, st model.DonationStatus) {
	err := h.api.ForRequest(r).UpdateRequestStatus(r.Context(), chi.URLParam(r, "id"), model.StatusUpdate{Status: st})
	if err != nil {
		logError(r, "status update failed", err)
		h.flash.redirectWithFlash(w, r, back, FlashError, model.UserMessage(err, "Status update failed."))
		return
	}
	h.flash.redirectWithFlash(w, r, back, FlashSuccess, "Status updated")
}

// DeleteMine は自分のリクエストを削除する。
// POST /dashboard/my-donation-requests/{id}/delete
func (h *DonationHandler) DeleteMine(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, returnTo(r, myRequestsPath))
}

// DeleteAny は任意のリクエストを削除する（管理者のみ）。
// POST /dashboard/all-blood-donation-request/{id}/delete
func (h *DonationHandler) DeleteAny(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, returnTo(r, allRequestsPath))
}

func (h *DonationHandler) delete(w http.ResponseWriter, r *http.Request, back string) {
	if err := h.api.ForRequest(r).DeleteRequest(r.Context(), chi.URLParam(r, "id")); err != nil {
		logError(r, "delete request failed", err)
		h.flash.redirectWithFlash(w, r, back, FlashError, model.UserMessage(err, "Delete failed."))
		return
	}
	h.flash.redirectWithFlash(w, r, back, FlashSuccess, "Request deleted")
}

type allRequestsPage struct {
	Status   string
	Statuses []Option
	Requests model.Remote[[]model.DonationRequest]
	IsAdmin  bool
	Return   string
}

// AllRequests は全リクエストを表示する（管理者・ボランティア）。
// 削除操作は管理者にだけ表示する。
// GET /dashboard/all-blood-donation-request?status=inprogress
func (h *DonationHandler) AllRequests(w http.ResponseWriter, r *http.Request) {
	status := statusFilter(r)
	reqs, err := h.api.ForRequest(r).AllRequests(r.Context(), status)
	if err != nil {
		logError(r, "failed to load all requests", err)
	}
	user := middleware.UserFromContext(r.Context())
	h.render.Render(w, r, http.StatusOK, "all_requests", Page{
		Title: "All Donation Requests",
		Content: allRequestsPage{
			Status:   status,
			Statuses: statusOptions(status),
			Requests: model.FromResult(reqs, err, "Failed to load requests."),
			IsAdmin:  user.EffectiveRole() == model.RoleAdmin,
			Return:   r.URL.RequestURI(),
		},
	})
}

type requestFormPage struct {
	Editing     bool
	Action      string
	Requester   *model.Identity
	Input       model.DonationRequestInput
	BloodGroups []Option
	Districts   []Option
	FieldErrors map[string]string
	Error       string
	// Disabled はフォームを送信させない場合にtrue（ブロック済み、編集権限なし）。
	Disabled bool
}

func (h *DonationHandler) renderForm(w http.ResponseWriter, r *http.Request, status int, p requestFormPage) {
	p.Requester = identityOf(r)
	p.BloodGroups = options(model.BloodGroups, p.Input.BloodGroup)
	p.Districts = options(model.Districts, p.Input.RecipientDistrict)
	title := "Create Donation Request"
	if p.Editing {
		title = "Edit Donation Request"
	}
	h.render.Render(w, r, status, "request_form", Page{Title: title, Content: p})
}

// parseRequestInput はフォームの内容をタグを除いて読み取る。
func (h *DonationHandler) parseRequestInput(r *http.Request) model.DonationRequestInput {
	return model.DonationRequestInput{
		RecipientName:     h.formText(r, "recipientName"),
		RecipientDistrict: h.formText(r, "recipientDistrict"),
		RecipientUpazila:  h.formText(r, "recipientUpazila"),
		HospitalName:      h.formText(r, "hospitalName"),
		FullAddress:       h.formText(r, "fullAddress"),
		BloodGroup:        h.formText(r, "bloodGroup"),
		DonationDate:      h.formText(r, "donationDate"),
		DonationTime:      h.formText(r, "donationTime"),
		RequestMessage:    h.formText(r, "requestMessage"),
	}
}

// validateForm は入力を検証する。問題がなければ空のmsgを返す。
func validateForm(in any) (fields map[string]string, msg string) {
	err := validation.Struct(in)
	if err == nil {
		return nil, ""
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return verrs.ByField(), "Please correct the highlighted fields."
	}
	return nil, model.MsgGenericFailure
}

// NewRequest は作成フォームを表示する。ブロック済みユーザーには送信させない。
// GET /dashboard/create-donation-request
func (h *DonationHandler) NewRequest(w http.ResponseWriter, r *http.Request) {
	p := requestFormPage{Action: "/dashboard/create-donation-request"}
	if middleware.UserFromContext(r.Context()).IsBlocked() {
		p.Error = model.MsgBlockedUser
		p.Disabled = true
	}
	h.renderForm(w, r, http.StatusOK, p)
}

// CreateRequest はリクエストを作成する。依頼者はサインイン中の本人。
// POST /dashboard/create-donation-request
func (h *DonationHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	p := requestFormPage{Action: "/dashboard/create-donation-request", Input: h.parseRequestInput(r)}
	if middleware.UserFromContext(r.Context()).IsBlocked() {
		p.Error = model.MsgBlockedUser
		p.Disabled = true
		h.renderForm(w, r, http.StatusForbidden, p)
		return
	}
	if p.FieldErrors, p.Error = validateForm(&p.Input); p.Error != "" {
		h.renderForm(w, r, http.StatusUnprocessableEntity, p)
		return
	}

	in := p.Input
	if id := identityOf(r); id != nil {
		in.RequesterName = id.Name
		in.RequesterEmail = id.Email
	}
	if err := h.api.ForRequest(r).CreateRequest(r.Context(), &in); err != nil {
		logError(r, "create request failed", err)
		p.Error = model.UserMessage(err, "Failed to create request.")
		h.renderForm(w, r, http.StatusOK, p)
		return
	}
	h.flash.redirectWithFlash(w, r, myRequestsPath, FlashSuccess, "Donation request created")
}

// loadOwned はリクエストを取得し、本人のものか確認する。
// 問題があればフォームを描画してnilを返す。
func (h *DonationHandler) loadOwned(w http.ResponseWriter, r *http.Request, p *requestFormPage) *model.DonationRequest {
	req, err := h.api.ForRequest(r).GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		logError(r, "failed to load request for edit", err)
		p.Error = model.UserMessage(err, "Failed to load request.")
		p.Disabled = true
		h.renderForm(w, r, http.StatusOK, *p)
		return nil
	}
	id := identityOf(r)
	if id == nil || !req.OwnedBy(id.Email) {
		p.Error = msgNotRequestOwner
		p.Disabled = true
		h.renderForm(w, r, http.StatusForbidden, *p)
		return nil
	}
	return req
}

// EditRequest は編集フォームを表示する。本人のリクエストのみ。
// GET /dashboard/edit-donation-request/{id}
func (h *DonationHandler) EditRequest(w http.ResponseWriter, r *http.Request) {
	p := requestFormPage{Editing: true, Action: r.URL.Path}
	req := h.loadOwned(w, r, &p)
	if req == nil {
		return
	}
	p.Input = model.DonationRequestInput{
		RecipientName:     req.RecipientName,
		RecipientDistrict: req.RecipientDistrict,
		RecipientUpazila:  req.RecipientUpazila,
		HospitalName:      req.HospitalName,
		FullAddress:       req.FullAddress,
		BloodGroup:        req.BloodGroup,
		DonationDate:      req.DonationDate,
		DonationTime:      req.DonationTime,
		RequestMessage:    req.RequestMessage,
	}
	h.renderForm(w, r, http.StatusOK, p)
}

// UpdateRequest はリクエストを更新する。PATCHが使えないサーバーにはPUTで送り直す。
// POST /dashboard/edit-donation-request/{id}
func (h *DonationHandler) UpdateRequest(w http.ResponseWriter, r *http.Request) {
	p := requestFormPage{Editing: true, Action: r.URL.Path}
	if h.loadOwned(w, r, &p) == nil {
		return
	}

	p.Input = h.parseRequestInput(r)
	if p.FieldErrors, p.Error = validateForm(&p.Input); p.Error != "" {
		h.renderForm(w, r, http.StatusUnprocessableEntity, p)
		return
	}
	if err := h.api.ForRequest(r).UpdateRequest(r.Context(), chi.URLParam(r, "id"), &p.Input); err != nil {
		logError(r, "update request failed", err)
		p.Error = model.UserMessage(err, "Update failed.")
		h.renderForm(w, r, http.StatusOK, p)
		return
	}
	h.flash.redirectWithFlash(w, r, myRequestsPath, FlashSuccess, "Request updated")
}
