package handler

import (
	"net/http"

	"github.com/hitoshi/bloodlink/internal/middleware"
	"github.com/hitoshi/bloodlink/internal/model"
)

const (
	registerPath  = "/register"
	dashboardPath = "/dashboard"
)

type registerPage struct {
	Email       string
	Input       model.RegistrationInput
	BloodGroups []Option
	Districts   []Option
	FieldErrors map[string]string
	Error       string
}

func (h *DashboardHandler) renderRegister(w http.ResponseWriter, r *http.Request, status int, p registerPage) {
	p.BloodGroups = options(model.BloodGroups, p.Input.BloodGroup)
	p.Districts = options(model.Districts, p.Input.District)
	h.render.Render(w, r, status, "register", Page{Title: "Complete Registration", Content: p})
}

// Register は初回サインイン後の献血者登録フォームを表示する。
// 血液型と地域が登録済みならダッシュボードへ戻す。
// GET /register
func (h *DashboardHandler) Register(w http.ResponseWriter, r *http.Request) {
	u, err := h.api.ForRequest(r).Me(r.Context())
	if err != nil {
		logError(r, "failed to load user for registration", err)
		h.renderRegister(w, r, http.StatusOK, registerPage{Error: model.UserMessage(err, "Failed to load profile.")})
		return
	}
	if !u.NeedsRegistration() {
		http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
		return
	}
	in := profileInputOf(u, identityOf(r))
	h.renderRegister(w, r, http.StatusOK, registerPage{
		Email: u.Email,
		Input: model.RegistrationInput(in),
	})
}

// SubmitRegistration は登録内容を検証してユーザーを更新する。ロールと状態は変えない。
// POST /register
func (h *DashboardHandler) SubmitRegistration(w http.ResponseWriter, r *http.Request) {
	api := h.api.ForRequest(r)
	p := registerPage{
		Input: model.RegistrationInput{
			Name:       h.formText(r, "name"),
			Avatar:     h.formText(r, "avatar"),
			BloodGroup: h.formText(r, "bloodGroup"),
			District:   h.formText(r, "district"),
			Upazila:    h.formText(r, "upazila"),
		},
	}
	if id := identityOf(r); id != nil {
		p.Email = id.Email
	}
	if p.FieldErrors, p.Error = validateForm(&p.Input); p.Error != "" {
		h.renderRegister(w, r, http.StatusUnprocessableEntity, p)
		return
	}

	u, err := api.Me(r.Context())
	if err != nil {
		logError(r, "failed to load user for registration", err)
		p.Error = model.UserMessage(err, "Registration failed.")
		h.renderRegister(w, r, http.StatusOK, p)
		return
	}

	updated := p.Input.Profile().Apply(*u)
	updated.ID = ""
	updated.Role = u.EffectiveRole()
	if updated.Status == "" {
		updated.Status = model.UserStatusActive
	}
	if err := api.UpsertUser(r.Context(), &updated); err != nil {
		logError(r, "registration failed", err)
		p.Error = model.UserMessage(err, "Registration failed.")
		h.renderRegister(w, r, http.StatusOK, p)
		return
	}
	h.flash.redirectWithFlash(w, r, dashboardPath, FlashSuccess, "Registration complete")
}

// needsRegistration はロール確認で読み込んだユーザーが未登録かを返す。
// ユーザーを読めなかった場合は登録を促さない。
func needsRegistration(r *http.Request) bool {
	return middleware.UserFromContext(r.Context()).NeedsRegistration()
}
