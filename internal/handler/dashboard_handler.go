package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bloodlink/internal/middleware"
	"github.com/hitoshi/bloodlink/internal/model"
)

const (
	profilePath  = "/dashboard/profile"
	allUsersPath = "/dashboard/all-users"

	recentRequestCount = 3
)

// DashboardHandler はダッシュボードの概要・プロフィール・ユーザー管理を扱う。
type DashboardHandler struct {
	pages
	api *APIProvider
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(p pages, api *APIProvider) *DashboardHandler {
	return &DashboardHandler{pages: p, api: api}
}

type overviewPage struct {
	Role   model.Role
	Name   string
	Recent model.Remote[[]model.DonationRequest]
	Stats  model.Remote[*model.Stats]
}

// Subtitle はロールに応じた見出し。
func (p overviewPage) Subtitle() string {
	switch p.Role {
	case model.RoleAdmin:
		return "Admin Dashboard Overview"
	case model.RoleVolunteer:
		return "Volunteer Dashboard Overview"
	}
	return "Donor Dashboard Overview"
}

// Overview はダッシュボードのトップを表示する。
// donorには直近3件の自分のリクエストを、管理者・ボランティアには集計値を出す。
// 血液型と地域が未登録なら登録フォームへ送る。
// GET /dashboard
func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	if needsRegistration(r) {
		http.Redirect(w, r, registerPath, http.StatusSeeOther)
		return
	}
	user := middleware.UserFromContext(r.Context())
	content := overviewPage{
		Role:   user.EffectiveRole(),
		Recent: model.Idle[[]model.DonationRequest](),
		Stats:  model.Idle[*model.Stats](),
	}
	if id := identityOf(r); id != nil {
		content.Name = id.Name
	}

	api := h.api.ForRequest(r)
	if content.Role.IsStaff() {
		stats, err := api.Stats(r.Context())
		if err != nil {
			logError(r, "failed to load stats", err)
		}
		content.Stats = model.FromResult(stats, err, "Failed to load stats.")
	} else {
		reqs, err := api.MyRequests(r.Context(), "")
		if err != nil {
			logError(r, "failed to load recent requests", err)
		}
		if len(reqs) > recentRequestCount {
			reqs = reqs[:recentRequestCount]
		}
		content.Recent = model.FromResult(reqs, err, "Failed to load recent requests.")
	}
	h.render.Render(w, r, http.StatusOK, "dashboard", Page{Title: "Dashboard", Content: content})
}

type profilePage struct {
	User        model.Remote[*model.User]
	Editing     bool
	Input       model.ProfileInput
	BloodGroups []Option
	Districts   []Option
	FieldErrors map[string]string
	Error       string
}

func (h *DashboardHandler) renderProfile(w http.ResponseWriter, r *http.Request, status int, p profilePage) {
	p.BloodGroups = options(model.BloodGroups, p.Input.BloodGroup)
	p.Districts = options(model.Districts, p.Input.District)
	h.render.Render(w, r, status, "profile", Page{Title: "Profile", Content: p})
}

// profileInputOf はユーザー情報からフォームの初期値を作る。未設定の項目はIdPの本人情報で補う。
func profileInputOf(u *model.User, id *model.Identity) model.ProfileInput {
	in := model.ProfileInput{
		Name:       u.Name,
		Avatar:     u.Avatar,
		BloodGroup: u.BloodGroup,
		District:   u.District,
		Upazila:    u.Upazila,
	}
	if id != nil {
		if in.Name == "" {
			in.Name = id.Name
		}
		if in.Avatar == "" {
			in.Avatar = id.AvatarURL
		}
	}
	return in
}

// Profile はプロフィールを表示する。?edit=1 で編集フォームにする。
// GET /dashboard/profile
func (h *DashboardHandler) Profile(w http.ResponseWriter, r *http.Request) {
	u, err := h.api.ForRequest(r).Me(r.Context())
	if err != nil {
		logError(r, "failed to load profile", err)
		h.renderProfile(w, r, http.StatusOK, profilePage{User: model.Failed[*model.User](model.UserMessage(err, "Failed to load profile."))})
		return
	}
	h.renderProfile(w, r, http.StatusOK, profilePage{
		User:    model.Succeeded(u),
		Editing: r.URL.Query().Get("edit") == "1",
		Input:   profileInputOf(u, identityOf(r)),
	})
}

// UpdateProfile はプロフィールを保存する。メールアドレス・ロール・状態は現在の値のまま送る。
// POST /dashboard/profile
func (h *DashboardHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	api := h.api.ForRequest(r)
	u, err := api.Me(r.Context())
	if err != nil {
		logError(r, "failed to load profile", err)
		h.renderProfile(w, r, http.StatusOK, profilePage{User: model.Failed[*model.User](model.UserMessage(err, "Failed to load profile."))})
		return
	}

	p := profilePage{
		User:    model.Succeeded(u),
		Editing: true,
		Input: model.ProfileInput{
			Name:       h.formText(r, "name"),
			Avatar:     h.formText(r, "avatar"),
			BloodGroup: h.formText(r, "bloodGroup"),
			District:   h.formText(r, "district"),
			Upazila:    h.formText(r, "upazila"),
		},
	}
	if p.FieldErrors, p.Error = validateForm(&p.Input); p.Error != "" {
		h.renderProfile(w, r, http.StatusUnprocessableEntity, p)
		return
	}

	updated := p.Input.Apply(*u)
	updated.ID = ""
	updated.Role = u.EffectiveRole()
	if updated.Status == "" {
		updated.Status = model.UserStatusActive
	}
	if err := api.UpsertUser(r.Context(), &updated); err != nil {
		logError(r, "profile update failed", err)
		p.Error = model.UserMessage(err, "Update failed.")
		h.renderProfile(w, r, http.StatusOK, p)
		return
	}
	h.flash.redirectWithFlash(w, r, profilePath, FlashSuccess, "Profile updated successfully")
}

type usersPage struct {
	Status string
	Users  model.Remote[[]model.User]
	Roles  []model.Role
	Return string
}

// AllUsers は全ユーザーを状態で絞り込んで表示する（管理者のみ）。
// GET /dashboard/all-users?status=blocked
func (h *DashboardHandler) AllUsers(w http.ResponseWriter, r *http.Request) {
	var status model.UserStatus
	switch st := model.UserStatus(r.URL.Query().Get("status")); st {
	case model.UserStatusActive, model.UserStatusBlocked:
		status = st
	}
	users, err := h.api.ForRequest(r).ListUsers(r.Context(), status)
	if err != nil {
		logError(r, "failed to load users", err)
	}
	h.render.Render(w, r, http.StatusOK, "all_users", Page{
		Title: "All Users",
		Content: usersPage{
			Status: string(status),
			Users:  model.FromResult(users, err, "Failed to load users."),
			Roles:  []model.Role{model.RoleDonor, model.RoleVolunteer, model.RoleAdmin},
			Return: r.URL.RequestURI(),
		},
	})
}

// SetUserStatus はユーザーをブロック・ブロック解除する。
// POST /dashboard/all-users/{id}/status
func (h *DashboardHandler) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	back := returnTo(r, allUsersPath)
	status := model.UserStatus(r.PostFormValue("status"))
	if status != model.UserStatusActive && status != model.UserStatusBlocked {
		h.flash.redirectWithFlash(w, r, back, FlashError, "Update failed.")
		return
	}
	err := h.api.ForRequest(r).SetUserStatus(r.Context(), chi.URLParam(r, "id"), status)
	h.afterUserUpdate(w, r, back, err)
}

// SetUserRole はユーザーのロールを変更する。
// POST /dashboard/all-users/{id}/role
func (h *DashboardHandler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	back := returnTo(r, allUsersPath)
	role := model.Role(r.PostFormValue("role"))
	if !role.Valid() {
		h.flash.redirectWithFlash(w, r, back, FlashError, "Update failed.")
		return
	}
	err := h.api.ForRequest(r).SetUserRole(r.Context(), chi.URLParam(r, "id"), role)
	h.afterUserUpdate(w, r, back, err)
}

func (h *DashboardHandler) afterUserUpdate(w http.ResponseWriter, r *http.Request, back string, err error) {
	if err != nil {
		logError(r, "user update failed", err)
		h.flash.redirectWithFlash(w, r, back, FlashError, model.UserMessage(err, "Update failed."))
		return
	}
	h.flash.redirectWithFlash(w, r, back, FlashSuccess, "Updated successfully")
}
