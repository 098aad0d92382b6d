// Package model はドメインモデルを定義する。
// リモートAPIとの間でやり取りするDTOと、ブラウザごとのWebセッションを含む。
package model

import "time"

// Role はアプリケーションユーザーの役割を表す。
type Role string

const (
	RoleDonor     Role = "donor"
	RoleVolunteer Role = "volunteer"
	RoleAdmin     Role = "admin"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleDonor, RoleVolunteer, RoleAdmin:
		return true
	}
	return false
}

// IsStaff は管理者またはボランティアかどうかを返す。
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleVolunteer
}

// UserStatus はユーザーの利用状態を表す。
type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusBlocked UserStatus = "blocked"
)

// Identity は外部IdPから取得した本人情報を表す。IdPが所有し、ここでは読み取り専用。
type Identity struct {
	Email          string
	Name           string
	AvatarURL      string
	Provider       string // "google"
	ProviderUserID string
}

// User はリモートAPIが所有するアプリケーションユーザー。
// emailがキーとなり、サインインのたびにクライアントからupsertされる。
type User struct {
	ID         string     `json:"_id,omitempty"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Avatar     string     `json:"avatar"`
	BloodGroup string     `json:"bloodGroup,omitempty"`
	District   string     `json:"district,omitempty"`
	Upazila    string     `json:"upazila,omitempty"`
	Role       Role       `json:"role,omitempty"`
	Status     UserStatus `json:"status,omitempty"`
}

// EffectiveRole はロール未設定のユーザーをdonorとして扱う。
func (u *User) EffectiveRole() Role {
	if u == nil || !u.Role.Valid() {
		return RoleDonor
	}
	return u.Role
}

// IsBlocked はブロック済みユーザーかどうかを返す。
func (u *User) IsBlocked() bool {
	return u != nil && u.Status == UserStatusBlocked
}

// ProfileInput はプロフィール編集フォームの内容。
// emailは編集対象にしない。
type ProfileInput struct {
	Name       string `json:"name" validate:"required,max=100"`
	Avatar     string `json:"avatar" validate:"omitempty,url,max=500"`
	BloodGroup string `json:"bloodGroup" validate:"omitempty,bloodgroup"`
	District   string `json:"district" validate:"omitempty,district"`
	Upazila    string `json:"upazila" validate:"max=100"`
}

// Apply は入力内容をユーザーに反映したコピーを返す。
func (in ProfileInput) Apply(u User) User {
	u.Name = in.Name
	u.Avatar = in.Avatar
	u.BloodGroup = in.BloodGroup
	u.District = in.District
	u.Upazila = in.Upazila
	return u
}

// RegistrationInput は初回サインイン後の登録フォームの内容。
// 献血者検索に載るよう、血液型と地域を必須にする。
type RegistrationInput struct {
	Name       string `json:"name" validate:"required,max=100"`
	Avatar     string `json:"avatar" validate:"omitempty,url,max=500"`
	BloodGroup string `json:"bloodGroup" validate:"required,bloodgroup"`
	District   string `json:"district" validate:"required,district"`
	Upazila    string `json:"upazila" validate:"required,max=100"`
}

// Profile はプロフィール入力に変換する。
func (in RegistrationInput) Profile() ProfileInput {
	return ProfileInput(in)
}

// NeedsRegistration は献血者として検索に載るための項目が欠けているかを返す。
func (u *User) NeedsRegistration() bool {
	return u != nil && (u.BloodGroup == "" || u.District == "")
}

// ExchangeState はIdP本人情報からセッショントークンへの交換状態を表す。
// 「ユーザーが判明している」こととは独立して管理する。
type ExchangeState string

const (
	ExchangeIdle      ExchangeState = "idle"
	ExchangeInFlight  ExchangeState = "in_flight"
	ExchangeSucceeded ExchangeState = "succeeded"
	ExchangeFailed    ExchangeState = "failed"
)

// WebSession はブラウザ1つに対応するサーバー側セッション。
// キャッシュされたセッショントークン（access-token）を保持する。
type WebSession struct {
	ID          string
	Identity    *Identity // 未サインインの場合はnil
	AccessToken string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserKnown はIdP上でサインイン済みかどうかを返す。
func (s *WebSession) UserKnown() bool {
	return s != nil && s.Identity != nil && s.Identity.Email != ""
}
