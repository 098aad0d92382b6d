package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/bloodlink/internal/model"
)

// UpsertUser はメールアドレスをキーにユーザーを作成・更新する（PUT /users）。
func (a *API) UpsertUser(ctx context.Context, u *model.User) error {
	return a.do(ctx, request{
		method:   http.MethodPut,
		path:     "/users",
		body:     u,
		endpoint: "users.upsert",
	}, nil)
}

// IssueToken はメールアドレスに対するセッショントークンを発行する（POST /jwt）。
func (a *API) IssueToken(ctx context.Context, email string) (string, error) {
	var res struct {
		Token string `json:"token"`
	}
	err := a.do(ctx, request{
		method:   http.MethodPost,
		path:     "/jwt",
		body:     map[string]string{"email": email},
		endpoint: "jwt.issue",
	}, &res)
	if err != nil {
		return "", err
	}
	if res.Token == "" {
		return "", fmt.Errorf("token issuance returned an empty token")
	}
	return res.Token, nil
}

// Me はトークンの持ち主のユーザー情報を取得する（GET /users/me）。
func (a *API) Me(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := a.do(ctx, request{
		method:   http.MethodGet,
		path:     "/users/me",
		endpoint: "users.me",
	}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SearchDonors はドナーを検索する。空の条件は送らない。
func (a *API) SearchDonors(ctx context.Context, q model.DonorQuery) ([]model.User, error) {
	params := url.Values{}
	if q.BloodGroup != "" {
		params.Set("bloodGroup", q.BloodGroup)
	}
	if q.District != "" {
		params.Set("district", q.District)
	}
	if q.Upazila != "" {
		params.Set("upazila", q.Upazila)
	}
	var donors []model.User
	if err := a.do(ctx, request{
		method:   http.MethodGet,
		path:     "/donors/search",
		query:    params,
		endpoint: "donors.search",
	}, &donors); err != nil {
		return nil, err
	}
	return donors, nil
}

// ListUsers は管理者向けにユーザー一覧を取得する。statusが空なら全件。
func (a *API) ListUsers(ctx context.Context, status model.UserStatus) ([]model.User, error) {
	var users []model.User
	if err := a.do(ctx, request{
		method:   http.MethodGet,
		path:     "/admin/users",
		query:    statusQuery(string(status)),
		endpoint: "admin.users.list",
	}, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SetUserStatus はユーザーをブロック・解除する。
func (a *API) SetUserStatus(ctx context.Context, userID string, status model.UserStatus) error {
	return a.do(ctx, request{
		method:   http.MethodPatch,
		path:     "/admin/users/" + escape(userID),
		body:     map[string]string{"status": string(status)},
		endpoint: "admin.users.update",
	}, nil)
}

// SetUserRole はユーザーのロールを変更する。
func (a *API) SetUserRole(ctx context.Context, userID string, role model.Role) error {
	return a.do(ctx, request{
		method:   http.MethodPatch,
		path:     "/admin/users/" + escape(userID),
		body:     map[string]string{"role": string(role)},
		endpoint: "admin.users.update",
	}, nil)
}

func statusQuery(status string) url.Values {
	if status == "" || status == "all" {
		return nil
	}
	return url.Values{"status": {status}}
}
