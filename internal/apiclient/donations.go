package apiclient

import (
	"context"
	"net/http"

	"github.com/hitoshi/bloodlink/internal/model"
)

// PendingRequests は公開中（pending）の献血リクエスト一覧を取得する。
func (a *API) PendingRequests(ctx context.Context) ([]model.DonationRequest, error) {
	var list []model.DonationRequest
	if err := a.do(ctx, request{
		method:   http.MethodGet,
		path:     "/donation-requests/pending",
		endpoint: "donation_requests.pending",
	}, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetRequest は献血リクエストを1件取得する。
func (a *API) GetRequest(ctx context.Context, id string) (*model.DonationRequest, error) {
	var r model.DonationRequest
	if err := a.do(ctx, request{
		method:   http.MethodGet,
		path:     "/donation-requests/" + escape(id),
		endpoint: "donation_requests.get",
	}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRequest は献血リクエストを作成する。
func (a *API) CreateRequest(ctx context.Context, in *model.DonationRequestInput) error {
	return a.do(ctx, request{
		method:   http.MethodPost,
		path:     "/donation-requests",
		body:     in,
		endpoint: "donation_requests.create",
	}, nil)
}

// UpdateRequest は献血リクエストを編集する。
// まずPATCHを送り、サーバーがPATCHを受け付けない（404または405）場合に限りPUTで再送する。
// 入力エラーや認可エラーなど、それ以外の失敗はそのまま返す。
func (a *API) UpdateRequest(ctx context.Context, id string, in *model.DonationRequestInput) error {
	err := a.do(ctx, request{
		method:   http.MethodPatch,
		path:     "/donation-requests/" + escape(id),
		body:     in,
		endpoint: "donation_requests.patch",
	}, nil)
	if err == nil {
		return nil
	}
	switch model.StatusOf(err) {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
	default:
		return err
	}
	return a.do(ctx, request{
		method:   http.MethodPut,
		path:     "/donation-requests/" + escape(id),
		body:     in,
		endpoint: "donation_requests.put",
	}, nil)
}

// UpdateRequestStatus は献血リクエストの状態を変更する。
func (a *API) UpdateRequestStatus(ctx context.Context, id string, u model.StatusUpdate) error {
	return a.do(ctx, request{
		method:   http.MethodPatch,
		path:     "/donation-requests/" + escape(id) + "/status",
		body:     u,
		endpoint: "donation_requests.status",
	}, nil)
}

// DeleteRequest は献血リクエストを削除する。
func (a *API) DeleteRequest(ctx context.Context, id string) error {
	return a.do(ctx, request{
		method:   http.MethodDelete,
		path:     "/donation-requests/" + escape(id),
		endpoint: "donation_requests.delete",
	}, nil)
}

// MyRequests は自分が作成した献血リクエストを取得する。statusが空なら全件。
func (a *API) MyRequests(ctx context.Context, status string) ([]model.DonationRequest, error) {
	var list []model.DonationRequest
	if err := a.do(ctx, request{
		method:   http.MethodGet,
		path:     "/donation-requests/my",
		query:    statusQuery(status),
		endpoint: "donation_requests.my",
	}, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// AllRequests は管理者・ボランティア向けに全リクエストを取得する。
func (a *API) AllRequests(ctx context.Context, status string) ([]model.DonationRequest, error) {
	var list []model.DonationRequest
	if err := a.do(ctx, request{
		method:   http.MethodGet,
		path:     "/admin-or-volunteer/requests",
		query:    statusQuery(status),
		endpoint: "staff.requests",
	}, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Stats はダッシュボードの集計値を取得する。
func (a *API) Stats(ctx context.Context) (*model.Stats, error) {
	var s model.Stats
	if err := a.do(ctx, request{
		method:   http.MethodGet,
		path:     "/admin-or-volunteer/stats",
		endpoint: "staff.stats",
	}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
