package model

// DonationStatus は献血リクエストの状態を表す。
// 状態遷移のルールはリモートAPI側が持つ。
type DonationStatus string

const (
	DonationPending    DonationStatus = "pending"
	DonationInProgress DonationStatus = "inprogress"
	DonationDone       DonationStatus = "done"
	DonationCanceled   DonationStatus = "canceled"
)

// DonationStatuses は絞り込みや選択肢に使う状態の一覧（表示順）。
var DonationStatuses = []DonationStatus{
	DonationPending,
	DonationInProgress,
	DonationDone,
	DonationCanceled,
}

// ParseDonationStatus は文字列を状態に変換する。未定義の値はfalseを返す。
func ParseDonationStatus(s string) (DonationStatus, bool) {
	for _, st := range DonationStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// BloodGroups は受け付ける血液型の一覧。
var BloodGroups = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

// DonationRequest はリモートAPIが所有する献血リクエスト。
type DonationRequest struct {
	ID                string         `json:"_id,omitempty"`
	RequesterName     string         `json:"requesterName"`
	RequesterEmail    string         `json:"requesterEmail"`
	RecipientName     string         `json:"recipientName"`
	RecipientDistrict string         `json:"recipientDistrict"`
	RecipientUpazila  string         `json:"recipientUpazila"`
	HospitalName      string         `json:"hospitalName"`
	FullAddress       string         `json:"fullAddress"`
	BloodGroup        string         `json:"bloodGroup"`
	DonationDate      string         `json:"donationDate"`
	DonationTime      string         `json:"donationTime"`
	RequestMessage    string         `json:"requestMessage"`
	Status            DonationStatus `json:"status,omitempty"`
	DonorName         string         `json:"donorName,omitempty"`
	DonorEmail        string         `json:"donorEmail,omitempty"`
	CreatedAt         string         `json:"createdAt,omitempty"`
}

// OwnedBy は指定メールアドレスのユーザーが作成したリクエストかどうかを返す。
func (r *DonationRequest) OwnedBy(email string) bool {
	return r != nil && email != "" && r.RequesterEmail == email
}

// DonationRequestInput は作成・編集フォームからAPIへ送る内容。
type DonationRequestInput struct {
	RequesterName     string `json:"requesterName,omitempty"`
	RequesterEmail    string `json:"requesterEmail,omitempty"`
	RecipientName     string `json:"recipientName" validate:"required,max=100"`
	RecipientDistrict string `json:"recipientDistrict" validate:"required,district"`
	RecipientUpazila  string `json:"recipientUpazila" validate:"required,max=100"`
	HospitalName      string `json:"hospitalName" validate:"required,max=200"`
	FullAddress       string `json:"fullAddress" validate:"required,max=300"`
	BloodGroup        string `json:"bloodGroup" validate:"required,bloodgroup"`
	DonationDate      string `json:"donationDate" validate:"required,datetime=2006-01-02"`
	DonationTime      string `json:"donationTime" validate:"required,datetime=15:04"`
	RequestMessage    string `json:"requestMessage" validate:"required,max=1000"`
}

// StatusUpdate は状態変更リクエストの本文。donate操作ではドナー情報を伴う。
type StatusUpdate struct {
	Status     DonationStatus `json:"status"`
	DonorName  string         `json:"donorName,omitempty"`
	DonorEmail string         `json:"donorEmail,omitempty"`
}

// DonorQuery はドナー検索条件。空のフィールドは条件に含めない。
type DonorQuery struct {
	BloodGroup string
	District   string
	Upazila    string
}

// IsEmpty は検索条件が1つも指定されていないかを返す。
func (q DonorQuery) IsEmpty() bool {
	return q.BloodGroup == "" && q.District == "" && q.Upazila == ""
}

// Stats は管理者/ボランティア向けダッシュボードの集計値。
type Stats struct {
	TotalDonors   int     `json:"totalDonors"`
	TotalRequests int     `json:"totalRequests"`
	TotalFunding  float64 `json:"totalFunding"`
}
