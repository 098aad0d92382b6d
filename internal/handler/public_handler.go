package handler

import (
	"net/http"

	"github.com/hitoshi/bloodlink/internal/model"
	"github.com/hitoshi/bloodlink/internal/news"
)

const (
	publicRequestsPageSize = 9
	featuredNewsCount      = 3
)

// NewsSource はホームに載せるニュース。news.Serviceが実装する。
type NewsSource interface {
	Enabled() bool
	Latest(n int) []news.Item
}

// PublicHandler はサインイン不要のページを扱う。
type PublicHandler struct {
	pages
	api  *APIProvider
	news NewsSource
}

// NewPublicHandler はPublicHandlerを生成する。newsはnilでもよい。
func NewPublicHandler(p pages, api *APIProvider, newsSource NewsSource) *PublicHandler {
	return &PublicHandler{pages: p, api: api, news: newsSource}
}

// Highlight はホームの紹介カード。
type Highlight struct {
	Title string
	Desc  string
}

var highlights = []Highlight{
	{Title: "Fast Search", Desc: "Find donors by blood group & location."},
	{Title: "Verified Flow", Desc: "Request → Confirm → In Progress → Done."},
	{Title: "Role Based", Desc: "Admin, Volunteer and Donor dashboard."},
}

type homePage struct {
	Highlights  []Highlight
	NewsEnabled bool
	News        []news.Item
}

// Home はトップページを表示する。
// GET /
func (h *PublicHandler) Home(w http.ResponseWriter, r *http.Request) {
	content := homePage{Highlights: highlights}
	if h.news != nil && h.news.Enabled() {
		content.NewsEnabled = true
		content.News = h.news.Latest(featuredNewsCount)
	}
	h.render.Render(w, r, http.StatusOK, "home", Page{Title: "Home", Content: content})
}

// About は紹介ページを表示する。
// GET /about
func (h *PublicHandler) About(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, r, http.StatusOK, "about", Page{Title: "About"})
}

type findBloodPage struct {
	Query       model.DonorQuery
	BloodGroups []Option
	Districts   []Option
	Searched    bool
	Error       string
	Donors      model.Remote[[]model.User]
}

// FindBlood はドナー検索フォームと結果を表示する。
// 血液型の指定があるときだけ検索する。
// GET /find-blood?bloodGroup=A%2B&district=Dhaka&upazila=Savar
func (h *PublicHandler) FindBlood(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := model.DonorQuery{
		BloodGroup: qs.Get("bloodGroup"),
		District:   qs.Get("district"),
		Upazila:    h.sanitizer.Text(qs.Get("upazila")),
	}
	content := findBloodPage{
		Query:       q,
		BloodGroups: options(model.BloodGroups, q.BloodGroup),
		Districts:   options(model.Districts, q.District),
		Donors:      model.Idle[[]model.User](),
	}

	status := http.StatusOK
	switch {
	case q.IsEmpty():
	case !model.IsBloodGroup(q.BloodGroup):
		content.Error = "Please select a blood group."
		status = http.StatusUnprocessableEntity
	case q.District != "" && !model.IsDistrict(q.District):
		content.Error = "Please select a district from the list."
		status = http.StatusUnprocessableEntity
	default:
		content.Searched = true
		donors, err := h.api.Public().SearchDonors(r.Context(), q)
		if err != nil {
			logError(r, "donor search failed", err)
		}
		content.Donors = model.FromResult(donors, err, "Search failed.")
	}
	h.render.Render(w, r, status, "find_blood", Page{Title: "Find Blood", Content: content})
}

type requestListPage struct {
	Requests model.Remote[[]model.DonationRequest]
	Pager    Pager
}

// DonationRequests は受付中の献血リクエストを1ページ9件で表示する。
// GET /donation-requests?page=2
func (h *PublicHandler) DonationRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.api.Public().PendingRequests(r.Context())
	if err != nil {
		logError(r, "failed to load pending requests", err)
		h.render.Render(w, r, http.StatusOK, "donation_requests", Page{
			Title:   "Donation Requests",
			Content: requestListPage{Requests: model.Failed[[]model.DonationRequest](model.UserMessage(err, "Failed to load requests."))},
		})
		return
	}

	items, pager := paginate(reqs, r, publicRequestsPageSize)
	h.render.Render(w, r, http.StatusOK, "donation_requests", Page{
		Title:   "Donation Requests",
		Content: requestListPage{Requests: model.Succeeded(items), Pager: pager},
	})
}
