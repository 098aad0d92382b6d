package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/bloodlink/internal/apiclient"
	"github.com/hitoshi/bloodlink/internal/middleware"
	"github.com/hitoshi/bloodlink/internal/model"
	"github.com/hitoshi/bloodlink/internal/payment"
	"github.com/hitoshi/bloodlink/internal/repository"
	"github.com/hitoshi/bloodlink/internal/security"
	"github.com/hitoshi/bloodlink/internal/store"
)

// --- リモートAPIの代わりのhttptestサーバー ---

type remoteCall struct {
	Key   string // "METHOD /path"
	Query url.Values
	Body  string
	Auth  string
}

// fakeRemote は登録したルートだけに応答するリモートAPI。未登録のルートは404を返す。
type fakeRemote struct {
	srv    *httptest.Server
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	calls  []remoteCall

	// meUsers は /users/me がAuthorizationヘッダーごとに返すユーザー。
	meUsers map[string]model.User
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	f := &fakeRemote{routes: make(map[string]http.HandlerFunc)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		key := r.Method + " " + r.URL.Path

		f.mu.Lock()
		f.calls = append(f.calls, remoteCall{Key: key, Query: r.URL.Query(), Body: string(body), Auth: r.Header.Get("Authorization")})
		h, ok := f.routes[key]
		f.mu.Unlock()

		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		h(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeRemote) handle(key string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[key] = h
}

// reply はkeyに固定のJSONを返すルートを登録する。
func (f *fakeRemote) reply(key string, status int, v any) {
	f.handle(key, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status, v)
	})
}

func (f *fakeRemote) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Key == key {
			n++
		}
	}
	return n
}

func (f *fakeRemote) last(key string) (remoteCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Key == key {
			return f.calls[i], true
		}
	}
	return remoteCall{}, false
}

func (f *fakeRemote) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRemote) client() *apiclient.Client {
	return apiclient.New(apiclient.Config{BaseURL: f.srv.URL, Timeout: 2 * time.Second})
}

// --- セッション・トークン ---

// sessionTable はmiddleware.SessionFinderのメモリ実装。
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*model.WebSession
}

func (s *sessionTable) FindByID(_ context.Context, id string) (*model.WebSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

var _ middleware.SessionFinder = (*sessionTable)(nil)

// tokenTable はSessionTokensのメモリ実装。
type tokenTable struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (t *tokenTable) Token(_ context.Context, sid string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens[sid], nil
}

func (t *tokenTable) For(sid string) apiclient.TokenSource {
	return apiclient.TokenSourceFunc(func(ctx context.Context) (string, error) {
		return t.Token(ctx, sid)
	})
}

var _ SessionTokens = (*tokenTable)(nil)

// settledExchange は交換が終わった状態を返すExchangeTracker。
type settledExchange struct{}

func (settledExchange) State(string) model.ExchangeState { return model.ExchangeSucceeded }
func (settledExchange) Await(context.Context, string) (model.ExchangeState, error) {
	return model.ExchangeSucceeded, nil
}
func (settledExchange) SignedIn(context.Context, string, *model.Identity) error { return nil }

var _ middleware.ExchangeTracker = settledExchange{}

// --- 認証サービス ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code, previousSessionID string) (*model.WebSession, error)
	logoutFn         func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code, previousSessionID string) (*model.WebSession, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code, previousSessionID)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

// --- 決済確認記録 ---

type memConfirmations struct {
	mu      sync.Mutex
	records map[string]model.PaymentConfirmation
}

func (m *memConfirmations) FindByCheckoutSessionID(_ context.Context, id string) (*model.PaymentConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memConfirmations) Save(_ context.Context, c *model.PaymentConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[c.CheckoutSessionID] = *c
	return nil
}

func (m *memConfirmations) DeleteOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }

var _ repository.ConfirmationRepository = (*memConfirmations)(nil)

// --- テスト環境 ---

const (
	donorSID = "sid-donor-0000000000000000000000000000000000000000000000000000001"
	staffSID = "sid-staff-0000000000000000000000000000000000000000000000000000002"
	adminSID = "sid-admin-0000000000000000000000000000000000000000000000000000003"
)

var testCSRFToken = strings.Repeat("c", 64)

type testEnv struct {
	remote   *fakeRemote
	sessions *sessionTable
	tokens   *tokenTable
	auth     *mockAuthService
	claims   *store.MemoryClaimStore
	confirms *memConfirmations
	deps     *RouterDeps
	handler  http.Handler
}

// newTestEnv はリモートAPIをhttptestに向けたルーターを組み立てる。
// modifyでRouterDepsを差し替えられる。
func newTestEnv(t *testing.T, modify ...func(*RouterDeps)) *testEnv {
	t.Helper()
	renderer, err := NewRenderer(FlashConfig{})
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	e := &testEnv{
		remote:   newFakeRemote(t),
		sessions: &sessionTable{sessions: make(map[string]*model.WebSession)},
		tokens:   &tokenTable{tokens: make(map[string]string)},
		auth:     &mockAuthService{},
		claims:   store.NewMemoryClaimStore(),
		confirms: &memConfirmations{records: make(map[string]model.PaymentConfirmation)},
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     1000,
		GeneralBurst:    1000,
		CheckoutRate:    1000,
		CheckoutBurst:   1000,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(limiter.Stop)

	e.deps = &RouterDeps{
		SessionFinder:   e.sessions,
		RateLimiter:     limiter,
		Tokens:          e.tokens,
		Exchange:        settledExchange{},
		ExchangeWait:    100 * time.Millisecond,
		FormActionHosts: []string{"checkout.stripe.com"},
		Renderer:        renderer,
		Sanitizer:       security.NewSanitizer(),
		API:             e.remote.client(),
		AuthService:     e.auth,
		AuthConfig:      AuthHandlerConfig{SessionMaxAge: 86400},
		Reconciler:      payment.NewReconciler(e.claims, e.confirms, payment.ReconcilerConfig{}),
		Checkout: payment.NewCheckout(e.claims, security.NewURLGuard(), payment.CheckoutConfig{
			MinAmount:    10,
			AllowedHosts: []string{"checkout.stripe.com"},
		}),
	}
	for _, m := range modify {
		m(e.deps)
	}
	e.handler = NewRouter(e.deps)
	return e
}

// signIn はトークン交換済みのWebセッションを登録し、/users/me の応答を設定する。
func (e *testEnv) signIn(sid string, user model.User) {
	e.sessions.mu.Lock()
	e.sessions.sessions[sid] = &model.WebSession{
		ID:        sid,
		Identity:  &model.Identity{Email: user.Email, Name: user.Name, Provider: "google"},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	e.sessions.mu.Unlock()

	e.tokens.mu.Lock()
	e.tokens.tokens[sid] = "token-" + user.Email
	e.tokens.mu.Unlock()

	e.addMe(user)
}

// addMe は /users/me がトークンごとにユーザーを返すようにする。
func (e *testEnv) addMe(user model.User) {
	e.remote.mu.Lock()
	if e.remote.meUsers == nil {
		e.remote.meUsers = make(map[string]model.User)
	}
	e.remote.meUsers["Bearer token-"+user.Email] = user
	e.remote.mu.Unlock()

	e.remote.handle("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		e.remote.mu.Lock()
		u, ok := e.remote.meUsers[r.Header.Get("Authorization")]
		e.remote.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized access"})
			return
		}
		writeJSON(w, http.StatusOK, u)
	})
}

func (e *testEnv) newRequest(method, target, sid string, form url.Values) *http.Request {
	var body io.Reader
	if form != nil {
		form.Set(middleware.CSRFFieldName, testCSRFToken)
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	}
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sid})
	}
	return req
}

func (e *testEnv) get(t *testing.T, target, sid string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, e.newRequest(http.MethodGet, target, sid, nil))
	return w
}

func (e *testEnv) post(t *testing.T, target, sid string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	if form == nil {
		form = url.Values{}
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, e.newRequest(http.MethodPost, target, sid, form))
	return w
}

var (
	donorUser = model.User{ID: "u1", Email: "donor@example.com", Name: "Rahim Donor", BloodGroup: "O+", District: "Dhaka", Upazila: "Savar", Role: model.RoleDonor, Status: model.UserStatusActive}
	staffUser = model.User{ID: "u2", Email: "volunteer@example.com", Name: "Karim Volunteer", BloodGroup: "A-", District: "Sylhet", Upazila: "Beanibazar", Role: model.RoleVolunteer, Status: model.UserStatusActive}
	adminUser = model.User{ID: "u3", Email: "admin@example.com", Name: "Ayesha Admin", BloodGroup: "B+", District: "Khulna", Upazila: "Dumuria", Role: model.RoleAdmin, Status: model.UserStatusActive}
)

// flashOf はレスポンスが設定したFlash Cookieを復元する。
func flashOf(t *testing.T, w *httptest.ResponseRecorder) *Flash {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name != flashCookieName || c.MaxAge < 0 {
			continue
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(c)
		return FlashConfig{}.take(httptest.NewRecorder(), req)
	}
	return nil
}

func assertRedirect(t *testing.T, w *httptest.ResponseRecorder, wantLocation string) {
	t.Helper()
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusSeeOther, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != wantLocation {
		t.Errorf("Location = %q, want %q", loc, wantLocation)
	}
}

func assertContains(t *testing.T, body, want string) {
	t.Helper()
	if !strings.Contains(body, want) {
		t.Errorf("body does not contain %q", want)
	}
}
