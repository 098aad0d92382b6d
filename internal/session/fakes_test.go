package session

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/bloodlink/internal/metrics"
	"github.com/hitoshi/bloodlink/internal/model"
	"github.com/hitoshi/bloodlink/internal/repository"
)

// memRepo はメモリ上のWebSessionRepository。
type memRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.WebSession
}

func newMemRepo(ids ...string) *memRepo {
	r := &memRepo{sessions: make(map[string]*model.WebSession)}
	for _, id := range ids {
		r.sessions[id] = &model.WebSession{ID: id, ExpiresAt: time.Now().Add(time.Hour)}
	}
	return r
}

func (r *memRepo) Create(_ context.Context, s *model.WebSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id string) (*model.WebSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memRepo) SetIdentity(_ context.Context, id string, identity *model.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		cp := *identity
		s.Identity = &cp
	}
	return nil
}

func (r *memRepo) ClearIdentity(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Identity = nil
		s.AccessToken = ""
	}
	return nil
}

func (r *memRepo) SetAccessToken(_ context.Context, id, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.AccessToken = token
	}
	return nil
}

func (r *memRepo) ClearAccessToken(_ context.Context, id string) error {
	return r.SetAccessToken(context.Background(), id, "")
}

func (r *memRepo) GetAccessToken(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s.AccessToken, nil
	}
	return "", nil
}

func (r *memRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memRepo) DeleteExpired(context.Context) (int64, error) { return 0, nil }

func (r *memRepo) token(id string) string {
	t, _ := r.GetAccessToken(context.Background(), id)
	return t
}

func (r *memRepo) identity(id string) *model.Identity {
	s, _ := r.FindByID(context.Background(), id)
	if s == nil {
		return nil
	}
	return s.Identity
}

// mockUserAPI は関数フィールドで振る舞いを差し替えられるUserAPI。
type mockUserAPI struct {
	mu           sync.Mutex
	upserts      []model.User
	issues       []string
	upsertFn     func(ctx context.Context, u *model.User) error
	issueTokenFn func(ctx context.Context, email string) (string, error)
}

func (m *mockUserAPI) UpsertUser(ctx context.Context, u *model.User) error {
	m.mu.Lock()
	m.upserts = append(m.upserts, *u)
	m.mu.Unlock()
	if m.upsertFn != nil {
		return m.upsertFn(ctx, u)
	}
	return nil
}

func (m *mockUserAPI) IssueToken(ctx context.Context, email string) (string, error) {
	m.mu.Lock()
	m.issues = append(m.issues, email)
	m.mu.Unlock()
	if m.issueTokenFn != nil {
		return m.issueTokenFn(ctx, email)
	}
	return "token-for-" + email, nil
}

func (m *mockUserAPI) issueCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.issues)
}

func (m *mockUserAPI) upsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.upserts)
}

// exchangeCounter はトークン交換の結果ごとの件数を数える。
type exchangeCounter struct {
	metrics.Nop
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *exchangeCounter) RecordTokenExchange(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = make(map[string]int)
	}
	c.outcomes[outcome]++
}

func (c *exchangeCounter) count(outcome string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcomes[outcome]
}

var _ repository.WebSessionRepository = (*memRepo)(nil)
var _ UserAPI = (*mockUserAPI)(nil)
var _ metrics.Recorder = (*exchangeCounter)(nil)
