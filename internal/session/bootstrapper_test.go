package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/bloodlink/internal/model"
)

var testIdentity = &model.Identity{
	Email:          "donor@example.com",
	Name:           "Donor One",
	AvatarURL:      "https://example.com/a.png",
	Provider:       "google",
	ProviderUserID: "sub-1",
}

// startBootstrapper はワーカーを起動し、テスト終了時に停止する。
func startBootstrapper(t *testing.T, b *Bootstrapper) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func await(t *testing.T, b *Bootstrapper, sessionID string) model.ExchangeState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := b.Await(ctx, sessionID)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	return st
}

func TestSignedIn_UpsertsThenIssuesTokenOnce(t *testing.T) {
	repo := newMemRepo("s1")
	api := &mockUserAPI{}
	b := NewBootstrapper(repo, api, Config{Workers: 2})
	startBootstrapper(t, b)

	if err := b.SignedIn(context.Background(), "s1", testIdentity); err != nil {
		t.Fatalf("SignedIn() error = %v", err)
	}
	if st := await(t, b, "s1"); st != model.ExchangeSucceeded {
		t.Fatalf("state = %s, want succeeded", st)
	}

	if n := api.issueCount(); n != 1 {
		t.Errorf("issuance calls = %d, want 1", n)
	}
	if n := api.upsertCount(); n != 1 {
		t.Fatalf("upsert calls = %d, want 1", n)
	}
	u := api.upserts[0]
	if u.Email != testIdentity.Email || u.Name != testIdentity.Name || u.Avatar != testIdentity.AvatarURL {
		t.Errorf("upserted user = %+v", u)
	}
	if u.Role != model.RoleDonor || u.Status != model.UserStatusActive {
		t.Errorf("role/status = %s/%s, want donor/active", u.Role, u.Status)
	}
	if got := repo.token("s1"); got != "token-for-donor@example.com" {
		t.Errorf("token = %q", got)
	}
}

func TestSignedIn_RecordsIdentityBeforeExchange(t *testing.T) {
	repo := newMemRepo("s1")
	repo.sessions["s1"].AccessToken = "previous"
	b := NewBootstrapper(repo, &mockUserAPI{}, Config{})

	// ワーカー未起動でも本人情報は記録される
	if err := b.SignedIn(context.Background(), "s1", testIdentity); err != nil {
		t.Fatalf("SignedIn() error = %v", err)
	}
	if id := repo.identity("s1"); id == nil || id.Email != testIdentity.Email {
		t.Errorf("identity = %+v, want recorded", id)
	}
	if got := repo.token("s1"); got != "" {
		t.Errorf("token = %q, want cleared", got)
	}
	if st := b.State("s1"); st != model.ExchangeInFlight {
		t.Errorf("state = %s, want in_flight", st)
	}
}

func TestSignedOut_ClearsTokenImmediately(t *testing.T) {
	repo := newMemRepo("s1")
	repo.sessions["s1"].Identity = testIdentity
	repo.sessions["s1"].AccessToken = "tok"
	api := &mockUserAPI{}
	b := NewBootstrapper(repo, api, Config{})

	if err := b.SignedOut(context.Background(), "s1"); err != nil {
		t.Fatalf("SignedOut() error = %v", err)
	}

	if got := repo.token("s1"); got != "" {
		t.Errorf("token = %q, want empty right after sign-out", got)
	}
	if repo.identity("s1") != nil {
		t.Error("identity should be cleared")
	}
	if api.upsertCount() != 0 || api.issueCount() != 0 {
		t.Error("sign-out must not contact the server")
	}
	if st := b.State("s1"); st != model.ExchangeIdle {
		t.Errorf("state = %s, want idle", st)
	}
}

func TestSignedIn_NilIdentity_IsSignOut(t *testing.T) {
	repo := newMemRepo("s1")
	repo.sessions["s1"].AccessToken = "tok"
	api := &mockUserAPI{}
	b := NewBootstrapper(repo, api, Config{})

	if err := b.SignedIn(context.Background(), "s1", nil); err != nil {
		t.Fatalf("SignedIn(nil) error = %v", err)
	}
	if repo.token("s1") != "" {
		t.Error("token should be cleared")
	}
	if api.issueCount() != 0 {
		t.Error("no issuance expected")
	}
}

func TestSignedIn_IssueFailure_ClearsToken(t *testing.T) {
	repo := newMemRepo("s1")
	api := &mockUserAPI{
		issueTokenFn: func(context.Context, string) (string, error) {
			return "", &model.APIError{Status: 500, Message: "boom"}
		},
	}
	rec := &exchangeCounter{}
	b := NewBootstrapper(repo, api, Config{Metrics: rec})
	startBootstrapper(t, b)

	if err := b.SignedIn(context.Background(), "s1", testIdentity); err != nil {
		t.Fatalf("SignedIn() error = %v", err)
	}
	if st := await(t, b, "s1"); st != model.ExchangeFailed {
		t.Fatalf("state = %s, want failed", st)
	}
	if repo.token("s1") != "" {
		t.Error("token should be empty after failure")
	}
	// 本人情報は残る（サインイン自体は成立している）
	if repo.identity("s1") == nil {
		t.Error("identity should remain after exchange failure")
	}
	if rec.count("failure") != 1 {
		t.Errorf("failure count = %d, want 1", rec.count("failure"))
	}
}

func TestSignedIn_UpsertFailure_SkipsIssuance(t *testing.T) {
	repo := newMemRepo("s1")
	api := &mockUserAPI{
		upsertFn: func(context.Context, *model.User) error {
			return errors.New("connection refused")
		},
	}
	b := NewBootstrapper(repo, api, Config{})
	startBootstrapper(t, b)

	_ = b.SignedIn(context.Background(), "s1", testIdentity)
	if st := await(t, b, "s1"); st != model.ExchangeFailed {
		t.Fatalf("state = %s, want failed", st)
	}
	if api.issueCount() != 0 {
		t.Errorf("issuance calls = %d, want 0 after upsert failure", api.issueCount())
	}
}

func TestSignOutDuringExchange_DiscardsLateResult(t *testing.T) {
	repo := newMemRepo("s1")
	issued := make(chan struct{})
	release := make(chan struct{})
	api := &mockUserAPI{
		issueTokenFn: func(context.Context, string) (string, error) {
			close(issued)
			<-release
			return "late-token", nil
		},
	}
	rec := &exchangeCounter{}
	b := NewBootstrapper(repo, api, Config{Metrics: rec})
	startBootstrapper(t, b)

	if err := b.SignedIn(context.Background(), "s1", testIdentity); err != nil {
		t.Fatalf("SignedIn() error = %v", err)
	}
	<-issued

	if err := b.SignedOut(context.Background(), "s1"); err != nil {
		t.Fatalf("SignedOut() error = %v", err)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for rec.count("stale") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count("stale") != 1 {
		t.Fatalf("stale count = %d, want 1", rec.count("stale"))
	}
	if got := repo.token("s1"); got != "" {
		t.Errorf("token = %q, late result must not be applied after sign-out", got)
	}
	if rec.count("success") != 0 {
		t.Error("late result must not count as success")
	}
}

func TestSecondSignIn_SupersedesFirst(t *testing.T) {
	repo := newMemRepo("s1")
	firstIssued := make(chan struct{})
	releaseFirst := make(chan struct{})
	var once sync.Once
	api := &mockUserAPI{
		issueTokenFn: func(_ context.Context, email string) (string, error) {
			if email == "first@example.com" {
				once.Do(func() { close(firstIssued) })
				<-releaseFirst
			}
			return "token-for-" + email, nil
		},
	}
	b := NewBootstrapper(repo, api, Config{Workers: 1})
	startBootstrapper(t, b)

	first := &model.Identity{Email: "first@example.com", Name: "First"}
	second := &model.Identity{Email: "second@example.com", Name: "Second"}

	_ = b.SignedIn(context.Background(), "s1", first)
	<-firstIssued
	_ = b.SignedIn(context.Background(), "s1", second)
	close(releaseFirst)

	if st := await(t, b, "s1"); st != model.ExchangeSucceeded {
		t.Fatalf("state = %s, want succeeded", st)
	}
	if got := repo.token("s1"); got != "token-for-second@example.com" {
		t.Errorf("token = %q, want second identity's token", got)
	}
	if id := repo.identity("s1"); id == nil || id.Email != second.Email {
		t.Errorf("identity = %+v, want second", id)
	}
}

func TestAwait_ContextTimeout(t *testing.T) {
	repo := newMemRepo("s1")
	b := NewBootstrapper(repo, &mockUserAPI{}, Config{})
	_ = b.SignedIn(context.Background(), "s1", testIdentity)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := b.Await(ctx, "s1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if st != model.ExchangeInFlight {
		t.Errorf("state = %s, want in_flight", st)
	}
}

func TestAwait_UnknownSession(t *testing.T) {
	b := NewBootstrapper(newMemRepo(), &mockUserAPI{}, Config{})
	st, err := b.Await(context.Background(), "nope")
	if err != nil || st != model.ExchangeIdle {
		t.Errorf("Await() = %s, %v; want idle, nil", st, err)
	}
}

func TestSignedIn_AfterStop_ReturnsErrStopped(t *testing.T) {
	repo := newMemRepo("s1")
	api := &mockUserAPI{}
	b := NewBootstrapper(repo, api, Config{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)

	err := b.SignedIn(context.Background(), "s1", testIdentity)
	if !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
	if repo.identity("s1") != nil {
		t.Error("identity must not be recorded after stop")
	}
	// サインアウトは停止後も受け付ける
	if err := b.SignedOut(context.Background(), "s1"); err != nil {
		t.Errorf("SignedOut() after stop = %v", err)
	}
}

func TestManySessions_EachIssuedOnce(t *testing.T) {
	const n = 50
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("s%d", i)
	}
	repo := newMemRepo(ids...)
	api := &mockUserAPI{}
	b := NewBootstrapper(repo, api, Config{Workers: 4})
	startBootstrapper(t, b)

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			identity := &model.Identity{Email: fmt.Sprintf("u%d@example.com", i)}
			if err := b.SignedIn(context.Background(), id, identity); err != nil {
				t.Errorf("SignedIn(%s) error = %v", id, err)
			}
		}(i, id)
	}
	wg.Wait()

	for i, id := range ids {
		if st := await(t, b, id); st != model.ExchangeSucceeded {
			t.Errorf("%s state = %s", id, st)
		}
		want := fmt.Sprintf("token-for-u%d@example.com", i)
		if got := repo.token(id); got != want {
			t.Errorf("%s token = %q, want %q", id, got, want)
		}
	}
	if api.issueCount() != n {
		t.Errorf("issuance calls = %d, want %d", api.issueCount(), n)
	}
}

// fakeClock はSweepの経過時間を進めるための時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func entryCount(b *Bootstrapper) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// TestSweep_ForgetsSessionsPurgedWithoutSignOut はログアウトせずに削除された
// セッションの交換状態がTTL経過後に消えることを確認する。
func TestSweep_ForgetsSessionsPurgedWithoutSignOut(t *testing.T) {
	const n = 200
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("s%d", i)
	}
	repo := newMemRepo(ids...)
	clock := &fakeClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	b := NewBootstrapper(repo, &mockUserAPI{}, Config{Workers: 4, EntryTTL: 10 * time.Minute, SweepInterval: time.Hour})
	b.now = clock.Now
	startBootstrapper(t, b)

	for i, id := range ids {
		identity := &model.Identity{Email: fmt.Sprintf("u%d@example.com", i)}
		if err := b.SignedIn(context.Background(), id, identity); err != nil {
			t.Fatalf("SignedIn(%s) error = %v", id, err)
		}
	}
	for _, id := range ids {
		if st := await(t, b, id); st != model.ExchangeSucceeded {
			t.Fatalf("%s state = %s", id, st)
		}
		_ = repo.DeleteByID(context.Background(), id)
	}

	if removed := b.Sweep(); removed != 0 {
		t.Errorf("Sweep() before TTL removed %d, want 0", removed)
	}

	clock.Advance(11 * time.Minute)
	if removed := b.Sweep(); removed != n {
		t.Errorf("Sweep() removed %d, want %d", removed, n)
	}
	if got := entryCount(b); got != 0 {
		t.Errorf("entries retained after purge = %d, want 0", got)
	}
	if st := b.State("s0"); st != model.ExchangeIdle {
		t.Errorf("State after sweep = %s, want idle", st)
	}
}

func TestSweep_KeepsInFlightExchange(t *testing.T) {
	// 遅い交換と同じワーカーに並ばないよう、別シャードのセッションを選ぶ
	other := ""
	for i := 2; other == ""; i++ {
		if id := fmt.Sprintf("s%d", i); hashOf(id)%2 != hashOf("s1")%2 {
			other = id
		}
	}
	repo := newMemRepo("s1", other)
	release := make(chan struct{})
	api := &mockUserAPI{
		issueTokenFn: func(_ context.Context, email string) (string, error) {
			if email == "slow@example.com" {
				<-release
			}
			return "token-for-" + email, nil
		},
	}
	clock := &fakeClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	b := NewBootstrapper(repo, api, Config{Workers: 2, EntryTTL: time.Minute, SweepInterval: time.Hour})
	b.now = clock.Now
	startBootstrapper(t, b)
	defer close(release)

	if err := b.SignedIn(context.Background(), "s1", &model.Identity{Email: "slow@example.com"}); err != nil {
		t.Fatalf("SignedIn() error = %v", err)
	}
	if err := b.SignedIn(context.Background(), other, testIdentity); err != nil {
		t.Fatalf("SignedIn() error = %v", err)
	}
	if st := await(t, b, other); st != model.ExchangeSucceeded {
		t.Fatalf("%s state = %s", other, st)
	}

	clock.Advance(time.Hour)
	if removed := b.Sweep(); removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if st := b.State("s1"); st != model.ExchangeInFlight {
		t.Errorf("in-flight state = %s, must survive the sweep", st)
	}
}

func TestRun_SweepsOnInterval(t *testing.T) {
	repo := newMemRepo("s1")
	b := NewBootstrapper(repo, &mockUserAPI{}, Config{EntryTTL: time.Nanosecond, SweepInterval: 10 * time.Millisecond})
	startBootstrapper(t, b)

	if err := b.SignedIn(context.Background(), "s1", testIdentity); err != nil {
		t.Fatalf("SignedIn() error = %v", err)
	}
	await(t, b, "s1")

	deadline := time.Now().Add(2 * time.Second)
	for entryCount(b) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := entryCount(b); got != 0 {
		t.Errorf("entries = %d, want 0 after periodic sweep", got)
	}
}
