// Package session はIdPのサインイン状態とセッショントークンを同期させる。
//
// サインイン・サインアウトの遷移はWebセッションIDのハッシュでシャードに振り分け、
// 同じセッションの処理は常に同じワーカーgoroutineが順番に行う。
// 各遷移には単調増加する世代番号を付け、適用時点で古くなった交換結果は捨てる。
package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/bloodlink/internal/events"
	"github.com/hitoshi/bloodlink/internal/metrics"
	"github.com/hitoshi/bloodlink/internal/model"
	"github.com/hitoshi/bloodlink/internal/repository"
)

// ErrStopped はBootstrapperが停止済みで遷移を受け付けないことを示す。
var ErrStopped = errors.New("session bootstrapper stopped")

// UserAPI はトークン交換で呼ぶリモートAPI。認証ヘッダーは付けない。
type UserAPI interface {
	UpsertUser(ctx context.Context, u *model.User) error
	IssueToken(ctx context.Context, email string) (string, error)
}

// Config はBootstrapperの設定。
type Config struct {
	Workers   int // シャード数
	QueueSize int // シャードごとのキュー長
	// EntryTTL は完了（成功・失敗）した交換状態を保持する時間。
	// 経過後は状態を捨て、トークンがなければ次のアクセスで交換をやり直す。
	EntryTTL time.Duration
	// SweepInterval は期限切れの交換状態を掃除する間隔。
	SweepInterval time.Duration
	Metrics       metrics.Recorder
	Events    events.Publisher
	Logger    *slog.Logger
}

type job struct {
	sessionID string
	gen       uint64
	identity  model.Identity
}

// entry はセッションごとの交換状態。
type entry struct {
	gen   uint64
	state model.ExchangeState
	done  chan struct{} // この世代の交換が終わるか、次の遷移に置き換えられたらclose

	finishedAt time.Time
}

// Bootstrapper はサインイン時のユーザー登録とトークン取得を行う。
type Bootstrapper struct {
	repo    repository.WebSessionRepository
	api     UserAPI
	metrics metrics.Recorder
	events  events.Publisher
	logger  *slog.Logger

	entryTTL      time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	shards []chan job
	// locks はセッション単位で「世代の確認とトークンの書き込み」を直列化する。
	locks []sync.Mutex

	mu      sync.Mutex
	gen     uint64
	entries map[string]*entry
	stopped chan struct{}
	stop    sync.Once
}

// NewBootstrapper はBootstrapperを生成する。Runを呼ぶまで交換は処理されない。
func NewBootstrapper(repo repository.WebSessionRepository, api UserAPI, cfg Config) *Bootstrapper {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 15 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	b := &Bootstrapper{
		repo:    repo,
		api:     api,
		metrics: cfg.Metrics,
		events:  cfg.Events,
		logger:  cfg.Logger,

		entryTTL:      cfg.EntryTTL,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,

		shards:  make([]chan job, cfg.Workers),
		locks:   make([]sync.Mutex, cfg.Workers*8),
		entries: make(map[string]*entry),
		stopped: make(chan struct{}),
	}
	for i := range b.shards {
		b.shards[i] = make(chan job, cfg.QueueSize)
	}
	return b
}

// Run はシャードごとのワーカーを起動し、ctxが終わるまでブロックする。
func (b *Bootstrapper) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range b.shards {
		wg.Add(1)
		go func(q <-chan job) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-q:
					b.exchange(ctx, j)
				}
			}
		}(b.shards[i])
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(b.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := b.Sweep(); n > 0 {
					b.logger.Debug("swept finished exchange states", slog.Int("count", n))
				}
			}
		}
	}()

	<-ctx.Done()
	b.stop.Do(func() { close(b.stopped) })
	wg.Wait()
}

// SignedIn はサインイン遷移を受け付ける。
// 本人情報の記録と古いトークンの消去はこの呼び出しの中で終え、
// ユーザー登録とトークン発行はワーカーに任せる。
func (b *Bootstrapper) SignedIn(ctx context.Context, sessionID string, identity *model.Identity) error {
	if identity == nil || identity.Email == "" {
		return b.SignedOut(ctx, sessionID)
	}

	select {
	case <-b.stopped:
		return ErrStopped
	default:
	}

	lock := b.lockFor(sessionID)
	lock.Lock()
	if err := b.repo.SetIdentity(ctx, sessionID, identity); err != nil {
		lock.Unlock()
		return fmt.Errorf("failed to record identity: %w", err)
	}
	if err := b.repo.ClearAccessToken(ctx, sessionID); err != nil {
		lock.Unlock()
		return fmt.Errorf("failed to clear previous token: %w", err)
	}
	gen := b.begin(sessionID)
	lock.Unlock()

	j := job{sessionID: sessionID, gen: gen, identity: *identity}
	select {
	case b.shardFor(sessionID) <- j:
		return nil
	case <-b.stopped:
		b.finish(sessionID, gen, model.ExchangeFailed)
		return ErrStopped
	case <-ctx.Done():
		b.finish(sessionID, gen, model.ExchangeFailed)
		return ctx.Err()
	}
}

// SignedOut はサインアウト遷移を受け付ける。トークンはこの呼び出しの中で消去する。
// 実行中の交換があっても、その結果は適用されない。
func (b *Bootstrapper) SignedOut(ctx context.Context, sessionID string) error {
	lock := b.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	b.forget(sessionID)
	if err := b.repo.ClearIdentity(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to clear identity: %w", err)
	}
	return nil
}

// State はセッションの交換状態を返す。記録がなければidle。
func (b *Bootstrapper) State(sessionID string) model.ExchangeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[sessionID]; ok {
		return e.state
	}
	return model.ExchangeIdle
}

// Await は実行中の交換が終わるまで待ち、その時点の状態を返す。
// ctxが先に終わった場合はctxのエラーを返す。
func (b *Bootstrapper) Await(ctx context.Context, sessionID string) (model.ExchangeState, error) {
	for {
		b.mu.Lock()
		e, ok := b.entries[sessionID]
		if !ok {
			b.mu.Unlock()
			return model.ExchangeIdle, nil
		}
		if e.state != model.ExchangeInFlight {
			st := e.state
			b.mu.Unlock()
			return st, nil
		}
		done := e.done
		b.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return model.ExchangeInFlight, ctx.Err()
		}
	}
}

// exchange はワーカー上で1件の交換を行う。
func (b *Bootstrapper) exchange(ctx context.Context, j job) {
	if !b.current(j.sessionID, j.gen) {
		b.metrics.RecordTokenExchange(metrics.ExchangeStale)
		return
	}

	token, err := b.fetchToken(ctx, j.identity)

	lock := b.lockFor(j.sessionID)
	lock.Lock()
	if !b.current(j.sessionID, j.gen) {
		lock.Unlock()
		b.metrics.RecordTokenExchange(metrics.ExchangeStale)
		b.logger.Info("古いトークン交換の結果を破棄しました",
			slog.String("session_id", j.sessionID),
		)
		return
	}

	if err == nil {
		if serr := b.repo.SetAccessToken(ctx, j.sessionID, token); serr != nil {
			err = fmt.Errorf("failed to store token: %w", serr)
		}
	}
	if err != nil {
		if cerr := b.repo.ClearAccessToken(ctx, j.sessionID); cerr != nil {
			b.logger.Error("トークンの消去に失敗しました",
				slog.String("session_id", j.sessionID),
				slog.String("error", cerr.Error()),
			)
		}
		b.finish(j.sessionID, j.gen, model.ExchangeFailed)
		lock.Unlock()

		b.metrics.RecordTokenExchange(metrics.ExchangeFailure)
		b.logger.Error("セッショントークンの取得に失敗しました",
			slog.String("session_id", j.sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	b.finish(j.sessionID, j.gen, model.ExchangeSucceeded)
	lock.Unlock()

	b.metrics.RecordTokenExchange(metrics.ExchangeSuccess)
	_ = b.events.Publish(ctx, events.New(events.TypeUserSignedIn, map[string]string{
		"email": j.identity.Email,
	}))
}

// fetchToken はユーザーをupsertしてからトークンを発行させる。
func (b *Bootstrapper) fetchToken(ctx context.Context, id model.Identity) (string, error) {
	u := &model.User{
		Email:  id.Email,
		Name:   id.Name,
		Avatar: id.AvatarURL,
		Role:   model.RoleDonor,
		Status: model.UserStatusActive,
	}
	if err := b.api.UpsertUser(ctx, u); err != nil {
		return "", fmt.Errorf("upsert user: %w", err)
	}
	token, err := b.api.IssueToken(ctx, id.Email)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// begin は新しい世代を払い出し、前の世代の待ち手を解放する。
func (b *Bootstrapper) begin(sessionID string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	if prev, ok := b.entries[sessionID]; ok && prev.state == model.ExchangeInFlight {
		close(prev.done)
	}
	b.entries[sessionID] = &entry{
		gen:   b.gen,
		state: model.ExchangeInFlight,
		done:  make(chan struct{}),
	}
	return b.gen
}

func (b *Bootstrapper) forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	if prev, ok := b.entries[sessionID]; ok {
		if prev.state == model.ExchangeInFlight {
			close(prev.done)
		}
		delete(b.entries, sessionID)
	}
}

func (b *Bootstrapper) finish(sessionID string, gen uint64, st model.ExchangeState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[sessionID]
	if !ok || e.gen != gen || e.state != model.ExchangeInFlight {
		return
	}
	e.state = st
	e.finishedAt = b.now()
	close(e.done)
}

// Sweep はEntryTTLより前に完了した交換状態を削除し、削除件数を返す。
// 交換中の状態は残す。ログアウトせずに期限切れになったセッションの状態もここで消える。
func (b *Bootstrapper) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := b.now().Add(-b.entryTTL)
	n := 0
	for id, e := range b.entries {
		if e.state != model.ExchangeInFlight && e.finishedAt.Before(cutoff) {
			delete(b.entries, id)
			n++
		}
	}
	return n
}

func (b *Bootstrapper) current(sessionID string, gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[sessionID]
	return ok && e.gen == gen
}

func hashOf(sessionID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return h.Sum32()
}

func (b *Bootstrapper) shardFor(sessionID string) chan<- job {
	return b.shards[hashOf(sessionID)%uint32(len(b.shards))]
}

func (b *Bootstrapper) lockFor(sessionID string) *sync.Mutex {
	return &b.locks[hashOf(sessionID)%uint32(len(b.locks))]
}
