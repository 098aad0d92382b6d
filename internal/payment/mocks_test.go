package payment

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/bloodlink/internal/events"
	"github.com/hitoshi/bloodlink/internal/metrics"
	"github.com/hitoshi/bloodlink/internal/model"
	"github.com/hitoshi/bloodlink/internal/repository"
)

type mockFundingAPI struct {
	mu        sync.Mutex
	confirms  []string
	checkouts []model.CheckoutRequest

	confirmFn  func(ctx context.Context, cs string) error
	checkoutFn func(ctx context.Context, req model.CheckoutRequest) (*model.CheckoutSession, error)
}

func (m *mockFundingAPI) ConfirmFunding(ctx context.Context, cs string) error {
	m.mu.Lock()
	m.confirms = append(m.confirms, cs)
	m.mu.Unlock()
	if m.confirmFn != nil {
		return m.confirmFn(ctx, cs)
	}
	return nil
}

func (m *mockFundingAPI) CreateCheckoutSession(ctx context.Context, req model.CheckoutRequest) (*model.CheckoutSession, error) {
	m.mu.Lock()
	m.checkouts = append(m.checkouts, req)
	m.mu.Unlock()
	if m.checkoutFn != nil {
		return m.checkoutFn(ctx, req)
	}
	return &model.CheckoutSession{URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func (m *mockFundingAPI) confirmCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.confirms)
}

func (m *mockFundingAPI) checkoutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.checkouts)
}

// memConfirmationRepo はメモリ上のConfirmationRepository。
type memConfirmationRepo struct {
	mu      sync.Mutex
	records map[string]model.PaymentConfirmation
	findErr error
}

func newMemConfirmationRepo() *memConfirmationRepo {
	return &memConfirmationRepo{records: make(map[string]model.PaymentConfirmation)}
}

func (r *memConfirmationRepo) FindByCheckoutSessionID(_ context.Context, cs string) (*model.PaymentConfirmation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	c, ok := r.records[cs]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *memConfirmationRepo) Save(_ context.Context, c *model.PaymentConfirmation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[c.CheckoutSessionID] = *c
	return nil
}

func (r *memConfirmationRepo) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *memConfirmationRepo) status(cs string) model.ConfirmationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[cs].Status
}

// outcomeCounter は決済関連メトリクスを数える。
type outcomeCounter struct {
	metrics.Nop
	mu       sync.Mutex
	confirm  map[string]int
	checkout map[string]int
}

func newOutcomeCounter() *outcomeCounter {
	return &outcomeCounter{confirm: map[string]int{}, checkout: map[string]int{}}
}

func (c *outcomeCounter) RecordPaymentConfirmation(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirm[outcome]++
}

func (c *outcomeCounter) RecordCheckoutStart(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkout[outcome]++
}

// recordingPublisher は送られたイベントを記録する。
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

var _ FundingAPI = (*mockFundingAPI)(nil)
var _ repository.ConfirmationRepository = (*memConfirmationRepo)(nil)
var _ metrics.Recorder = (*outcomeCounter)(nil)
var _ events.Publisher = (*recordingPublisher)(nil)
