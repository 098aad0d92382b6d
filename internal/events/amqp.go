package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// 送信キューが満杯、または停止済みのときにPublishが返すエラー。
var (
	ErrQueueFull = errors.New("event queue is full")
	ErrClosed    = errors.New("event publisher is closed")
)

// AMQPConfig はAMQPPublisherの設定。
type AMQPConfig struct {
	URL   string
	Queue string
	// Buffer は未送信イベントを溜めておく件数。
	Buffer int
	// DialTimeout はTCP接続とAMQPハンドシェイクの上限。
	DialTimeout time.Duration
	// PublishTimeout は1件の送信の上限。
	PublishTimeout time.Duration
	// RetryDelay は接続失敗後、次に接続を試みるまでの間隔。その間のイベントは捨てる。
	RetryDelay time.Duration
}

// AMQPPublisher はRabbitMQの永続キューへイベントを送る。
// Publishはキューに積むだけで、送信は1本のgoroutineが行う。
// 接続は最初の送信時に張り、失敗したら捨ててRetryDelay後に張り直す。
type AMQPPublisher struct {
	cfg    AMQPConfig
	events chan Event
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	now    func() time.Time

	// 以下は送信goroutineだけが触る
	conn     *amqp.Connection
	ch       *amqp.Channel
	nextDial time.Time
}

// NewPublisher はurlが空ならNopを、そうでなければ既定値のAMQPPublisherを返す。
func NewPublisher(url, queue string) Publisher {
	if url == "" {
		return Nop{}
	}
	return NewAMQPPublisher(AMQPConfig{URL: url, Queue: queue})
}

// NewAMQPPublisher は送信goroutineを起動したAMQPPublisherを返す。Closeで止める。
func NewAMQPPublisher(cfg AMQPConfig) *AMQPPublisher {
	p := newAMQPPublisher(cfg)
	go p.loop()
	return p
}

func newAMQPPublisher(cfg AMQPConfig) *AMQPPublisher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	return &AMQPPublisher{
		cfg:    cfg,
		events: make(chan Event, cfg.Buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Publish はイベントを送信キューに積む。ブローカーの応答は待たない。
// キューが満杯ならイベントを捨ててErrQueueFullを返す。
func (p *AMQPPublisher) Publish(_ context.Context, e Event) error {
	select {
	case <-p.quit:
		return ErrClosed
	default:
	}
	select {
	case p.events <- e:
		return nil
	default:
		slog.Warn("イベントキューが満杯のため破棄しました", slog.String("type", e.Type))
		return ErrQueueFull
	}
}

// Close は送信goroutineを止めて接続を閉じる。未送信のイベントは捨てる。
func (p *AMQPPublisher) Close() error {
	p.once.Do(func() { close(p.quit) })
	<-p.done
	return p.reset()
}

func (p *AMQPPublisher) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.quit:
			if n := len(p.events); n > 0 {
				slog.Warn("未送信のイベントを破棄しました", slog.Int("count", n))
			}
			return
		case e := <-p.events:
			if err := p.send(e); err != nil {
				slog.Warn("イベントの送信に失敗しました",
					slog.String("type", e.Type),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (p *AMQPPublisher) send(e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ch, err := p.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
	defer cancel()
	err = ch.PublishWithContext(ctx, "", p.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         e.Type,
		Timestamp:    e.OccurredAt,
		Body:         body,
	})
	if err != nil {
		_ = p.reset()
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// channel は使えるチャネルを返す。接続失敗後RetryDelayの間は接続を試みない。
func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	_ = p.reset()

	if now := p.now(); now.Before(p.nextDial) {
		return nil, fmt.Errorf("broker unavailable until %s", p.nextDial.Format(time.RFC3339))
	}

	conn, err := amqp.DialConfig(p.cfg.URL, amqp.Config{
		Dial: amqp.DefaultDial(p.cfg.DialTimeout),
	})
	if err != nil {
		p.nextDial = p.now().Add(p.cfg.RetryDelay)
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		p.nextDial = p.now().Add(p.cfg.RetryDelay)
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.cfg.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		p.nextDial = p.now().Add(p.cfg.RetryDelay)
		return nil, fmt.Errorf("declare queue %s: %w", p.cfg.Queue, err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) reset() error {
	var errs []error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		p.ch = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		p.conn = nil
	}
	return errors.Join(errs...)
}
