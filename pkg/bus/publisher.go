package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/util"
)

// PublisherState is the connection state seen by the publish path.
type PublisherState int32

const (
	StateConnected PublisherState = iota
	StateReconnecting
	StateDegraded
)

func (s PublisherState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// PublisherStatus is a point-in-time view of the publisher.
type PublisherStatus struct {
	State       string `json:"state"`
	Buffered    int    `json:"buffered"`
	Capacity    int    `json:"capacity"`
	Attempt     int    `json:"reconnect_attempt"`
	MaxAttempts int    `json:"reconnect_max_attempts"`
	Dropped     uint64 `json:"dropped"`
	Replayed    uint64 `json:"replayed"`
	Stale       uint64 `json:"stale_discarded"`
	LastError   string `json:"last_error,omitempty"`
}

// PublisherOption configures Publisher.
type PublisherOption func(*publisherConfig)

type publisherConfig struct {
	capacity    int
	baseDelay   time.Duration
	maxAttempts int
	horizon     time.Duration
	logger      *logger.Logger
	drops       Warner
	metrics     Metrics
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

// WithBufferCapacity sets how many undelivered messages are kept (default 1000).
func WithBufferCapacity(n int) PublisherOption {
	return func(c *publisherConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithReconnectPolicy sets the backoff base delay and attempt cap (default 1s, 5).
func WithReconnectPolicy(base time.Duration, maxAttempts int) PublisherOption {
	return func(c *publisherConfig) {
		c.baseDelay = base
		c.maxAttempts = maxAttempts
	}
}

// WithStaleHorizon sets the age beyond which buffered messages are not replayed (default 5m).
func WithStaleHorizon(d time.Duration) PublisherOption {
	return func(c *publisherConfig) {
		if d > 0 {
			c.horizon = d
		}
	}
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(l *logger.Logger) PublisherOption {
	return func(c *publisherConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDropWarner routes buffer eviction warnings to w instead of the logger.
func WithDropWarner(w Warner) PublisherOption {
	return func(c *publisherConfig) {
		c.drops = w
	}
}

// WithPublisherMetrics sets the metrics sink.
func WithPublisherMetrics(m Metrics) PublisherOption {
	return func(c *publisherConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithPublisherClock overrides the time source used for timestamps and staleness.
func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(c *publisherConfig) {
		if now != nil {
			c.now = now
		}
	}
}

func withSleeper(sleep func(context.Context, time.Duration) error) PublisherOption {
	return func(c *publisherConfig) {
		c.sleep = sleep
	}
}

// Publisher is the reliable send path. Undeliverable messages go to a bounded FIFO buffer
// (oldest dropped on overflow) and are replayed in order once a background reconnect succeeds.
// After the last reconnect attempt fails the publisher stays degraded until Reconnect is called.
type Publisher struct {
	client  *Client
	logger  *logger.Logger
	drops   Warner
	metrics Metrics
	horizon time.Duration
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error

	mu           sync.Mutex
	buf          *util.Ring[*Message]
	backoff      *Backoff
	state        PublisherState
	reconnecting bool
	closed       bool
	lastErr      error
	dropped      uint64
	replayed     uint64
	stale        uint64

	// single reader of the buffer during replay
	replayMu sync.Mutex

	errs   chan error
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPublisher creates a publisher on top of client.
func NewPublisher(client *Client, opts ...PublisherOption) *Publisher {
	cfg := &publisherConfig{
		capacity:    1000,
		baseDelay:   time.Second,
		maxAttempts: 5,
		horizon:     5 * time.Minute,
		logger:      logger.NewNop(),
		metrics:     NoopMetrics{},
		now:         time.Now,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.drops == nil {
		cfg.drops = cfg.logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		client:  client,
		logger:  cfg.logger,
		drops:   cfg.drops,
		metrics: cfg.metrics,
		horizon: cfg.horizon,
		now:     cfg.now,
		sleep:   cfg.sleep,
		buf:     util.NewRing[*Message](cfg.capacity),
		backoff: NewBackoff(cfg.baseDelay, cfg.maxAttempts),
		state:   StateConnected,
		errs:    make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Publish sends payload on ch. It returns nil when the transport accepted the message.
// A transport failure is absorbed: the message is buffered and an error wrapping ErrBuffered is returned.
// Serialization and channel errors are returned as-is and nothing is buffered.
func (p *Publisher) Publish(ctx context.Context, ch Channel, payload any) error {
	msg, err := NewMessage(ch, payload, p.now())
	if err != nil {
		p.metrics.RecordPublish(string(ch), "invalid")
		return err
	}
	return p.PublishMessage(ctx, msg)
}

// PublishMessage is Publish for a prebuilt envelope; the envelope timestamp is preserved.
func (p *Publisher) PublishMessage(ctx context.Context, msg *Message) error {
	ch := string(msg.Channel)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.state != StateConnected {
		p.bufferLocked(msg)
		degraded := p.state == StateDegraded
		p.mu.Unlock()
		p.metrics.RecordPublish(ch, "buffered")
		if degraded {
			return fmt.Errorf("%w: %w", ErrBuffered, ErrDegraded)
		}
		return ErrBuffered
	}
	p.mu.Unlock()

	err := p.client.PublishMessage(ctx, msg)
	if err == nil {
		p.metrics.RecordPublish(ch, "ok")
		return nil
	}
	if !errors.Is(err, ErrTransport) {
		p.metrics.RecordPublish(ch, "error")
		return err
	}

	p.mu.Lock()
	p.bufferLocked(msg)
	p.lastErr = err
	p.startReconnectLocked()
	p.mu.Unlock()

	p.metrics.RecordPublish(ch, "buffered")
	return fmt.Errorf("%w: %w", ErrBuffered, err)
}

// Reconnect re-arms a degraded publisher with a fresh attempt budget.
func (p *Publisher) Reconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.reconnecting || (p.state == StateConnected && p.buf.Len() == 0) {
		return nil
	}
	p.backoff.Reset()
	p.setStateLocked(StateReconnecting)
	p.startReconnectLocked()
	p.logger.Info("bus publisher reconnect requested", logger.Int("buffered", p.buf.Len()))
	return nil
}

// Errors delivers ErrReconnectExhausted to the owner when the publisher degrades.
func (p *Publisher) Errors() <-chan error {
	return p.errs
}

// State returns the current state.
func (p *Publisher) State() PublisherState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Status returns a snapshot for health reporting.
func (p *Publisher) Status() PublisherStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := PublisherStatus{
		State:       p.state.String(),
		Buffered:    p.buf.Len(),
		Capacity:    p.buf.Cap(),
		Attempt:     p.backoff.Attempt(),
		MaxAttempts: p.backoff.MaxAttempts(),
		Dropped:     p.dropped,
		Replayed:    p.replayed,
		Stale:       p.stale,
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

// Close stops the reconnect routine. Buffered messages that were never delivered are reported and dropped.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pending := p.buf.Len()
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	if pending > 0 {
		p.logger.Warn("bus publisher closed with undelivered messages", logger.Int("buffered", pending))
	}
	return nil
}

func (p *Publisher) bufferLocked(msg *Message) {
	if old, evicted := p.buf.Push(msg); evicted {
		p.dropped++
		p.drops.Warn("publish buffer full, dropping oldest entry",
			logger.String("channel", string(old.Channel)),
			logger.Duration("age_ms", p.now().Sub(old.PublishedAt)),
			logger.Int("capacity", p.buf.Cap()),
			logger.Error(ErrBufferOverflow),
		)
		p.metrics.RecordBufferDrop(string(old.Channel))
	}
	p.metrics.RecordBufferDepth(p.buf.Len())
}

func (p *Publisher) setStateLocked(s PublisherState) {
	if p.state == s {
		return
	}
	p.state = s
	p.metrics.RecordPublisherState(s.String())
}

func (p *Publisher) startReconnectLocked() {
	if p.reconnecting || p.closed || p.state == StateDegraded {
		return
	}
	p.setStateLocked(StateReconnecting)
	p.reconnecting = true
	p.wg.Add(1)
	go p.reconnectLoop()
}

func (p *Publisher) reconnectLoop() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		delay, ok := p.backoff.Next()
		attempt := p.backoff.Attempt()
		if !ok {
			p.reconnecting = false
			p.setStateLocked(StateDegraded)
			err := fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, p.backoff.MaxAttempts(), p.lastErr)
			p.lastErr = err
			buffered := p.buf.Len()
			p.mu.Unlock()

			p.logger.Error("bus publisher degraded",
				logger.Int("buffered", buffered),
				logger.Error(err),
			)
			select {
			case p.errs <- err:
			default:
			}
			return
		}
		p.mu.Unlock()

		p.logger.Info("bus reconnect scheduled",
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", p.backoff.MaxAttempts()),
			logger.Duration("delay_ms", delay),
		)
		if err := p.sleep(p.ctx, delay); err != nil {
			p.mu.Lock()
			p.reconnecting = false
			p.mu.Unlock()
			return
		}

		if err := p.client.Health(p.ctx); err != nil {
			p.metrics.RecordReconnectAttempt(false)
			p.mu.Lock()
			p.lastErr = err
			p.mu.Unlock()
			p.logger.Warn("bus reconnect attempt failed", logger.Int("attempt", attempt), logger.Error(err))
			continue
		}
		p.metrics.RecordReconnectAttempt(true)
		p.client.ResetBreaker()

		if _, _, err := p.replay(p.ctx); err != nil {
			p.mu.Lock()
			p.lastErr = err
			p.mu.Unlock()
			p.logger.Warn("bus replay interrupted", logger.Int("attempt", attempt), logger.Error(err))
			continue
		}
		return
	}
}

// replay sends buffered messages oldest first, discarding those older than the horizon.
// When the buffer is observed empty the publisher returns to connected and the attempt counter resets.
func (p *Publisher) replay(ctx context.Context) (replayed, stale int, err error) {
	p.replayMu.Lock()
	defer p.replayMu.Unlock()

	defer func() {
		if replayed > 0 || stale > 0 {
			p.metrics.RecordReplay(replayed, stale)
			p.logger.Info("bus buffer replayed",
				logger.Int("replayed", replayed),
				logger.Int("stale_discarded", stale),
			)
		}
	}()

	for {
		p.mu.Lock()
		msg, ok := p.buf.Peek()
		if !ok {
			p.setStateLocked(StateConnected)
			p.backoff.Reset()
			p.reconnecting = false
			p.lastErr = nil
			p.metrics.RecordBufferDepth(0)
			p.mu.Unlock()
			return replayed, stale, nil
		}
		if msg.Age(p.now()) > p.horizon {
			p.buf.Pop()
			p.stale++
			p.mu.Unlock()
			stale++
			p.logger.Debug("discarding stale buffered message",
				logger.String("channel", string(msg.Channel)),
				logger.Time("published_at", msg.PublishedAt),
			)
			continue
		}
		p.mu.Unlock()

		if err := p.client.PublishMessage(ctx, msg); err != nil {
			if errors.Is(err, ErrTransport) {
				return replayed, stale, fmt.Errorf("replay: %w", err)
			}
			// not retryable
			p.logger.Error("dropping unreplayable message",
				logger.String("channel", string(msg.Channel)),
				logger.Error(err),
			)
			p.mu.Lock()
			p.removeHeadLocked(msg)
			p.mu.Unlock()
			continue
		}

		p.mu.Lock()
		p.removeHeadLocked(msg)
		p.replayed++
		p.metrics.RecordBufferDepth(p.buf.Len())
		p.mu.Unlock()
		p.metrics.RecordPublish(string(msg.Channel), "replayed")
		replayed++
	}
}

// removeHeadLocked pops msg unless overflow already evicted it.
func (p *Publisher) removeHeadLocked(msg *Message) {
	if head, ok := p.buf.Peek(); ok && head == msg {
		p.buf.Pop()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
