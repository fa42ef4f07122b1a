package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"MarketPulse/pkg/logger"

	"github.com/sony/gobreaker"
)

// Client owns exactly one Transport and is shared by Publisher, Subscriber and the aggregator.
type Client struct {
	transport      Transport
	logger         *logger.Logger
	publishTimeout time.Duration
	healthTimeout  time.Duration
	breakerCfg     BreakerConfig
	now            func() time.Time

	mu        sync.RWMutex
	breaker   *gobreaker.CircuitBreaker
	connected atomic.Bool
	closed    atomic.Bool
}

// BreakerConfig tunes the circuit breaker around the health probe.
type BreakerConfig struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(l *logger.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPublishTimeout bounds every transport publish.
func WithPublishTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.publishTimeout = d
		}
	}
}

// WithHealthTimeout bounds the health probe.
func WithHealthTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.healthTimeout = d
		}
	}
}

// WithBreaker configures the health-probe circuit breaker.
func WithBreaker(maxFailures int, openTimeout time.Duration) ClientOption {
	return func(c *Client) {
		if maxFailures > 0 {
			c.breakerCfg.MaxFailures = uint32(maxFailures)
		}
		if openTimeout > 0 {
			c.breakerCfg.OpenTimeout = openTimeout
		}
	}
}

// WithClock overrides the time source used to stamp messages.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient wraps transport. The client starts optimistic (connected) until an operation fails.
func NewClient(transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport:      transport,
		logger:         logger.NewNop(),
		publishTimeout: 2 * time.Second,
		healthTimeout:  time.Second,
		breakerCfg:     BreakerConfig{MaxFailures: 5, OpenTimeout: 30 * time.Second},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = c.newBreaker()
	c.connected.Store(true)
	return c
}

func (c *Client) newBreaker() *gobreaker.CircuitBreaker {
	maxFailures := c.breakerCfg.MaxFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bus-" + c.transport.Name(),
		MaxRequests: 1,
		Timeout:     c.breakerCfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("bus circuit breaker state change",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
}

// TransportName returns the underlying transport name.
func (c *Client) TransportName() string { return c.transport.Name() }

// Now returns the client's clock reading.
func (c *Client) Now() time.Time { return c.now() }

// Publish stamps payload with the current time and sends it on ch.
func (c *Client) Publish(ctx context.Context, ch Channel, payload any) error {
	msg, err := NewMessage(ch, payload, c.now())
	if err != nil {
		return err
	}
	return c.PublishMessage(ctx, msg)
}

// PublishMessage sends an already built envelope, keeping its original timestamp.
func (c *Client) PublishMessage(ctx context.Context, msg *Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !msg.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, msg.Channel)
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	// A caller that gave up says nothing about the transport.
	if err := ctx.Err(); err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, c.publishTimeout)
	defer cancel()
	if err := c.transport.Publish(pctx, msg.Channel, data); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		c.markDisconnected(err)
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return err
	}
	c.connected.Store(true)
	return nil
}

// Subscribe opens a subscription on the given channels.
func (c *Client) Subscribe(ctx context.Context, channels ...Channel) (Subscription, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("bus: subscribe needs at least one channel")
	}
	for _, ch := range channels {
		if !ch.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
		}
	}
	sub, err := c.transport.Subscribe(ctx, channels...)
	if err != nil {
		c.markDisconnected(err)
		if !errors.Is(err, ErrTransport) && !errors.Is(err, ErrClosed) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return nil, err
	}
	c.connected.Store(true)
	return sub, nil
}

// Health runs a bounded round-trip probe through the circuit breaker.
func (c *Client) Health(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.RLock()
	cb := c.breaker
	c.mu.RUnlock()

	_, err := cb.Execute(func() (interface{}, error) {
		hctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
		defer cancel()
		return nil, c.transport.Ping(hctx)
	})
	if err != nil {
		c.markDisconnected(err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: circuit %s: %w", ErrTransport, cb.State(), err)
		}
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return err
	}
	c.connected.Store(true)
	return nil
}

// Ping probes the transport without going through the breaker or touching
// the connection state.
func (c *Client) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	hctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()
	if err := c.transport.Ping(hctx); err != nil {
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return err
	}
	return nil
}

// Connected reports the last observed connection state.
func (c *Client) Connected() bool {
	return c.connected.Load() && !c.closed.Load()
}

// BreakerState returns the health breaker state (closed, half-open, open).
func (c *Client) BreakerState() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.breaker.State().String()
}

// ResetBreaker discards the breaker history after a confirmed reconnect.
func (c *Client) ResetBreaker() {
	c.mu.Lock()
	c.breaker = c.newBreaker()
	c.mu.Unlock()
}

// Close releases the transport connection.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.connected.Store(false)
	return c.transport.Close()
}

func (c *Client) markDisconnected(err error) {
	if c.connected.Swap(false) {
		c.logger.Warn("bus transport unreachable",
			logger.String("transport", c.transport.Name()),
			logger.Error(err),
		)
	}
}
