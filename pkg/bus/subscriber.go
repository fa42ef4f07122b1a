package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"MarketPulse/pkg/logger"
)

// Handler processes one message. Errors are logged and never stop the listen loop.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Decoder turns the envelope payload into a typed value stored in Message.Value.
type Decoder func(msg *Message) (any, error)

// SubscriberOption configures Subscriber.
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger sets the logger.
func WithSubscriberLogger(l *logger.Logger) SubscriberOption {
	return func(s *Subscriber) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDecodeWarner routes undecodable-message warnings to w instead of the logger.
func WithDecodeWarner(w Warner) SubscriberOption {
	return func(s *Subscriber) {
		s.decodeWarn = w
	}
}

// WithDecoder installs a payload decoder; messages it rejects are dropped before any handler runs.
func WithDecoder(d Decoder) SubscriberOption {
	return func(s *Subscriber) {
		s.decoder = d
	}
}

// WithHook installs dispatch hooks, composed in order.
func WithHook(hooks ...DispatchHook) SubscriberOption {
	return func(s *Subscriber) {
		s.hook = NewHookChain(hooks...)
	}
}

// WithReceiveTimeout bounds each receive so Stop is observed promptly (default 1s).
func WithReceiveTimeout(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.receiveTimeout = d
		}
	}
}

// WithRetryDelay sets the pause before re-subscribing after a transport failure (default 1s).
func WithRetryDelay(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithSubscriberMetrics sets the metrics sink.
func WithSubscriberMetrics(m Metrics) SubscriberOption {
	return func(s *Subscriber) {
		if m != nil {
			s.metrics = m
		}
	}
}

type registration struct {
	name    string
	handler Handler
}

// Subscriber routes received messages to the handlers registered for their channel.
// Handlers run sequentially in registration order on the listen goroutine.
type Subscriber struct {
	client         *Client
	logger         *logger.Logger
	decodeWarn     Warner
	metrics        Metrics
	hook           DispatchHook
	decoder        Decoder
	receiveTimeout time.Duration
	retryDelay     time.Duration

	mu       sync.RWMutex
	handlers map[Channel][]registration
	changed  chan struct{}

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSubscriber creates a subscriber on top of client.
func NewSubscriber(client *Client, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		client:         client,
		logger:         logger.NewNop(),
		metrics:        NoopMetrics{},
		hook:           NoopHook{},
		receiveTimeout: time.Second,
		retryDelay:     time.Second,
		handlers:       make(map[Channel][]registration),
		changed:        make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.decodeWarn == nil {
		s.decodeWarn = s.logger
	}
	return s
}

// Subscribe registers h under name for every channel given.
// Registering while Listen runs takes effect on the next receive cycle.
func (s *Subscriber) Subscribe(name string, h Handler, channels ...Channel) error {
	if h == nil {
		return errors.New("bus: nil handler")
	}
	if len(channels) == 0 {
		return errors.New("bus: subscribe needs at least one channel")
	}
	for _, ch := range channels {
		if !ch.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
		}
	}

	s.mu.Lock()
	for _, ch := range channels {
		s.handlers[ch] = append(s.handlers[ch], registration{name: name, handler: h})
	}
	s.mu.Unlock()

	select {
	case s.changed <- struct{}{}:
	default:
	}
	return nil
}

// Channels returns the channels that have at least one handler, sorted.
func (s *Subscriber) Channels() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Channel, 0, len(s.handlers))
	for ch := range s.handlers {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Running reports whether Listen is active.
func (s *Subscriber) Running() bool {
	select {
	case <-s.done:
		return false
	default:
		return s.running.Load()
	}
}

// Listen receives and dispatches until Stop is called or ctx is cancelled.
// Transport failures are logged and the subscription is re-established after the retry delay.
// It returns nil on a cooperative stop and ErrClosed if the client was closed underneath it.
func (s *Subscriber) Listen(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("bus: subscriber already listening")
	}
	defer close(s.done)

	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-lctx.Done():
		}
	}()

	var sub Subscription
	defer func() {
		if sub != nil {
			_ = sub.Close()
		}
	}()

	s.logger.Info("bus subscriber started", logger.String("transport", s.client.TransportName()))
	for {
		if lctx.Err() != nil {
			s.logger.Info("bus subscriber stopped")
			return nil
		}

		changed := s.takeChanged()
		if sub == nil || changed {
			if sub != nil {
				_ = sub.Close()
				sub = nil
			}
			channels := s.Channels()
			if len(channels) == 0 {
				s.wait(lctx, s.retryDelay)
				continue
			}
			var err error
			sub, err = s.client.Subscribe(lctx, channels...)
			if err != nil {
				if errors.Is(err, ErrClosed) {
					return err
				}
				s.logger.Warn("bus subscribe failed, retrying",
					logger.Duration("retry_ms", s.retryDelay),
					logger.Error(err),
				)
				s.wait(lctx, s.retryDelay)
				continue
			}
			s.logger.Info("bus subscribed", logger.Strings("channels", channelNames(channels)))
		}

		rctx, rcancel := context.WithTimeout(lctx, s.receiveTimeout)
		ch, data, err := sub.Receive(rctx)
		rcancel()
		if err != nil {
			if errors.Is(err, ErrReceiveTimeout) {
				continue
			}
			if lctx.Err() != nil {
				continue
			}
			s.logger.Warn("bus receive failed, resubscribing", logger.Error(err))
			_ = sub.Close()
			sub = nil
			s.wait(lctx, s.retryDelay)
			continue
		}

		// in-flight dispatch completes even when Stop arrives mid-message
		s.dispatch(context.WithoutCancel(ctx), ch, data)
	}
}

// Stop asks Listen to exit and waits for the in-flight message to finish or ctx to end.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if !s.running.Load() {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("subscriber stop: %w", ctx.Err())
	}
}

func (s *Subscriber) dispatch(ctx context.Context, ch Channel, data []byte) {
	msg, err := DecodeMessage(ch, data)
	if err == nil && s.decoder != nil {
		msg.Value, err = s.decoder(msg)
	}
	if err != nil {
		s.metrics.RecordDecodeError(string(ch))
		s.decodeWarn.Warn("dropping undecodable message",
			logger.String("channel", string(ch)),
			logger.Error(err),
		)
		return
	}

	regs := s.handlersFor(ch)
	if len(regs) == 0 {
		return
	}

	ctx = WithDispatchStart(ctx, time.Now())
	ctx, err = s.hook.BeforeDispatch(ctx, msg)
	if err != nil {
		s.logger.Debug("dispatch skipped by hook", logger.String("channel", string(ch)), logger.Error(err))
		return
	}

	for _, r := range regs {
		herr := s.invoke(ctx, r, msg)
		s.hook.AfterHandle(ctx, msg, r.name, herr)
		if herr != nil {
			s.metrics.RecordHandlerError(string(ch), r.name)
			s.logger.Error("bus handler failed",
				logger.String("channel", string(ch)),
				logger.String("handler", r.name),
				logger.Error(herr),
			)
		}
	}
}

func (s *Subscriber) invoke(ctx context.Context, r registration, msg *Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrHandler, r.name, rec)
		}
	}()
	if herr := r.handler.Handle(ctx, msg); herr != nil {
		return fmt.Errorf("%w: %s: %w", ErrHandler, r.name, herr)
	}
	return nil
}

func (s *Subscriber) handlersFor(ch Channel) []registration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	regs := s.handlers[ch]
	out := make([]registration, len(regs))
	copy(out, regs)
	return out
}

func (s *Subscriber) takeChanged() bool {
	select {
	case <-s.changed:
		return true
	default:
		return false
	}
}

func (s *Subscriber) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func channelNames(chs []Channel) []string {
	out := make([]string, len(chs))
	for i, ch := range chs {
		out[i] = string(ch)
	}
	return out
}
