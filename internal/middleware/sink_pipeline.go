package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/logger"
)

var (
	// ErrSinkFull is returned when the queue stayed full for the whole enqueue timeout.
	ErrSinkFull = errors.New("sink: queue full")
	// ErrSinkClosed is returned by Enqueue after Stop.
	ErrSinkClosed = errors.New("sink: closed")
)

// SinkPipeline sits between the aggregator and the signal store.
// A single writer drains a bounded queue and retries failed writes with capped backoff,
// so storage latency never blocks signal emission.
type SinkPipeline struct {
	store   domrepo.SignalStore
	metrics domrepo.Metrics
	logger  *logger.Logger

	queueSize      int
	enqueueTimeout time.Duration
	writeTimeout   time.Duration
	retryMax       int
	baseBackoff    time.Duration
	maxBackoff     time.Duration

	queue   chan *models.Signal
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.RWMutex
	started bool
	closed  bool
	once    sync.Once
}

type SinkOption func(*SinkPipeline)

// WithQueueSize bounds the number of signals waiting for storage.
func WithQueueSize(n int) SinkOption {
	return func(p *SinkPipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithEnqueueTimeout sets how long Enqueue waits on a full queue.
func WithEnqueueTimeout(d time.Duration) SinkOption {
	return func(p *SinkPipeline) {
		if d >= 0 {
			p.enqueueTimeout = d
		}
	}
}

// WithWriteTimeout bounds a single store write.
func WithWriteTimeout(d time.Duration) SinkOption {
	return func(p *SinkPipeline) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

// WithRetry sets the retry count and the backoff window for failed writes.
func WithRetry(maxRetries int, base, max time.Duration) SinkOption {
	return func(p *SinkPipeline) {
		if maxRetries >= 0 {
			p.retryMax = maxRetries
		}
		if base > 0 {
			p.baseBackoff = base
		}
		if max >= base && max > 0 {
			p.maxBackoff = max
		}
	}
}

func WithSinkLogger(l *logger.Logger) SinkOption {
	return func(p *SinkPipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewSinkPipeline creates a pipeline writing to store.
func NewSinkPipeline(store domrepo.SignalStore, metrics domrepo.Metrics, opts ...SinkOption) *SinkPipeline {
	if metrics == nil {
		metrics = domrepo.NoopMetrics{}
	}
	p := &SinkPipeline{
		store:          store,
		metrics:        metrics,
		logger:         logger.NewNop(),
		queueSize:      1000,
		enqueueTimeout: 2 * time.Second,
		writeTimeout:   5 * time.Second,
		retryMax:       5,
		baseBackoff:    50 * time.Millisecond,
		maxBackoff:     2 * time.Second,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan *models.Signal, p.queueSize)
	return p
}

// Start launches the writer. ctx bounds store writes, including the final drain.
func (p *SinkPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.doneCh)
		for {
			select {
			case <-p.stopCh:
				p.drain(ctx)
				return
			case sig := <-p.queue:
				p.metrics.RecordSinkDepth(len(p.queue))
				p.write(ctx, sig)
			}
		}
	}()
}

// Enqueue queues sig for storage, waiting up to the enqueue timeout when the queue is full.
func (p *SinkPipeline) Enqueue(ctx context.Context, sig *models.Signal) error {
	if err := validateSignal(sig); err != nil {
		p.metrics.RecordError("sink_validate")
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrSinkClosed
	}

	select {
	case p.queue <- sig:
		p.metrics.RecordSinkDepth(len(p.queue))
		return nil
	default:
	}

	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()
	select {
	case p.queue <- sig:
		p.metrics.RecordSinkDepth(len(p.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		p.metrics.RecordError("sink_queue_full")
		return fmt.Errorf("%w: signal %s for %s dropped", ErrSinkFull, sig.ID, sig.Symbol)
	}
}

// Pending returns the number of queued signals.
func (p *SinkPipeline) Pending() int { return len(p.queue) }

// Stop rejects new signals, flushes the queue and waits for the writer.
func (p *SinkPipeline) Stop(ctx context.Context) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		started := p.started
		p.mu.Unlock()
		close(p.stopCh)
		if !started {
			close(p.doneCh)
		}
	})
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sink stop: %d signals not flushed: %w", len(p.queue), ctx.Err())
	}
}

func (p *SinkPipeline) drain(ctx context.Context) {
	for {
		select {
		case sig := <-p.queue:
			p.metrics.RecordSinkDepth(len(p.queue))
			p.write(ctx, sig)
		default:
			return
		}
	}
}

func (p *SinkPipeline) write(ctx context.Context, sig *models.Signal) {
	backoff := p.baseBackoff
	for attempt := 0; ; attempt++ {
		start := time.Now()
		wctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
		err := p.store.Store(wctx, sig)
		cancel()
		if err == nil {
			p.metrics.RecordLatency("sink_write", time.Since(start).Seconds())
			return
		}

		p.metrics.RecordError("sink_write")
		if attempt >= p.retryMax || ctx.Err() != nil {
			p.logger.Error("dropping signal after failed writes",
				logger.String("symbol", sig.Symbol),
				logger.String("signal_id", sig.ID),
				logger.Int("attempts", attempt+1),
				logger.Error(err),
			)
			return
		}
		p.logger.Warn("signal write failed, retrying",
			logger.String("symbol", sig.Symbol),
			logger.Duration("backoff", backoff),
			logger.Error(err),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		if backoff *= 2; backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
}

func validateSignal(s *models.Signal) error {
	if s == nil {
		return fmt.Errorf("signal nil")
	}
	if s.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if !s.Type.Valid() {
		return fmt.Errorf("signal type %q invalid", s.Type)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("timestamp invalid")
	}
	return nil
}
