package repository

import (
	"context"
	"errors"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/bus"
)

// ErrNotFound is returned when no signal exists for a symbol.
var ErrNotFound = errors.New("signal not found")

// SignalStore is the durable audit sink for emitted signals.
type SignalStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	Store(ctx context.Context, s *models.Signal) error
	Recent(ctx context.Context, symbol string, since time.Time, limit int) ([]*models.Signal, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// SignalCache keeps the latest signal per symbol.
type SignalCache interface {
	SetLatest(ctx context.Context, s *models.Signal) error
	Latest(ctx context.Context, symbol string) (*models.Signal, error)
}

// SignalSink accepts signals for asynchronous persistence.
type SignalSink interface {
	Enqueue(ctx context.Context, s *models.Signal) error
}

// Publisher sends a payload on a bus channel.
type Publisher interface {
	Publish(ctx context.Context, ch bus.Channel, payload any) error
}

type Metrics interface {
	RecordCycle(result string)
	RecordSignal(symbol string, t models.SignalType, cms, confidence float64)
	RecordTransition(symbol string, from, to models.SignalType)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordSinkDepth(depth int)
	RecordError(kind string)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordCycle(string)                                            {}
func (NoopMetrics) RecordSignal(string, models.SignalType, float64, float64)      {}
func (NoopMetrics) RecordTransition(string, models.SignalType, models.SignalType) {}
func (NoopMetrics) RecordLastPrice(string, float64)                               {}
func (NoopMetrics) RecordLatency(string, float64)                                 {}
func (NoopMetrics) RecordSinkDepth(int)                                            {}
func (NoopMetrics) RecordError(string)                                            {}
