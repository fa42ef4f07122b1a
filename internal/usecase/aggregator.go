package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/bus"
	"MarketPulse/pkg/logger"

	"github.com/google/uuid"
)

// Cycle results reported to metrics.
const (
	CycleEmitted    = "emitted"
	CycleIncomplete = "incomplete"
	CyclePrice      = "price"
	CycleFailed     = "failed"
)

// AggregatorOption configures Aggregator.
type AggregatorOption func(*Aggregator)

func WithCache(c domrepo.SignalCache) AggregatorOption {
	return func(a *Aggregator) { a.cache = c }
}

func WithSink(s domrepo.SignalSink) AggregatorOption {
	return func(a *Aggregator) { a.sink = s }
}

func WithMetrics(m domrepo.Metrics) AggregatorOption {
	return func(a *Aggregator) {
		if m != nil {
			a.metrics = m
		}
	}
}

func WithLogger(l *logger.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithDefaultSymbol sets the symbol used for payloads that carry none.
func WithDefaultSymbol(symbol string) AggregatorOption {
	return func(a *Aggregator) {
		if s := models.NormalizeSymbol(symbol, ""); s != "" {
			a.defaultSymbol = s
		}
	}
}

func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

func WithIDFunc(f func() string) AggregatorOption {
	return func(a *Aggregator) { a.newID = f }
}

// Aggregator fuses inbound channel payloads into per-symbol state and emits a
// signal on the signals channel after every update that leaves the symbol Ready.
type Aggregator struct {
	store     *StateStore
	engine    *CMSEngine
	generator *SignalGenerator
	explainer *ExplanationBuilder
	detector  *TransitionDetector
	stats     *StatsTracker
	publisher domrepo.Publisher

	cache   domrepo.SignalCache
	sink    domrepo.SignalSink
	metrics domrepo.Metrics
	logger  *logger.Logger

	defaultSymbol string
	now           func() time.Time
	newID         func() string
}

func NewAggregator(
	store *StateStore,
	engine *CMSEngine,
	generator *SignalGenerator,
	explainer *ExplanationBuilder,
	detector *TransitionDetector,
	stats *StatsTracker,
	publisher domrepo.Publisher,
	opts ...AggregatorOption,
) *Aggregator {
	a := &Aggregator{
		store:         store,
		engine:        engine,
		generator:     generator,
		explainer:     explainer,
		detector:      detector,
		stats:         stats,
		publisher:     publisher,
		metrics:       domrepo.NoopMetrics{},
		logger:        logger.NewNop(),
		defaultSymbol: "MARKET",
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// InputChannels are the channels the aggregator consumes.
func InputChannels() []bus.Channel {
	return []bus.Channel{
		bus.ChannelSentiment,
		bus.ChannelIndicators,
		bus.ChannelRegime,
		bus.ChannelEvents,
		bus.ChannelPrices,
	}
}

// Register subscribes the aggregator on its input channels.
func (a *Aggregator) Register(sub *bus.Subscriber) error {
	return sub.Subscribe("aggregator", a, InputChannels()...)
}

// Decode is the bus.Decoder for the input channels.
func (a *Aggregator) Decode(msg *bus.Message) (any, error) {
	return models.DecodePayload(msg.Channel, msg.Payload, a.defaultSymbol, msg.PublishedAt)
}

// Handle implements bus.Handler.
func (a *Aggregator) Handle(ctx context.Context, msg *bus.Message) error {
	p, ok := msg.Value.(models.Payload)
	if !ok {
		decoded, err := a.Decode(msg)
		if err != nil {
			return err
		}
		p = decoded.(models.Payload)
	}
	_, err := a.Process(ctx, p)
	return err
}

// Process applies p and, when the symbol is Ready, runs one CMS cycle.
// It returns the emitted signal, or nil when nothing was emitted.
func (a *Aggregator) Process(ctx context.Context, p models.Payload) (*models.Signal, error) {
	start := a.now()
	defer func() { a.metrics.RecordLatency("process", a.now().Sub(start).Seconds()) }()

	state, err := a.store.Apply(p)
	if err != nil {
		a.metrics.RecordError("apply")
		return nil, err
	}

	if tick, ok := p.(models.PriceTick); ok {
		a.metrics.RecordLastPrice(tick.Symbol, tick.Price)
		a.metrics.RecordCycle(CyclePrice)
		return nil, nil
	}

	if !state.Ready() {
		a.metrics.RecordCycle(CycleIncomplete)
		a.logger.Debug("aggregation incomplete",
			logger.String("symbol", state.Symbol),
			logger.Strings("missing", state.Missing),
		)
		return nil, nil
	}

	sig, err := a.evaluate(state)
	if err != nil {
		a.metrics.RecordCycle(CycleFailed)
		a.metrics.RecordError("compute")
		return nil, err
	}
	a.emit(ctx, sig)
	return sig, nil
}

func (a *Aggregator) evaluate(state models.AggregatedState) (*models.Signal, error) {
	score, err := a.engine.Compute(state)
	if err != nil {
		return nil, fmt.Errorf("compute cms for %s: %w", state.Symbol, err)
	}
	typ, score := a.generator.Generate(score, *state.Regime)

	return &models.Signal{
		ID:             a.newID(),
		Symbol:         state.Symbol,
		Type:           typ,
		CompositeScore: score,
		Explanation:    a.explainer.Build(state, score, typ),
		Timestamp:      a.now().UTC(),
	}, nil
}

// emit fans the signal out. Only a hard publish failure is logged as an error;
// the signal is still recorded locally so the HTTP surface reflects it.
func (a *Aggregator) emit(ctx context.Context, sig *models.Signal) {
	if tr, changed := a.detector.Observe(sig); changed {
		a.stats.RecordTransition(tr)
		a.metrics.RecordTransition(tr.Symbol, tr.From, tr.To)
		a.logger.Info("signal transition",
			logger.String("symbol", tr.Symbol),
			logger.String("from", string(tr.From)),
			logger.String("to", string(tr.To)),
			logger.Float64("score_delta", tr.ScoreDelta),
			logger.Int64("held_ms", tr.DurationMs),
		)
	}
	a.stats.RecordSignal(sig)
	a.metrics.RecordSignal(sig.Symbol, sig.Type, sig.Score, sig.Confidence)
	a.metrics.RecordCycle(CycleEmitted)

	if err := a.publisher.Publish(ctx, bus.ChannelSignals, sig); err != nil {
		if errors.Is(err, bus.ErrBuffered) {
			a.logger.Warn("signal buffered for replay",
				logger.String("symbol", sig.Symbol),
				logger.String("signal_id", sig.ID),
				logger.Error(err),
			)
		} else {
			a.metrics.RecordError("publish")
			a.logger.Error("failed to publish signal",
				logger.String("symbol", sig.Symbol),
				logger.String("signal_id", sig.ID),
				logger.Error(err),
			)
		}
	}

	if a.cache != nil {
		if err := a.cache.SetLatest(ctx, sig); err != nil {
			a.metrics.RecordError("cache")
			a.logger.Warn("failed to cache latest signal", logger.String("symbol", sig.Symbol), logger.Error(err))
		}
	}
	if a.sink != nil {
		if err := a.sink.Enqueue(ctx, sig); err != nil {
			a.metrics.RecordError("sink")
			a.logger.Warn("failed to enqueue signal for storage", logger.String("symbol", sig.Symbol), logger.Error(err))
		}
	}

	a.logger.Debug("signal emitted",
		logger.String("symbol", sig.Symbol),
		logger.String("type", string(sig.Type)),
		logger.Float64("cms", sig.Score),
		logger.Float64("confidence", sig.Confidence),
	)
}

// State returns the current aggregated state for symbol.
func (a *Aggregator) State(symbol string) (models.AggregatedState, bool) {
	return a.store.Snapshot(models.NormalizeSymbol(symbol, a.defaultSymbol))
}

// Symbols lists the symbols seen so far.
func (a *Aggregator) Symbols() []string { return a.store.Symbols() }

// Latest returns the last signal for symbol, from the cache when configured.
func (a *Aggregator) Latest(ctx context.Context, symbol string) (*models.Signal, error) {
	if a.cache == nil {
		return nil, domrepo.ErrNotFound
	}
	return a.cache.Latest(ctx, models.NormalizeSymbol(symbol, a.defaultSymbol))
}

// Transitions returns recent transitions for symbol, newest first.
func (a *Aggregator) Transitions(symbol string, limit int) []models.SignalTransition {
	return a.stats.Transitions(models.NormalizeSymbol(symbol, a.defaultSymbol), limit)
}

// Stats returns the per-symbol counters.
func (a *Aggregator) Stats() []models.SymbolStats { return a.stats.All() }
