package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/bus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	ch      bus.Channel
	payload any
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, ch bus.Channel, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{ch: ch, payload: payload})
	return p.err
}

func (p *fakePublisher) Signals() []*models.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.Signal
	for _, s := range p.sent {
		if sig, ok := s.payload.(*models.Signal); ok && s.ch == bus.ChannelSignals {
			out = append(out, sig)
		}
	}
	return out
}

type memCache struct {
	mu     sync.Mutex
	latest map[string]*models.Signal
}

func (c *memCache) SetLatest(_ context.Context, s *models.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		c.latest = map[string]*models.Signal{}
	}
	c.latest[s.Symbol] = s
	return nil
}

func (c *memCache) Latest(_ context.Context, symbol string) (*models.Signal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.latest[symbol]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return s, nil
}

type sliceSink struct {
	mu      sync.Mutex
	signals []*models.Signal
}

func (s *sliceSink) Enqueue(_ context.Context, sig *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	return nil
}

type countingMetrics struct {
	domrepo.NoopMetrics
	mu     sync.Mutex
	cycles map[string]int
	trans  int
	errs   map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{cycles: map[string]int{}, errs: map[string]int{}}
}

func (m *countingMetrics) RecordCycle(result string) {
	m.mu.Lock()
	m.cycles[result]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordTransition(string, models.SignalType, models.SignalType) {
	m.mu.Lock()
	m.trans++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errs[kind]++
	m.mu.Unlock()
}

type aggregatorFixture struct {
	agg     *Aggregator
	pub     *fakePublisher
	cache   *memCache
	sink    *sliceSink
	metrics *countingMetrics
}

func newAggregatorFixture(t *testing.T) *aggregatorFixture {
	t.Helper()
	engine, err := NewCMSEngine(defaultWeights)
	require.NoError(t, err)
	gen, err := NewSignalGenerator(60, -60)
	require.NoError(t, err)

	f := &aggregatorFixture{
		pub:     &fakePublisher{},
		cache:   &memCache{},
		sink:    &sliceSink{},
		metrics: newCountingMetrics(),
	}
	ids := 0
	clock := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	f.agg = NewAggregator(
		NewStateStore(DefaultEventWindow),
		engine,
		gen,
		NewExplanationBuilder(),
		NewTransitionDetector(),
		NewStatsTracker(DefaultTransitionLog),
		f.pub,
		WithCache(f.cache),
		WithSink(f.sink),
		WithMetrics(f.metrics),
		WithDefaultSymbol("market"),
		WithAggregatorClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
		WithIDFunc(func() string {
			ids++
			return fmt.Sprintf("sig-%d", ids)
		}),
	)
	return f
}

func neutralTech(symbol string) models.TechnicalSignals {
	return models.TechnicalSignals{Symbol: symbol, RSI: models.ReadingOversold, MACD: models.ReadingNeutral, BB: models.ReadingNeutral}
}

func TestAggregator_EmitsOnlyWhenReady(t *testing.T) {
	f := newAggregatorFixture(t)
	ctx := context.Background()

	sig, err := f.agg.Process(ctx, models.SentimentScore{Symbol: "AAPL", Score: 0.6})
	require.NoError(t, err)
	assert.Nil(t, sig)

	sig, err = f.agg.Process(ctx, neutralTech("AAPL"))
	require.NoError(t, err)
	assert.Nil(t, sig)

	sig, err = f.agg.Process(ctx, models.PriceTick{Symbol: "AAPL", Price: 101})
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Empty(t, f.pub.Signals())

	sig, err = f.agg.Process(ctx, models.MarketRegime{Symbol: "AAPL", Type: models.RegimeTrendingUp, Confidence: 0.8})
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, "sig-1", sig.ID)
	assert.Equal(t, "AAPL", sig.Symbol)
	assert.Equal(t, models.SignalHold, sig.Type)
	assert.InDelta(t, 50.6667, sig.Score, 1e-3)
	assert.InDelta(t, 0.4053, sig.Confidence, 1e-3)
	assert.NotEmpty(t, sig.Explanation.Summary)

	require.Len(t, f.pub.Signals(), 1, "exactly one signal on the first ready cycle")
	assert.Len(t, f.sink.signals, 1)
	latest, err := f.agg.Latest(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, sig, latest)

	assert.Equal(t, 2, f.metrics.cycles[CycleIncomplete])
	assert.Equal(t, 1, f.metrics.cycles[CyclePrice])
	assert.Equal(t, 1, f.metrics.cycles[CycleEmitted])
}

func TestAggregator_TransitionOnlyOnTypeChange(t *testing.T) {
	f := newAggregatorFixture(t)
	ctx := context.Background()

	for _, p := range []models.Payload{
		models.SentimentScore{Symbol: "AAPL", Score: 0.6},
		neutralTech("AAPL"),
		models.MarketRegime{Symbol: "AAPL", Type: models.RegimeTrendingUp, Confidence: 0.8},
	} {
		_, err := f.agg.Process(ctx, p)
		require.NoError(t, err)
	}
	assert.Empty(t, f.agg.Transitions("AAPL", 10))

	// Same decision again: another signal but no transition.
	sig, err := f.agg.Process(ctx, models.SentimentScore{Symbol: "AAPL", Score: 0.5})
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, models.SignalHold, sig.Type)
	assert.Empty(t, f.agg.Transitions("AAPL", 10))

	sig, err = f.agg.Process(ctx, models.TechnicalSignals{Symbol: "AAPL", RSI: models.ReadingOversold, MACD: models.ReadingBullishCross, BB: models.ReadingLowerBreach})
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, models.SignalBuy, sig.Type)

	sig, err = f.agg.Process(ctx, models.MarketRegime{Symbol: "AAPL", Type: models.RegimeTrendingUp, Confidence: 1})
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, models.SignalBuy, sig.Type)

	trs := f.agg.Transitions("aapl", 10)
	require.Len(t, trs, 1)
	assert.Equal(t, models.SignalHold, trs[0].From)
	assert.Equal(t, models.SignalBuy, trs[0].To)
	assert.Equal(t, 1, f.metrics.trans)

	stats := f.agg.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(2), stats[0].Hold)
	assert.Equal(t, int64(2), stats[0].Buy)
	assert.Equal(t, int64(1), stats[0].Transitions)
}

func TestAggregator_DefaultSymbolAndEvents(t *testing.T) {
	f := newAggregatorFixture(t)
	ctx := context.Background()

	msg, err := bus.NewMessage(bus.ChannelEvents, map[string]any{
		"id": "evt-1", "event_type": "bankruptcy", "severity": 0.95, "keywords": []string{"chapter 11"},
	}, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.agg.Handle(ctx, msg))

	state, ok := f.agg.State("")
	require.True(t, ok)
	assert.Equal(t, "MARKET", state.Symbol)
	require.Len(t, state.Events, 1)
	assert.Equal(t, models.EventBankruptcy, state.Events[0].Type)
	assert.Equal(t, []string{"MARKET"}, f.agg.Symbols())
}

func TestAggregator_HandleRejectsMalformed(t *testing.T) {
	f := newAggregatorFixture(t)
	msg, err := bus.NewMessage(bus.ChannelSentiment, map[string]any{"score": 7}, time.Now())
	require.NoError(t, err)

	err = f.agg.Handle(context.Background(), msg)
	assert.True(t, errors.Is(err, bus.ErrSerialization))
	assert.Equal(t, 0, f.agg.store.Len())
}

func TestAggregator_PublishFailureStillRecords(t *testing.T) {
	f := newAggregatorFixture(t)
	f.pub.err = fmt.Errorf("%w: redis down", bus.ErrBuffered)
	ctx := context.Background()

	var sig *models.Signal
	for _, p := range []models.Payload{
		models.SentimentScore{Symbol: "TSLA", Score: -0.9},
		models.TechnicalSignals{Symbol: "TSLA", RSI: models.ReadingOverbought, MACD: models.ReadingBearishCross, BB: models.ReadingUpperBreach},
		models.MarketRegime{Symbol: "TSLA", Type: models.RegimeTrendingDown, Confidence: 0.9},
	} {
		var err error
		sig, err = f.agg.Process(ctx, p)
		require.NoError(t, err)
	}
	require.NotNil(t, sig)
	assert.Equal(t, models.SignalSell, sig.Type)
	assert.Zero(t, f.metrics.errs["publish"], "buffered publish is not an error")

	f.pub.err = errors.New("boom")
	_, err := f.agg.Process(ctx, models.SentimentScore{Symbol: "TSLA", Score: -0.8})
	require.NoError(t, err)
	assert.Equal(t, 1, f.metrics.errs["publish"])
	assert.Len(t, f.sink.signals, 2)
}

func TestAggregator_OverBus(t *testing.T) {
	tr := bus.NewMemoryTransport(64)
	client := bus.NewClient(tr)
	defer client.Close()

	f := newAggregatorFixture(t)
	pub := bus.NewPublisher(client)
	defer pub.Close()
	f.agg.publisher = pub

	sub := bus.NewSubscriber(client, bus.WithDecoder(f.agg.Decode), bus.WithReceiveTimeout(20*time.Millisecond))
	require.NoError(t, f.agg.Register(sub))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := client.Subscribe(ctx, bus.ChannelSignals)
	require.NoError(t, err)
	defer out.Close()

	done := make(chan error, 1)
	go func() { done <- sub.Listen(ctx) }()
	require.Eventually(t, func() bool { return tr.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Publish(ctx, bus.ChannelSentiment, map[string]any{"symbol": "nvda", "score": 0.6}))
	require.NoError(t, client.Publish(ctx, bus.ChannelIndicators, map[string]any{
		"symbol": "NVDA", "rsi_signal": "oversold", "macd_signal": "bullish_cross", "bb_signal": "lower_breach",
	}))
	require.NoError(t, client.Publish(ctx, bus.ChannelRegime, map[string]any{
		"symbol": "NVDA", "regime_type": "trending_up", "confidence": 1.0,
	}))

	rctx, rcancel := context.WithTimeout(ctx, 2*time.Second)
	defer rcancel()
	ch, data, err := out.Receive(rctx)
	require.NoError(t, err)
	assert.Equal(t, bus.ChannelSignals, ch)

	msg, err := bus.DecodeMessage(ch, data)
	require.NoError(t, err)
	assert.Contains(t, string(msg.Payload), `"signal_type":"BUY"`)
	assert.Contains(t, string(msg.Payload), `"symbol":"NVDA"`)

	require.NoError(t, sub.Stop(context.Background()))
	assert.NoError(t, <-done)
}
