package metrics

import (
	"context"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/bus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ bus.Metrics     = (*Recorder)(nil)
	_ domrepo.Metrics = (*Recorder)(nil)
)

func TestRecorder_Domain(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordSignal("AAPL", models.SignalBuy, 88, 0.88)
	r.RecordSignal("AAPL", models.SignalBuy, 70, 0.7)
	r.RecordTransition("AAPL", models.SignalHold, models.SignalBuy)
	r.RecordCycle("incomplete")
	r.RecordLastPrice("AAPL", 190.25)
	r.RecordError("publish")
	r.RecordSinkDepth(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.signals.WithLabelValues("AAPL", "BUY")))
	assert.Equal(t, 70.0, testutil.ToFloat64(r.cmsScore.WithLabelValues("AAPL")))
	assert.Equal(t, 0.7, testutil.ToFloat64(r.confidence.WithLabelValues("AAPL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("AAPL", "HOLD", "BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues("incomplete")))
	assert.Equal(t, 190.25, testutil.ToFloat64(r.lastPrice.WithLabelValues("AAPL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("publish")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.sinkDepth))
}

func TestRecorder_Bus(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordPublish("signals", "ok")
	r.RecordBufferDepth(3)
	r.RecordBufferDrop("signals")
	r.RecordReplay(4, 1)
	r.RecordReconnectAttempt(false)
	r.RecordReconnectAttempt(true)
	r.RecordPublisherState("reconnecting")
	r.RecordHandlerError("sentiment", "aggregator")
	r.RecordDecodeError("regime")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.published.WithLabelValues("signals", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.bufferDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.bufferDrops.WithLabelValues("signals")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.replayed.WithLabelValues("replayed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.replayed.WithLabelValues("stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reconnects.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.publisherState.WithLabelValues("reconnecting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.publisherState.WithLabelValues("connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.handlerErrors.WithLabelValues("sentiment", "aggregator")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decodeErrors.WithLabelValues("regime")))
}

func TestRecorder_DispatchHook(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	hook := r.DispatchHook()

	msg := &bus.Message{Channel: bus.ChannelSentiment}
	hook.AfterHandle(context.Background(), msg, "aggregator", nil) // no start time, ignored

	ctx := bus.WithDispatchStart(context.Background(), time.Now().Add(-10*time.Millisecond))
	hook.AfterHandle(ctx, msg, "aggregator", nil)

	n, err := testutil.GatherAndCount(reg, "marketpulse_bus_dispatch_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
