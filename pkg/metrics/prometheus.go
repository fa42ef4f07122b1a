package metrics

import (
	"context"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/bus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var publisherStates = []string{"connected", "reconnecting", "degraded"}

// Recorder implements bus.Metrics and the domain Metrics using Prometheus.
type Recorder struct {
	errorsTotal *prometheus.CounterVec
	lastPrice   *prometheus.GaugeVec
	latency     *prometheus.HistogramVec

	cycles      *prometheus.CounterVec
	signals     *prometheus.CounterVec
	cmsScore    *prometheus.GaugeVec
	confidence  *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	sinkDepth   prometheus.Gauge

	published      *prometheus.CounterVec
	bufferDepth    prometheus.Gauge
	bufferDrops    *prometheus.CounterVec
	replayed       *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
	publisherState *prometheus.GaugeVec
	handlerErrors  *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	dispatch       *prometheus.HistogramVec
}

// New creates a recorder registered on reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_aggregation_cycles_total",
				Help: "Aggregation cycles by result",
			},
			[]string{"result"},
		),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_signals_total",
				Help: "Signals emitted by symbol and type",
			},
			[]string{"symbol", "type"},
		),
		cmsScore: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_cms_score",
				Help: "Latest composite market score",
			},
			[]string{"symbol"},
		),
		confidence: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_signal_confidence",
				Help: "Confidence of the latest signal",
			},
			[]string{"symbol"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_signal_transitions_total",
				Help: "Signal type changes",
			},
			[]string{"symbol", "from", "to"},
		),
		sinkDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpulse_sink_queue_depth",
				Help: "Signals waiting for the durable store",
			},
		),
		published: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_bus_publish_total",
				Help: "Publish attempts by channel and result",
			},
			[]string{"channel", "result"},
		),
		bufferDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpulse_bus_buffer_depth",
				Help: "Messages waiting in the publish buffer",
			},
		),
		bufferDrops: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_bus_buffer_dropped_total",
				Help: "Messages evicted from the publish buffer",
			},
			[]string{"channel"},
		),
		replayed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_bus_replay_total",
				Help: "Buffered messages handled on reconnect",
			},
			[]string{"outcome"},
		),
		reconnects: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_bus_reconnect_attempts_total",
				Help: "Reconnect attempts by outcome",
			},
			[]string{"outcome"},
		),
		publisherState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_bus_publisher_state",
				Help: "1 for the current publisher state",
			},
			[]string{"state"},
		),
		handlerErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_bus_handler_errors_total",
				Help: "Handler failures by channel and handler",
			},
			[]string{"channel", "handler"},
		),
		decodeErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_bus_decode_errors_total",
				Help: "Dropped malformed messages",
			},
			[]string{"channel"},
		),
		dispatch: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_bus_dispatch_duration_seconds",
				Help:    "Time from dispatch start to handler completion",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel", "handler"},
		),
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordSinkDepth sets the sink queue depth.
func (r *Recorder) RecordSinkDepth(depth int) {
	r.sinkDepth.Set(float64(depth))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordCycle(result string) {
	r.cycles.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordSignal(symbol string, t models.SignalType, cms, confidence float64) {
	r.signals.WithLabelValues(symbol, string(t)).Inc()
	r.cmsScore.WithLabelValues(symbol).Set(cms)
	r.confidence.WithLabelValues(symbol).Set(confidence)
}

func (r *Recorder) RecordTransition(symbol string, from, to models.SignalType) {
	r.transitions.WithLabelValues(symbol, string(from), string(to)).Inc()
}

func (r *Recorder) RecordPublish(channel, result string) {
	r.published.WithLabelValues(channel, result).Inc()
}

func (r *Recorder) RecordBufferDepth(depth int) {
	r.bufferDepth.Set(float64(depth))
}

func (r *Recorder) RecordBufferDrop(channel string) {
	r.bufferDrops.WithLabelValues(channel).Inc()
}

func (r *Recorder) RecordReplay(replayed, stale int) {
	r.replayed.WithLabelValues("replayed").Add(float64(replayed))
	r.replayed.WithLabelValues("stale").Add(float64(stale))
}

func (r *Recorder) RecordReconnectAttempt(ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	r.reconnects.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordPublisherState(state string) {
	for _, s := range publisherStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.publisherState.WithLabelValues(s).Set(v)
	}
}

func (r *Recorder) RecordHandlerError(channel, handler string) {
	r.handlerErrors.WithLabelValues(channel, handler).Inc()
}

func (r *Recorder) RecordDecodeError(channel string) {
	r.decodeErrors.WithLabelValues(channel).Inc()
}

// DispatchHook observes handler latency on the subscriber.
func (r *Recorder) DispatchHook() bus.DispatchHook {
	return bus.HookFuncs{
		After: func(ctx context.Context, msg *bus.Message, handler string, _ error) {
			start, ok := bus.DispatchStart(ctx)
			if !ok {
				return
			}
			r.dispatch.WithLabelValues(string(msg.Channel), handler).Observe(time.Since(start).Seconds())
		},
	}
}
