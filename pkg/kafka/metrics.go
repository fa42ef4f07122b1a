package kafka

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type producerMetrics struct {
	msgs    *prometheus.CounterVec
	bytes   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

type streamMetrics struct {
	queueDepth *prometheus.GaugeVec
	errors     *prometheus.CounterVec
}

// newProducerMetrics registers producer series on reg. A nil reg disables them.
func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	if reg == nil {
		return nil
	}
	return &producerMetrics{
		msgs: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_kafka_producer_messages_total",
			Help: "Total messages written to Kafka",
		}, []string{"topic", "compression", "result"})),
		bytes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_kafka_producer_bytes_total",
			Help: "Total payload bytes written",
		}, []string{"topic", "compression"})),
		latency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketpulse_kafka_producer_write_seconds",
			Help:    "Write latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})),
	}
}

func (m *producerMetrics) observe(topic, comp string, n int64, seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.msgs.WithLabelValues(topic, comp, result).Inc()
	m.bytes.WithLabelValues(topic, comp).Add(float64(n))
	m.latency.WithLabelValues(topic).Observe(seconds)
}

// newStreamMetrics registers stream series on reg. A nil reg disables them.
func newStreamMetrics(reg prometheus.Registerer) *streamMetrics {
	if reg == nil {
		return nil
	}
	return &streamMetrics{
		queueDepth: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketpulse_kafka_stream_queue_depth",
			Help: "Records fetched but not yet dispatched",
		}, []string{"stream"})),
		errors: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_kafka_stream_read_errors_total",
			Help: "Read errors per topic",
		}, []string{"topic"})),
	}
}

func (m *streamMetrics) setDepth(stream string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(stream).Set(float64(n))
}

func (m *streamMetrics) readError(topic string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(topic).Inc()
}

// register adds c to reg, reusing the collector already registered under the same name.
// Several producers and streams share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
