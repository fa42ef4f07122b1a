package bus

import "MarketPulse/pkg/logger"

// Warner takes high-rate warnings such as buffer evictions and undecodable
// messages. *logger.Logger and *logger.Collector both satisfy it.
type Warner interface {
	Warn(msg string, fields ...logger.Field)
}

// Metrics receives publisher and subscriber observations.
type Metrics interface {
	RecordPublish(channel, result string)
	RecordBufferDepth(depth int)
	RecordBufferDrop(channel string)
	RecordReplay(replayed, stale int)
	RecordReconnectAttempt(ok bool)
	RecordPublisherState(state string)
	RecordHandlerError(channel, handler string)
	RecordDecodeError(channel string)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordPublish(string, string)      {}
func (NoopMetrics) RecordBufferDepth(int)             {}
func (NoopMetrics) RecordBufferDrop(string)           {}
func (NoopMetrics) RecordReplay(int, int)             {}
func (NoopMetrics) RecordReconnectAttempt(bool)       {}
func (NoopMetrics) RecordPublisherState(string)       {}
func (NoopMetrics) RecordHandlerError(string, string) {}
func (NoopMetrics) RecordDecodeError(string)          {}
