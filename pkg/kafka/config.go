package kafka

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProducerOption configures Producer.
type ProducerOption func(*ProducerConfig)

// ProducerConfig holds producer configuration.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int
	Compression  string
	MaxAttempts  int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	BatchSize    int
	BatchTimeout time.Duration
	Registerer   prometheus.Registerer
}

// WithBrokers sets Kafka brokers.
func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) {
		c.Brokers = brokers
	}
}

// WithCompression sets compression type.
func WithCompression(compression string) ProducerOption {
	return func(c *ProducerConfig) {
		c.Compression = compression
	}
}

// WithRequiredAcks sets required acknowledgements (-1 = all).
func WithRequiredAcks(acks int) ProducerOption {
	return func(c *ProducerConfig) {
		c.RequiredAcks = acks
	}
}

// WithMaxAttempts sets max retry attempts by the writer.
func WithMaxAttempts(n int) ProducerOption {
	return func(c *ProducerConfig) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithBatching sets batch size and linger.
func WithBatching(size int, linger time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if size > 0 {
			c.BatchSize = size
		}
		c.BatchTimeout = linger
	}
}

// WithTimeouts sets writer read/write timeouts.
func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		c.WriteTimeout = write
		c.ReadTimeout = read
	}
}

// WithRegisterer registers producer metrics on reg.
func WithRegisterer(reg prometheus.Registerer) ProducerOption {
	return func(c *ProducerConfig) {
		c.Registerer = reg
	}
}

// ReaderOption configures Stream.
type ReaderOption func(*ReaderConfig)

// ReaderConfig holds consumer-side configuration.
type ReaderConfig struct {
	Brokers    []string
	GroupID    string
	MinBytes   int
	MaxBytes   int
	BufferSize int
	MaxWait    time.Duration
	Registerer prometheus.Registerer
}

// WithReaderBrokers sets Kafka brokers.
func WithReaderBrokers(brokers []string) ReaderOption {
	return func(c *ReaderConfig) {
		c.Brokers = brokers
	}
}

// WithReaderGroupID sets consumer group ID.
func WithReaderGroupID(groupID string) ReaderOption {
	return func(c *ReaderConfig) {
		c.GroupID = groupID
	}
}

// WithReaderFetch sets fetch min/max bytes.
func WithReaderFetch(minBytes, maxBytes int) ReaderOption {
	return func(c *ReaderConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

// WithReaderBufferSize sets the fan-in channel size.
func WithReaderBufferSize(n int) ReaderOption {
	return func(c *ReaderConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// WithReaderRegisterer registers stream metrics on reg.
func WithReaderRegisterer(reg prometheus.Registerer) ReaderOption {
	return func(c *ReaderConfig) {
		c.Registerer = reg
	}
}
