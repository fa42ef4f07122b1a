package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	pkgkafka "MarketPulse/pkg/kafka"
)

// KafkaTransport maps every channel to a topic named prefix+channel.
type KafkaTransport struct {
	producer   *pkgkafka.Producer
	brokers    []string
	prefix     string
	readerOpts []pkgkafka.ReaderOption
}

// NewKafkaTransport wraps a producer; readerOpts configure the consumer group used by Subscribe.
func NewKafkaTransport(producer *pkgkafka.Producer, brokers []string, prefix string, readerOpts ...pkgkafka.ReaderOption) *KafkaTransport {
	return &KafkaTransport{
		producer:   producer,
		brokers:    brokers,
		prefix:     prefix,
		readerOpts: readerOpts,
	}
}

func (t *KafkaTransport) Name() string { return "kafka" }

// Topic returns the Kafka topic carrying ch.
func (t *KafkaTransport) Topic(ch Channel) string {
	return t.prefix + string(ch)
}

func (t *KafkaTransport) Publish(ctx context.Context, ch Channel, data []byte) error {
	if err := t.producer.Publish(ctx, t.Topic(ch), []byte(ch), data); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

func (t *KafkaTransport) Subscribe(ctx context.Context, channels ...Channel) (Subscription, error) {
	topics := make([]string, len(channels))
	for i, c := range channels {
		topics[i] = t.Topic(c)
	}
	opts := append([]pkgkafka.ReaderOption{pkgkafka.WithReaderBrokers(t.brokers)}, t.readerOpts...)
	stream, err := pkgkafka.NewStream(topics, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	stream.Start()
	return &kafkaSubscription{stream: stream, prefix: t.prefix}, nil
}

func (t *KafkaTransport) Ping(ctx context.Context) error {
	if err := t.producer.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

func (t *KafkaTransport) Close() error {
	return t.producer.Close()
}

type kafkaSubscription struct {
	stream *pkgkafka.Stream
	prefix string
}

func (s *kafkaSubscription) Receive(ctx context.Context) (Channel, []byte, error) {
	rec, err := s.stream.Fetch(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil, ErrClosed
		}
		return "", nil, ErrReceiveTimeout
	}
	return Channel(strings.TrimPrefix(rec.Topic, s.prefix)), rec.Value, nil
}

func (s *kafkaSubscription) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.stream.Stop(ctx)
}
