package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Record is a message read from one of the stream's topics.
type Record struct {
	Topic string
	Key   []byte
	Value []byte
	Time  time.Time
}

// Stream fans the readers of several topics into a single ordered channel.
// Offsets are committed by the group reader as messages are read (at-most-once).
type Stream struct {
	cfg      *ReaderConfig
	name     string
	metrics  *streamMetrics
	readers  map[string]*kafka.Reader
	out      chan Record
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
	mu       sync.Mutex
}

// NewStream creates readers for topics. Call Start to begin fetching.
func NewStream(topics []string, opts ...ReaderOption) (*Stream, error) {
	cfg := &ReaderConfig{
		GroupID:    "default",
		MinBytes:   1,
		MaxBytes:   10e6, // 10MB
		BufferSize: 256,
		MaxWait:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}

	s := &Stream{
		cfg:      cfg,
		name:     strings.Join(topics, ","),
		metrics:  newStreamMetrics(cfg.Registerer),
		readers:  make(map[string]*kafka.Reader, len(topics)),
		out:      make(chan Record, cfg.BufferSize),
		stopChan: make(chan struct{}),
	}
	for _, topic := range topics {
		s.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
			MaxWait:  cfg.MaxWait,
		})
	}
	return s, nil
}

// Start launches one fetch goroutine per topic.
func (s *Stream) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for topic, reader := range s.readers {
		s.wg.Add(1)
		go s.consume(topic, reader)
	}
}

// Fetch returns the next record from any topic.
func (s *Stream) Fetch(ctx context.Context) (Record, error) {
	select {
	case rec := <-s.out:
		s.metrics.setDepth(s.name, len(s.out))
		return rec, nil
	case <-s.stopChan:
		return Record{}, io.EOF
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// Stop closes all readers and waits for fetch goroutines.
func (s *Stream) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		close(s.stopChan)
		// closing readers unblocks in-flight ReadMessage calls
		for topic, reader := range s.readers {
			if err := reader.Close(); err != nil {
				log.Printf("error closing reader for topic %s: %v", topic, err)
			}
		}
		stopErr = s.waitForWg(ctx)
	})
	return stopErr
}

func (s *Stream) waitForWg(ctx context.Context) error {
	doneChan := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneChan)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for stream to stop: %w", ctx.Err())
	case <-doneChan:
		return nil
	}
}

func (s *Stream) consume(topic string, reader *kafka.Reader) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		msg, err := reader.ReadMessage(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				s.metrics.readError(topic)
				log.Printf("error reading message from topic %s: %v", topic, err)
				select {
				case <-time.After(time.Second):
				case <-s.stopChan:
					return
				}
			}
			continue
		}

		select {
		case s.out <- Record{Topic: msg.Topic, Key: msg.Key, Value: msg.Value, Time: msg.Time}:
			s.metrics.setDepth(s.name, len(s.out))
		case <-s.stopChan:
			return
		}
	}
}
