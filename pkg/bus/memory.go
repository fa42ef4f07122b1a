package bus

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTransport is an in-process transport used in single-process mode and tests.
// SetDown simulates an unreachable broker.
type MemoryTransport struct {
	mu      sync.RWMutex
	subs    map[*memorySubscription]struct{}
	down    bool
	closed  bool
	bufSize int

	published map[Channel]int
}

// NewMemoryTransport creates an in-process transport whose subscriptions hold up to bufSize pending messages.
func NewMemoryTransport(bufSize int) *MemoryTransport {
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &MemoryTransport{
		subs:      make(map[*memorySubscription]struct{}),
		bufSize:   bufSize,
		published: make(map[Channel]int),
	}
}

func (t *MemoryTransport) Name() string { return "memory" }

// SetDown toggles simulated unavailability.
func (t *MemoryTransport) SetDown(down bool) {
	t.mu.Lock()
	t.down = down
	t.mu.Unlock()
}

// Published returns how many messages were accepted on ch.
func (t *MemoryTransport) Published(ch Channel) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.published[ch]
}

// Subscribers returns the number of open subscriptions.
func (t *MemoryTransport) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

func (t *MemoryTransport) available() error {
	if t.closed {
		return ErrClosed
	}
	if t.down {
		return fmt.Errorf("%w: memory transport down", ErrTransport)
	}
	return nil
}

func (t *MemoryTransport) Publish(ctx context.Context, ch Channel, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.available(); err != nil {
		return err
	}
	t.published[ch]++
	for s := range t.subs {
		if !s.wants(ch) {
			continue
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		// at-most-once: a full subscriber loses the message
		select {
		case s.ch <- memoryDelivery{ch: ch, data: cp}:
		default:
		}
	}
	return nil
}

func (t *MemoryTransport) Subscribe(ctx context.Context, channels ...Channel) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.available(); err != nil {
		return nil, err
	}
	s := &memorySubscription{
		t:        t,
		channels: make(map[Channel]struct{}, len(channels)),
		ch:       make(chan memoryDelivery, t.bufSize),
		done:     make(chan struct{}),
	}
	for _, c := range channels {
		s.channels[c] = struct{}{}
	}
	t.subs[s] = struct{}{}
	return s, nil
}

func (t *MemoryTransport) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.available()
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for s := range t.subs {
		s.closeOnce.Do(func() { close(s.done) })
		delete(t.subs, s)
	}
	return nil
}

type memoryDelivery struct {
	ch   Channel
	data []byte
}

type memorySubscription struct {
	t         *MemoryTransport
	channels  map[Channel]struct{}
	ch        chan memoryDelivery
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memorySubscription) wants(ch Channel) bool {
	_, ok := s.channels[ch]
	return ok
}

func (s *memorySubscription) Receive(ctx context.Context) (Channel, []byte, error) {
	select {
	case d := <-s.ch:
		return d.ch, d.data, nil
	case <-s.done:
		return "", nil, ErrClosed
	case <-ctx.Done():
		return "", nil, ErrReceiveTimeout
	}
}

func (s *memorySubscription) Close() error {
	s.t.mu.Lock()
	delete(s.t.subs, s)
	s.t.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
