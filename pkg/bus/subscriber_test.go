package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	msgs []*Message
}

func (c *collector) Handle(_ context.Context, msg *Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return nil
}

func (c *collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *collector) At(i int) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs[i]
}

func startListening(t *testing.T, tr *MemoryTransport, s *Subscriber) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Listen(context.Background()) }()
	require.Eventually(t, func() bool { return tr.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return errCh
}

func TestSubscriberDispatchesToEveryHandler(t *testing.T) {
	tr := NewMemoryTransport(16)
	c := NewClient(tr)
	s := NewSubscriber(c, WithReceiveTimeout(20*time.Millisecond))

	first, second := &collector{}, &collector{}
	require.NoError(t, s.Subscribe("first", first, ChannelSentiment))
	require.NoError(t, s.Subscribe("second", second, ChannelSentiment, ChannelRegime))
	startListening(t, tr, s)

	require.NoError(t, c.Publish(context.Background(), ChannelSentiment, map[string]float64{"score": 0.5}))
	require.NoError(t, c.Publish(context.Background(), ChannelRegime, map[string]string{"regime_type": "calm"}))

	require.Eventually(t, func() bool { return first.Len() == 1 && second.Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, ChannelSentiment, first.At(0).Channel)
	assert.Equal(t, []Channel{ChannelRegime, ChannelSentiment}, s.Channels())
}

func TestSubscriberIsolatesHandlerFailures(t *testing.T) {
	tr := NewMemoryTransport(16)
	c := NewClient(tr)
	m := newRecordingMetrics()
	s := NewSubscriber(c, WithReceiveTimeout(20*time.Millisecond), WithSubscriberMetrics(m))

	failing := HandlerFunc(func(context.Context, *Message) error { return errors.New("boom") })
	panicking := HandlerFunc(func(context.Context, *Message) error { panic("handler exploded") })
	healthy := &collector{}

	require.NoError(t, s.Subscribe("failing", failing, ChannelEvents))
	require.NoError(t, s.Subscribe("panicking", panicking, ChannelEvents))
	require.NoError(t, s.Subscribe("healthy", healthy, ChannelEvents))
	startListening(t, tr, s)

	for i := 0; i < 2; i++ {
		require.NoError(t, c.Publish(context.Background(), ChannelEvents, map[string]int{"n": i}))
	}

	require.Eventually(t, func() bool { return healthy.Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, m.HandlerErrors("failing"))
	assert.Equal(t, 2, m.HandlerErrors("panicking"))
	assert.Equal(t, 0, m.HandlerErrors("healthy"))
	assert.True(t, s.Running())
}

func TestSubscriberDropsMalformedMessages(t *testing.T) {
	tr := NewMemoryTransport(16)
	c := NewClient(tr)
	m := newRecordingMetrics()
	decoder := func(msg *Message) (any, error) {
		var v struct {
			Score *float64 `json:"score"`
		}
		if err := json.Unmarshal(msg.Payload, &v); err != nil || v.Score == nil {
			return nil, ErrSerialization
		}
		return *v.Score, nil
	}
	w := &recordingWarner{}
	s := NewSubscriber(c,
		WithReceiveTimeout(20*time.Millisecond),
		WithSubscriberMetrics(m),
		WithDecoder(decoder),
		WithDecodeWarner(w),
	)
	got := &collector{}
	require.NoError(t, s.Subscribe("sink", got, ChannelSentiment))
	startListening(t, tr, s)

	ctx := context.Background()
	require.NoError(t, tr.Publish(ctx, ChannelSentiment, []byte("not json at all")))
	require.NoError(t, c.Publish(ctx, ChannelSentiment, map[string]string{"symbol": "AAPL"}))
	require.NoError(t, c.Publish(ctx, ChannelSentiment, map[string]float64{"score": 0.25}))

	require.Eventually(t, func() bool { return got.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.25, got.At(0).Value)
	assert.Equal(t, 2, m.DecodeErrors())
	assert.Equal(t, []string{"dropping undecodable message", "dropping undecodable message"}, w.Messages())
}

func TestSubscriberStopFinishesInFlightMessage(t *testing.T) {
	tr := NewMemoryTransport(16)
	c := NewClient(tr)
	s := NewSubscriber(c, WithReceiveTimeout(20*time.Millisecond))

	started := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr error
	finished := make(chan struct{})
	slow := HandlerFunc(func(ctx context.Context, _ *Message) error {
		close(started)
		<-release
		handlerCtxErr = ctx.Err()
		close(finished)
		return nil
	})
	require.NoError(t, s.Subscribe("slow", slow, ChannelPrices))
	errCh := startListening(t, tr, s)

	require.NoError(t, c.Publish(context.Background(), ChannelPrices, map[string]float64{"price": 10}))
	<-started

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		stopped <- s.Stop(ctx)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned before the in-flight handler finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)
	<-finished
	assert.NoError(t, handlerCtxErr)
	assert.NoError(t, <-errCh)
	assert.False(t, s.Running())
}

func TestSubscriberStopBeforeListen(t *testing.T) {
	s := NewSubscriber(NewClient(NewMemoryTransport(1)))
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Subscribe("noop", &collector{}, ChannelPrices))
	assert.NoError(t, s.Listen(context.Background()))
}

func TestSubscriberReturnsWhenClientClosed(t *testing.T) {
	tr := NewMemoryTransport(4)
	c := NewClient(tr)
	s := NewSubscriber(c, WithReceiveTimeout(20*time.Millisecond), WithRetryDelay(10*time.Millisecond))
	require.NoError(t, s.Subscribe("noop", &collector{}, ChannelPrices))
	errCh := startListening(t, tr, s)

	require.NoError(t, c.Close())
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not return after close")
	}
}

func TestSubscriberPicksUpLateRegistrations(t *testing.T) {
	tr := NewMemoryTransport(16)
	c := NewClient(tr)
	s := NewSubscriber(c, WithReceiveTimeout(20*time.Millisecond))
	require.NoError(t, s.Subscribe("prices", &collector{}, ChannelPrices))
	startListening(t, tr, s)

	late := &collector{}
	require.NoError(t, s.Subscribe("late", late, ChannelSignals))

	require.Eventually(t, func() bool {
		_ = c.Publish(context.Background(), ChannelSignals, map[string]int{"n": 1})
		return late.Len() > 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSubscriberValidation(t *testing.T) {
	s := NewSubscriber(NewClient(NewMemoryTransport(1)))
	assert.Error(t, s.Subscribe("nil", nil, ChannelPrices))
	assert.Error(t, s.Subscribe("none", &collector{}))
	assert.True(t, errors.Is(s.Subscribe("bad", &collector{}, "orders"), ErrUnknownChannel))
}

func TestSubscriberHooks(t *testing.T) {
	tr := NewMemoryTransport(16)
	c := NewClient(tr)

	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(s string) {
		mu.Lock()
		calls = append(calls, s)
		mu.Unlock()
	}
	gate := HookFuncs{
		Before: func(ctx context.Context, msg *Message) (context.Context, error) {
			var v map[string]bool
			_ = json.Unmarshal(msg.Payload, &v)
			if v["skip"] {
				return ctx, errors.New("skipped")
			}
			_, ok := DispatchStart(ctx)
			record("before:" + boolString(ok))
			return ctx, nil
		},
	}
	after := HookFuncs{
		After: func(_ context.Context, _ *Message, handler string, err error) {
			record("after:" + handler + ":" + boolString(err != nil))
		},
	}
	broken := HookFuncs{
		After: func(context.Context, *Message, string, error) { panic("hook bug") },
	}

	s := NewSubscriber(c, WithReceiveTimeout(20*time.Millisecond), WithHook(gate, after, broken))
	got := &collector{}
	require.NoError(t, s.Subscribe("sink", got, ChannelIndicators))
	startListening(t, tr, s)

	require.NoError(t, c.Publish(context.Background(), ChannelIndicators, map[string]bool{"skip": true}))
	require.NoError(t, c.Publish(context.Background(), ChannelIndicators, map[string]bool{"skip": false}))

	require.Eventually(t, func() bool { return got.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"before:true", "after:sink:false"}, calls)
	mu.Unlock()
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
