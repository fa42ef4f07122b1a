package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryCache_SetGet(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", item{Name: "AAPL", Score: 42.5}, time.Minute))

	var got item
	require.NoError(t, mc.Get(ctx, "a", &got))
	assert.Equal(t, item{Name: "AAPL", Score: 42.5}, got)

	var s string
	require.NoError(t, mc.Set(ctx, "s", "plain", 0))
	require.NoError(t, mc.Get(ctx, "s", &s))
	assert.Equal(t, "plain", s)

	assert.True(t, errors.Is(mc.Get(ctx, "missing", &got), ErrCacheMiss))

	ok, err := mc.Exists(ctx, "missing", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mc.Delete(ctx, "a"))
	assert.True(t, errors.Is(mc.Get(ctx, "a", &got), ErrCacheMiss))
}

func TestMemoryCache_Expiry(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryClock(clock.Now))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", 1, time.Second))
	var v int
	require.NoError(t, mc.Get(ctx, "k", &v))
	assert.Equal(t, 1, v)

	clock.Advance(2 * time.Second)
	assert.True(t, errors.Is(mc.Get(ctx, "k", &v), ErrCacheMiss))
	assert.Equal(t, 0, mc.Len())
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryClock(clock.Now))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", 1, 0))
	clock.Advance(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", 2, 0))
	clock.Advance(time.Millisecond)

	var v int
	require.NoError(t, mc.Get(ctx, "a", &v)) // a is now more recent than b
	clock.Advance(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", 3, 0))

	assert.Equal(t, 2, mc.Len())
	assert.True(t, errors.Is(mc.Get(ctx, "b", &v), ErrCacheMiss))
	require.NoError(t, mc.Get(ctx, "a", &v))
	require.NoError(t, mc.Get(ctx, "c", &v))

	// Overwriting an existing key never evicts.
	require.NoError(t, mc.Set(ctx, "c", 4, 0))
	assert.Equal(t, 2, mc.Len())
}

func TestRedisCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rc := NewRedisCache(db, WithRedisPrefix("mp"))
	ctx := context.Background()

	mock.ExpectSet("mp:signal:latest:AAPL", []byte(`{"name":"AAPL","score":1}`), time.Hour).SetVal("OK")
	require.NoError(t, rc.Set(ctx, Key("signal", "latest", "AAPL"), item{Name: "AAPL", Score: 1}, time.Hour))

	mock.ExpectGet("mp:signal:latest:AAPL").SetVal(`{"name":"AAPL","score":1}`)
	var got item
	require.NoError(t, rc.Get(ctx, "signal:latest:AAPL", &got))
	assert.Equal(t, "AAPL", got.Name)

	mock.ExpectGet("mp:nope").RedisNil()
	assert.True(t, errors.Is(rc.Get(ctx, "nope", &got), ErrCacheMiss))

	mock.ExpectExists("mp:a", "mp:b").SetVal(1)
	ok, err := rc.Exists(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectUnlink("mp:a").SetVal(1)
	require.NoError(t, rc.Delete(ctx, "a"))

	mock.ExpectPing().SetErr(errors.New("connection refused"))
	assert.Error(t, rc.Ping(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLayeredCache_ReadsThroughToRedis(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lc := NewLayeredCache(NewRedisCache(db, WithRedisPrefix("mp")))
	defer lc.Close()
	ctx := context.Background()

	mock.ExpectGet("mp:k").SetVal(`{"name":"MSFT","score":2}`)
	var got item
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, "MSFT", got.Name)

	// Second read is served from memory; no further Redis expectation.
	var again item
	require.NoError(t, lc.Get(ctx, "k", &again))
	assert.Equal(t, got, again)

	assert.NoError(t, mock.ExpectationsWereMet())
}
