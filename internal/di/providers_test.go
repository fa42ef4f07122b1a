package di

import (
	"errors"
	"testing"

	"MarketPulse/pkg/bus"
	"MarketPulse/pkg/cache"
	"MarketPulse/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Bus.Type = "memory"
	cfg.Cache.Type = "memory"
	cfg.Storage.Type = "none"
	cfg.Logger.Level = "error"
	return cfg
}

func TestInitializeApp_Memory(t *testing.T) {
	app, err := InitializeApp(memoryConfig(t))
	require.NoError(t, err)
	assert.NotNil(t, app)
}

func TestProvideTransport(t *testing.T) {
	cfg := memoryConfig(t)
	assert.Nil(t, ProvideRedisTransport(cfg), "no redis client without a redis consumer")

	tr, err := ProvideTransport(cfg, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", tr.Name())

	cfg.Bus.Type = "nats"
	_, err = ProvideTransport(cfg, nil, nil, nil)
	var cerr *config.ConfigError
	assert.True(t, errors.As(err, &cerr))

	cfg.Bus.Type = "redis"
	rt := ProvideRedisTransport(cfg)
	require.NotNil(t, rt)
	defer rt.Close()
	tr, err = ProvideTransport(cfg, rt, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "redis", tr.Name())
}

func TestProvideCache(t *testing.T) {
	cfg := memoryConfig(t)
	c := ProvideCache(cfg, nil)
	defer c.Close()
	_, ok := c.(*cache.MemoryCache)
	assert.True(t, ok)

	cfg.Cache.Type = "layered"
	rt := bus.NewRedisTransport()
	defer rt.Close()
	_, ok = ProvideCache(cfg, rt).(*cache.LayeredCache)
	assert.True(t, ok)
}

func TestProvideStorage_None(t *testing.T) {
	cfg := memoryConfig(t)
	st, err := ProvideStorage(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, st.Store)
	assert.Nil(t, ProvideSinkPipeline(cfg, st, nil, nil))
}

func TestProvideAggregator_RejectsBadThresholds(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Aggregator.BuyThreshold = -70
	l, err := ProvideLogger(cfg)
	require.NoError(t, err)
	_, err = ProvideAggregator(cfg, nil, nil, nil, nil, l)
	assert.Error(t, err)
}
