package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/handler/api"
	mid "MarketPulse/internal/middleware"
	internalrepo "MarketPulse/internal/repository"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/bus"
	"MarketPulse/pkg/cache"
	pkgch "MarketPulse/pkg/clickhouse"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
	pkgpg "MarketPulse/pkg/postgres"
	"MarketPulse/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Storage is the selected durable signal store and the pool behind it.
// Both are nil when storage.type is none.
type Storage struct {
	Store domrepo.SignalStore
	Pool  io.Closer
}

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideLogCollector folds repeated bus warnings into periodic summary lines.
func ProvideLogCollector(cfg *config.Config, l *applogger.Logger) *applogger.Collector {
	return applogger.NewCollector(l.With(applogger.String("aggregated", "true")),
		applogger.WithFlushInterval(cfg.Logger.AggregateInterval),
		applogger.WithMaxKeys(cfg.Logger.AggregateMaxKeys),
	)
}

// ProvideRegistry creates the Prometheus registry scraped on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) *metrics.Recorder {
	return metrics.New(reg)
}

// ProvideRedisTransport creates the Redis client when the bus or the cache needs it.
func ProvideRedisTransport(cfg *config.Config) *bus.RedisTransport {
	if cfg.Bus.Type != "redis" && cfg.Cache.Type == "memory" {
		return nil
	}
	return bus.NewRedisTransport(
		bus.WithRedisAddr(cfg.Redis.Addr),
		bus.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		bus.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns),
		bus.WithRedisTimeouts(cfg.Redis.DialTimeout, cfg.Redis.ReadTimeout, cfg.Redis.WriteTimeout),
	)
}

// ProvideKafkaProducer creates a Kafka producer when the bus runs on Kafka.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if cfg.Bus.Type != "kafka" {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideTransport selects the bus transport from bus.type.
func ProvideTransport(cfg *config.Config, rt *bus.RedisTransport, producer *pkgkafka.Producer, reg *prometheus.Registry) (bus.Transport, error) {
	switch cfg.Bus.Type {
	case "redis":
		return rt, nil
	case "kafka":
		return bus.NewKafkaTransport(producer, cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix,
			pkgkafka.WithReaderGroupID(cfg.Kafka.Consumer.GroupID),
			pkgkafka.WithReaderFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
			pkgkafka.WithReaderBufferSize(cfg.Kafka.Consumer.BufferSize),
			pkgkafka.WithReaderRegisterer(reg),
		), nil
	case "memory":
		return bus.NewMemoryTransport(cfg.Publisher.BufferCapacity), nil
	default:
		return nil, &config.ConfigError{Field: "bus.type", Reason: fmt.Sprintf("unsupported transport %q", cfg.Bus.Type)}
	}
}

// ProvideBusClient creates the message bus client.
func ProvideBusClient(cfg *config.Config, transport bus.Transport, l *applogger.Logger) *bus.Client {
	return bus.NewClient(transport,
		bus.WithClientLogger(l),
		bus.WithPublishTimeout(cfg.Bus.PublishTimeout),
		bus.WithHealthTimeout(cfg.Bus.HealthTimeout),
		bus.WithBreaker(cfg.Bus.Breaker.MaxFailures, cfg.Bus.Breaker.OpenTimeout),
	)
}

// ProvidePublisher creates the buffering publisher.
func ProvidePublisher(cfg *config.Config, client *bus.Client, l *applogger.Logger, lc *applogger.Collector, rec *metrics.Recorder) *bus.Publisher {
	return bus.NewPublisher(client,
		bus.WithBufferCapacity(cfg.Publisher.BufferCapacity),
		bus.WithReconnectPolicy(cfg.Publisher.BaseDelay(), cfg.Publisher.ReconnectMaxAttempts),
		bus.WithStaleHorizon(cfg.Publisher.StaleHorizon()),
		bus.WithPublisherLogger(l),
		bus.WithDropWarner(lc),
		bus.WithPublisherMetrics(rec),
	)
}

// ProvideCache creates the latest-signal cache backend.
func ProvideCache(cfg *config.Config, rt *bus.RedisTransport) cache.Service {
	switch cfg.Cache.Type {
	case "redis":
		return cache.NewRedisCache(rt.Client(), cache.WithRedisPrefix(cfg.Redis.KeyPrefix))
	case "layered":
		return cache.NewLayeredCache(
			cache.NewRedisCache(rt.Client(), cache.WithRedisPrefix(cfg.Redis.KeyPrefix)),
			cache.WithLayeredMemorySize(cfg.Cache.MaxSize),
		)
	default:
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MaxSize))
	}
}

// ProvideSignalCache wraps the cache service with the signal key layout.
func ProvideSignalCache(cfg *config.Config, c cache.Service) *internalrepo.SignalCache {
	return internalrepo.NewSignalCache(c, cfg.Cache.TTL)
}

// ProvideStorage connects the durable signal store selected by storage.type and ensures its schema.
func ProvideStorage(cfg *config.Config, l *applogger.Logger) (*Storage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Storage.Type {
	case "postgres":
		pg, err := pkgpg.NewClient(
			pkgpg.WithDSN(cfg.Postgres.DSN),
			pkgpg.WithPool(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns, cfg.Postgres.ConnMaxLifetime, cfg.Postgres.ConnMaxIdleTime),
		)
		if err != nil {
			return nil, fmt.Errorf("postgres client: %w", err)
		}
		store := internalrepo.NewPGSignalStore(pg.DB(), cfg.Postgres.QueryTimeout)
		if err := store.Init(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		return &Storage{Store: store, Pool: pg}, nil

	case "clickhouse":
		ch, err := pkgch.NewClient(
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		if err := ch.InitSchema(ctx, []string{
			fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", cfg.ClickHouse.Database),
		}); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		store := internalrepo.NewCHSignalStore(ch, cfg.ClickHouse.Database+".trading_signals")
		store.SetLogger(l)
		if err := store.Init(ctx); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		return &Storage{Store: store, Pool: ch}, nil

	default:
		return &Storage{}, nil
	}
}

// ProvideSinkPipeline creates the asynchronous writer in front of the store, or nil without storage.
func ProvideSinkPipeline(cfg *config.Config, st *Storage, rec *metrics.Recorder, l *applogger.Logger) *mid.SinkPipeline {
	if st.Store == nil {
		return nil
	}
	return mid.NewSinkPipeline(st.Store, rec,
		mid.WithQueueSize(cfg.Storage.QueueSize),
		mid.WithEnqueueTimeout(cfg.Storage.EnqueueTimeout),
		mid.WithWriteTimeout(cfg.Storage.WriteTimeout),
		mid.WithRetry(cfg.Storage.RetryMax, 50*time.Millisecond, 2*time.Second),
		mid.WithSinkLogger(l),
	)
}

// ProvideAggregator assembles the signal pipeline from the aggregator settings.
func ProvideAggregator(
	cfg *config.Config,
	publisher *bus.Publisher,
	signalCache *internalrepo.SignalCache,
	sink *mid.SinkPipeline,
	rec *metrics.Recorder,
	l *applogger.Logger,
) (*usecase.Aggregator, error) {
	ac := cfg.Aggregator
	engine, err := usecase.NewCMSEngine(models.ComponentValues{
		Sentiment: ac.WeightSentiment,
		Technical: ac.WeightTechnical,
		Regime:    ac.WeightRegime,
	})
	if err != nil {
		return nil, fmt.Errorf("cms engine: %w", err)
	}
	generator, err := usecase.NewSignalGenerator(ac.BuyThreshold, ac.SellThreshold)
	if err != nil {
		return nil, fmt.Errorf("signal generator: %w", err)
	}

	opts := []usecase.AggregatorOption{
		usecase.WithCache(signalCache),
		usecase.WithMetrics(rec),
		usecase.WithLogger(l),
		usecase.WithDefaultSymbol(ac.DefaultSymbol),
	}
	if sink != nil {
		opts = append(opts, usecase.WithSink(sink))
	}
	return usecase.NewAggregator(
		usecase.NewStateStore(ac.EventWindow),
		engine,
		generator,
		usecase.NewExplanationBuilder(),
		usecase.NewTransitionDetector(),
		usecase.NewStatsTracker(ac.TransitionLog),
		publisher,
		opts...,
	), nil
}

// ProvideSignalStream creates the WebSocket bridge for the signals channel.
func ProvideSignalStream(l *applogger.Logger) *api.SignalStream {
	return api.NewSignalStream(l)
}

// ProvideSubscribers creates one subscriber for the aggregator inputs and one
// for the WebSocket bridge. The bridge has no decoder and sees raw signals.
func ProvideSubscribers(
	cfg *config.Config,
	client *bus.Client,
	agg *usecase.Aggregator,
	stream *api.SignalStream,
	rec *metrics.Recorder,
	l *applogger.Logger,
	lc *applogger.Collector,
) ([]*bus.Subscriber, error) {
	inputs := bus.NewSubscriber(client,
		bus.WithDecoder(agg.Decode),
		bus.WithHook(rec.DispatchHook()),
		bus.WithReceiveTimeout(cfg.Bus.ReceiveTimeout),
		bus.WithSubscriberMetrics(rec),
		bus.WithSubscriberLogger(l.With(applogger.String("subscriber", "aggregator"))),
		bus.WithDecodeWarner(lc),
	)
	if err := agg.Register(inputs); err != nil {
		return nil, fmt.Errorf("register aggregator: %w", err)
	}

	bridge := bus.NewSubscriber(client,
		bus.WithReceiveTimeout(cfg.Bus.ReceiveTimeout),
		bus.WithSubscriberMetrics(rec),
		bus.WithSubscriberLogger(l.With(applogger.String("subscriber", "ws-bridge"))),
		bus.WithDecodeWarner(lc),
	)
	if err := stream.Register(bridge); err != nil {
		return nil, fmt.Errorf("register ws bridge: %w", err)
	}
	return []*bus.Subscriber{inputs, bridge}, nil
}

// ProvideLimiter creates the per-client HTTP rate limiter.
func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)
}

// ProvideStatusHandler creates the ops API handler.
func ProvideStatusHandler(
	l *applogger.Logger,
	agg *usecase.Aggregator,
	st *Storage,
	publisher *bus.Publisher,
	client *bus.Client,
	sink *mid.SinkPipeline,
) *api.StatusEchoHandler {
	var pending api.PendingCounter
	if sink != nil {
		pending = sink
	}
	return api.NewStatusEchoHandler(l, agg, st.Store, publisher, client, pending)
}

// ProvideHTTPServer creates the echo server with the API, the stream and /metrics.
func ProvideHTTPServer(
	cfg *config.Config,
	l *applogger.Logger,
	reg *prometheus.Registry,
	status *api.StatusEchoHandler,
	stream *api.SignalStream,
	limiter *ratelimit.Limiter,
) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
		xhttp.WithMiddleware(limiter.Middleware()),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, reg, reg))
	} else {
		opts = append(opts, xhttp.WithMetrics("", nil, nil))
	}
	return xhttp.NewServer([]xhttp.Handler{status, stream}, opts...)
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	client *bus.Client,
	publisher *bus.Publisher,
	subscribers []*bus.Subscriber,
	httpServer *xhttp.Server,
	sink *mid.SinkPipeline,
	st *Storage,
	stream *api.SignalStream,
	limiter *ratelimit.Limiter,
	rt *bus.RedisTransport,
	c cache.Service,
	lc *applogger.Collector,
) *server.App {
	opts := []server.Option{
		server.WithStream(stream),
		server.WithLimiter(limiter),
		server.WithCloser("cache", c),
	}
	if sink != nil {
		opts = append(opts, server.WithSink(sink))
	}
	if st.Store != nil {
		opts = append(opts, server.WithStore(st.Store), server.WithCloser("storage", st.Pool))
	}
	// the redis client is owned by the bus client unless only the cache uses it
	if rt != nil && cfg.Bus.Type != "redis" {
		opts = append(opts, server.WithCloser("redis", rt))
	}
	// last, so warnings raised while the rest shuts down are still written
	opts = append(opts, server.WithCloser("log-collector", lc))
	return server.New(cfg, l, client, publisher, subscribers, httpServer, opts...)
}
