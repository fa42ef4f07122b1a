package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOption configures RedisTransport.
type RedisOption func(*RedisConfig)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// WithRedisAddr sets host:port.
func WithRedisAddr(addr string) RedisOption {
	return func(c *RedisConfig) {
		c.Addr = addr
	}
}

// WithRedisAuth sets password and database number.
func WithRedisAuth(password string, db int) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
		c.DB = db
	}
}

// WithRedisPool sets connection pool settings.
func WithRedisPool(poolSize, minIdleConns int) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize = poolSize
		c.MinIdleConns = minIdleConns
	}
}

// WithRedisTimeouts sets dial/read/write timeouts.
func WithRedisTimeouts(dial, read, write time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.DialTimeout = dial
		c.ReadTimeout = read
		c.WriteTimeout = write
	}
}

// RedisTransport implements Transport with Redis PUBLISH/SUBSCRIBE.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport creates the Redis client. The connection is established lazily;
// reachability is reported by Ping.
func NewRedisTransport(opts ...RedisOption) *RedisTransport {
	cfg := &RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return NewRedisTransportFromClient(client)
}

// NewRedisTransportFromClient wraps an existing client.
func NewRedisTransportFromClient(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

// Client returns underlying redis client.
func (t *RedisTransport) Client() *redis.Client {
	return t.client
}

func (t *RedisTransport) Name() string { return "redis" }

func (t *RedisTransport) Publish(ctx context.Context, ch Channel, data []byte) error {
	if err := t.client.Publish(ctx, string(ch), data).Err(); err != nil {
		return wrapRedisErr("publish", err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, channels ...Channel) (Subscription, error) {
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = string(c)
	}
	ps := t.client.Subscribe(ctx, names...)
	// wait for the subscription confirmation so connection errors surface here
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, wrapRedisErr("subscribe", err)
	}
	return &redisSubscription{ps: ps}, nil
}

func (t *RedisTransport) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return wrapRedisErr("ping", err)
	}
	return nil
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Receive(ctx context.Context) (Channel, []byte, error) {
	for {
		var timeout time.Duration
		if dl, ok := ctx.Deadline(); ok {
			timeout = time.Until(dl)
			if timeout <= 0 {
				return "", nil, ErrReceiveTimeout
			}
		}
		raw, err := s.ps.ReceiveTimeout(ctx, timeout)
		if err != nil {
			if isTimeout(err) || ctx.Err() != nil {
				return "", nil, ErrReceiveTimeout
			}
			return "", nil, wrapRedisErr("receive", err)
		}
		// subscription confirmations and pongs are not data
		if m, ok := raw.(*redis.Message); ok {
			return Channel(m.Channel), []byte(m.Payload), nil
		}
	}
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func wrapRedisErr(op string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: redis %s: %w", ErrTransport, op, err)
}
