package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// WeightTolerance is the allowed drift of the weight sum from 1.0.
const WeightTolerance = 1e-6

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		RateLimit       struct {
			RPS   float64 `yaml:"rps" default:"20" validate:"gte=0"`
			Burst int     `yaml:"burst" default:"40" validate:"gte=0"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Logger struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
		// Repeated bus warnings are folded into one line per interval.
		AggregateInterval time.Duration `yaml:"aggregate_interval" default:"30s" validate:"gt=0"`
		AggregateMaxKeys  int           `yaml:"aggregate_max_keys" default:"100" validate:"gt=0"`
	} `yaml:"logger"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Bus        BusConfig        `yaml:"bus"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Cache      struct {
		Type    string        `yaml:"type" default:"memory" validate:"oneof=memory redis layered"`
		TTL     time.Duration `yaml:"ttl" default:"24h"`
		MaxSize int           `yaml:"max_size" default:"10000" validate:"gt=0"`
	} `yaml:"cache"`
	Storage    StorageConfig `yaml:"storage"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"marketpulse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Postgres struct {
		DSN             string        `yaml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
		MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
		ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" default:"5m"`
		QueryTimeout    time.Duration `yaml:"query_timeout" default:"5s"`
	} `yaml:"postgres"`
}

// BusConfig selects and tunes the message bus transport.
type BusConfig struct {
	Type           string        `yaml:"type" default:"redis" validate:"oneof=redis kafka memory"`
	PublishTimeout time.Duration `yaml:"publish_timeout" default:"2s" validate:"gt=0"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout" default:"1s" validate:"gt=0"`
	HealthTimeout  time.Duration `yaml:"health_timeout" default:"1s" validate:"gt=0"`
	Breaker        struct {
		MaxFailures int           `yaml:"max_failures" default:"5" validate:"gt=0"`
		OpenTimeout time.Duration `yaml:"open_timeout" default:"30s"`
	} `yaml:"breaker"`
}

// PublisherConfig holds the reliability settings of the publish path.
type PublisherConfig struct {
	BufferCapacity             int `yaml:"buffer_capacity" default:"1000" validate:"gt=0"`
	ReconnectMaxAttempts       int `yaml:"reconnect_max_attempts" default:"5" validate:"gt=0"`
	ReconnectBaseDelayMs       int `yaml:"reconnect_base_delay_ms" default:"1000" validate:"gt=0"`
	StaleMessageHorizonSeconds int `yaml:"stale_message_horizon_seconds" default:"300" validate:"gt=0"`
}

// BaseDelay returns the first reconnect delay.
func (p PublisherConfig) BaseDelay() time.Duration {
	return time.Duration(p.ReconnectBaseDelayMs) * time.Millisecond
}

// StaleHorizon returns the age after which buffered entries are not replayed.
func (p PublisherConfig) StaleHorizon() time.Duration {
	return time.Duration(p.StaleMessageHorizonSeconds) * time.Second
}

// AggregatorConfig holds the CMS weights and classification thresholds.
type AggregatorConfig struct {
	WeightSentiment float64 `yaml:"weight_sentiment" default:"0.3" validate:"gte=0,lte=1"`
	WeightTechnical float64 `yaml:"weight_technical" default:"0.5" validate:"gte=0,lte=1"`
	WeightRegime    float64 `yaml:"weight_regime" default:"0.2" validate:"gte=0,lte=1"`
	BuyThreshold    float64 `yaml:"buy_threshold" default:"60" validate:"gte=-100,lte=100"`
	SellThreshold   float64 `yaml:"sell_threshold" default:"-60" validate:"gte=-100,lte=100"`
	DefaultSymbol   string  `yaml:"default_symbol" default:"MARKET" validate:"required"`
	EventWindow     int     `yaml:"event_window" default:"10" validate:"gt=0"`
	TransitionLog   int     `yaml:"transition_log" default:"100" validate:"gt=0"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr" default:"localhost:6379"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size" default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
	DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"3s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"3s"`
	KeyPrefix    string        `yaml:"key_prefix" default:"marketpulse"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	TopicPrefix  string   `yaml:"topic_prefix" default:"marketpulse."`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"snappy"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string `yaml:"group_id" default:"marketpulse-aggregator"`
		BufferSize int    `yaml:"buffer_size" default:"256"`
		MinBytes   int    `yaml:"min_bytes" default:"1"`
		MaxBytes   int    `yaml:"max_bytes" default:"10000000"`
	} `yaml:"consumer"`
}

type StorageConfig struct {
	Type           string        `yaml:"type" default:"none" validate:"oneof=none postgres clickhouse"`
	QueueSize      int           `yaml:"queue_size" default:"1000" validate:"gt=0"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout" default:"2s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" default:"5s"`
	RetryMax       int           `yaml:"retry_max" default:"5" validate:"gte=0"`
}

// ConfigError reports an invalid configuration value. It is always fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

var validate = validator.New()

// Default returns a configuration populated only with defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("BUS_TYPE"); v != "" {
		c.Bus.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}

	// overrides can break invariants, check again
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigError{Field: fe.Namespace(), Reason: fmt.Sprintf("failed %q (%s)", fe.Tag(), fe.Param())}
		}
		return err
	}
	if err := c.Aggregator.Validate(); err != nil {
		return err
	}
	if c.Bus.Type == "kafka" && len(c.Kafka.Brokers) == 0 {
		return &ConfigError{Field: "kafka.brokers", Reason: "required when bus.type is kafka"}
	}
	if c.Storage.Type == "postgres" && c.Postgres.DSN == "" {
		return &ConfigError{Field: "postgres.dsn", Reason: "required when storage.type is postgres"}
	}
	return nil
}

// Validate enforces the weight and threshold invariants.
func (a AggregatorConfig) Validate() error {
	sum := a.WeightSentiment + a.WeightTechnical + a.WeightRegime
	if math.Abs(sum-1.0) > WeightTolerance {
		return &ConfigError{Field: "aggregator.weights", Reason: fmt.Sprintf("must sum to 1.0, got %.9f", sum)}
	}
	if a.BuyThreshold <= a.SellThreshold {
		return &ConfigError{
			Field:  "aggregator.thresholds",
			Reason: fmt.Sprintf("buy_threshold (%.2f) must be greater than sell_threshold (%.2f)", a.BuyThreshold, a.SellThreshold),
		}
	}
	return nil
}
