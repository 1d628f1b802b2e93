// Package config loads the relay command configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Store drivers supported by the relay.
const (
	// DriverMySQL selects the database/sql MySQL store.
	DriverMySQL = "mysql"
	// DriverPostgres selects the GORM PostgreSQL store.
	DriverPostgres = "postgres"
)

var (
	// ErrUnknownDriver is returned when store.driver names no supported store.
	ErrUnknownDriver = errors.New("config: store.driver must be mysql or postgres")
	// ErrDSNRequired is returned when store.dsn is empty.
	ErrDSNRequired = errors.New("config: store.dsn is required")
)

// Config is the full relay configuration.
type Config struct {
	Log     Log     `yaml:"log"`
	HTTP    HTTP    `yaml:"http"`
	Store   Store   `yaml:"store"`
	Relay   Relay   `yaml:"relay"`
	Redis   Redis   `yaml:"redis"`
	Kafka   Kafka   `yaml:"kafka"`
	NATS    NATS    `yaml:"nats"`
	Breaker Breaker `yaml:"breaker"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT"`
}

// HTTP configures the admin server.
type HTTP struct {
	// Addr serves /metrics and /healthz. Empty disables the server.
	Addr string `yaml:"addr" env:"HTTP_ADDR" env-default:":9090"`
}

// Store selects the outbox store and its table.
type Store struct {
	Driver     string `yaml:"driver" env:"STORE_DRIVER" env-default:"mysql"`
	DSN        string `yaml:"dsn" env:"STORE_DSN"`
	Table      string `yaml:"table" env:"STORE_TABLE" env-default:"outbox"`
	MaxRetries int    `yaml:"max_retries" env:"STORE_MAX_RETRIES" env-default:"10"`
	Migrate    bool   `yaml:"migrate" env:"STORE_MIGRATE"`
}

// Relay tunes the polling loop. Zero durations fall back to the relay defaults.
type Relay struct {
	BatchSize              int           `yaml:"batch_size" env:"RELAY_BATCH_SIZE" env-default:"100"`
	PollInterval           time.Duration `yaml:"poll_interval" env:"RELAY_POLL_INTERVAL" env-default:"10s"`
	IdleMultiplier         int           `yaml:"idle_multiplier" env:"RELAY_IDLE_MULTIPLIER" env-default:"3"`
	ErrorBackoff           time.Duration `yaml:"error_backoff" env:"RELAY_ERROR_BACKOFF"`
	MaxErrorBackoff        time.Duration `yaml:"max_error_backoff" env:"RELAY_MAX_ERROR_BACKOFF" env-default:"5m"`
	Workers                int           `yaml:"workers" env:"RELAY_WORKERS" env-default:"1"`
	HandlerTimeout         time.Duration `yaml:"handler_timeout" env:"RELAY_HANDLER_TIMEOUT"`
	PendingInterval        time.Duration `yaml:"pending_interval" env:"RELAY_PENDING_INTERVAL" env-default:"30s"`
	DeadLetterUnresolvable bool          `yaml:"dead_letter_unresolvable" env:"RELAY_DEAD_LETTER_UNRESOLVABLE"`
}

// Redis enables the single active relay lease when Addr is set.
type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	LeaseKey string        `yaml:"lease_key" env:"REDIS_LEASE_KEY" env-default:"outbox:relay:lease"`
	LeaseTTL time.Duration `yaml:"lease_ttl" env:"REDIS_LEASE_TTL" env-default:"1m"`
}

// Kafka forwards events when Brokers is set.
type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"outbox-events"`
}

// NATS forwards events when URL is set.
type NATS struct {
	URL           string `yaml:"url" env:"NATS_URL"`
	SubjectPrefix string `yaml:"subject_prefix" env:"NATS_SUBJECT_PREFIX" env-default:"outbox"`
}

// Breaker tunes the circuit breaker wrapped around every publisher.
type Breaker struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" env:"BREAKER_CONSECUTIVE_FAILURES" env-default:"5"`
	Timeout             time.Duration `yaml:"timeout" env:"BREAKER_TIMEOUT" env-default:"30s"`
}

// Load reads path, when set, and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the fields the relay cannot start without.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return ErrDSNRequired
	}

	return nil
}
