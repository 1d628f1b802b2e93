package gormstore

import (
	"fmt"
	"regexp"
	"strings"

	outbox "github.com/velmie/txoutbox"
)

const (
	defaultTable      = "outbox"
	defaultMaxRetries = 10
	maxErrorLen       = 1024
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config defines GORM store behavior.
type Config struct {
	Table string
	// MaxRetries dead-letters a record once its retry count reaches the limit. Zero disables it.
	MaxRetries    int
	maxRetriesSet bool
	Clock         outbox.Clock
	Generator     outbox.IDGenerator
	ValidateJSON  bool
	validateSet   bool
	Capturer      *outbox.Capturer
	FastPath      *outbox.FastPath
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if !c.maxRetriesSet {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Clock == nil {
		c.Clock = outbox.SystemClock{}
	}
	if c.Generator == nil {
		c.Generator = outbox.UUIDv7Generator{}
	}
	if !c.validateSet {
		c.ValidateJSON = true
	}
	if c.Capturer == nil {
		c.Capturer = outbox.NewCapturer(outbox.WithIDGenerator(c.Generator), outbox.WithCaptureClock(c.Clock))
	}

	return c
}

// Option configures the GORM store.
type Option func(*Config)

// WithTable sets the outbox table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithMaxRetries sets the retry limit before marking a record as dead. Zero retries forever.
func WithMaxRetries(retries int) Option {
	return func(c *Config) {
		c.MaxRetries = retries
		c.maxRetriesSet = true
	}
}

// WithClock sets the time source used by the store.
func WithClock(clock outbox.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithGenerator sets the UUID generator.
func WithGenerator(gen outbox.IDGenerator) Option {
	return func(c *Config) {
		c.Generator = gen
	}
}

// WithValidateJSON enables or disables JSON validation of payloads on enqueue.
func WithValidateJSON(enabled bool) Option {
	return func(c *Config) {
		c.ValidateJSON = enabled
		c.validateSet = true
	}
}

// WithCapturer sets the capturer used by the plugin and Transaction.
func WithCapturer(capturer *outbox.Capturer) Option {
	return func(c *Config) {
		c.Capturer = capturer
	}
}

// WithFastPath delivers captured events in-process after the transaction commits.
func WithFastPath(fastPath *outbox.FastPath) Option {
	return func(c *Config) {
		c.FastPath = fastPath
	}
}

func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	for _, part := range strings.Split(name, ".") {
		if !identifierPattern.MatchString(part) {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}
