package mysql

import outbox "github.com/velmie/txoutbox"

const (
	defaultTable      = "outbox"
	defaultMaxRetries = 10
)

// Config defines MySQL store behavior.
type Config struct {
	Table string
	// MaxRetries dead-letters a record once its retry count reaches the limit. Zero disables it.
	MaxRetries      int
	maxRetriesSet   bool
	Clock           outbox.Clock
	Generator       outbox.IDGenerator
	ValidateJSON    bool
	validateJSONSet bool
	// Capturer turns tracked entities into entries in Transact.
	Capturer *outbox.Capturer
	// FastPath, if set, delivers events right after Transact commits.
	FastPath *outbox.FastPath
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
	if !c.validateJSONSet {
		c.ValidateJSON = true
	}
	if c.Capturer == nil {
		c.Capturer = outbox.NewCapturer(outbox.WithIDGenerator(c.Generator), outbox.WithCaptureClock(c.Clock))
	}

	return c
}

// Option configures the MySQL store.
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
		c.validateJSONSet = true
	}
}

// WithCapturer sets the capturer used by Transact.
func WithCapturer(capturer *outbox.Capturer) Option {
	return func(c *Config) {
		c.Capturer = capturer
	}
}

// WithFastPath delivers captured events in-process after Transact commits.
func WithFastPath(fastPath *outbox.FastPath) Option {
	return func(c *Config) {
		c.FastPath = fastPath
	}
}
