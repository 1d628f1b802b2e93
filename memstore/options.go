package memstore

import outbox "github.com/velmie/txoutbox"

const (
	defaultMaxRetries = 10
	maxErrorLen       = 1024
)

// Config defines in-memory store behavior.
type Config struct {
	// MaxRetries dead-letters a record once its retry count reaches the limit. Zero disables it.
	MaxRetries    int
	maxRetriesSet bool
	Clock         outbox.Clock
	Capturer      *outbox.Capturer
	FastPath      *outbox.FastPath
}

func (c Config) withDefaults() Config {
	if !c.maxRetriesSet {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Clock == nil {
		c.Clock = outbox.SystemClock{}
	}
	if c.Capturer == nil {
		c.Capturer = outbox.NewCapturer(outbox.WithCaptureClock(c.Clock))
	}

	return c
}

// Option configures the store.
type Option func(*Config)

// WithMaxRetries sets the retry limit, zero retries forever.
func WithMaxRetries(retries int) Option {
	return func(c *Config) {
		c.MaxRetries = retries
		c.maxRetriesSet = true
	}
}

// WithClock sets the time source used for captured events.
func WithClock(clock outbox.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithCapturer sets the capturer used by Transact.
func WithCapturer(capturer *outbox.Capturer) Option {
	return func(c *Config) {
		c.Capturer = capturer
	}
}

// WithFastPath delivers committed events in-process right after Transact commits.
func WithFastPath(fastPath *outbox.FastPath) Option {
	return func(c *Config) {
		c.FastPath = fastPath
	}
}
