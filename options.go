package outbox

import "time"

const (
	defaultBatchSize       = 100
	defaultPollInterval    = 10 * time.Second
	defaultIdleMultiplier  = 3
	defaultMaxErrorBackoff = 5 * time.Minute
	defaultWorkers         = 1
	defaultFlushTimeout    = 30 * time.Second
)

// RelayConfig defines how the Relay polls and processes records.
type RelayConfig struct {
	BatchSize int
	// PollInterval is the pause after a non-empty batch.
	PollInterval time.Duration
	// IdleInterval is the pause after an empty poll. Defaults to PollInterval * IdleMultiplier.
	IdleInterval   time.Duration
	IdleMultiplier int
	// ErrorBackoff is the first pause after a store error, doubled on every consecutive error
	// up to MaxErrorBackoff. Defaults to IdleInterval.
	ErrorBackoff    time.Duration
	MaxErrorBackoff time.Duration
	Workers         int
	Clock           Clock
	ErrorHandler    FailureHandler
	Logger          Logger
	Metrics         Metrics
	// FailureClassifier decides between retry and dead-letter for handler errors.
	FailureClassifier FailureClassifier
	HandlerTimeout    time.Duration
	// FlushTimeout bounds writing the outcomes of a batch once processing stopped.
	FlushTimeout    time.Duration
	PendingInterval time.Duration
	Lease           Lease
	// DeadLetterUnresolvable dead-letters records whose type key cannot be resolved instead of
	// leaving them pending.
	DeadLetterUnresolvable bool
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.IdleMultiplier <= 0 {
		c.IdleMultiplier = defaultIdleMultiplier
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = c.PollInterval * time.Duration(c.IdleMultiplier)
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = c.IdleInterval
	}
	if c.MaxErrorBackoff <= 0 {
		c.MaxErrorBackoff = defaultMaxErrorBackoff
	}
	if c.MaxErrorBackoff < c.ErrorBackoff {
		c.MaxErrorBackoff = c.ErrorBackoff
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.FailureClassifier == nil {
		c.FailureClassifier = defaultFailureClassifier
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = defaultFlushTimeout
	}
	if c.PendingInterval < 0 {
		c.PendingInterval = 0
	}

	return c
}

// RelayOption configures Relay behavior.
type RelayOption func(*RelayConfig)

// WithBatchSize sets the maximum number of records fetched per poll.
func WithBatchSize(size int) RelayOption {
	return func(c *RelayConfig) {
		c.BatchSize = size
	}
}

// WithPollInterval sets the delay between polls that found work.
func WithPollInterval(interval time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.PollInterval = interval
	}
}

// WithIdleInterval sets the delay after an empty poll.
func WithIdleInterval(interval time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.IdleInterval = interval
	}
}

// WithIdleMultiplier derives the idle delay from the poll interval.
// WithIdleInterval takes precedence.
func WithIdleMultiplier(multiplier int) RelayOption {
	return func(c *RelayConfig) {
		c.IdleMultiplier = multiplier
	}
}

// WithErrorBackoff sets the initial and maximum delay after store errors.
func WithErrorBackoff(initial, maxDelay time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.ErrorBackoff = initial
		c.MaxErrorBackoff = maxDelay
	}
}

// WithWorkers sets the number of concurrent polling workers.
func WithWorkers(count int) RelayOption {
	return func(c *RelayConfig) {
		c.Workers = count
	}
}

// WithClock sets the Relay clock.
func WithClock(clock Clock) RelayOption {
	return func(c *RelayConfig) {
		c.Clock = clock
	}
}

// WithErrorHandler registers a callback for handler failures.
func WithErrorHandler(handler FailureHandler) RelayOption {
	return func(c *RelayConfig) {
		c.ErrorHandler = handler
	}
}

// WithLogger sets the relay logger.
func WithLogger(logger Logger) RelayOption {
	return func(c *RelayConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the relay metrics recorder.
func WithMetrics(metrics Metrics) RelayOption {
	return func(c *RelayConfig) {
		c.Metrics = metrics
	}
}

// WithFailureClassifier sets the failure classifier for retry/dead-letter decisions.
func WithFailureClassifier(classifier FailureClassifier) RelayOption {
	return func(c *RelayConfig) {
		c.FailureClassifier = classifier
	}
}

// WithHandlerTimeout sets a per-record dispatch timeout.
func WithHandlerTimeout(timeout time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.HandlerTimeout = timeout
	}
}

// WithFlushTimeout bounds writing batch outcomes, including after cancellation.
func WithFlushTimeout(timeout time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.FlushTimeout = timeout
	}
}

// WithPendingInterval sets the minimum interval between pending count samples.
// Use a positive value to enable sampling or zero to keep it disabled.
// The default is disabled.
func WithPendingInterval(interval time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.PendingInterval = interval
	}
}

// WithLease makes the relay poll only while it holds the lease.
func WithLease(lease Lease) RelayOption {
	return func(c *RelayConfig) {
		c.Lease = lease
	}
}

// WithDeadLetterUnresolvable dead-letters records with unknown type keys or undecodable payloads.
func WithDeadLetterUnresolvable(enabled bool) RelayOption {
	return func(c *RelayConfig) {
		c.DeadLetterUnresolvable = enabled
	}
}
