package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	outbox "github.com/velmie/txoutbox"
)

const (
	defaultBreakerTimeout  = 30 * time.Second
	defaultBreakerFailures = 5
)

// BreakerConfig tunes the circuit breaker around a publisher.
type BreakerConfig struct {
	Name string
	// ConsecutiveFailures opens the breaker. Defaults to 5.
	ConsecutiveFailures uint32
	// Timeout is how long the breaker stays open before probing. Defaults to 30s.
	Timeout time.Duration
	// Logger receives state changes.
	Logger outbox.Logger
}

// Breaker stops calling a failing broker until it recovers. While open, Publish fails fast with
// an outbox.Deferred error: the relay leaves the record pending without counting an attempt, so
// a broker outage does not dead-letter the backlog.
type Breaker struct {
	next    Publisher
	breaker *gobreaker.CircuitBreaker
}

var _ Publisher = (*Breaker)(nil)

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Publisher, cfg BreakerConfig) (*Breaker, error) {
	if next == nil {
		return nil, ErrPublisherRequired
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = defaultBreakerFailures
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultBreakerTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = outbox.NopLogger{}
	}

	settings := gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warn("outbox publisher breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Breaker{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}, nil
}

// Publish forwards envelope unless the breaker is open.
func (b *Breaker) Publish(ctx context.Context, envelope Envelope) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.next.Publish(ctx, envelope)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return outbox.Deferred(fmt.Errorf("outbox publish: breaker %s: %w", b.breaker.Name(), err))
	}

	return err
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}
