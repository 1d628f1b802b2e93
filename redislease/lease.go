// Package redislease elects a single active relay through a Redis key.
//
// The holder writes a random token with SET NX PX and renews the expiry on every poll. A relay
// that stops polling loses the lease once the TTL elapses, so the TTL must be longer than the
// relay's idle interval.
package redislease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	outbox "github.com/velmie/txoutbox"
)

const (
	defaultKey = "outbox:relay:lease"
	defaultTTL = time.Minute
)

var (
	// ErrClientRequired is returned when a nil Redis client is provided.
	ErrClientRequired = errors.New("outbox redis lease: client is required")
	// ErrInvalidTTL is returned when the TTL is below one millisecond.
	ErrInvalidTTL = errors.New("outbox redis lease: ttl must be at least 1ms")
)

var acquireScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease implements outbox.Lease on Redis.
type Lease struct {
	client redis.Scripter
	key    string
	token  string
	ttl    time.Duration
}

var _ outbox.Lease = (*Lease)(nil)

// Option configures a Lease.
type Option func(*Lease)

// WithKey sets the Redis key shared by competing relays.
func WithKey(key string) Option {
	return func(l *Lease) {
		if key != "" {
			l.key = key
		}
	}
}

// WithTTL sets how long the lease survives without renewal.
func WithTTL(ttl time.Duration) Option {
	return func(l *Lease) {
		l.ttl = ttl
	}
}

// WithToken sets the holder identity. It defaults to a random UUID.
func WithToken(token string) Option {
	return func(l *Lease) {
		if token != "" {
			l.token = token
		}
	}
}

// New creates a lease bound to client.
func New(client redis.Scripter, opts ...Option) (*Lease, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	lease := &Lease{
		client: client,
		key:    defaultKey,
		token:  uuid.NewString(),
		ttl:    defaultTTL,
	}
	for _, opt := range opts {
		opt(lease)
	}
	if lease.ttl < time.Millisecond {
		return nil, ErrInvalidTTL
	}

	return lease, nil
}

// Token returns the holder identity written to Redis.
func (l *Lease) Token() string {
	return l.token
}

// Acquire obtains the lease or extends it when already held.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	held, err := acquireScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("outbox redis lease: acquire: %w", err)
	}

	return held == 1, nil
}

// Release deletes the key if this lease still holds it.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("outbox redis lease: release: %w", err)
	}

	return nil
}
