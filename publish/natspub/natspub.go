// Package natspub publishes outbox envelopes to NATS.
//
// The record ID travels in the Nats-Msg-Id header, which JetStream uses for de-duplication.
package natspub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/velmie/txoutbox/publish"
)

// ErrConnRequired is returned when a nil connection is provided.
var ErrConnRequired = errors.New("outbox nats: connection is required")

const (
	defaultPrefix   = "outbox"
	headerEventType = "Event-Type"
)

// Conn is the subset of *nats.Conn used by the publisher.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// Publisher sends each envelope to "<prefix>.<type key>".
type Publisher struct {
	conn   Conn
	prefix string
	flush  bool
}

var _ publish.Publisher = (*Publisher)(nil)

// Option configures a Publisher.
type Option func(*Publisher)

// WithSubjectPrefix sets the subject prefix. Defaults to "outbox".
func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) {
		p.prefix = prefix
	}
}

// WithFlush waits for the server to process each message before returning.
func WithFlush(enabled bool) Option {
	return func(p *Publisher) {
		p.flush = enabled
	}
}

// New creates a publisher on top of conn.
func New(conn Conn, opts ...Option) (*Publisher, error) {
	if conn == nil {
		return nil, ErrConnRequired
	}

	p := &Publisher{conn: conn, prefix: defaultPrefix, flush: true}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Subject returns the subject an envelope of typeKey is published to.
func (p *Publisher) Subject(typeKey string) string {
	if p.prefix == "" {
		return typeKey
	}

	return p.prefix + "." + typeKey
}

// Publish sends envelope.
func (p *Publisher) Publish(ctx context.Context, envelope publish.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("outbox nats: marshal envelope: %w", err)
	}

	msg := nats.NewMsg(p.Subject(envelope.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, envelope.ID)
	msg.Header.Set(headerEventType, envelope.Type)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("outbox nats: publish: %w", err)
	}
	if !p.flush {
		return nil
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("outbox nats: flush: %w", err)
	}

	return nil
}
