// Package publish forwards dispatched events to an external broker.
//
// A Publisher receives an Envelope carrying the outbox record ID, so consumers can drop
// duplicates caused by at-least-once delivery.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	outbox "github.com/velmie/txoutbox"
)

var (
	// ErrRecordIDMissing is returned when the dispatch context carries no record ID.
	ErrRecordIDMissing = errors.New("outbox publish: record id missing from context")
	// ErrPublisherRequired is returned when a nil publisher is provided.
	ErrPublisherRequired = errors.New("outbox publish: publisher is required")
)

// Envelope is the broker message built from one event. OccurredAt is the capture time of the
// outbox record, so every redelivery carries the same value.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher writes envelopes to a broker.
type Publisher interface {
	Publish(ctx context.Context, envelope Envelope) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, envelope Envelope) error

// Publish calls fn(ctx, envelope).
func (fn PublisherFunc) Publish(ctx context.Context, envelope Envelope) error {
	return fn(ctx, envelope)
}

// NewEnvelope builds the envelope of event using the record ID and capture time attached to
// ctx. fallback is used as OccurredAt when ctx carries no capture time.
func NewEnvelope(ctx context.Context, event outbox.Event, fallback time.Time) (Envelope, error) {
	id, ok := outbox.RecordIDFromContext(ctx)
	if !ok {
		return Envelope{}, ErrRecordIDMissing
	}
	occurredAt, ok := outbox.RecordCreatedAtFromContext(ctx)
	if !ok {
		occurredAt = fallback
	}
	payload, err := outbox.JSONEncoder(event)
	if err != nil {
		return Envelope{}, outbox.Permanent(fmt.Errorf("outbox publish: encode %s: %w", event.EventType(), err))
	}

	return Envelope{
		ID:         id.String(),
		Type:       event.EventType(),
		OccurredAt: occurredAt.UTC(),
		Payload:    payload,
	}, nil
}

// Forwarder is an outbox.Handler that publishes every event it receives.
type Forwarder struct {
	publisher Publisher
	clock     outbox.Clock
}

var _ outbox.Handler = (*Forwarder)(nil)

// NewForwarder wraps publisher. clock stamps events dispatched without a record capture time;
// a nil clock uses the system clock.
func NewForwarder(publisher Publisher, clock outbox.Clock) (*Forwarder, error) {
	if publisher == nil {
		return nil, ErrPublisherRequired
	}
	if clock == nil {
		clock = outbox.SystemClock{}
	}

	return &Forwarder{publisher: publisher, clock: clock}, nil
}

// Handle publishes event.
func (f *Forwarder) Handle(ctx context.Context, event outbox.Event) error {
	envelope, err := NewEnvelope(ctx, event, f.clock.Now())
	if err != nil {
		return err
	}

	return f.publisher.Publish(ctx, envelope)
}

// Forward registers one forwarder for every type key.
func Forward(router *outbox.Router, publisher Publisher, typeKeys ...string) error {
	forwarder, err := NewForwarder(publisher, nil)
	if err != nil {
		return err
	}
	for _, key := range typeKeys {
		router.Handle(key, forwarder)
	}

	return nil
}
