package outbox

import (
	"context"
	"time"
)

// Handler reacts to a materialized event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle implements Handler.
func (fn HandlerFunc) Handle(ctx context.Context, event Event) error {
	return fn(ctx, event)
}

// Dispatcher delivers an event to every interested handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, event Event) error

// Dispatch implements Dispatcher.
func (fn DispatcherFunc) Dispatch(ctx context.Context, event Event) error {
	return fn(ctx, event)
}

type recordIDKey struct{}

// WithRecordID stores the outbox record ID of the event being dispatched.
func WithRecordID(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, recordIDKey{}, id)
}

// RecordIDFromContext returns the outbox record ID of the event being dispatched.
// Handlers use it as an idempotency key.
func RecordIDFromContext(ctx context.Context) (ID, bool) {
	id, ok := ctx.Value(recordIDKey{}).(ID)

	return id, ok
}

type recordCreatedAtKey struct{}

// WithRecordCreatedAt stores the capture time of the record being dispatched.
func WithRecordCreatedAt(ctx context.Context, at time.Time) context.Context {
	return context.WithValue(ctx, recordCreatedAtKey{}, at)
}

// RecordCreatedAtFromContext returns the capture time of the record being dispatched. It is the
// same on every redelivery of the record.
func RecordCreatedAtFromContext(ctx context.Context) (time.Time, bool) {
	at, ok := ctx.Value(recordCreatedAtKey{}).(time.Time)

	return at, ok && !at.IsZero()
}
