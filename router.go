package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/velmie/txoutbox"

// RouterConfig configures a Router.
type RouterConfig struct {
	Timeout time.Duration
	Tracer  trace.Tracer
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.Tracer == nil {
		c.Tracer = noop.NewTracerProvider().Tracer(tracerName)
	}

	return c
}

// RouterOption configures a Router.
type RouterOption func(*RouterConfig)

// WithDispatchTimeout bounds the time spent dispatching one event to all its handlers.
func WithDispatchTimeout(timeout time.Duration) RouterOption {
	return func(c *RouterConfig) {
		c.Timeout = timeout
	}
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(tracer trace.Tracer) RouterOption {
	return func(c *RouterConfig) {
		c.Tracer = tracer
	}
}

// Router delivers events to the handlers registered for their type key.
//
// Delivery is all-or-nothing: every handler is invoked sequentially and if any of them fails
// the whole event fails and will be delivered again to every handler.
type Router struct {
	cfg RouterConfig

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewRouter constructs an empty Router.
func NewRouter(opts ...RouterOption) *Router {
	var cfg RouterConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Router{
		cfg:      cfg.withDefaults(),
		handlers: make(map[string][]Handler),
	}
}

// Handle registers a handler for typeKey.
func (r *Router) Handle(typeKey string, handler Handler) {
	if typeKey == "" {
		panic("outbox: empty type key")
	}
	if handler == nil {
		panic("outbox: nil Handler")
	}

	r.mu.Lock()
	r.handlers[typeKey] = append(r.handlers[typeKey], handler)
	r.mu.Unlock()
}

// HandleFunc registers a function for typeKey.
func (r *Router) HandleFunc(typeKey string, fn func(ctx context.Context, event Event) error) {
	if fn == nil {
		panic("outbox: nil Handler")
	}
	r.Handle(typeKey, HandlerFunc(fn))
}

// On registers a typed handler for the event type E.
func On[E Event](r *Router, fn func(ctx context.Context, event E) error) {
	if fn == nil {
		panic("outbox: nil Handler")
	}
	key := newEvent[E]().EventType()
	r.HandleFunc(key, func(ctx context.Context, event Event) error {
		typed, ok := event.(E)
		if !ok {
			return fmt.Errorf("%w: %s: got %T", ErrEventShapeMismatch, key, event)
		}

		return fn(ctx, typed)
	})
}

// HandlerCount returns the number of handlers registered for typeKey.
func (r *Router) HandlerCount(typeKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handlers[typeKey])
}

// Dispatch implements Dispatcher. An event without handlers is delivered successfully.
func (r *Router) Dispatch(ctx context.Context, event Event) error {
	if event == nil {
		return ErrNilEvent
	}
	key := event.EventType()

	r.mu.RLock()
	handlers := r.handlers[key]
	r.mu.RUnlock()

	attrs := []attribute.KeyValue{
		attribute.String("outbox.type_key", key),
		attribute.Int("outbox.handlers", len(handlers)),
	}
	if id, ok := RecordIDFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("outbox.record_id", id.String()))
	}
	ctx, span := r.cfg.Tracer.Start(ctx, "outbox.dispatch", trace.WithAttributes(attrs...))
	defer span.End()

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	var errs []error
	for i, handler := range handlers {
		if err := invoke(ctx, handler, event); err != nil {
			errs = append(errs, fmt.Errorf("handler %d for %s: %w", i, key, err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

func invoke(ctx context.Context, handler Handler, event Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()

	return handler.Handle(ctx, event)
}
