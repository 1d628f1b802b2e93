package outbox

import (
	"context"
	"time"
)

// Acker marks records processed outside of a relay batch.
type Acker interface {
	MarkProcessed(ctx context.Context, at time.Time, ids []ID) error
}

// FastPathConfig configures a FastPath.
type FastPathConfig struct {
	Clock   Clock
	Logger  Logger
	Metrics Metrics
}

func (c FastPathConfig) withDefaults() FastPathConfig {
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// FastPathOption configures a FastPath.
type FastPathOption func(*FastPathConfig)

// WithFastPathClock sets the clock used for processed_at.
func WithFastPathClock(clock Clock) FastPathOption {
	return func(c *FastPathConfig) {
		c.Clock = clock
	}
}

// WithFastPathLogger sets the fast path logger.
func WithFastPathLogger(logger Logger) FastPathOption {
	return func(c *FastPathConfig) {
		c.Logger = logger
	}
}

// WithFastPathMetrics sets the fast path metrics recorder.
func WithFastPathMetrics(metrics Metrics) FastPathOption {
	return func(c *FastPathConfig) {
		c.Metrics = metrics
	}
}

// FastPath dispatches freshly committed events in-process, right after the commit.
//
// Delivered records are marked processed so the relay skips them. Failures are only logged:
// the outbox row stays pending and the relay delivers it later.
type FastPath struct {
	dispatcher Dispatcher
	cfg        FastPathConfig
}

// NewFastPath constructs a FastPath around a dispatcher.
func NewFastPath(dispatcher Dispatcher, opts ...FastPathOption) *FastPath {
	if dispatcher == nil {
		panic("outbox: nil Dispatcher")
	}

	var cfg FastPathConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &FastPath{dispatcher: dispatcher, cfg: cfg.withDefaults()}
}

// Deliver dispatches the captured events in order and marks the successful ones processed
// through acker. A nil acker leaves every row to the relay. It returns the number of records
// marked processed.
func (f *FastPath) Deliver(ctx context.Context, acker Acker, captured []Captured) int {
	delivered := make([]ID, 0, len(captured))
	for i := range captured {
		if ctx.Err() != nil {
			break
		}
		item := captured[i]
		dispatchCtx := WithRecordCreatedAt(WithRecordID(ctx, item.Entry.ID), item.Entry.CreatedAt)
		if err := f.dispatcher.Dispatch(dispatchCtx, item.Event); err != nil {
			f.cfg.Logger.Warn("outbox fast path dispatch failed",
				"id", item.Entry.ID, "type_key", item.Entry.TypeKey, "err", err)

			continue
		}
		delivered = append(delivered, item.Entry.ID)
	}

	if len(delivered) == 0 || acker == nil {
		return 0
	}

	if err := acker.MarkProcessed(context.WithoutCancel(ctx), f.cfg.Clock.Now(), delivered); err != nil {
		f.cfg.Logger.Warn("outbox fast path ack failed", "count", len(delivered), "err", err)

		return 0
	}
	f.cfg.Metrics.AddFastPath(len(delivered))

	return len(delivered)
}
