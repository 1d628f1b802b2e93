package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Relay polls a Consumer, resolves every record to an event and hands it to a Dispatcher.
type Relay struct {
	consumer   Consumer
	resolver   Resolver
	dispatcher Dispatcher
	cfg        RelayConfig

	// wait suspends the worker between polls, replaced in tests.
	wait func(ctx context.Context, d time.Duration) error

	pendingMu sync.Mutex
	pendingAt time.Time
}

type batchOutcome struct {
	successful []ID
	failed     []Failure
	dead       []Failure
	skipped    int
}

type pollResult int

const (
	pollIdle pollResult = iota
	pollBusy
	pollFailed
	pollStandby
)

// NewRelay constructs a Relay with defaults and optional settings.
func NewRelay(consumer Consumer, resolver Resolver, dispatcher Dispatcher, opts ...RelayOption) *Relay {
	if consumer == nil {
		panic("outbox: nil Consumer")
	}
	if resolver == nil {
		panic("outbox: nil Resolver")
	}
	if dispatcher == nil {
		panic("outbox: nil Dispatcher")
	}

	var cfg RelayConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Relay{
		consumer:   consumer,
		resolver:   resolver,
		dispatcher: dispatcher,
		cfg:        cfg,
		wait:       sleep,
	}
}

// Config returns the effective relay configuration.
func (r *Relay) Config() RelayConfig {
	return r.cfg
}

// Run starts the polling loop with the configured number of workers and blocks until ctx is
// cancelled. Store errors never stop the loop; they are logged and retried with backoff.
// Run returns nil on cancellation.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.cfg.Lease != nil {
		defer func() {
			if err := r.cfg.Lease.Release(context.WithoutCancel(ctx)); err != nil {
				r.cfg.Logger.Warn("outbox lease release failed", "err", err)
			}
		}()
	}

	errCh := make(chan error, r.cfg.Workers)
	var wg sync.WaitGroup

	r.cfg.Logger.Info("outbox relay started",
		"workers", r.cfg.Workers, "batch_size", r.cfg.BatchSize,
		"poll_interval", r.cfg.PollInterval, "idle_interval", r.cfg.IdleInterval)

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
					r.cfg.Logger.Error("outbox worker panic", "worker", workerID, "panic", rec)
					errCh <- err
					cancel()
				}
			}()

			if err := r.runWorker(ctx, workerID); err != nil && !errors.Is(err, context.Canceled) {
				r.cfg.Logger.Error("outbox worker error", "worker", workerID, "err", err)
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)
	r.cfg.Logger.Info("outbox relay stopped")

	if err := <-errCh; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// ProcessOnce runs a single poll cycle. It reports whether a batch was processed.
func (r *Relay) ProcessOnce(ctx context.Context) (bool, error) {
	result, err := r.poll(ctx)

	return result == pollBusy, err
}

func (r *Relay) runWorker(ctx context.Context, workerID int) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := r.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			r.cfg.Metrics.AddPollErrors(1)
			r.cfg.Logger.Error("outbox poll failed", "worker", workerID, "attempt", failures, "err", err)
		} else {
			failures = 0
		}

		if err := r.wait(ctx, r.nextDelay(result, failures)); err != nil {
			return err
		}
	}
}

func (r *Relay) nextDelay(result pollResult, failures int) time.Duration {
	switch result {
	case pollBusy:
		return r.cfg.PollInterval
	case pollFailed:
		return r.errorBackoff(failures)
	default:
		return r.cfg.IdleInterval
	}
}

func (r *Relay) errorBackoff(failures int) time.Duration {
	delay := r.cfg.ErrorBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= r.cfg.MaxErrorBackoff {
			return r.cfg.MaxErrorBackoff
		}
	}

	return delay
}

func (r *Relay) poll(ctx context.Context) (pollResult, error) {
	if r.cfg.Lease != nil {
		held, err := r.cfg.Lease.Acquire(ctx)
		if err != nil {
			return pollFailed, fmt.Errorf("outbox lease acquire failed: %w", err)
		}
		if !held {
			r.cfg.Logger.Debug("outbox lease held elsewhere")

			return pollStandby, nil
		}
	}

	batch, err := r.consumer.Fetch(ctx, FetchOptions{BatchSize: r.cfg.BatchSize})
	if err != nil {
		if errors.Is(err, ErrNoRecords) {
			r.maybeRecordPending(ctx)

			return pollIdle, nil
		}

		return pollFailed, fmt.Errorf("outbox fetch failed: %w", err)
	}

	if err := r.processBatch(ctx, batch); err != nil {
		return pollFailed, err
	}

	return pollBusy, nil
}

func (r *Relay) processBatch(ctx context.Context, batch Batch) error {
	start := time.Now()
	defer func() {
		r.cfg.Metrics.ObserveBatchDuration(time.Since(start))
	}()

	if batch == nil {
		return ErrNilBatch
	}

	records := batch.Records()
	if len(records) == 0 {
		rollbackErr := batch.Rollback()

		return errors.Join(ErrEmptyBatch, rollbackErr)
	}

	outcome := r.collectBatchResults(ctx, records)

	return r.applyBatchResults(ctx, batch, outcome)
}

// collectBatchResults processes records in order until ctx is cancelled. The record in flight
// when cancellation happens runs to completion; the rest stay untouched.
func (r *Relay) collectBatchResults(ctx context.Context, records []Record) batchOutcome {
	outcome := batchOutcome{
		successful: make([]ID, 0, len(records)),
	}
	for i := range records {
		if ctx.Err() != nil {
			r.cfg.Logger.Info("outbox batch interrupted", "remaining", len(records)-i)

			break
		}
		r.processRecord(ctx, records[i], &outcome)
	}

	return outcome
}

func (r *Relay) processRecord(ctx context.Context, record Record, outcome *batchOutcome) {
	event, err := r.resolver.Decode(record.TypeKey, record.Payload)
	if err != nil {
		if r.cfg.DeadLetterUnresolvable {
			r.cfg.Logger.Warn("outbox record unresolvable, dead-lettering",
				"id", record.ID, "type_key", record.TypeKey, "err", err)
			outcome.dead = append(outcome.dead, Failure{ID: record.ID, Err: err})

			return
		}
		r.cfg.Logger.Warn("outbox record unresolvable, skipping",
			"id", record.ID, "type_key", record.TypeKey, "err", err)
		outcome.skipped++

		return
	}

	handleCtx := WithRecordCreatedAt(WithRecordID(context.WithoutCancel(ctx), record.ID), record.CreatedAt)
	cancel := func() {}
	if r.cfg.HandlerTimeout > 0 {
		handleCtx, cancel = context.WithTimeout(handleCtx, r.cfg.HandlerTimeout)
	}
	err = r.dispatcher.Dispatch(handleCtx, event)
	cancel()

	if err != nil {
		r.recordFailure(ctx, record, err, outcome)

		return
	}
	outcome.successful = append(outcome.successful, record.ID)
}

func (r *Relay) recordFailure(ctx context.Context, record Record, err error, outcome *batchOutcome) {
	r.cfg.Logger.Warn("outbox dispatch failed",
		"id", record.ID, "type_key", record.TypeKey, "retry_count", record.RetryCount, "err", err)
	if r.cfg.ErrorHandler != nil {
		r.cfg.ErrorHandler(ctx, record, err)
	}

	switch r.cfg.FailureClassifier(ctx, record, err) {
	case FailureDead:
		outcome.dead = append(outcome.dead, Failure{ID: record.ID, Err: err})

		return
	case FailureDefer:
		outcome.skipped++

		return
	}
	outcome.failed = append(outcome.failed, Failure{ID: record.ID, Err: err})
}

// applyBatchResults flushes all outcomes in the batch transaction. It runs detached from ctx
// cancellation so that a shutdown never drops outcomes already produced.
func (r *Relay) applyBatchResults(ctx context.Context, batch Batch, outcome batchOutcome) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.FlushTimeout)
	defer cancel()

	at := r.cfg.Clock.Now()
	if len(outcome.successful) > 0 {
		if err := batch.Ack(ctx, at, outcome.successful); err != nil {
			return r.rollbackWith(batch, fmt.Errorf("outbox ack failed: %w", err))
		}
	}
	if len(outcome.failed) > 0 {
		if err := batch.Fail(ctx, at, outcome.failed); err != nil {
			return r.rollbackWith(batch, fmt.Errorf("outbox fail update failed: %w", err))
		}
	}
	if len(outcome.dead) > 0 {
		if err := r.handleDead(ctx, batch, at, outcome.dead); err != nil {
			return err
		}
	}

	if err := batch.Commit(); err != nil {
		return r.rollbackWith(batch, fmt.Errorf("outbox commit failed: %w", err))
	}

	r.cfg.Metrics.AddProcessed(len(outcome.successful))
	r.cfg.Metrics.AddErrors(len(outcome.failed) + len(outcome.dead))
	r.cfg.Metrics.AddRetries(len(outcome.failed))
	r.cfg.Metrics.AddDead(len(outcome.dead))
	r.cfg.Metrics.AddSkipped(outcome.skipped)

	return nil
}

func (r *Relay) handleDead(ctx context.Context, batch Batch, at time.Time, dead []Failure) error {
	deadBatch, ok := batch.(DeadBatch)
	if ok {
		if err := deadBatch.Dead(ctx, at, dead); err != nil {
			return r.rollbackWith(batch, fmt.Errorf("outbox dead-letter update failed: %w", err))
		}

		return nil
	}

	r.cfg.Logger.Warn("outbox batch does not support dead-lettering; falling back to retry", "count", len(dead))
	if err := batch.Fail(ctx, at, dead); err != nil {
		return r.rollbackWith(batch, fmt.Errorf("outbox dead-letter fallback failed: %w", err))
	}

	return nil
}

func (r *Relay) rollbackWith(batch Batch, err error) error {
	rollbackErr := batch.Rollback()
	if rollbackErr == nil {
		return err
	}

	return errors.Join(err, fmt.Errorf("outbox rollback failed: %w", rollbackErr))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Relay) maybeRecordPending(ctx context.Context) {
	counter, ok := r.consumer.(PendingCounter)
	if !ok {
		return
	}
	if r.cfg.PendingInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := r.cfg.Clock.Now()
	r.pendingMu.Lock()
	nextAllowed := r.pendingAt.Add(r.cfg.PendingInterval)
	if !r.pendingAt.IsZero() && now.Before(nextAllowed) {
		r.pendingMu.Unlock()

		return
	}
	r.pendingAt = now
	r.pendingMu.Unlock()

	count, err := counter.PendingCount(ctx)
	if err != nil {
		r.cfg.Logger.Warn("outbox pending count failed", "err", err)

		return
	}

	r.cfg.Metrics.SetPending(count)
}
