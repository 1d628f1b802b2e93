package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type testEvent struct {
	Name string `json:"name"`
}

func (testEvent) EventType() string { return "TestEvent" }

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type sequenceClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *sequenceClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.times) == 0 {
		return time.Time{}
	}
	now := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return now
}

func testRecord(id byte) Record {
	return Record{ID: ID{id}, TypeKey: "TestEvent", Payload: json.RawMessage(`{"name":"test"}`)}
}

func testRegistry(t testing.TB) *Registry {
	t.Helper()
	reg := NewRegistry()
	if err := Register[testEvent](reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func okDispatcher() Dispatcher {
	return DispatcherFunc(func(context.Context, Event) error { return nil })
}

type staticConsumer struct {
	batch Batch
	err   error
}

func (c staticConsumer) Fetch(_ context.Context, _ FetchOptions) (Batch, error) {
	return c.batch, c.err
}

type fakeBatch struct {
	records   []Record
	ackIDs    []ID
	ackAt     time.Time
	failures  []Failure
	dead      []Failure
	committed bool
	rolled    bool
	ackErr    error
	failErr   error
	deadErr   error
	commitErr error
	rollErr   error
}

func (b *fakeBatch) Records() []Record {
	return b.records
}

func (b *fakeBatch) Ack(_ context.Context, at time.Time, ids []ID) error {
	b.ackAt = at
	b.ackIDs = append(b.ackIDs, ids...)
	return b.ackErr
}

func (b *fakeBatch) Fail(_ context.Context, _ time.Time, failures []Failure) error {
	b.failures = append(b.failures, failures...)
	return b.failErr
}

func (b *fakeBatch) Dead(_ context.Context, _ time.Time, failures []Failure) error {
	b.dead = append(b.dead, failures...)
	return b.deadErr
}

func (b *fakeBatch) Commit() error {
	b.committed = true
	return b.commitErr
}

func (b *fakeBatch) Rollback() error {
	b.rolled = true
	return b.rollErr
}

// fakeBatchNoDead hides Dead so the relay has to fall back to Fail.
type fakeBatchNoDead struct {
	inner *fakeBatch
}

func (b fakeBatchNoDead) Records() []Record { return b.inner.Records() }
func (b fakeBatchNoDead) Ack(ctx context.Context, at time.Time, ids []ID) error {
	return b.inner.Ack(ctx, at, ids)
}
func (b fakeBatchNoDead) Fail(ctx context.Context, at time.Time, failures []Failure) error {
	return b.inner.Fail(ctx, at, failures)
}
func (b fakeBatchNoDead) Commit() error   { return b.inner.Commit() }
func (b fakeBatchNoDead) Rollback() error { return b.inner.Rollback() }

type scriptedConsumer struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (c *scriptedConsumer) Fetch(_ context.Context, _ FetchOptions) (Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.errs) == 0 {
		return nil, ErrNoRecords
	}
	err := c.errs[0]
	c.errs = c.errs[1:]
	return nil, err
}

type panicConsumer struct{}

func (panicConsumer) Fetch(context.Context, FetchOptions) (Batch, error) {
	panic("fetch exploded")
}

type pendingConsumer struct {
	count int
	calls int
}

func (c *pendingConsumer) Fetch(_ context.Context, _ FetchOptions) (Batch, error) {
	return nil, ErrNoRecords
}

func (c *pendingConsumer) PendingCount(_ context.Context) (int, error) {
	c.calls++
	return c.count, nil
}

type fakeLease struct {
	held     bool
	err      error
	acquired int
	released int
}

func (l *fakeLease) Acquire(context.Context) (bool, error) {
	l.acquired++
	return l.held, l.err
}

func (l *fakeLease) Release(context.Context) error {
	l.released++
	return nil
}

type captureMetrics struct {
	NopMetrics
	processed    int
	skipped      int
	dead         int
	pollErrors   int
	fastPath     int
	pending      int
	pendingCalls int
}

func (m *captureMetrics) AddProcessed(count int)  { m.processed += count }
func (m *captureMetrics) AddSkipped(count int)    { m.skipped += count }
func (m *captureMetrics) AddDead(count int)       { m.dead += count }
func (m *captureMetrics) AddPollErrors(count int) { m.pollErrors += count }
func (m *captureMetrics) AddFastPath(count int)   { m.fastPath += count }
func (m *captureMetrics) SetPending(count int) {
	m.pending = count
	m.pendingCalls++
}

// recordWaits replaces the relay sleep, recording delays and cancelling after limit waits.
func recordWaits(relay *Relay, cancel context.CancelFunc, limit int) *[]time.Duration {
	var waits []time.Duration
	relay.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) >= limit {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	return &waits
}

func TestRelayProcessOnce(t *testing.T) {
	records := []Record{testRecord(1), testRecord(2), testRecord(3)}
	batch := &fakeBatch{records: records}
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	dispatcher := DispatcherFunc(func(ctx context.Context, _ Event) error {
		id, _ := RecordIDFromContext(ctx)
		if id == (ID{2}) {
			return errors.New("fail")
		}
		return nil
	})

	relay := NewRelay(staticConsumer{batch: batch}, testRegistry(t), dispatcher, WithClock(fixedClock{now: now}))
	ok, err := relay.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if !ok {
		t.Fatalf("expected batch to be processed")
	}
	if len(batch.ackIDs) != 2 {
		t.Fatalf("expected 2 ack ids, got %d", len(batch.ackIDs))
	}
	if !batch.ackAt.Equal(now) {
		t.Fatalf("expected ack time %v, got %v", now, batch.ackAt)
	}
	if len(batch.failures) != 1 || batch.failures[0].ID != (ID{2}) {
		t.Fatalf("expected failure for record 2, got %+v", batch.failures)
	}
	if !batch.committed {
		t.Fatalf("expected commit")
	}
}

func TestRelayPassesRecordCreatedAtToHandlers(t *testing.T) {
	createdAt := time.Date(2025, 2, 1, 8, 30, 0, 0, time.UTC)
	record := testRecord(1)
	record.CreatedAt = createdAt
	record.RetryCount = 3
	batch := &fakeBatch{records: []Record{record}}

	var got time.Time
	dispatcher := DispatcherFunc(func(ctx context.Context, _ Event) error {
		at, ok := RecordCreatedAtFromContext(ctx)
		if !ok {
			t.Fatalf("expected record created_at in context")
		}
		got = at
		return nil
	})

	relay := NewRelay(staticConsumer{}, testRegistry(t), dispatcher,
		WithClock(fixedClock{now: createdAt.Add(time.Hour)}))
	if err := relay.processBatch(context.Background(), batch); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if !got.Equal(createdAt) {
		t.Fatalf("expected created_at %v, got %v", createdAt, got)
	}
}

func TestRelayDispatchesDecodedEventsInOrder(t *testing.T) {
	records := []Record{testRecord(1), testRecord(2), testRecord(3)}
	records[1].Payload = json.RawMessage(`{"name":"second"}`)
	batch := &fakeBatch{records: records}

	var seen []ID
	var names []string
	dispatcher := DispatcherFunc(func(ctx context.Context, event Event) error {
		id, ok := RecordIDFromContext(ctx)
		if !ok {
			t.Fatalf("expected record id in context")
		}
		seen = append(seen, id)
		names = append(names, event.(testEvent).Name)
		return nil
	})

	relay := NewRelay(staticConsumer{}, testRegistry(t), dispatcher)
	if err := relay.processBatch(context.Background(), batch); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(seen) != 3 || seen[0] != (ID{1}) || seen[1] != (ID{2}) || seen[2] != (ID{3}) {
		t.Fatalf("unexpected dispatch order: %v", seen)
	}
	if names[1] != "second" {
		t.Fatalf("expected decoded payload, got %q", names[1])
	}
}

func TestRelayFailureHandlerCalled(t *testing.T) {
	batch := &fakeBatch{records: []Record{testRecord(1)}}
	var calls int
	relay := NewRelay(staticConsumer{}, testRegistry(t), DispatcherFunc(func(context.Context, Event) error {
		return errors.New("boom")
	}), WithErrorHandler(func(context.Context, Record, error) {
		calls++
	}))

	if err := relay.processBatch(context.Background(), batch); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected failure handler to be called once, got %d", calls)
	}
}

func TestRelayProcessBatchCanceledBeforeFirstRecord(t *testing.T) {
	batch := &fakeBatch{records: []Record{testRecord(1), testRecord(2)}}
	var calls int
	relay := NewRelay(staticConsumer{}, testRegistry(t), DispatcherFunc(func(context.Context, Event) error {
		calls++
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := relay.processBatch(ctx, batch); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no dispatch after cancellation, got %d", calls)
	}
	if len(batch.ackIDs) != 0 || len(batch.failures) != 0 {
		t.Fatalf("expected records to stay untouched")
	}
	if !batch.committed {
		t.Fatalf("expected batch to be committed to release locks")
	}
}

func TestRelayFinishesCurrentRecordOnCancel(t *testing.T) {
	batch := &fakeBatch{records: []Record{testRecord(1), testRecord(2), testRecord(3)}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	relay := NewRelay(staticConsumer{}, testRegistry(t), DispatcherFunc(func(handleCtx context.Context, _ Event) error {
		calls++
		cancel()
		return handleCtx.Err()
	}))

	if err := relay.processBatch(ctx, batch); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected only the in-flight record to be dispatched, got %d", calls)
	}
	if len(batch.ackIDs) != 1 || batch.ackIDs[0] != (ID{1}) {
		t.Fatalf("expected in-flight record to be acked, got %v", batch.ackIDs)
	}
	if !batch.committed {
		t.Fatalf("expected commit")
	}
}

func TestRelayProcessBatchAckErrorRollback(t *testing.T) {
	batch := &fakeBatch{records: []Record{testRecord(1)}, ackErr: errors.New("ack fail")}
	relay := NewRelay(staticConsumer{}, testRegistry(t), okDispatcher())

	err := relay.processBatch(context.Background(), batch)
	if err == nil || !errors.Is(err, batch.ackErr) {
		t.Fatalf("expected ack error, got %v", err)
	}
	if !batch.rolled {
		t.Fatalf("expected rollback on ack error")
	}
	if batch.committed {
		t.Fatalf("expected no commit on ack error")
	}
}

func TestRelayProcessBatchFailErrorRollback(t *testing.T) {
	batch := &fakeBatch{records: []Record{testRecord(1)}, failErr: errors.New("fail update")}
	relay := NewRelay(staticConsumer{}, testRegistry(t), DispatcherFunc(func(context.Context, Event) error {
		return errors.New("boom")
	}))

	err := relay.processBatch(context.Background(), batch)
	if err == nil || !errors.Is(err, batch.failErr) {
		t.Fatalf("expected fail error, got %v", err)
	}
	if !batch.rolled {
		t.Fatalf("expected rollback on fail error")
	}
	if batch.committed {
		t.Fatalf("expected no commit on fail error")
	}
}

func TestRelayProcessBatchCommitErrorRollback(t *testing.T) {
	batch := &fakeBatch{records: []Record{testRecord(1)}, commitErr: errors.New("commit fail")}
	batch.rollErr = errors.New("rollback fail")
	relay := NewRelay(staticConsumer{}, testRegistry(t), okDispatcher())

	err := relay.processBatch(context.Background(), batch)
	if !errors.Is(err, batch.commitErr) || !errors.Is(err, batch.rollErr) {
		t.Fatalf("expected commit and rollback errors, got %v", err)
	}
	if !batch.committed {
		t.Fatalf("expected commit to be attempted")
	}
}

func TestRelayProcessBatchDeadClassifier(t *testing.T) {
	batch := &fakeBatch{records: []Record{testRecord(1), testRecord(2)}}
	relay := NewRelay(staticConsumer{}, testRegistry(t), DispatcherFunc(func(ctx context.Context, _ Event) error {
		if id, _ := RecordIDFromContext(ctx); id == (ID{2}) {
			return errors.New("boom")
		}
		return nil
	}), WithFailureClassifier(func(context.Context, Record, error) FailureAction {
		return FailureDead
	}))

	if err := relay.processBatch(context.Background(), batch); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(batch.dead) != 1 {
		t.Fatalf("expected 1 dead failure, got %d", len(batch.dead))
	}
	if len(batch.failures) != 0 {
		t.Fatalf("expected no retry failures, got %d", len(batch.failures))
	}
	if len(batch.ackIDs) != 1 {
		t.Fatalf("expected 1 ack id, got %d", len(batch.ackIDs))
	}
}

func TestRelayPermanentErrorDeadLettered(t *testing.T) {
	batch := &fakeBatch{records: []Record{testRecord(1)}}
	relay := NewRelay(staticConsumer{}, testRegistry(t), DispatcherFunc(func(context.Context, Event) error {
		return Permanent(errors.New("rejected"))
	}))

	if err := relay.processBatch(context.Background(), batch); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(batch.dead) != 1 || len(batch.failures) != 0 {
		t.Fatalf("expected permanent error to dead-letter, got dead=%d failed=%d", len(batch.dead), len(batch.failures))
	}
}

func TestRelayDeferredErrorLeavesRecordPending(t *testing.T) {
	batch := &fakeBatch{records: []Record{testRecord(1), testRecord(2)}}
	metrics := &captureMetrics{}
	relay := NewRelay(staticConsumer{}, testRegistry(t), DispatcherFunc(func(ctx context.Context, _ Event) error {
		if id, _ := RecordIDFromContext(ctx); id == (ID{1}) {
			return Deferred(errors.New("breaker open"))
		}
		return nil
	}), WithMetrics(metrics))

	if err := relay.processBatch(context.Background(), batch); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(batch.failures) != 0 || len(batch.dead) != 0 {
		t.Fatalf("expected deferred record untouched, got failed=%d dead=%d", len(batch.failures), len(batch.dead))
	}
	if len(batch.ackIDs) != 1 || batch.ackIDs[0] != (ID{2}) {
		t.Fatalf("expected only record 2 acked, got %v", batch.ackIDs)
	}
	if metrics.skipped != 1 {
		t.Fatalf("expected 1 skipped, got %d", metrics.skipped)
	}
	if !batch.committed {
		t.Fatalf("expected commit")
	}
}

func TestRelayProcessBatchDeadFallback(t *testing.T) {
	inner := &fakeBatch{records: []Record{testRecord(1)}}
	relay := NewRelay(staticConsumer{}, testRegistry(t), DispatcherFunc(func(context.Context, Event) error {
		return errors.New("boom")
	}), WithFailureClassifier(func(context.Context, Record, error) FailureAction {
		return FailureDead
	}))

	if err := relay.processBatch(context.Background(), fakeBatchNoDead{inner: inner}); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(inner.failures) != 1 {
		t.Fatalf("expected 1 failure fallback, got %d", len(inner.failures))
	}
	if !inner.committed {
		t.Fatalf("expected commit")
	}
}

func TestRelayUnresolvableRecordSkipped(t *testing.T) {
	unknown := Record{ID: ID{1}, TypeKey: "Unknown", Payload: json.RawMessage(`{}`)}
	broken := Record{ID: ID{2}, TypeKey: "TestEvent", Payload: json.RawMessage(`{"name":1}`)}
	batch := &fakeBatch{records: []Record{unknown, broken, testRecord(3)}}
	metrics := &captureMetrics{}

	var calls int
	relay := NewRelay(staticConsumer{}, testRegistry(t), DispatcherFunc(func(context.Context, Event) error {
		calls++
		return nil
	}), WithMetrics(metrics))

	if err := relay.processBatch(context.Background(), batch); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected only the resolvable record to be dispatched, got %d", calls)
	}
	if len(batch.failures) != 0 || len(batch.dead) != 0 {
		t.Fatalf("expected unresolvable records to stay untouched")
	}
	if len(batch.ackIDs) != 1 || batch.ackIDs[0] != (ID{3}) {
		t.Fatalf("expected record 3 acked, got %v", batch.ackIDs)
	}
	if metrics.skipped != 2 {
		t.Fatalf("expected 2 skipped, got %d", metrics.skipped)
	}
}

func TestRelayUnresolvableRecordDeadLettered(t *testing.T) {
	batch := &fakeBatch{records: []Record{{ID: ID{1}, TypeKey: "Unknown", Payload: json.RawMessage(`{}`)}}}
	relay := NewRelay(staticConsumer{}, testRegistry(t), okDispatcher(), WithDeadLetterUnresolvable(true))

	if err := relay.processBatch(context.Background(), batch); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(batch.dead) != 1 || !errors.Is(batch.dead[0].Err, ErrUnknownEventType) {
		t.Fatalf("expected unknown type dead-lettered, got %+v", batch.dead)
	}
}

func TestRelayHandlerTimeoutApplied(t *testing.T) {
	batch := &fakeBatch{records: []Record{testRecord(1)}}
	deadlineCh := make(chan time.Time, 1)
	relay := NewRelay(staticConsumer{}, testRegistry(t), DispatcherFunc(func(ctx context.Context, _ Event) error {
		if deadline, ok := ctx.Deadline(); ok {
			deadlineCh <- deadline
		} else {
			deadlineCh <- time.Time{}
		}
		return nil
	}), WithHandlerTimeout(10*time.Millisecond))

	if err := relay.processBatch(context.Background(), batch); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	deadline := <-deadlineCh
	if deadline.IsZero() {
		t.Fatalf("expected handler deadline")
	}
}

func TestRelayProcessOnceNoRecords(t *testing.T) {
	relay := NewRelay(staticConsumer{err: ErrNoRecords}, testRegistry(t), okDispatcher())
	ok, err := relay.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if ok {
		t.Fatalf("expected no batch")
	}
}

func TestRelayProcessBatchEmpty(t *testing.T) {
	batch := &fakeBatch{}
	relay := NewRelay(staticConsumer{}, testRegistry(t), okDispatcher())

	err := relay.processBatch(context.Background(), batch)
	if !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
	if !batch.rolled {
		t.Fatalf("expected rollback on empty batch")
	}
}

func TestRelayProcessBatchNil(t *testing.T) {
	relay := NewRelay(staticConsumer{}, testRegistry(t), okDispatcher())

	err := relay.processBatch(context.Background(), nil)
	if !errors.Is(err, ErrNilBatch) {
		t.Fatalf("expected ErrNilBatch, got %v", err)
	}
}

func TestRelayDefaults(t *testing.T) {
	cfg := NewRelay(staticConsumer{}, testRegistry(t), okDispatcher()).Config()
	if cfg.BatchSize != 100 {
		t.Fatalf("expected batch size 100, got %d", cfg.BatchSize)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Fatalf("expected poll interval 10s, got %v", cfg.PollInterval)
	}
	if cfg.IdleInterval != 30*time.Second {
		t.Fatalf("expected idle interval 30s, got %v", cfg.IdleInterval)
	}
	if cfg.ErrorBackoff != cfg.IdleInterval {
		t.Fatalf("expected error backoff to default to idle interval, got %v", cfg.ErrorBackoff)
	}
}

func TestRelayIdleBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := NewRelay(staticConsumer{err: ErrNoRecords}, testRegistry(t), okDispatcher(),
		WithPollInterval(time.Second), WithIdleInterval(5*time.Second))
	waits := recordWaits(relay, cancel, 2)

	if err := relay.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, d := range *waits {
		if d != 5*time.Second {
			t.Fatalf("expected idle interval 5s, got %v", d)
		}
	}
}

func TestRelayPollIntervalAfterBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batch := &fakeBatch{records: []Record{testRecord(1)}}
	relay := NewRelay(staticConsumer{batch: batch}, testRegistry(t), okDispatcher(),
		WithPollInterval(time.Second), WithIdleMultiplier(4))
	waits := recordWaits(relay, cancel, 1)

	if err := relay.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if (*waits)[0] != time.Second {
		t.Fatalf("expected poll interval after batch, got %v", (*waits)[0])
	}
	if relay.Config().IdleInterval != 4*time.Second {
		t.Fatalf("expected idle interval derived from multiplier, got %v", relay.Config().IdleInterval)
	}
}

func TestRelayStoreErrorsBackOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storeErr := errors.New("connection refused")
	consumer := &scriptedConsumer{errs: []error{storeErr, storeErr, storeErr, storeErr}}
	metrics := &captureMetrics{}
	relay := NewRelay(consumer, testRegistry(t), okDispatcher(),
		WithPollInterval(time.Second),
		WithIdleInterval(3*time.Second),
		WithErrorBackoff(time.Second, 5*time.Second),
		WithMetrics(metrics),
	)
	waits := recordWaits(relay, cancel, 5)

	if err := relay.Run(ctx); err != nil {
		t.Fatalf("expected store errors not to stop the relay, got %v", err)
	}
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 3 * time.Second}
	for i, d := range expected {
		if (*waits)[i] != d {
			t.Fatalf("wait %d: expected %v, got %v", i, d, (*waits)[i])
		}
	}
	if metrics.pollErrors != 4 {
		t.Fatalf("expected 4 poll errors, got %d", metrics.pollErrors)
	}
}

func TestRelayStoreErrorBackoffOutlastsIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := NewRelay(staticConsumer{err: errors.New("db down")}, testRegistry(t), okDispatcher())
	waits := recordWaits(relay, cancel, 2)

	if err := relay.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	cfg := relay.Config()
	if (*waits)[0] < cfg.IdleInterval {
		t.Fatalf("expected first store error wait of at least %v, got %v", cfg.IdleInterval, (*waits)[0])
	}
	if (*waits)[1] != 2*(*waits)[0] {
		t.Fatalf("expected second wait to double to %v, got %v", 2*(*waits)[0], (*waits)[1])
	}
}

func TestRelayRunContextCancel(t *testing.T) {
	relay := NewRelay(staticConsumer{err: ErrNoRecords}, testRegistry(t), okDispatcher(), WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := relay.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRelayRunWorkerPanic(t *testing.T) {
	relay := NewRelay(panicConsumer{}, testRegistry(t), okDispatcher(), WithWorkers(2))

	err := relay.Run(context.Background())
	if !errors.Is(err, ErrWorkerPanic) {
		t.Fatalf("expected ErrWorkerPanic, got %v", err)
	}
}

func TestRelayLeaseStandby(t *testing.T) {
	consumer := &scriptedConsumer{}
	lease := &fakeLease{held: false}
	relay := NewRelay(consumer, testRegistry(t), okDispatcher(), WithLease(lease))

	ok, err := relay.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if ok || consumer.calls != 0 {
		t.Fatalf("expected no fetch without the lease, got %d calls", consumer.calls)
	}
}

func TestRelayLeaseReleasedOnStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := &scriptedConsumer{}
	lease := &fakeLease{held: true}
	relay := NewRelay(consumer, testRegistry(t), okDispatcher(), WithLease(lease))
	recordWaits(relay, cancel, 1)

	if err := relay.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if lease.acquired != 1 || consumer.calls != 1 {
		t.Fatalf("expected one leased poll, got acquired=%d calls=%d", lease.acquired, consumer.calls)
	}
	if lease.released != 1 {
		t.Fatalf("expected lease release, got %d", lease.released)
	}
}

func TestRelayLeaseErrorIsPollFailure(t *testing.T) {
	lease := &fakeLease{err: errors.New("redis down")}
	relay := NewRelay(&scriptedConsumer{}, testRegistry(t), okDispatcher(), WithLease(lease))

	_, err := relay.ProcessOnce(context.Background())
	if !errors.Is(err, lease.err) {
		t.Fatalf("expected lease error, got %v", err)
	}
}

func TestRelayPendingCountDisabledByDefault(t *testing.T) {
	consumer := &pendingConsumer{count: 10}
	metrics := &captureMetrics{}
	relay := NewRelay(consumer, testRegistry(t), okDispatcher(), WithMetrics(metrics))

	relay.maybeRecordPending(context.Background())

	if consumer.calls != 0 {
		t.Fatalf("expected no pending count calls, got %d", consumer.calls)
	}
	if metrics.pendingCalls != 0 {
		t.Fatalf("expected no pending metric updates, got %d", metrics.pendingCalls)
	}
}

func TestRelayPendingCountEnabled(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := &sequenceClock{times: []time.Time{now, now, now.Add(time.Second)}}
	consumer := &pendingConsumer{count: 42}
	metrics := &captureMetrics{}
	relay := NewRelay(
		consumer,
		testRegistry(t),
		okDispatcher(),
		WithClock(clock),
		WithMetrics(metrics),
		WithPendingInterval(time.Second),
	)

	relay.maybeRecordPending(context.Background())
	relay.maybeRecordPending(context.Background())
	relay.maybeRecordPending(context.Background())

	if consumer.calls != 2 {
		t.Fatalf("expected 2 pending count calls, got %d", consumer.calls)
	}
	if metrics.pendingCalls != 2 {
		t.Fatalf("expected 2 pending metric updates, got %d", metrics.pendingCalls)
	}
	if metrics.pending != 42 {
		t.Fatalf("expected pending count 42, got %d", metrics.pending)
	}
}
