package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	outbox "github.com/velmie/txoutbox"
)

// Store keeps business state and outbox records in memory.
type Store struct {
	cfg Config

	mu       sync.Mutex
	data     map[string]any
	records  map[outbox.ID]*outbox.Record
	inflight map[outbox.ID]struct{}
	failNext error
}

var (
	_ outbox.Consumer       = (*Store)(nil)
	_ outbox.PendingCounter = (*Store)(nil)
	_ outbox.Acker          = (*Store)(nil)
)

// New constructs an empty store.
func New(opts ...Option) *Store {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Store{
		cfg:      cfg.withDefaults(),
		data:     make(map[string]any),
		records:  make(map[outbox.ID]*outbox.Record),
		inflight: make(map[outbox.ID]struct{}),
	}
}

// Tx stages business writes and outbox entries of one unit of work.
type Tx struct {
	session *outbox.Session
	writes  map[string]any
	entries []outbox.Entry
	parent  *Store
	closed  bool
}

// Put stages a business write.
func (tx *Tx) Put(key string, value any) error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.writes[key] = value

	return nil
}

// Get reads a key, seeing the transaction's own staged writes.
func (tx *Tx) Get(key string) (any, bool) {
	if value, ok := tx.writes[key]; ok {
		return value, true
	}

	return tx.parent.Get(key)
}

// Track registers entities whose pending events are captured at commit.
func (tx *Tx) Track(sources ...outbox.EventSource) {
	tx.session.Track(sources...)
}

// Enqueue stages entries directly, bypassing capture.
func (tx *Tx) Enqueue(entries ...outbox.Entry) error {
	if tx.closed {
		return ErrTxClosed
	}
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return err
		}
	}
	tx.entries = append(tx.entries, entries...)

	return nil
}

// Transact runs fn in a unit of work. Staged writes and the outbox entries captured from the
// tracked entities are committed together when fn returns nil. Once committed, captured events
// go through the fast path if one is configured.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	tx := &Tx{
		session: s.cfg.Capturer.NewSession(s.cfg.FastPath, s),
		writes:  make(map[string]any),
		parent:  s,
	}
	defer func() { tx.closed = true }()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	captured, err := tx.session.BeforeCommit()
	if err != nil {
		return err
	}
	entries := append(tx.entries, captured...)

	if err := s.commit(tx.writes, entries); err != nil {
		return err
	}
	tx.session.AfterCommit(ctx)

	return nil
}

func (s *Store) commit(writes map[string]any, entries []outbox.Entry) error {
	now := s.cfg.Clock.Now()
	staged := make([]*outbox.Record, 0, len(entries))
	for _, entry := range entries {
		if entry.ID == (outbox.ID{}) {
			id, err := outbox.UUIDv7Generator{}.New()
			if err != nil {
				return err
			}
			entry.ID = id
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		staged = append(staged, &outbox.Record{
			ID:        entry.ID,
			TypeKey:   entry.TypeKey,
			Payload:   bytes.Clone(entry.Payload),
			CreatedAt: entry.CreatedAt,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil

		return err
	}
	for key, value := range writes {
		s.data[key] = value
	}
	for _, record := range staged {
		s.records[record.ID] = record
	}

	return nil
}

// FailNextCommit makes the next Transact commit fail with err, discarding everything it staged.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// Get returns committed business state.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]

	return value, ok
}

// Record returns a copy of a stored record.
func (s *Store) Record(id outbox.ID) (outbox.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return outbox.Record{}, false
	}

	return *record, true
}

// Records returns copies of all records ordered by created_at.
func (s *Store) Records() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]outbox.Record, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, *record)
	}
	sortRecords(out)

	return out
}

// Fetch implements outbox.Consumer. Records held by another open batch are skipped.
func (s *Store) Fetch(_ context.Context, opts outbox.FetchOptions) (outbox.Batch, error) {
	if opts.BatchSize <= 0 {
		return nil, outbox.ErrInvalidBatchSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]outbox.Record, 0)
	for id, record := range s.records {
		if record.Processed || record.DeadAt != nil {
			continue
		}
		if _, locked := s.inflight[id]; locked {
			continue
		}
		pending = append(pending, *record)
	}
	if len(pending) == 0 {
		return nil, outbox.ErrNoRecords
	}
	sortRecords(pending)
	if len(pending) > opts.BatchSize {
		pending = pending[:opts.BatchSize]
	}
	for _, record := range pending {
		s.inflight[record.ID] = struct{}{}
	}

	return &batch{store: s, records: pending}, nil
}

// PendingCount implements outbox.PendingCounter.
func (s *Store) PendingCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, record := range s.records {
		if !record.Processed && record.DeadAt == nil {
			count++
		}
	}

	return count, nil
}

// MarkProcessed implements outbox.Acker.
func (s *Store) MarkProcessed(_ context.Context, at time.Time, ids []outbox.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		record, ok := s.records[id]
		if !ok {
			return ErrRecordNotFound
		}
		if record.Processed {
			continue
		}
		s.ack(record, at)
	}

	return nil
}

// Requeue clears dead-letter state so the relay retries the records.
func (s *Store) Requeue(_ context.Context, ids []outbox.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, id := range ids {
		record, ok := s.records[id]
		if !ok || record.Processed || record.DeadAt == nil {
			continue
		}
		record.DeadAt = nil
		record.RetryCount = 0
		count++
	}

	return count, nil
}

func (s *Store) ack(record *outbox.Record, at time.Time) {
	record.Processed = true
	record.ProcessedAt = &at
	record.LastError = ""
}

func (s *Store) fail(record *outbox.Record, at time.Time, err error) {
	record.ProcessedAt = &at
	record.RetryCount++
	record.LastError = truncateError(err)
	if s.cfg.MaxRetries > 0 && record.RetryCount >= s.cfg.MaxRetries {
		record.DeadAt = &at
	}
}

func (s *Store) dead(record *outbox.Record, at time.Time, err error) {
	record.ProcessedAt = &at
	record.RetryCount++
	record.LastError = truncateError(err)
	record.DeadAt = &at
}

func sortRecords(records []outbox.Record) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}

		return bytes.Compare(records[i].ID[:], records[j].ID[:]) < 0
	})
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= maxErrorLen {
		return msg
	}
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}

	return msg[:cut]
}

type op struct {
	kind int
	at   time.Time
	ids  []outbox.ID
	errs []error
}

const (
	opAck = iota
	opFail
	opDead
)

type batch struct {
	store   *Store
	records []outbox.Record
	ops     []op
	closed  bool
}

var _ outbox.DeadBatch = (*batch)(nil)

func (b *batch) Records() []outbox.Record {
	return b.records
}

func (b *batch) Ack(_ context.Context, at time.Time, ids []outbox.ID) error {
	if b.closed {
		return ErrBatchClosed
	}
	b.ops = append(b.ops, op{kind: opAck, at: at, ids: ids})

	return nil
}

func (b *batch) Fail(_ context.Context, at time.Time, failures []outbox.Failure) error {
	return b.stageFailures(opFail, at, failures)
}

func (b *batch) Dead(_ context.Context, at time.Time, failures []outbox.Failure) error {
	return b.stageFailures(opDead, at, failures)
}

func (b *batch) stageFailures(kind int, at time.Time, failures []outbox.Failure) error {
	if b.closed {
		return ErrBatchClosed
	}
	staged := op{kind: kind, at: at}
	for _, failure := range failures {
		staged.ids = append(staged.ids, failure.ID)
		staged.errs = append(staged.errs, failure.Err)
	}
	b.ops = append(b.ops, staged)

	return nil
}

func (b *batch) Commit() error {
	if b.closed {
		return ErrBatchClosed
	}
	b.closed = true

	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, staged := range b.ops {
		for i, id := range staged.ids {
			record, ok := s.records[id]
			if !ok {
				continue
			}
			switch staged.kind {
			case opAck:
				s.ack(record, staged.at)
			case opFail:
				s.fail(record, staged.at, staged.errs[i])
			case opDead:
				s.dead(record, staged.at, staged.errs[i])
			}
		}
	}
	b.release()

	return nil
}

func (b *batch) Rollback() error {
	if b.closed {
		return nil
	}
	b.closed = true

	b.store.mu.Lock()
	b.release()
	b.store.mu.Unlock()

	return nil
}

// release must be called with the store lock held.
func (b *batch) release() {
	for _, record := range b.records {
		delete(b.store.inflight, record.ID)
	}
}
