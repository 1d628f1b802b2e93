package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	outbox "github.com/velmie/txoutbox"
)

const (
	maxErrorLen       = 1024
	placeholderGrowth = 2
	insertColumns     = 4
	// keeps a multi-row insert well under the 65535 placeholder limit
	maxInsertRows = 1000
)

// Executor allows enqueuing within an existing transaction.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store implements a MySQL-backed outbox using polling + SKIP LOCKED.
type Store struct {
	db      *sql.DB
	cfg     Config
	queries queries
	table   string
}

var (
	_ outbox.Consumer       = (*Store)(nil)
	_ outbox.PendingCounter = (*Store)(nil)
	_ outbox.Acker          = (*Store)(nil)
)

// NewStore constructs a MySQL store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		cfg:     cfg,
		queries: newQueries(table),
		table:   table,
	}, nil
}

// MustNewStore constructs a MySQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Table returns the sanitized outbox table name.
func (s *Store) Table() string {
	return s.table
}

// Enqueue inserts outbox entries using the provided executor (transaction preferred).
// Missing IDs and creation times are filled in. It returns the IDs in entry order.
func (s *Store) Enqueue(ctx context.Context, exec Executor, entries ...outbox.Entry) ([]outbox.ID, error) {
	if exec == nil {
		return nil, ErrExecutorRequired
	}
	if len(entries) == 0 {
		return nil, nil
	}

	now := s.cfg.Clock.Now()
	ids := make([]outbox.ID, 0, len(entries))
	args := make([]any, 0, len(entries)*insertColumns)
	for _, entry := range entries {
		if err := outbox.ValidateEntry(entry, s.cfg.ValidateJSON); err != nil {
			return nil, err
		}

		id := entry.ID
		if id == (outbox.ID{}) {
			var err error
			id, err = s.cfg.Generator.New()
			if err != nil {
				return nil, fmt.Errorf("outbox mysql: generate id failed: %w", err)
			}
		}
		createdAt := entry.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		ids = append(ids, id)
		args = append(args, binaryID(id), entry.TypeKey, []byte(entry.Payload), createdAt.UTC())
	}

	for start := 0; start < len(ids); start += maxInsertRows {
		end := min(start+maxInsertRows, len(ids))
		query := buildInsertQuery(s.table, end-start)
		if _, err := exec.ExecContext(ctx, query, args[start*insertColumns:end*insertColumns]...); err != nil {
			return nil, fmt.Errorf("outbox mysql: insert failed: %w", err)
		}
	}

	return ids, nil
}

// Fetch locks and returns a batch of pending records using READ COMMITTED + SKIP LOCKED.
func (s *Store) Fetch(ctx context.Context, opts outbox.FetchOptions) (outbox.Batch, error) {
	if opts.BatchSize <= 0 {
		return nil, outbox.ErrInvalidBatchSize
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("outbox mysql: begin tx failed: %w", err)
	}

	records, err := s.selectRecords(ctx, tx, s.queries.selectPending, opts.BatchSize)
	if err != nil {
		rollbackErr := tx.Rollback()

		return nil, errors.Join(err, rollbackErr)
	}
	if len(records) == 0 {
		_ = tx.Rollback()

		return nil, outbox.ErrNoRecords
	}

	return &batch{tx: tx, store: s, records: records}, nil
}

func (s *Store) selectRecords(ctx context.Context, q queryer, query string, limit int) ([]outbox.Record, error) {
	rows, err := q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox mysql: select failed: %w", err)
	}
	defer rows.Close()

	records := make([]outbox.Record, 0, limit)
	for rows.Next() {
		var (
			record      outbox.Record
			payload     []byte
			processedAt sql.NullTime
			retryCount  sql.NullInt64
			lastError   sql.NullString
			deadAt      sql.NullTime
		)

		if err := rows.Scan(
			&record.ID,
			&record.TypeKey,
			&payload,
			&record.CreatedAt,
			&record.Processed,
			&processedAt,
			&retryCount,
			&lastError,
			&deadAt,
		); err != nil {
			return nil, fmt.Errorf("outbox mysql: scan failed: %w", err)
		}

		record.Payload = payload
		record.RetryCount = int(retryCount.Int64)
		record.LastError = lastError.String
		if processedAt.Valid {
			record.ProcessedAt = &processedAt.Time
		}
		if deadAt.Valid {
			record.DeadAt = &deadAt.Time
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox mysql: rows failed: %w", err)
	}

	return records, nil
}

func (s *Store) ack(ctx context.Context, exec Executor, at time.Time, ids []outbox.ID) error {
	if len(ids) == 0 {
		return nil
	}

	query := buildAckQuery(s.table, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, at.UTC())
	for _, id := range ids {
		args = append(args, binaryID(id))
	}

	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("outbox mysql: ack update failed: %w", err)
	}

	return nil
}

func (s *Store) fail(ctx context.Context, exec Executor, at time.Time, failures []outbox.Failure) error {
	for _, failure := range failures {
		if _, err := exec.ExecContext(
			ctx,
			s.queries.fail,
			at.UTC(),
			truncateError(failure.Err),
			s.cfg.MaxRetries,
			s.cfg.MaxRetries,
			at.UTC(),
			binaryID(failure.ID),
		); err != nil {
			return fmt.Errorf("outbox mysql: fail update failed: %w", err)
		}
	}

	return nil
}

func (s *Store) dead(ctx context.Context, exec Executor, at time.Time, failures []outbox.Failure) error {
	for _, failure := range failures {
		if _, err := exec.ExecContext(
			ctx,
			s.queries.dead,
			at.UTC(),
			truncateError(failure.Err),
			at.UTC(),
			binaryID(failure.ID),
		); err != nil {
			return fmt.Errorf("outbox mysql: dead update failed: %w", err)
		}
	}

	return nil
}

// MarkProcessed implements outbox.Acker for the post-commit fast path.
func (s *Store) MarkProcessed(ctx context.Context, at time.Time, ids []outbox.ID) error {
	return s.ack(ctx, s.db, at, ids)
}

// PendingCount returns the number of pending outbox rows.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, s.queries.countPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("outbox mysql: pending count failed: %w", err)
	}

	return count, nil
}

// ListOptions selects failed records for inspection.
type ListOptions struct {
	Limit int
	// DeadOnly restricts the result to dead-lettered records.
	DeadOnly bool
}

// ListFailed returns unprocessed records that failed at least once, oldest first.
func (s *Store) ListFailed(ctx context.Context, opts ListOptions) ([]outbox.Record, error) {
	if opts.Limit <= 0 {
		return nil, outbox.ErrInvalidBatchSize
	}
	query := s.queries.listFailed
	if opts.DeadOnly {
		query = s.queries.listDead
	}

	return s.selectRecords(ctx, s.db, query, opts.Limit)
}

// Requeue clears the failure state of unprocessed records so the relay picks them up again.
// It returns the number of rows changed.
func (s *Store) Requeue(ctx context.Context, ids []outbox.ID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, binaryID(id))
	}
	res, err := s.db.ExecContext(ctx, buildRequeueQuery(s.table, len(ids)), args...)
	if err != nil {
		return 0, fmt.Errorf("outbox mysql: requeue failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("outbox mysql: requeue rows affected failed: %w", err)
	}

	return affected, nil
}

func binaryID(id outbox.ID) []byte {
	return id[:]
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}

	return string([]rune(msg)[:maxErrorLen])
}
