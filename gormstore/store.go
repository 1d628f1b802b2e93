package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	outbox "github.com/velmie/txoutbox"
)

// Store implements a GORM-backed outbox using polling + SKIP LOCKED.
type Store struct {
	db    *gorm.DB
	cfg   Config
	table string
}

var (
	_ outbox.Consumer       = (*Store)(nil)
	_ outbox.PendingCounter = (*Store)(nil)
	_ outbox.Acker          = (*Store)(nil)
)

// NewStore constructs a GORM store with validated configuration.
func NewStore(db *gorm.DB, opts ...Option) (*Store, error) {
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

	return &Store{db: db, cfg: cfg, table: table}, nil
}

// Table returns the sanitized outbox table name.
func (s *Store) Table() string {
	return s.table
}

// Migrate creates or updates the outbox table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Table(s.table).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("outbox gorm: migrate failed: %w", err)
	}

	return nil
}

// Enqueue inserts outbox entries using tx, which should be the caller's transaction.
// Missing IDs and creation times are filled in. It returns the IDs in entry order.
func (s *Store) Enqueue(tx *gorm.DB, entries ...outbox.Entry) ([]outbox.ID, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	if len(entries) == 0 {
		return nil, nil
	}

	now := s.cfg.Clock.Now()
	rows := make([]Record, 0, len(entries))
	ids := make([]outbox.ID, 0, len(entries))
	for _, entry := range entries {
		if err := outbox.ValidateEntry(entry, s.cfg.ValidateJSON); err != nil {
			return nil, err
		}
		if entry.ID == (outbox.ID{}) {
			id, err := s.cfg.Generator.New()
			if err != nil {
				return nil, fmt.Errorf("outbox gorm: generate id failed: %w", err)
			}
			entry.ID = id
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}

		ids = append(ids, entry.ID)
		rows = append(rows, Record{
			ID:        entry.ID,
			TypeKey:   entry.TypeKey,
			Payload:   entry.Payload,
			CreatedAt: entry.CreatedAt.UTC(),
		})
	}

	if err := tx.Table(s.table).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("outbox gorm: insert failed: %w", err)
	}

	return ids, nil
}

// Fetch locks and returns a batch of pending records using READ COMMITTED + SKIP LOCKED.
func (s *Store) Fetch(ctx context.Context, opts outbox.FetchOptions) (outbox.Batch, error) {
	if opts.BatchSize <= 0 {
		return nil, outbox.ErrInvalidBatchSize
	}

	tx := s.db.WithContext(ctx).Begin(&sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if tx.Error != nil {
		return nil, fmt.Errorf("outbox gorm: begin tx failed: %w", tx.Error)
	}

	var rows []Record
	if err := s.pending(tx, opts.BatchSize).Find(&rows).Error; err != nil {
		return nil, errors.Join(fmt.Errorf("outbox gorm: select failed: %w", err), tx.Rollback().Error)
	}
	if len(rows) == 0 {
		tx.Rollback()

		return nil, outbox.ErrNoRecords
	}

	return &batch{tx: tx, store: s, records: toRecords(rows)}, nil
}

func (s *Store) pending(tx *gorm.DB, limit int) *gorm.DB {
	return tx.Table(s.table).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("processed = ? AND dead_at IS NULL", false).
		Order("created_at ASC, id ASC").
		Limit(limit)
}

func (s *Store) ack(tx *gorm.DB, at time.Time, ids []outbox.ID) error {
	if len(ids) == 0 {
		return nil
	}

	err := tx.Table(s.table).
		Where("id IN ? AND processed = ?", ids, false).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": at.UTC(),
			"last_error":   nil,
		}).Error
	if err != nil {
		return fmt.Errorf("outbox gorm: ack update failed: %w", err)
	}

	return nil
}

// PostgreSQL evaluates every SET expression against the old row, so dead_at and retry_count
// both see the previous retry count.
func (s *Store) fail(tx *gorm.DB, at time.Time, failures []outbox.Failure) error {
	for _, failure := range failures {
		err := tx.Table(s.table).
			Where("id = ? AND processed = ?", failure.ID, false).
			Updates(map[string]any{
				"processed_at": at.UTC(),
				"last_error":   truncateError(failure.Err),
				"retry_count":  gorm.Expr("COALESCE(retry_count, 0) + 1"),
				"dead_at": gorm.Expr(
					"CASE WHEN ? > 0 AND COALESCE(retry_count, 0) + 1 >= ? THEN CAST(? AS timestamptz) ELSE NULL END",
					s.cfg.MaxRetries, s.cfg.MaxRetries, at.UTC(),
				),
			}).Error
		if err != nil {
			return fmt.Errorf("outbox gorm: fail update failed: %w", err)
		}
	}

	return nil
}

func (s *Store) dead(tx *gorm.DB, at time.Time, failures []outbox.Failure) error {
	for _, failure := range failures {
		err := tx.Table(s.table).
			Where("id = ? AND processed = ?", failure.ID, false).
			Updates(map[string]any{
				"processed_at": at.UTC(),
				"last_error":   truncateError(failure.Err),
				"retry_count":  gorm.Expr("COALESCE(retry_count, 0) + 1"),
				"dead_at":      at.UTC(),
			}).Error
		if err != nil {
			return fmt.Errorf("outbox gorm: dead update failed: %w", err)
		}
	}

	return nil
}

// MarkProcessed implements outbox.Acker for the post-commit fast path.
func (s *Store) MarkProcessed(ctx context.Context, at time.Time, ids []outbox.ID) error {
	return s.ack(s.db.WithContext(ctx), at, ids)
}

// PendingCount returns the number of pending outbox rows.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Table(s.table).
		Where("processed = ? AND dead_at IS NULL", false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("outbox gorm: pending count failed: %w", err)
	}

	return int(count), nil
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

	query := s.db.WithContext(ctx).Table(s.table).Where("processed = ?", false)
	if opts.DeadOnly {
		query = query.Where("dead_at IS NOT NULL")
	} else {
		query = query.Where("dead_at IS NOT NULL OR retry_count > 0")
	}

	var rows []Record
	if err := query.Order("created_at ASC, id ASC").Limit(opts.Limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("outbox gorm: list failed: %w", err)
	}

	return toRecords(rows), nil
}

// Requeue clears the failure state of unprocessed records so the relay picks them up again.
// It returns the number of rows changed.
func (s *Store) Requeue(ctx context.Context, ids []outbox.ID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).
		Table(s.table).
		Where("id IN ? AND processed = ?", ids, false).
		Updates(map[string]any{
			"dead_at":     nil,
			"retry_count": nil,
			"last_error":  nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("outbox gorm: requeue failed: %w", res.Error)
	}

	return res.RowsAffected, nil
}
