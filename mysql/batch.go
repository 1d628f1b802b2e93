package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	outbox "github.com/velmie/txoutbox"
)

type batch struct {
	tx      *sql.Tx
	store   *Store
	records []outbox.Record
}

var _ outbox.DeadBatch = (*batch)(nil)

// Records returns the records fetched for this batch.
func (b *batch) Records() []outbox.Record {
	return b.records
}

// Ack marks the provided records as processed.
func (b *batch) Ack(ctx context.Context, at time.Time, ids []outbox.ID) error {
	return b.store.ack(ctx, b.tx, at, ids)
}

// Fail records failures and updates retry state for each record.
func (b *batch) Fail(ctx context.Context, at time.Time, failures []outbox.Failure) error {
	return b.store.fail(ctx, b.tx, at, failures)
}

// Dead marks the provided records as dead.
func (b *batch) Dead(ctx context.Context, at time.Time, failures []outbox.Failure) error {
	return b.store.dead(ctx, b.tx, at, failures)
}

// Commit finalizes the batch transaction.
func (b *batch) Commit() error {
	return b.tx.Commit()
}

// Rollback releases locks without applying any changes.
func (b *batch) Rollback() error {
	err := b.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}
