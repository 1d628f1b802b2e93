package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"

	outbox "github.com/velmie/txoutbox"
)

type batch struct {
	tx      *gorm.DB
	store   *Store
	records []outbox.Record
}

var _ outbox.DeadBatch = (*batch)(nil)

func (b *batch) Records() []outbox.Record {
	return b.records
}

func (b *batch) Ack(ctx context.Context, at time.Time, ids []outbox.ID) error {
	return b.store.ack(b.tx.WithContext(ctx), at, ids)
}

func (b *batch) Fail(ctx context.Context, at time.Time, failures []outbox.Failure) error {
	return b.store.fail(b.tx.WithContext(ctx), at, failures)
}

func (b *batch) Dead(ctx context.Context, at time.Time, failures []outbox.Failure) error {
	return b.store.dead(b.tx.WithContext(ctx), at, failures)
}

func (b *batch) Commit() error {
	return b.tx.Commit().Error
}

// Rollback releases locks without applying any changes.
func (b *batch) Rollback() error {
	err := b.tx.Rollback().Error
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}
