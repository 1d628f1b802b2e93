package outbox

import (
	"context"
	"time"
)

// FetchOptions controls how pending records are selected.
type FetchOptions struct {
	BatchSize int
}

// Consumer provides locked batches of outbox records.
type Consumer interface {
	// Fetch returns up to BatchSize unprocessed, not dead-lettered records ordered by
	// created_at ascending, locked for processing. It returns ErrNoRecords when there is nothing to do.
	Fetch(ctx context.Context, opts FetchOptions) (Batch, error)
}

// Batch represents a locked set of records fetched for processing.
// Updates are applied atomically on Commit.
type Batch interface {
	// Records returns the fetched records in this batch.
	Records() []Record
	// Ack marks the provided records as processed at the given time.
	Ack(ctx context.Context, at time.Time, ids []ID) error
	// Fail records failures: processed_at is set, retry_count incremented and last_error stored.
	// Stores with a retry limit dead-letter records that reach it.
	Fail(ctx context.Context, at time.Time, failures []Failure) error
	// Commit finalizes the batch transaction.
	Commit() error
	// Rollback releases locks without applying any changes.
	Rollback() error
}

// DeadBatch supports immediate dead-lettering of records.
type DeadBatch interface {
	// Dead marks the provided records as non retryable failures.
	Dead(ctx context.Context, at time.Time, failures []Failure) error
}

// PendingCounter provides a total count of pending records.
type PendingCounter interface {
	// PendingCount returns the current number of pending records.
	PendingCount(ctx context.Context) (int, error)
}

// Lease grants exclusive polling rights to one relay among many.
type Lease interface {
	// Acquire obtains or renews the lease. It returns false if another holder owns it.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lease up if held.
	Release(ctx context.Context) error
}
