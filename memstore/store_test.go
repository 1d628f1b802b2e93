package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	outbox "github.com/velmie/txoutbox"
)

type tickClock struct {
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func enqueue(t *testing.T, store *Store, entries ...outbox.Entry) {
	t.Helper()
	require.NoError(t, store.Transact(context.Background(), func(_ context.Context, tx *Tx) error {
		return tx.Enqueue(entries...)
	}))
}

func entryAt(typeKey string, at time.Time) outbox.Entry {
	return outbox.Entry{TypeKey: typeKey, Payload: json.RawMessage(`{}`), CreatedAt: at}
}

func TestFetchOrdersByCreatedAtAndLimits(t *testing.T) {
	store := New()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	enqueue(t, store,
		entryAt("third", base.Add(2*time.Second)),
		entryAt("first", base),
		entryAt("second", base.Add(time.Second)),
	)

	batch, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 2})
	require.NoError(t, err)
	records := batch.Records()
	require.Len(t, records, 2)
	require.Equal(t, "first", records[0].TypeKey)
	require.Equal(t, "second", records[1].TypeKey)
	require.NoError(t, batch.Rollback())
}

func TestFetchSkipsInflightRecords(t *testing.T) {
	store := New()
	enqueue(t, store, entryAt("a", time.Time{}), entryAt("b", time.Time{}))

	first, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 1})
	require.NoError(t, err)
	second, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 10})
	require.NoError(t, err)
	require.Len(t, second.Records(), 1)
	require.NotEqual(t, first.Records()[0].ID, second.Records()[0].ID)

	_, err = store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 10})
	require.ErrorIs(t, err, outbox.ErrNoRecords)

	require.NoError(t, first.Rollback())
	require.NoError(t, second.Rollback())

	third, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 10})
	require.NoError(t, err)
	require.Len(t, third.Records(), 2)
}

func TestFetchInvalidBatchSize(t *testing.T) {
	_, err := New().Fetch(context.Background(), outbox.FetchOptions{})
	require.ErrorIs(t, err, outbox.ErrInvalidBatchSize)
}

func TestBatchUpdatesAppliedOnCommitOnly(t *testing.T) {
	store := New()
	enqueue(t, store, entryAt("a", time.Time{}))
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	batch, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 1})
	require.NoError(t, err)
	id := batch.Records()[0].ID
	require.NoError(t, batch.Ack(context.Background(), at, []outbox.ID{id}))

	record, _ := store.Record(id)
	require.False(t, record.Processed)

	require.NoError(t, batch.Commit())
	record, _ = store.Record(id)
	require.True(t, record.Processed)
	require.Equal(t, at, *record.ProcessedAt)

	require.ErrorIs(t, batch.Commit(), ErrBatchClosed)
	require.ErrorIs(t, batch.Ack(context.Background(), at, nil), ErrBatchClosed)
}

func TestFailDeadLettersAtMaxRetries(t *testing.T) {
	store := New(WithMaxRetries(2))
	enqueue(t, store, entryAt("a", time.Time{}))
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		batch, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 1})
		require.NoError(t, err)
		id := batch.Records()[0].ID
		require.NoError(t, batch.Fail(context.Background(), at, []outbox.Failure{{ID: id, Err: errors.New("boom")}}))
		require.NoError(t, batch.Commit())
	}

	record := store.Records()[0]
	require.Equal(t, 2, record.RetryCount)
	require.NotNil(t, record.DeadAt)
	require.Equal(t, outbox.StatusDead, record.Status())
	require.Equal(t, "boom", record.LastError)

	_, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 1})
	require.ErrorIs(t, err, outbox.ErrNoRecords)

	count, err := store.PendingCount(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)

	requeued, err := store.Requeue(context.Background(), []outbox.ID{record.ID})
	require.NoError(t, err)
	require.Equal(t, 1, requeued)
	count, err = store.PendingCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestDeadMarksImmediately(t *testing.T) {
	store := New()
	enqueue(t, store, entryAt("a", time.Time{}))

	batch, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 1})
	require.NoError(t, err)
	id := batch.Records()[0].ID
	require.NoError(t, batch.(outbox.DeadBatch).Dead(context.Background(), time.Now(), []outbox.Failure{{ID: id, Err: errors.New("poison")}}))
	require.NoError(t, batch.Commit())

	record, ok := store.Record(id)
	require.True(t, ok)
	require.Equal(t, outbox.StatusDead, record.Status())
	require.Equal(t, 1, record.RetryCount)
}

func TestMarkProcessed(t *testing.T) {
	store := New()
	enqueue(t, store, entryAt("a", time.Time{}))
	id := store.Records()[0].ID

	require.NoError(t, store.MarkProcessed(context.Background(), time.Now(), []outbox.ID{id}))
	record, _ := store.Record(id)
	require.True(t, record.Processed)

	require.ErrorIs(t, store.MarkProcessed(context.Background(), time.Now(), []outbox.ID{{9}}), ErrRecordNotFound)
}

func TestEnqueueValidates(t *testing.T) {
	store := New()
	err := store.Transact(context.Background(), func(_ context.Context, tx *Tx) error {
		return tx.Enqueue(outbox.Entry{TypeKey: "a"})
	})
	require.ErrorIs(t, err, outbox.ErrPayloadRequired)
	require.Empty(t, store.Records())
}

func TestTxReadsOwnWrites(t *testing.T) {
	store := New()
	require.NoError(t, store.Transact(context.Background(), func(_ context.Context, tx *Tx) error {
		require.NoError(t, tx.Put("k", 1))
		value, ok := tx.Get("k")
		require.True(t, ok)
		require.Equal(t, 1, value)
		_, visible := store.Get("k")
		require.False(t, visible)
		return nil
	}))
	value, ok := store.Get("k")
	require.True(t, ok)
	require.Equal(t, 1, value)
}

func TestTruncateError(t *testing.T) {
	long := strings.Repeat("é", maxErrorLen)
	got := truncateError(errors.New(long))
	require.LessOrEqual(t, len(got), maxErrorLen)
	require.True(t, strings.HasPrefix(long, got))
	require.Empty(t, truncateError(nil))
}
