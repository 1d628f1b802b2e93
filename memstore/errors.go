package memstore

import "errors"

var (
	// ErrBatchClosed is returned when a committed or rolled back batch is used again.
	ErrBatchClosed = errors.New("outbox memstore: batch is closed")
	// ErrTxClosed is returned when a transaction is used outside of its callback.
	ErrTxClosed = errors.New("outbox memstore: transaction is closed")
	// ErrRecordNotFound is returned when a record id is unknown.
	ErrRecordNotFound = errors.New("outbox memstore: record not found")
)
