package gormstore

import "errors"

var (
	// ErrDBRequired is returned when a nil *gorm.DB is provided.
	ErrDBRequired = errors.New("outbox gorm: db is required")
	// ErrTxRequired is returned when enqueue is called without a transaction handle.
	ErrTxRequired = errors.New("outbox gorm: tx is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("outbox gorm: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("outbox gorm: invalid table name")
	// ErrTransactionRequired is returned when entities with pending events are written outside a
	// transaction, as happens with SkipDefaultTransaction and no explicit transaction.
	ErrTransactionRequired = errors.New("outbox gorm: entities with pending events must be written in a transaction")
)
