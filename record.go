package outbox

import (
	"encoding/json"
	"time"
)

// Record is a stored outbox message fetched for processing.
type Record struct {
	ID        ID
	TypeKey   string
	Payload   json.RawMessage
	CreatedAt time.Time
	Processed bool
	// ProcessedAt is the time of the last processing attempt, successful or not.
	ProcessedAt *time.Time
	// RetryCount is the number of failed attempts so far.
	RetryCount int
	LastError  string
	// DeadAt is set once the record is dead-lettered; such records are never fetched again.
	DeadAt *time.Time
}

// Status derives the lifecycle state of the record.
func (r Record) Status() Status {
	switch {
	case r.Processed:
		return StatusProcessed
	case r.DeadAt != nil:
		return StatusDead
	default:
		return StatusPending
	}
}

// Failure captures a processing error for a record.
type Failure struct {
	ID  ID
	Err error
}
