package outbox

import (
	"encoding/json"
	"time"
)

// Entry describes a new outbox message to be persisted.
type Entry struct {
	// ID is optional, if zero, the store generator assigns a UUID v7.
	ID ID
	// TypeKey names the event shape (e.g., "OrderCreated") and must be known to the relay's Registry.
	TypeKey string
	// Payload is the JSON encoded event.
	Payload json.RawMessage
	// CreatedAt is optional, if zero, the store uses its clock.
	CreatedAt time.Time
}

// Validate checks required fields and JSON validity.
func (e Entry) Validate() error {
	return ValidateEntry(e, true)
}

// ValidateEntry validates an entry with optional JSON validation of the payload.
func ValidateEntry(entry Entry, validateJSON bool) error {
	if entry.TypeKey == "" {
		return ErrTypeKeyRequired
	}
	if len(entry.Payload) == 0 {
		return ErrPayloadRequired
	}
	if validateJSON && !json.Valid(entry.Payload) {
		return ErrInvalidPayload
	}

	return nil
}
