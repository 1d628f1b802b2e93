package outbox

import (
	"fmt"

	"github.com/google/uuid"
)

// ID identifies an outbox record.
//
// IDs are UUID v7, so their byte order follows creation time and breaks ties between records
// created within the same clock tick.
type ID = uuid.UUID

// IDGenerator creates new identifiers.
type IDGenerator interface {
	// New returns a new identifier.
	New() (ID, error)
}

// UUIDv7Generator produces monotonic UUID v7 identifiers.
type UUIDv7Generator struct{}

// New creates a new UUID v7 identifier.
func (UUIDv7Generator) New() (ID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return ID{}, fmt.Errorf("outbox: generate id: %w", err)
	}

	return id, nil
}

// ParseID parses a UUID string into an ID.
func ParseID(value string) (ID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, value)
	}

	return id, nil
}
