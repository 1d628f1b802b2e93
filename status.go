package outbox

// Status represents the lifecycle state of an outbox record.
type Status int16

const (
	// StatusPending indicates the record waits for (another) delivery attempt.
	StatusPending Status = 0
	// StatusProcessed indicates the record was dispatched successfully.
	StatusProcessed Status = 1
	// StatusDead indicates the record was dead-lettered and is no longer retried.
	StatusDead Status = -1
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessed:
		return "processed"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}
