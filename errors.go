package outbox

import "errors"

var (
	// ErrInvalidBatchSize indicates that the requested batch size is not positive.
	ErrInvalidBatchSize = errors.New("outbox batch size must be positive")
	// ErrNoRecords signals that no records are available for processing.
	ErrNoRecords = errors.New("outbox has no pending records")
	// ErrNilBatch indicates that a consumer returned a nil batch.
	ErrNilBatch = errors.New("outbox batch is nil")
	// ErrEmptyBatch indicates that a consumer returned a batch with no records.
	ErrEmptyBatch = errors.New("outbox batch has no records")
	// ErrTypeKeyRequired is returned when an entry or event has no type key.
	ErrTypeKeyRequired = errors.New("outbox type key is required")
	// ErrPayloadRequired is returned when Entry.Payload is empty.
	ErrPayloadRequired = errors.New("outbox payload is required")
	// ErrInvalidPayload is returned when Entry.Payload is not valid JSON.
	ErrInvalidPayload = errors.New("outbox payload must be valid JSON")
	// ErrInvalidID is returned when parsing an ID fails.
	ErrInvalidID = errors.New("outbox id is invalid")
	// ErrWorkerPanic indicates a relay worker panic.
	ErrWorkerPanic = errors.New("outbox worker panic")
	// ErrCapture wraps every failure to turn raised events into entries. It must abort the commit.
	ErrCapture = errors.New("outbox capture failed")
	// ErrNilEvent is returned when a nil event is raised or dispatched.
	ErrNilEvent = errors.New("outbox event is nil")
	// ErrUnknownEventType is returned when a type key has no registered decoder.
	ErrUnknownEventType = errors.New("outbox event type is not registered")
	// ErrTypeAlreadyRegistered is returned when a type key is registered twice.
	ErrTypeAlreadyRegistered = errors.New("outbox event type already registered")
	// ErrDecode wraps payload decoding failures.
	ErrDecode = errors.New("outbox event decode failed")
	// ErrHandlerPanic is returned when an event handler panics.
	ErrHandlerPanic = errors.New("outbox event handler panic")
	// ErrEventShapeMismatch is returned when a typed handler receives an event of another Go type.
	ErrEventShapeMismatch = errors.New("outbox event shape mismatch")
	// ErrPermanent marks handler errors that must not be retried.
	ErrPermanent = errors.New("outbox permanent failure")
	// ErrDeferred marks handler errors where delivery was not attempted.
	ErrDeferred = errors.New("outbox delivery deferred")
)
