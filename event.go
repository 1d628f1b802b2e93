package outbox

import "sync"

// Event is a domain event raised by an entity during a unit of work.
type Event interface {
	// EventType returns the stable type key of the event shape.
	EventType() string
}

// EventSource is implemented by entities that accumulate events until the unit of work commits.
type EventSource interface {
	// PendingEvents returns the events raised since the last ClearEvents call.
	PendingEvents() []Event
	// ClearEvents drops all pending events.
	ClearEvents()
}

// Recorder implements EventSource and is meant to be embedded into entities.
//
//	type Order struct {
//		outbox.Recorder `gorm:"-"`
//		ID string
//	}
//
// The zero value is ready to use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Raise appends an event to the pending list. Nil events are ignored.
func (r *Recorder) Raise(events ...Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, event := range events {
		if event == nil {
			continue
		}
		r.events = append(r.events, event)
	}
}

// PendingEvents returns a copy of the pending events.
func (r *Recorder) PendingEvents() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.events) == 0 {
		return nil
	}
	out := make([]Event, len(r.events))
	copy(out, r.events)

	return out
}

// ClearEvents drops all pending events.
func (r *Recorder) ClearEvents() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
