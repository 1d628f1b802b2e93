package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// Captured pairs a staged Entry with the event it was built from.
type Captured struct {
	Entry Entry
	Event Event
}

// Encoder serializes an event into a JSON payload.
type Encoder func(event Event) (json.RawMessage, error)

// JSONEncoder encodes events with encoding/json.
func JSONEncoder(event Event) (json.RawMessage, error) {
	return json.Marshal(event)
}

// CaptureConfig configures a Capturer.
type CaptureConfig struct {
	Generator IDGenerator
	Clock     Clock
	Encoder   Encoder
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.Generator == nil {
		c.Generator = UUIDv7Generator{}
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Encoder == nil {
		c.Encoder = JSONEncoder
	}

	return c
}

// CaptureOption configures a Capturer.
type CaptureOption func(*CaptureConfig)

// WithIDGenerator sets the generator for record IDs.
func WithIDGenerator(generator IDGenerator) CaptureOption {
	return func(c *CaptureConfig) {
		c.Generator = generator
	}
}

// WithCaptureClock sets the clock used for created_at.
func WithCaptureClock(clock Clock) CaptureOption {
	return func(c *CaptureConfig) {
		c.Clock = clock
	}
}

// WithEncoder sets the payload encoder.
func WithEncoder(encoder Encoder) CaptureOption {
	return func(c *CaptureConfig) {
		c.Encoder = encoder
	}
}

// Capturer turns pending events of entities into outbox entries.
// It is safe for concurrent use.
type Capturer struct {
	cfg CaptureConfig
}

// NewCapturer constructs a Capturer with defaults and optional settings.
func NewCapturer(opts ...CaptureOption) *Capturer {
	var cfg CaptureConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Capturer{cfg: cfg.withDefaults()}
}

// Capture serializes the pending events of all sources.
//
// Either every event is captured and every source is cleared, or an error wrapping ErrCapture
// is returned and no source is touched. Callers must abort the commit on error.
func (c *Capturer) Capture(sources ...EventSource) ([]Captured, error) {
	var captured []Captured
	var touched []EventSource

	now := c.cfg.Clock.Now().UTC().Truncate(time.Microsecond)
	for _, source := range sources {
		if source == nil {
			continue
		}
		events := source.PendingEvents()
		if len(events) == 0 {
			continue
		}
		touched = append(touched, source)

		for _, event := range events {
			entry, err := c.entry(event, now)
			if err != nil {
				return nil, err
			}
			captured = append(captured, Captured{Entry: entry, Event: event})
		}
	}

	for _, source := range touched {
		source.ClearEvents()
	}

	return captured, nil
}

func (c *Capturer) entry(event Event, now time.Time) (Entry, error) {
	if event == nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrCapture, ErrNilEvent)
	}
	key := event.EventType()
	if key == "" {
		return Entry{}, fmt.Errorf("%w: %T: %w", ErrCapture, event, ErrTypeKeyRequired)
	}
	payload, err := c.cfg.Encoder(event)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: encode %s: %w", ErrCapture, key, err)
	}
	id, err := c.cfg.Generator.New()
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrCapture, err)
	}

	entry := Entry{
		ID:        id,
		TypeKey:   key,
		Payload:   payload,
		CreatedAt: now,
	}
	if err := entry.Validate(); err != nil {
		return Entry{}, fmt.Errorf("%w: %s: %w", ErrCapture, key, err)
	}

	return entry, nil
}

// Entries extracts the entries of captured events.
func Entries(captured []Captured) []Entry {
	if len(captured) == 0 {
		return nil
	}
	entries := make([]Entry, len(captured))
	for i := range captured {
		entries[i] = captured[i].Entry
	}

	return entries
}
