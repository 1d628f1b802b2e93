package outbox

import (
	"context"
	"reflect"
)

// Session tracks the event sources of one unit of work.
//
// Storage adapters call BeforeCommit inside the transaction and insert the returned entries
// with it, then call AfterCommit once the transaction committed. A Session is not safe for
// concurrent use.
type Session struct {
	capturer *Capturer
	fastPath *FastPath
	acker    Acker

	sources  []EventSource
	seen     map[EventSource]struct{}
	captured []Captured
}

// NewSession starts a unit of work. fastPath and acker may be nil.
func (c *Capturer) NewSession(fastPath *FastPath, acker Acker) *Session {
	return &Session{
		capturer: c,
		fastPath: fastPath,
		acker:    acker,
	}
}

// Track registers entities whose events must be captured at commit.
// Tracking the same pointer twice is a no-op.
func (s *Session) Track(sources ...EventSource) {
	for _, source := range sources {
		if source == nil {
			continue
		}
		if reflect.TypeOf(source).Comparable() {
			if s.seen == nil {
				s.seen = make(map[EventSource]struct{})
			}
			if _, ok := s.seen[source]; ok {
				continue
			}
			s.seen[source] = struct{}{}
		}
		s.sources = append(s.sources, source)
	}
}

// BeforeCommit captures the pending events of every tracked source.
// An error must abort the commit.
func (s *Session) BeforeCommit() ([]Entry, error) {
	captured, err := s.capturer.Capture(s.sources...)
	if err != nil {
		return nil, err
	}
	s.captured = append(s.captured, captured...)

	return Entries(captured), nil
}

// Captured returns the events captured so far.
func (s *Session) Captured() []Captured {
	return s.captured
}

// AfterCommit delivers the captured events through the fast path, if any.
// It returns the number of events delivered and marked processed.
func (s *Session) AfterCommit(ctx context.Context) int {
	captured := s.captured
	s.captured = nil
	if s.fastPath == nil || len(captured) == 0 {
		return 0
	}

	return s.fastPath.Deliver(ctx, s.acker, captured)
}
