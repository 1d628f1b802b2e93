package outbox

import "time"

// Logger is a minimal structured logger used by the relay and the fast path.
// Args are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards all log messages.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

// Metrics records relay activity.
type Metrics interface {
	ObserveBatchDuration(d time.Duration)
	AddProcessed(count int)
	AddErrors(count int)
	AddRetries(count int)
	AddDead(count int)
	// AddSkipped counts records left untouched because their type key could not be resolved.
	AddSkipped(count int)
	// AddPollErrors counts failed fetch or flush attempts.
	AddPollErrors(count int)
	// AddFastPath counts records delivered by the post-commit fast path.
	AddFastPath(count int)
	SetPending(count int)
}

// NopMetrics discards all metrics.
type NopMetrics struct{}

func (NopMetrics) ObserveBatchDuration(time.Duration) {}
func (NopMetrics) AddProcessed(int)                   {}
func (NopMetrics) AddErrors(int)                      {}
func (NopMetrics) AddRetries(int)                     {}
func (NopMetrics) AddDead(int)                        {}
func (NopMetrics) AddSkipped(int)                     {}
func (NopMetrics) AddPollErrors(int)                  {}
func (NopMetrics) AddFastPath(int)                    {}
func (NopMetrics) SetPending(int)                     {}
