package outbox

import (
	"context"
	"errors"
	"fmt"
)

// FailureAction defines how a failed record should be handled.
type FailureAction int

const (
	// FailureRetry marks the record as retryable.
	FailureRetry FailureAction = iota
	// FailureDead marks the record as non-retryable and dead-letters it immediately.
	FailureDead
	// FailureDefer leaves the record pending without counting an attempt.
	FailureDefer
)

// FailureClassifier decides whether a failure is retryable.
type FailureClassifier func(ctx context.Context, record Record, err error) FailureAction

// FailureHandler is called when dispatching a record returns an error.
type FailureHandler func(ctx context.Context, record Record, err error)

// Permanent marks err as non-retryable for the default classifier.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Deferred marks err as a refusal to attempt delivery, such as an open circuit breaker. The
// default classifier leaves such records pending and keeps their retry count.
func Deferred(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrDeferred, err)
}

func defaultFailureClassifier(_ context.Context, _ Record, err error) FailureAction {
	if errors.Is(err, ErrPermanent) {
		return FailureDead
	}
	if errors.Is(err, ErrDeferred) {
		return FailureDefer
	}

	return FailureRetry
}
