// Package retry runs an operation a bounded number of times with a delay
// between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raterudder/powerbox/pkg/common"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy bounds a retry loop.
type Policy struct {
	// Attempts is the total number of attempts, including the first.
	Attempts int
	// Delay returns how long to wait after the given 1-based attempt failed.
	Delay func(attempt int) time.Duration
	// Sleep defaults to common.Sleep. Tests replace it to avoid real waits.
	Sleep SleepFunc
}

// Linear returns a delay function of attempt × step.
func Linear(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

type stopError struct {
	err error
}

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Stop marks err as not retryable. Do returns the wrapped error unchanged.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Do calls fn until it succeeds, returns an error wrapped by Stop, ctx is
// done, or the policy runs out of attempts. fn receives the 1-based attempt
// number.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = common.Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var stop *stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		// a canceled parent context is never worth another attempt
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err

		if attempt < attempts && p.Delay != nil {
			if err := sleep(ctx, p.Delay(attempt)); err != nil {
				return err
			}
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}
