// Package retry provides a small bounded-retry combinator.
//
// It carries no storage knowledge: callers decide which errors are worth
// another attempt through Policy.Retryable.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is wrapped into the error returned by Do when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy controls how many times an operation is attempted and how long to wait in between.
type Policy struct {
	// Attempts is the total number of calls, including the first. Values < 1 mean 1.
	Attempts int

	// Backoff is the pause between attempts. Zero means retry immediately.
	Backoff time.Duration

	// Retryable reports whether err warrants another attempt. Nil means every error does.
	// Context cancellation is never retried regardless of this function.
	Retryable func(err error) bool
}

// Do calls fn until it succeeds, the policy is exhausted, the error is not retryable,
// or ctx is done. attempt is 1-based.
//
// On exhaustion the returned error wraps both ErrExhausted and the last error from fn.
// A non-retryable error is returned as-is.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return fmt.Errorf("%w: %w", err, last)
			}
			return err
		}

		last = fn(ctx, attempt)
		if last == nil {
			return nil
		}
		if errors.Is(last, context.Canceled) || errors.Is(last, context.DeadlineExceeded) {
			return last
		}
		if p.Retryable != nil && !p.Retryable(last) {
			return last
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Backoff); err != nil {
			return fmt.Errorf("%w: %w", err, last)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
