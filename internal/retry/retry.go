// Package retry provides blocking retries with pluggable backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetry marks an error as transient: Blocking calls f again after backoff.
var ErrRetry = errors.New("retry")

// ErrExhausted is returned when the backoff gives up.
var ErrExhausted = errors.New("retries exhausted")

// Backoff is a (blocking) function returning when to retry.
// It returns nil to retry and non-nil to give up; if ctx is done it returns ctx.Err().
type Backoff func(context.Context) error

// ExponentialBackoff waits initialInterval * r^N before the N-th retry.
func ExponentialBackoff(initialInterval time.Duration, r float64) Backoff {
	interval := initialInterval
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval = time.Duration(float64(interval) * r)
			return nil
		}
	}
}

// StaticBackoff waits a fixed interval between attempts.
func StaticBackoff(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1)
}

// Limit allows at most n retries of b.
func Limit(n int, b Backoff) Backoff {
	left := n
	return func(ctx context.Context) error {
		if left <= 0 {
			return ErrExhausted
		}
		left--
		return b(ctx)
	}
}

// Blocking calls f immediately and then after each backoff, until f returns nil or an error
// that does not wrap ErrRetry. When the backoff gives up, the last error of f is returned
// joined with the reason.
func Blocking[T any](ctx context.Context, b Backoff, f func() (T, error)) (T, error) {
	for {
		last, err := f()
		if err == nil || !errors.Is(err, ErrRetry) {
			return last, err
		}
		if berr := b(ctx); berr != nil {
			return last, fmt.Errorf("%w (last attempt: %w)", berr, err)
		}
	}
}

// Transient wraps err so that Blocking retries it.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrRetry, err)
}
