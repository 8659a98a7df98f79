// Package retry re-runs rate-limited calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Policy defines how retries are spaced.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         bool
}

// DefaultPolicy mirrors backend quota behavior: a few quick retries, then give up
// so the caller can fall back to another backend.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     2,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// Error marks an error as worth retrying.
type Error struct {
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %v)", e.Err, e.RetryAfter)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable wraps err so Do will retry it.
func Retryable(err error) error {
	return &Error{Err: err}
}

// RetryableAfter wraps err with an explicit delay hint.
func RetryableAfter(err error, delay time.Duration) error {
	return &Error{Err: err, RetryAfter: delay}
}

// IsRetryable reports whether err was marked retryable.
func IsRetryable(err error) bool {
	var re *Error
	return errors.As(err, &re)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy is
// exhausted. The context bounds every wait.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == policy.MaxRetries {
			break
		}

		wait := Backoff(policy, attempt)
		var re *Error
		if errors.As(err, &re) && re.RetryAfter > 0 {
			wait = re.RetryAfter
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("max retries exceeded (%d): %w", policy.MaxRetries, lastErr)
}

// Backoff computes the wait before the given retry attempt.
func Backoff(policy Policy, attempt int) time.Duration {
	factor := policy.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	backoff := float64(policy.InitialBackoff) * math.Pow(factor, float64(attempt))
	if policy.MaxBackoff > 0 && backoff > float64(policy.MaxBackoff) {
		backoff = float64(policy.MaxBackoff)
	}

	d := time.Duration(backoff)
	if policy.Jitter && d > 0 {
		// +/-10%
		d += time.Duration(float64(d) * 0.1 * (2*rand.Float64() - 1))
	}
	return d
}
