package helpers

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds exponential backoff retries.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	// MaxBackoff caps a single wait; zero means uncapped.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy is a handful of attempts starting at 300ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 300 * time.Millisecond, MaxBackoff: 5 * time.Second}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Retry runs fn until it succeeds, returns a permanent error, the context is
// done or the attempts are exhausted. The wait doubles after every attempt.
func Retry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) error {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := policy.Backoff
	if backoff <= 0 {
		backoff = 300 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		var p permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if attempt == attempts-1 {
			break
		}
		wait := backoff * time.Duration(1<<attempt)
		if policy.MaxBackoff > 0 && wait > policy.MaxBackoff {
			wait = policy.MaxBackoff
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}
