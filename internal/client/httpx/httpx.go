package httpx

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RetryableError marks a failure worth retrying (timeouts, 429, 5xx).
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// TransientStatus reports whether an HTTP status should be retried.
func TransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// DoWithRetry runs fn up to maxRetries+1 times, waiting on the limiter
// before each attempt and backing off exponentially with jitter between
// attempts. Only errors wrapped by Retryable are retried; anything else
// returns immediately.
func DoWithRetry(ctx context.Context, limiter *rate.Limiter, maxRetries int, fn func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if _, ok := err.(*RetryableError); !ok {
			return err
		}
		if attempt == maxRetries {
			break
		}
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff/2)+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		backoff *= 2
	}
	return lastErr
}
