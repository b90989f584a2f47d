package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// HTTPError is a non-200 response from a provider API.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// RetryConfig controls RetryDo backoff.
type RetryConfig struct {
	Attempts int
	MinDelay time.Duration
	MaxDelay time.Duration
}

// DefaultRetryConfig returns 3 attempts with 500ms..10s exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, MinDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// RetryDo runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. Retry-After from the provider wins over backoff.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.MinDelay

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == attempts || !isRetryable(err) {
			break
		}

		wait := delay
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
			wait = httpErr.RetryAfter
		}
		if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
	return zero, lastErr
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
