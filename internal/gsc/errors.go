package gsc

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced per sub-request when a batch cannot settle.
var (
	// ErrRateLimited marks a sub-request that was still rate limited
	// after all retry attempts.
	ErrRateLimited = errors.New("gsc: rate limited")

	// ErrRetriesExhausted marks a sub-request whose batch kept failing
	// transiently until the attempt budget ran out.
	ErrRetriesExhausted = errors.New("gsc: retries exhausted")

	// ErrAuthRefreshFailed marks a failed synchronous credential refresh.
	ErrAuthRefreshFailed = errors.New("gsc: credential refresh failed")
)

// APIError is a terminal per-sub-request API failure (a 4xx other than
// 401/429). It is attributed to the owning date and never retried.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gsc: api error %d: %s", e.StatusCode, e.Message)
}

// retryable reports whether a status code warrants retrying the whole
// batch: rate limiting or server-side failure.
func retryable(statusCode int) bool {
	return statusCode == 429 || statusCode >= 500
}
