package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrInvalidRequest marks requests that cannot be sent, such as a place
	// without identifier or coordinates. Never retried.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound matches a 404 StatusError.
	ErrNotFound = errors.New("not found")
	// ErrTooManyRetries is the terminal error once the retry budget is spent.
	ErrTooManyRetries = errors.New("too many retries")

	errStaleValidator = errors.New("304 without a cached entry")
)

// NetworkError wraps a connectivity failure.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError is a non-success HTTP status other than rate limiting.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// Is lets errors.Is(err, ErrNotFound) match 404s.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Server reports whether the status is a 5xx.
func (e *StatusError) Server() bool { return e.StatusCode >= 500 }

// RateLimitedError is a 429 or 503 response.
type RateLimitedError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (HTTP %d), retry after %s", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (HTTP %d)", e.StatusCode)
}

// DecodeError is a payload that could not be parsed. Never retried.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.Key, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// TooManyRetriesError carries the attempt count and the last failure for
// logging. It matches ErrTooManyRetries and nothing else.
type TooManyRetriesError struct {
	Attempts int
	Last     error
}

func (e *TooManyRetriesError) Error() string {
	return fmt.Sprintf("too many retries after %d attempts: %v", e.Attempts, e.Last)
}

func (e *TooManyRetriesError) Is(target error) bool { return target == ErrTooManyRetries }

// Retryable reports whether err should be retried by the transport.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr *NetworkError
	var rl *RateLimitedError
	var st *StatusError
	switch {
	case errors.As(err, &rl):
		return true
	case errors.As(err, &netErr):
		return true
	case errors.As(err, &st):
		return st.Server()
	case errors.Is(err, errStaleValidator):
		return true
	}
	return false
}
