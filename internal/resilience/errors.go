// Package resilience provides failure classification, retry with
// backoff, and a circuit breaker for calls to external services.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// Class buckets an external-service failure for retry policy.
type Class int

const (
	// ClassHard is a permanent failure; retrying cannot help.
	ClassHard Class = iota
	// ClassBusy is a soft failure (429, 5xx, timeout); safe to retry
	// after backoff.
	ClassBusy
	// ClassNotFound is a definitive negative answer, terminal but
	// distinct from an error.
	ClassNotFound
)

func (c Class) String() string {
	switch c {
	case ClassBusy:
		return "busy"
	case ClassNotFound:
		return "not_found"
	default:
		return "hard"
	}
}

// ErrNotFound is the canonical lookup-miss sentinel for external
// registries. A miss must never be retried or recorded as a service
// error.
var ErrNotFound = errors.New("not found")

// BusyError marks a failure as retryable, optionally carrying the
// server-suggested delay.
type BusyError struct {
	Err        error
	StatusCode int
	RetryAfter time.Duration
}

func (e *BusyError) Error() string {
	return e.Err.Error()
}

func (e *BusyError) Unwrap() error {
	return e.Err
}

// Busy wraps an error as retryable with an optional HTTP status code.
func Busy(err error, statusCode int) *BusyError {
	return &BusyError{Err: err, StatusCode: statusCode}
}

// Classify assigns a failure class to an error chain.
func Classify(err error) Class {
	if err == nil {
		return ClassHard
	}
	if errors.Is(err, ErrNotFound) {
		return ClassNotFound
	}

	var be *BusyError
	if errors.As(err, &be) {
		return ClassBusy
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassBusy
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return ClassBusy
	}

	// Wrapped errors from HTTP clients lose their type; fall back to
	// message heuristics for the common transport failures.
	msg := strings.ToLower(err.Error())
	busyPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range busyPatterns {
		if strings.Contains(msg, p) {
			return ClassBusy
		}
	}

	return ClassHard
}

// IsRetryable reports whether a failure is worth another attempt.
func IsRetryable(err error) bool {
	return Classify(err) == ClassBusy
}

// BusyHTTPStatus reports whether an HTTP status indicates a transient
// server-side condition.
func BusyHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
