package model

import (
	"fmt"
	"time"

	"github.com/polytool/polytool/core"
)

// BackendUnavailableError reports that a backend (or every candidate
// backend) could not serve the request. The orchestrator responds with its
// degraded-reply fallback.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

// Error implements error.
func (e *BackendUnavailableError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("no model backend available: %v", e.Err)
	}
	return fmt.Sprintf("backend %s unavailable: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// ErrorKind implements core.Kinder.
func (e *BackendUnavailableError) ErrorKind() core.Kind { return core.KindTransient }

// RateLimitedError reports a provider rate limit. The adapter retries these
// with exponential backoff up to a cap, then escalates to
// BackendUnavailableError for the attempt.
type RateLimitedError struct {
	Backend    string
	RetryAfter time.Duration
}

// Error implements error.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("backend %s rate limited", e.Backend)
}

// ErrorKind implements core.Kinder.
func (e *RateLimitedError) ErrorKind() core.Kind { return core.KindTransient }

// InvalidRequestError reports a request the backend rejected as malformed.
// Never retried.
type InvalidRequestError struct {
	Reason string
}

// Error implements error.
func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid model request: %s", e.Reason)
}

// ErrorKind implements core.Kinder.
func (e *InvalidRequestError) ErrorKind() core.Kind { return core.KindValidation }
