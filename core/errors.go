package core

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy. Only KindFatal escalates
// past the orchestrator; every other kind is absorbed into a best-effort
// reply so one failing tool or backend never terminates a session.
type Kind int

const (
	// KindUnknown is the zero value for errors that carry no classification.
	KindUnknown Kind = iota
	// KindValidation marks bad input shape. Rejected immediately, no retry.
	KindValidation
	// KindTransient marks a temporarily unavailable backend or tool.
	// Retried with bounded backoff.
	KindTransient
	// KindCapability marks an unknown tool or schema mismatch. Surfaced as
	// structured detail, not retried.
	KindCapability
	// KindTimeout marks a tool or model exceeding its budget. Surfaced as a
	// degraded result; the conversation continues.
	KindTimeout
	// KindFatal marks an internal invariant violation. The turn aborts, the
	// process keeps running.
	KindFatal
)

// String returns the lower-case label used in logs and wire payloads.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindCapability:
		return "capability"
	case KindTimeout:
		return "timeout"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kinder is implemented by error types that know their own classification.
type Kinder interface {
	ErrorKind() Kind
}

// KindOf walks the wrap chain and returns the first classification found.
// context.DeadlineExceeded maps to KindTimeout. Unclassified errors return
// KindUnknown; callers decide how to treat those.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// ValidationError reports input that fails shape checks before any work is
// attempted.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrorKind implements Kinder.
func (e *ValidationError) ErrorKind() Kind { return KindValidation }

// FatalError wraps an unexpected internal invariant violation. It is the
// only error kind the orchestrator lets escape.
type FatalError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error { return e.Err }

// ErrorKind implements Kinder.
func (e *FatalError) ErrorKind() Kind { return KindFatal }
