// Package orcherr defines the closed set of error kinds the orchestrator
// reasons about, and the Outcome sum type handlers return.
package orcherr

import "fmt"

// Kind is a closed set of error classifications. The orchestrator branches
// on Kind, never on Go error types, so handlers in any language-shaped
// adapter can report the same contract.
type Kind string

const (
	// ValidationError is never retried; it goes straight to the DLQ.
	ValidationError Kind = "VALIDATION_ERROR"
	// DependencyError is retried with backoff; exhaustion moves to DLQ.
	DependencyError Kind = "DEPENDENCY_ERROR"
	// RateLimited is retried with backoff seeded by a retry-after hint.
	RateLimited Kind = "RATE_LIMITED"
	// NotFound is fatal; the upstream confirmed the resource is gone.
	NotFound Kind = "NOT_FOUND"
	// InternalError is fatal; an unexpected exception or malformed response.
	InternalError Kind = "INTERNAL_ERROR"
	// Cancelled means the handler returned because ctx was cancelled. It is
	// not a failure: the lease will expire and the job returns to pending
	// with attempts unchanged.
	Cancelled Kind = "CANCELLED"
)

// Retryable reports whether this kind is ever retried by the orchestrator.
// VALIDATION_ERROR, NOT_FOUND and INTERNAL_ERROR are fatal by contract;
// DEPENDENCY_ERROR and RATE_LIMITED are retried until the retry policy is
// exhausted; CANCELLED never reaches fail() because the Dispatcher treats
// it as "no outcome observed".
func (k Kind) Retryable() bool {
	switch k {
	case DependencyError, RateLimited:
		return true
	default:
		return false
	}
}

// Error is the structured {kind, message, meta} shape stored as a Job's
// last_error.
type Error struct {
	Kind    Kind
	Message string
	Meta    map[string]any
	// RetryAfter is an optional upstream-supplied hint (e.g. a 429's
	// Retry-After header) used to raise the Retry Policy's effective base
	// delay for RATE_LIMITED failures.
	RetryAfter int64 // seconds; 0 means "no hint"
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an *Error.
func New(kind Kind, message string, meta map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Meta: meta}
}

// Outcome is the sum type a handler returns. Exactly one of the
// constructors below should be used; Done has no payload.
type Outcome struct {
	Done  bool
	Err   *Error // non-nil for retryable/fatal outcomes
	Fatal bool   // true if Err should never be retried regardless of Kind
}

// OutcomeDone reports successful, terminal completion of the handler.
func OutcomeDone() Outcome { return Outcome{Done: true} }

// OutcomeRetryable reports a recoverable failure; the orchestrator applies
// the handler's retry profile to decide whether to retry or dead-letter.
func OutcomeRetryable(err *Error) Outcome { return Outcome{Err: err} }

// OutcomeFatal reports a failure that should never be retried.
func OutcomeFatal(err *Error) Outcome { return Outcome{Err: err, Fatal: true} }
