// Package consoulerr defines the typed error taxonomy used across Consoul's
// transport boundary, generalizing the provider-failure classification
// pattern (reason enum + classifier + errors.As helpers) to the full set of
// error kinds the server surfaces.
package consoulerr

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy's error classes.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindAuth               Kind = "auth"
	KindRateLimited        Kind = "rate_limited"
	KindStorage            Kind = "storage"
	KindProvider           Kind = "provider"
	KindCircuitOpen        Kind = "circuit_open"
	KindToolDenied         Kind = "tool_denied"
	KindTokenLimitExceeded Kind = "token_limit_exceeded"
	KindStreamingInterrupted Kind = "streaming_interrupted"
	KindInternal           Kind = "internal"
)

// Error is Consoul's single typed error carrying a classification kind,
// a correlation ID for triage, and an optional wrapped cause.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithCorrelationID returns a copy of e carrying the given correlation ID.
func (e *Error) WithCorrelationID(id string) *Error {
	cp := *e
	cp.CorrelationID = id
	return &cp
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindInternal if err is
// not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the HTTP status code the transport layer
// should respond with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindTokenLimitExceeded:
		return 400
	case KindAuth:
		return 401
	case KindRateLimited:
		return 429
	case KindStorage, KindCircuitOpen:
		return 503
	case KindStreamingInterrupted:
		return 200 // surfaced via stream error event, not a failed response
	default:
		return 500
	}
}
