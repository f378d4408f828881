// Package apperr defines the error-kind taxonomy shared by every service
// in the trade control plane: each kind maps to one HTTP status and a
// stable machine-readable code, so handlers never have to invent a
// mapping ad hoc.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why an operation failed.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindRiskViolation   Kind = "risk_violation"
	KindFailClosed      Kind = "fail_closed"
	KindTransientBroker Kind = "transient_broker"
	KindPermanentBroker Kind = "permanent_broker"
	KindConflict        Kind = "conflict"
	KindQuarantine       Kind = "quarantine"
	KindNotFound        Kind = "not_found"
	KindInternal        Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindValidation:      http.StatusUnprocessableEntity,
	KindRiskViolation:   http.StatusUnprocessableEntity,
	KindFailClosed:      http.StatusServiceUnavailable,
	KindTransientBroker: http.StatusServiceUnavailable,
	KindPermanentBroker: http.StatusUnprocessableEntity,
	KindConflict:        http.StatusConflict,
	KindQuarantine:      http.StatusUnprocessableEntity,
	KindNotFound:        http.StatusNotFound,
	KindInternal:        http.StatusInternalServerError,
}

// Error is the concrete error type every layer of this repository
// returns for business/validation/safety failures. System faults
// (database unreachable, context canceled) are propagated as plain
// errors and wrapped at the HTTP boundary as KindInternal.
type Error struct {
	Kind Kind
	// Code is the stable machine-readable string clients may depend on;
	// Message is human-readable and must never be parsed by callers.
	Code    string
	Message string
	// Cause, if set, is logged but never rendered to the caller.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code for e's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an *Error with no underlying cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an *Error carrying cause for logging.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// As extracts an *Error from err, following the standard library's
// errors.As unwrap chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// StatusOf returns the HTTP status for err: the kind-specific status if
// err wraps an *Error, otherwise 500.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}
