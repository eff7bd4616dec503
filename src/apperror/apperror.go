package apperror

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error so callers can branch on the failure mode
// without string matching.
type Kind string

const (
	KindInvalidRequest       Kind = "invalid_request"
	KindRiskRejected         Kind = "risk_rejected"
	KindNotFound             Kind = "not_found"
	KindInvalidState         Kind = "invalid_state"
	KindUnsupportedOperation Kind = "unsupported_operation"
	KindConnectionError      Kind = "connection_error"
	KindConnectionClosed     Kind = "connection_closed"
)

// Error carries a kind plus an optional violation list (used by the risk
// gate) and an optional wrapped cause.
type Error struct {
	Kind       Kind
	Message    string
	Violations []string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Violations) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Violations, "; "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, apperror.E(kind, "")) match on kind alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// E builds a plain kinded error.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Ef builds a kinded error with a formatted message.
func Ef(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithViolations builds a kinded error carrying the risk gate's violation
// list.
func WithViolations(kind Kind, message string, violations []string) *Error {
	return &Error{Kind: kind, Message: message, Violations: violations}
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
