// Package apperrors provides the unified error taxonomy for the data-access
// layer. Every error crossing a component boundary is an *Error carrying the
// failing backend, the operation name, and a classification type; the
// classification is what drives fallback decisions.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Type is the closed set of error classifications.
type Type string

const (
	// TypeConnection covers connectivity failures and "backend not
	// configured" conditions. Recoverable: triggers fallback.
	TypeConnection Type = "CONNECTION"
	// TypeTimeout covers deadline-exceeded I/O. Recoverable.
	TypeTimeout Type = "TIMEOUT"
	// TypeValidation covers malformed input rejected before any I/O. Fatal.
	TypeValidation Type = "VALIDATION"
	// TypeNotFound covers a missing record. Fatal: a 404 from one backend
	// is not evidence the other backend should be tried.
	TypeNotFound Type = "NOT_FOUND"
	// TypeOperation covers a backend rejecting the operation itself,
	// e.g. a constraint violation. Fatal.
	TypeOperation Type = "OPERATION"
	// TypeUnsupportedOperator covers translation-time operator rejection. Fatal.
	TypeUnsupportedOperator Type = "UNSUPPORTED_OPERATOR"
	// TypeCache covers cache failures. Never propagated to callers.
	TypeCache Type = "CACHE"
	// TypeTransaction covers begin/commit/rollback failures.
	TypeTransaction Type = "TRANSACTION"
)

// Error is the single error type used across the layer.
type Error struct {
	Type      Type   `json:"type"`
	Operation string `json:"operation"`
	Backend   string `json:"backend,omitempty"`
	Message   string `json:"message"`
	Cause     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("[%s] %s on %s: %s", e.Type, e.Operation, e.Backend, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Operation, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error with an explicit type.
func New(t Type, backend, operation, message string, cause error) *Error {
	return &Error{Type: t, Operation: operation, Backend: backend, Message: message, Cause: cause}
}

func Connection(backend, operation, message string, cause error) *Error {
	return New(TypeConnection, backend, operation, message, cause)
}

func Timeout(backend, operation string, cause error) *Error {
	return New(TypeTimeout, backend, operation, "operation timed out", cause)
}

func Validation(operation, message string) *Error {
	return New(TypeValidation, "", operation, message, nil)
}

func NotFound(backend, operation, id string) *Error {
	return New(TypeNotFound, backend, operation, fmt.Sprintf("record %q not found", id), nil)
}

func Operation(backend, operation, message string, cause error) *Error {
	return New(TypeOperation, backend, operation, message, cause)
}

// UnsupportedOperator reports a filter operator the active backend cannot
// translate. The operator and backend are named so the caller can decide
// whether to abort or rewrite the query.
func UnsupportedOperator(backend, operator string) *Error {
	return New(TypeUnsupportedOperator, backend, "translate",
		fmt.Sprintf("operator %q is not supported by backend %q", operator, backend), nil)
}

func Cache(operation, message string, cause error) *Error {
	return New(TypeCache, "", operation, message, cause)
}

func Transaction(operation, message string, cause error) *Error {
	return New(TypeTransaction, "postgres", operation, message, cause)
}

// TypeOf returns the classification of err, or "" for foreign errors.
func TypeOf(err error) Type {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TypeTimeout
	}
	return ""
}

// IsRecoverable reports whether err should trigger a fallback attempt on
// the alternate backend. Only connectivity-class failures qualify;
// validation and not-found are the answer, not a transport problem.
func IsRecoverable(err error) bool {
	switch TypeOf(err) {
	case TypeConnection, TypeTimeout:
		return true
	}
	return false
}

func IsNotFound(err error) bool {
	return TypeOf(err) == TypeNotFound
}

func IsValidation(err error) bool {
	return TypeOf(err) == TypeValidation
}

// Class returns a low-cardinality label for metrics and fallback events.
func Class(err error) string {
	if t := TypeOf(err); t != "" {
		return string(t)
	}
	return "UNKNOWN"
}
