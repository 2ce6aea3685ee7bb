// Package errors provides kind-carrying errors so handlers can map
// failures to HTTP status codes without matching on message strings.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicates the error
	Message string `json:"message"`

	cause error
}

var _ error = (*Error)(nil)

// Predeclared error kinds. Use Explain/Wrap to derive a concrete error;
// both copy, so the sentinels themselves are never mutated.
var (
	Invalid     = NewWithKind("Validation")
	NotFound    = NewWithKind("NotFound")
	Conflict    = NewWithKind("Conflict")
	DataFormat  = NewWithKind("DataFormat")
	Unavailable = NewWithKind("Unavailable")
)

func New(message string) *Error {
	return &Error{Kind: "Unknown", Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Wrap makes a copy of the error with the cause set
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Is implements the needed interface for errors.Is.
// Two Errors are equal when their kinds match.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// StatusOf maps an error to the HTTP status code its kind stands for.
// Unknown errors and plain causes map to 500.
func StatusOf(err error) int {
	var e *Error
	if !As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case Invalid.Kind:
		return http.StatusBadRequest
	case NotFound.Kind:
		return http.StatusNotFound
	case Conflict.Kind:
		return http.StatusConflict
	case DataFormat.Kind:
		return http.StatusBadGateway
	case Unavailable.Kind:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
