// Package errors classifies store and handler failures so the HTTP router
// can map each outcome to a status code without inspecting message text.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the coarse classification of a failure.
type Kind int

const (
	// KindNotFound - named entity/task/handoff/agent absent.
	KindNotFound Kind = iota
	// KindInvalidArgument - missing field, unknown template, bad category.
	KindInvalidArgument
	// KindConflict - claim races, scope overlap, rename-to-existing.
	KindConflict
	// KindUnauthorized - auth check failed.
	KindUnauthorized
	// KindTransport - outbound call to an external service failed.
	KindTransport
	// KindInternal - anything else.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindTransport:
		return "transport"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to its response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a kind and a short user-visible message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Invalid is shorthand for New(KindInvalidArgument, ...).
func Invalid(format string, args ...any) *Error {
	return New(KindInvalidArgument, format, args...)
}

// Conflict is shorthand for New(KindConflict, ...).
func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// KindOf extracts the kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusOf maps err to its HTTP status code.
func StatusOf(err error) int {
	return KindOf(err).HTTPStatus()
}
