// Package apperr defines the error kinds the engine surfaces to callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindInvalidState    Kind = "invalid_state"
	KindForbidden       Kind = "forbidden"
	KindNotWritable     Kind = "not_writable"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindUpstreamFailure Kind = "upstream_failure"
	KindInvalidValue    Kind = "invalid_value"
	KindUnauthenticated Kind = "unauthenticated"
	KindInternal        Kind = "internal"
)

// Error carries a Kind and a caller-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.NotFound(""))
// style checks work without comparing messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidState reports a transition attempted from the wrong status.
func InvalidState(format string, args ...any) *Error {
	return newf(KindInvalidState, format, args...)
}

// Forbidden reports a role that lacks permission.
func Forbidden(format string, args ...any) *Error {
	return newf(KindForbidden, format, args...)
}

// NotWritable reports a response write outside the writable phase.
func NotWritable(format string, args ...any) *Error {
	return newf(KindNotWritable, format, args...)
}

// NotFound reports a missing or cross-tenant resource.
func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

// Conflict reports a lost compare-and-swap or a uniqueness violation.
func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, format, args...)
}

// InvalidValue reports malformed input.
func InvalidValue(format string, args ...any) *Error {
	return newf(KindInvalidValue, format, args...)
}

// Unauthenticated reports a request without a usable principal.
func Unauthenticated(format string, args ...any) *Error {
	return newf(KindUnauthenticated, format, args...)
}

// Upstream wraps a failed AI capability call.
func Upstream(err error, format string, args ...any) *Error {
	e := newf(KindUpstreamFailure, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidState, KindNotWritable, KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidValue:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
