// Package apperr defines the typed errors services return and their HTTP status mapping.
// Repositories return plain errors (or nil, nil for missing rows); services translate them into
// an *Error of the right Kind so transports never guess from error strings.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindAuthentication     Kind = "authentication_error"
	KindAuthorization      Kind = "authorization_error"
	KindValidation         Kind = "validation_error"
	KindConflict           Kind = "conflict"
	KindResourceExhausted  Kind = "resource_exhausted"
	KindNotFound           Kind = "not_found"
	KindServiceUnavailable Kind = "service_unavailable"
	KindRateLimited        Kind = "rate_limited"
	KindInternal           Kind = "internal_error"
)

const internalMessage = "internal server error"

// Error is a classified application error. Message is safe to return to clients;
// Err carries the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error of kind with message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an *Error of kind with message and cause err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Authentication(message string) *Error { return New(KindAuthentication, message) }
func Authorization(message string) *Error  { return New(KindAuthorization, message) }
func Validation(message string) *Error     { return New(KindValidation, message) }
func Conflict(message string) *Error       { return New(KindConflict, message) }
func NotFound(message string) *Error       { return New(KindNotFound, message) }
func ResourceExhausted(message string) *Error {
	return New(KindResourceExhausted, message)
}

// Unavailable marks a downstream failure or timeout; clients may retry.
func Unavailable(message string, err error) *Error {
	return Wrap(KindServiceUnavailable, message, err)
}

// Internal wraps an unclassified failure. The client only ever sees an opaque message.
func Internal(err error) *Error {
	return Wrap(KindInternal, internalMessage, err)
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns the client-safe message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return internalMessage
}

// HTTPStatus maps err to its HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindResourceExhausted:
		return http.StatusInsufficientStorage
	case KindNotFound:
		return http.StatusNotFound
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
