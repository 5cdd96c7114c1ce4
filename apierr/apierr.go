// Package apierr defines the typed error kinds shared by every swauth
// component. Handlers in package server translate these into HTTP status
// codes without ever leaking the wrapped internal error to the client.
package apierr

import "net/http"

// Kind classifies an error the way spec section 7 enumerates them.
type Kind string

const (
	KindBadRequest   Kind = "bad_request"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

// statusForKind is the fixed mapping from Kind to HTTP status.
var statusForKind = map[Kind]int{
	KindBadRequest:   http.StatusBadRequest,
	KindUnauthorized: http.StatusUnauthorized,
	KindForbidden:    http.StatusForbidden,
	KindNotFound:     http.StatusNotFound,
	KindConflict:     http.StatusConflict,
	KindInternal:     http.StatusInternalServerError,
}

// Error is the error type returned by every swauth component.
type Error struct {
	Kind Kind
	Msg  string

	// Err is the underlying error, e.g. a backing-store failure. It is
	// logged but never rendered to the caller.
	Err error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return string(e.Kind)
}

// Unwrap lets callers use errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code this error maps to.
func (e *Error) Status() int {
	if code, ok := statusForKind[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func newKind(kind Kind) func(msg string, cause error) *Error {
	return func(msg string, cause error) *Error {
		return &Error{Kind: kind, Msg: msg, Err: cause}
	}
}

var (
	// BadRequest reports malformed input, unknown paths, or oversize tokens.
	BadRequest = newKind(KindBadRequest)

	// Unauthorized reports a missing/expired/unknown token or failed credential check.
	Unauthorized = newKind(KindUnauthorized)

	// Forbidden reports an established principal lacking privilege for the request.
	Forbidden = newKind(KindForbidden)

	// NotFound reports a missing entity or a disabled admin surface.
	NotFound = newKind(KindNotFound)

	// Conflict reports a non-empty account delete or a cross-cluster delete conflict.
	Conflict = newKind(KindConflict)

	// Internal reports any non-2xx backing response or a remote-call timeout.
	Internal = newKind(KindInternal)
)

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	aerr, ok := err.(*Error)
	return ok && aerr.Kind == kind
}

// KindOf returns the Kind of err, defaulting to KindInternal for unrecognized errors.
func KindOf(err error) Kind {
	if aerr, ok := err.(*Error); ok {
		return aerr.Kind
	}
	return KindInternal
}
