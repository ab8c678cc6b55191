// Package errs defines the engine's error taxonomy and its mapping to
// HTTP status codes (spec.md §7). Grounded on tavern's pkg/errors,
// generalized from a bare status-code wrapper into a typed Kind so
// callers can branch on failure class (e.g. degrade to FileOnly on
// Upstream, terminate the stream on IO) rather than on a numeric code.
package errs

import (
	"fmt"
	"net/http"
)

// Kind classifies an error by where in the pipeline it occurred and
// how the coordinator should react to it.
type Kind int

const (
	// KindInvalidRange marks a malformed or inconsistent Range header.
	// Maps to 416, no cache effect.
	KindInvalidRange Kind = iota
	// KindUpstream marks an unreachable origin, a 5xx response, or a
	// truncated origin body. If any cached coverage exists the
	// coordinator degrades to FileOnly and serves the covered prefix;
	// otherwise it surfaces as 502.
	KindUpstream
	// KindIO marks a disk read or write failure. A write-back failure
	// is dropped silently; a read failure mid-response terminates the
	// client connection.
	KindIO
	// KindNotFound marks a key with no cached data when the selector
	// resolved to FileOnly because the origin was offline. Maps to 504.
	KindNotFound
	// KindInternal marks an invariant violation. Maps to 500 and should
	// always be logged with the invariant that tripped.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRange:
		return "invalid_range"
	case KindUpstream:
		return "upstream"
	case KindIO:
		return "io"
	case KindNotFound:
		return "not_found"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Status returns the HTTP status code this Kind manifests as when an
// error occurs before the first response byte is sent.
func (k Kind) Status() int {
	switch k {
	case KindInvalidRange:
		return http.StatusRequestedRangeNotSatisfiable
	case KindUpstream:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusGatewayTimeout
	case KindInternal:
		return http.StatusInternalServerError
	case KindIO:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is the engine's wire-level error type: a Kind plus an optional
// cause and response headers the handler should set before writing the
// status line (e.g. Content-Range on a 416).
type Error struct {
	Kind    Kind
	Headers http.Header
	cause   error
}

// New constructs an Error of the given kind with no cause.
func New(kind Kind, headers http.Header) *Error {
	return &Error{Kind: kind, Headers: headers}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// WithHeaders attaches response headers to be applied before the
// status line is written.
func (e *Error) WithHeaders(h http.Header) *Error {
	e.Headers = h
	return e
}

// Status returns the HTTP status code this error manifests as.
func (e *Error) Status() int {
	return e.Kind.Status()
}
