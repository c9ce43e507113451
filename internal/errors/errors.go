// Package errors models the handful of client-facing protocol errors
// the proxy can report, in the donor's Error-with-cause shape.
package errors

import "fmt"

// ProtocolError is a malformed-request condition reported to the client
// as a short HTML page before the connection is closed.
type ProtocolError struct {
	Status  int
	Title   string
	Message string
	cause   error
}

// New builds a ProtocolError with the given status line components.
func New(status int, title, message string) *ProtocolError {
	return &ProtocolError{Status: status, Title: title, Message: message}
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("proxy: %d %s: %s", e.Status, e.Title, e.Message)
}

// WithCause returns a copy of e carrying the underlying error that
// triggered it, for logging purposes only — it is never sent to the
// client. It returns a copy rather than mutating e in place because
// ErrBadRequest/ErrNotImplemented/ErrVersionNotSupported below are
// package-level sentinels shared by every connection's worker;
// mutating one in place would race across goroutines.
func (e *ProtocolError) WithCause(err error) *ProtocolError {
	clone := *e
	clone.cause = err
	return &clone
}

func (e *ProtocolError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a ProtocolError carrying the same
// Status, so errors.Is(err, ErrBadRequest) still matches once
// WithCause has handed back a causal copy of the shared sentinel.
func (e *ProtocolError) Is(target error) bool {
	other, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return e.Status == other.Status
}

var (
	// ErrBadRequest is reported when the request line cannot be parsed.
	ErrBadRequest = New(400, "Bad request", "Request could not be understood by the proxy server")
	// ErrNotImplemented is reported for any method other than GET.
	ErrNotImplemented = New(501, "Not implemented", "Server does not support the request method")
	// ErrVersionNotSupported is reported for any HTTP version other than 1.0/1.1.
	ErrVersionNotSupported = New(505, "HTTP version not supported", "Server does not support version in request")
)
