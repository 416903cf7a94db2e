// Package fault classifies failures of remote AI services into the retry
// taxonomy shared by every provider in this module. Transcription and
// generation backends wrap their errors in [Error]; the dispatch layer reads
// the class back with [ClassOf] to decide between retrying, failing over,
// and giving up.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Class is the coarse failure category of a provider call.
type Class string

const (
	// Timeout: the call exceeded its deadline. Transient.
	Timeout Class = "timeout"

	// RateLimited: HTTP 429 or an equivalent throttle signal. Transient;
	// the server may provide a wait hint (see [Error.RetryAfter]).
	RateLimited Class = "rate_limited"

	// ServerError: HTTP 5xx or a malformed/unknown failure. Transient.
	ServerError Class = "server_error"

	// ClientError: HTTP 4xx other than 429 (bad request, auth, quota
	// exhausted). Permanent; retrying the same request cannot succeed.
	ClientError Class = "client_error"

	// Network: connection-level failure before any HTTP response.
	// Transient.
	Network Class = "network"
)

// IsValid reports whether c is one of the defined classes.
func (c Class) IsValid() bool {
	switch c {
	case Timeout, RateLimited, ServerError, ClientError, Network:
		return true
	}
	return false
}

// Transient reports whether errors of this class are worth retrying.
func (c Class) Transient() bool { return c != ClientError }

// String returns the wire name of the class.
func (c Class) String() string { return string(c) }

// Error attaches a [Class] to an underlying provider error, optionally with
// the HTTP status and a server-provided retry hint.
type Error struct {
	Class      Class
	Status     int           // HTTP status when known, else 0
	RetryAfter time.Duration // server wait hint, 0 when absent
	Err        error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error wrapping err.
func New(class Class, err error) *Error {
	return &Error{Class: class, Err: err}
}

// Newf returns a classified error with a formatted message.
func Newf(class Class, format string, args ...any) *Error {
	return &Error{Class: class, Err: fmt.Errorf(format, args...)}
}

// FromStatus maps an HTTP status code to a Class. Statuses outside the
// error ranges map to ServerError, the transient default.
func FromStatus(status int) Class {
	switch {
	case status == 429:
		return RateLimited
	case status >= 500:
		return ServerError
	case status >= 400:
		return ClientError
	default:
		return ServerError
	}
}

// ClassOf extracts the failure class from err. A wrapped [Error] wins;
// otherwise context deadlines map to Timeout, net-level errors map to
// Timeout or Network, and everything else falls back to ServerError so that
// unknown failure shapes stay retryable.
func ClassOf(err error) Class {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return Timeout
		}
		return Network
	}
	return ServerError
}

// RetryAfterOf returns the server-provided wait hint carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var fe *Error
	if errors.As(err, &fe) && fe.RetryAfter > 0 {
		return fe.RetryAfter, true
	}
	return 0, false
}
