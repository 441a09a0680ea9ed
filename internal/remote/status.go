package remote

import (
	"errors"
	"fmt"
)

// StatusCode is the service's stable classification of a non-success result.
type StatusCode int

// Status codes. Values are stable and may be persisted.
const (
	StatusInternal StatusCode = iota + 1
	StatusNotConnected
	StatusSignInRequired
	StatusForbidden
	StatusNotFound
	StatusConflict
	StatusInvalidRequest
	StatusThrottled
	StatusServiceUnavailable
	StatusNetworkError
	StatusTimeout
	StatusCanceled
	StatusLocked
	StatusGone
	StatusUnsupported
	// StatusContentTransferFailed is a local I/O failure while copying
	// content; the remote service was not at fault.
	StatusContentTransferFailed
)

var statusNames = map[StatusCode]string{
	StatusInternal:           "internal",
	StatusNotConnected:       "not_connected",
	StatusSignInRequired:     "sign_in_required",
	StatusForbidden:          "forbidden",
	StatusNotFound:           "not_found",
	StatusConflict:           "conflict",
	StatusInvalidRequest:     "invalid_request",
	StatusThrottled:          "throttled",
	StatusServiceUnavailable: "service_unavailable",
	StatusNetworkError:       "network_error",
	StatusTimeout:            "timeout",
	StatusCanceled:           "canceled",
	StatusLocked:             "locked",
	StatusGone:               "gone",
	StatusUnsupported:        "unsupported",

	StatusContentTransferFailed: "content_transfer_failed",
}

func (c StatusCode) String() string {
	if name, ok := statusNames[c]; ok {
		return name
	}

	return fmt.Sprintf("status(%d)", int(c))
}

// ParseStatusCode is the inverse of StatusCode.String.
func ParseStatusCode(s string) (StatusCode, bool) {
	for code, name := range statusNames {
		if name == s {
			return code, true
		}
	}

	return 0, false
}

// ErrNotConnected is returned by Service calls issued while the session is
// not connected. Implementations must fail fast instead of waiting.
var ErrNotConnected = &StatusError{
	Code:    StatusNotConnected,
	Message: "session is not connected",
}

// StatusError is the status object of a failed remote call.
type StatusError struct {
	Code    StatusCode
	Message string
	// Resolvable is only meaningful for connection failures: it reports
	// whether an external resolution flow (e.g. user consent) may fix it.
	Resolvable bool
	Err        error
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return "remote: " + e.Code.String()
	}

	return fmt.Sprintf("remote: %s: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Is matches any *StatusError with the same code, so errors.Is works against
// ErrNotConnected and other code-only values.
func (e *StatusError) Is(target error) bool {
	var t *StatusError
	if !errors.As(target, &t) {
		return false
	}

	return t.Code == e.Code
}

// NewStatusError builds a StatusError wrapping err.
func NewStatusError(code StatusCode, err error) *StatusError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	return &StatusError{Code: code, Message: msg, Err: err}
}

// StatusOf extracts the status code from err, if it carries one.
func StatusOf(err error) (StatusCode, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}

	return 0, false
}
