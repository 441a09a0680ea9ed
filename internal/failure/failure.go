// Package failure classifies non-success results of the remote service into
// the structured failures delivered by the bridge. It performs no retries and
// does not rewrite messages beyond the classification itself.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/tonimelisma/drivebridge/internal/remote"
)

// Sentinel errors for the failure taxonomy.
// Use errors.Is(err, failure.ErrRemoteOperationFailed) to check.
var (
	ErrRemoteOperationFailed  = errors.New("failure: remote operation failed")
	ErrContentTransferFailed  = errors.New("failure: content transfer failed")
	ErrConnectionFailed       = errors.New("failure: connection failed")
	ErrUnableToResolveConnect = errors.New("failure: unable to resolve connection")
)

// Descriptor summarizes a session-level failure. HasResolution reports
// whether an external resolution flow is available for it.
type Descriptor struct {
	Code          remote.StatusCode
	Message       string
	HasResolution bool
}

func (d Descriptor) String() string {
	if d.Message == "" {
		return d.Code.String()
	}

	return fmt.Sprintf("%s: %s", d.Code, d.Message)
}

// OperationError is RemoteOperationFailed: the remote call completed but
// reported a non-success status.
type OperationError struct {
	Op      string
	Code    remote.StatusCode
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrRemoteOperationFailed.
func (e *OperationError) Is(target error) bool {
	return target == ErrRemoteOperationFailed
}

// TransferError is ContentTransferFailed: a local I/O error while copying
// content to or from a source.
type TransferError struct {
	Op  string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: content transfer failed: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrContentTransferFailed.
func (e *TransferError) Is(target error) bool {
	return target == ErrContentTransferFailed
}

// ConnectionError is ConnectionFailed. It is only ever delivered through the
// connection state stream.
type ConnectionError struct {
	Descriptor Descriptor
}

func (e *ConnectionError) Error() string {
	return "connection failed: " + e.Descriptor.String()
}

// Is reports true for ErrConnectionFailed.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}

// UnresolvableError is UnableToResolveConnection: the resolution flow for a
// connection failure could not be started.
type UnresolvableError struct {
	Descriptor Descriptor
	Err        error
}

func (e *UnresolvableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unable to resolve connection (%s): %v", e.Descriptor, e.Err)
	}

	return fmt.Sprintf("unable to resolve connection (%s)", e.Descriptor)
}

func (e *UnresolvableError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrUnableToResolveConnect.
func (e *UnresolvableError) Is(target error) bool {
	return target == ErrUnableToResolveConnect
}

// Classify returns the stable status code and message for err. Errors that
// carry a *remote.StatusError keep its code and message; context, network and
// unknown errors are bucketed.
func Classify(err error) (remote.StatusCode, string) {
	var se *remote.StatusError
	if errors.As(err, &se) {
		msg := se.Message
		if msg == "" {
			msg = se.Code.String()
		}

		return se.Code, msg
	}

	switch {
	case errors.Is(err, context.Canceled):
		return remote.StatusCanceled, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return remote.StatusTimeout, err.Error()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return remote.StatusTimeout, err.Error()
		}

		return remote.StatusNetworkError, err.Error()
	}

	return remote.StatusInternal, err.Error()
}

// Map converts the error of the remote call op into the bridge taxonomy.
// Errors already classified (OperationError, TransferError) pass through
// unchanged; nil stays nil.
func Map(op string, err error) error {
	if err == nil {
		return nil
	}

	var oe *OperationError
	if errors.As(err, &oe) {
		return err
	}

	var te *TransferError
	if errors.As(err, &te) {
		return err
	}

	code, msg := Classify(err)

	return &OperationError{Op: op, Code: code, Message: msg, Err: err}
}

// Transfer wraps a local I/O error as ContentTransferFailed.
func Transfer(op string, err error) error {
	if err == nil {
		return nil
	}

	return &TransferError{Op: op, Err: err}
}

// Describe builds the connection failure descriptor for err. Only a
// *remote.StatusError marked Resolvable yields HasResolution.
func Describe(err error) Descriptor {
	if err == nil {
		return Descriptor{Code: remote.StatusInternal, Message: "unknown connection failure"}
	}

	code, msg := Classify(err)

	var se *remote.StatusError
	resolvable := errors.As(err, &se) && se.Resolvable

	return Descriptor{Code: code, Message: msg, HasResolution: resolvable}
}

// CodeOf returns the status code carried by err, or StatusInternal when err
// is not a classified failure. Transfer errors report
// StatusContentTransferFailed.
func CodeOf(err error) remote.StatusCode {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Code
	}

	if errors.Is(err, ErrContentTransferFailed) {
		return remote.StatusContentTransferFailed
	}

	code, _ := Classify(err)

	return code
}
