package driveops

import (
	"context"
	"errors"
	"net"

	"github.com/tonimelisma/drivebridge/internal/graph"
	"github.com/tonimelisma/drivebridge/internal/remote"
)

// graphStatus pairs each Graph sentinel with the status code it surfaces as.
// Order matters only for errors wrapping more than one sentinel.
var graphStatus = []struct {
	sentinel error
	code     remote.StatusCode
}{
	{graph.ErrNotLoggedIn, remote.StatusSignInRequired},
	{graph.ErrUnauthorized, remote.StatusSignInRequired},
	{graph.ErrForbidden, remote.StatusForbidden},
	{graph.ErrNotFound, remote.StatusNotFound},
	{graph.ErrConflict, remote.StatusConflict},
	{graph.ErrGone, remote.StatusGone},
	{graph.ErrThrottled, remote.StatusThrottled},
	{graph.ErrLocked, remote.StatusLocked},
	{graph.ErrServerError, remote.StatusServiceUnavailable},
	{graph.ErrUnsupported, remote.StatusUnsupported},
	{graph.ErrBadRequest, remote.StatusInvalidRequest},
	{graph.ErrNoDownloadURL, remote.StatusInvalidRequest},
	{graph.ErrNoParent, remote.StatusInvalidRequest},
	{graph.ErrInvalidUploadTarget, remote.StatusInvalidRequest},
}

// statusError converts a transport error into the service's status object.
// The original error stays in the chain. nil stays nil.
func statusError(err error) error {
	if err == nil {
		return nil
	}

	var se *remote.StatusError
	if errors.As(err, &se) {
		return err
	}

	return newStatus(err)
}

// newStatus classifies err, preferring the service's own message over the
// transport's error string.
func newStatus(err error) *remote.StatusError {
	se := remote.NewStatusError(statusCode(err), err)

	var ge *graph.GraphError
	if errors.As(err, &ge) && ge.Message != "" {
		se.Message = ge.Message
	}

	return se
}

func statusCode(err error) remote.StatusCode {
	for _, gs := range graphStatus {
		if errors.Is(err, gs.sentinel) {
			return gs.code
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return remote.StatusCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return remote.StatusTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return remote.StatusTimeout
		}

		return remote.StatusNetworkError
	}

	return remote.StatusInternal
}

// connectError is statusError for failures while establishing the session.
// Sign-in failures are resolvable through the consent flow.
func connectError(err error) *remote.StatusError {
	se := newStatus(err)
	se.Resolvable = se.Code == remote.StatusSignInRequired

	return se
}

func invalid(msg string) error {
	return &remote.StatusError{Code: remote.StatusInvalidRequest, Message: msg}
}
