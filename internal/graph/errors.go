// Package graph is a thin HTTP client for the Microsoft Graph drive API.
// Every call is a single attempt; callers own retry and backoff policy.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, graph.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("graph: bad request")
	ErrUnauthorized = errors.New("graph: unauthorized")
	ErrForbidden    = errors.New("graph: forbidden")
	ErrNotFound     = errors.New("graph: not found")
	ErrConflict     = errors.New("graph: conflict")
	ErrGone         = errors.New("graph: resource gone")
	ErrThrottled    = errors.New("graph: throttled")
	ErrLocked       = errors.New("graph: resource locked")
	ErrServerError  = errors.New("graph: server error")
	ErrUnsupported  = errors.New("graph: not implemented")
)

// Sentinels raised locally rather than from an HTTP status.
var (
	// ErrNotLoggedIn means no token is stored; the user must sign in.
	ErrNotLoggedIn = errors.New("graph: not logged in")

	// ErrNoDownloadURL means the item metadata carried no pre-authenticated
	// download link (folders, packages, or non-downloadable items).
	ErrNoDownloadURL = errors.New("graph: item has no download URL")
)

// GraphError is a non-2xx reply. Code and Message come from the Graph error
// body when it has one; Message falls back to the raw body.
type GraphError struct {
	StatusCode int
	RequestID  string
	Code       string        // Graph error code, e.g. "itemNotFound"
	Message    string
	RetryAfter time.Duration // from Retry-After on 429/503; zero if absent
	Err        error         // sentinel, for errors.Is()
}

func (e *GraphError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}

	if e.RequestID != "" {
		return fmt.Sprintf("graph: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, msg)
	}

	return fmt.Sprintf("graph: HTTP %d: %s", e.StatusCode, msg)
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

// maxErrorBody bounds how much of an error reply is read.
const maxErrorBody = 64 << 10

// errorBody is the Graph error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newGraphError reads and closes resp's body.
func newGraphError(resp *http.Response) *GraphError {
	defer resp.Body.Close()

	ge := &GraphError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("request-id"),
		RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		Err:        classifyStatus(resp.StatusCode),
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		ge.Message = "(failed to read response body)"
		return ge
	}

	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error.Code != "" {
		ge.Code = eb.Error.Code
		ge.Message = eb.Error.Message

		return ge
	}

	ge.Message = strings.TrimSpace(string(raw))

	return ge
}

// retryAfter parses a Retry-After header given in seconds. HTTP dates are
// not used by Graph and parse as zero.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}

	return time.Duration(secs) * time.Second
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusRequestedRangeNotSatisfiable:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusLocked:
		return ErrLocked
	case http.StatusNotImplemented:
		return ErrUnsupported
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusBadRequest {
			return ErrBadRequest
		}

		return nil
	}
}
