package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tonimelisma/drivebridge/internal/failure"
)

// ErrUnknownRequest is returned by OnResolutionOutcome for a token that was
// never issued or whose outcome was already reported.
var ErrUnknownRequest = errors.New("connection: unknown resolution request")

// RequestToken correlates a started resolution flow with its outcome.
type RequestToken string

// ResolutionRequest is handed to the Host when a resolution flow starts.
type ResolutionRequest struct {
	Token   RequestToken
	Failure failure.Descriptor
}

// Host is the environment that runs resolution flows (for example a browser
// consent page). StartResolution must return once the flow has been
// launched; its outcome is reported later through OnResolutionOutcome.
type Host interface {
	StartResolution(ctx context.Context, req ResolutionRequest) error
	ShowFailure(desc failure.Descriptor)
}

// Resolution is the immediate result of Resolve.
type Resolution int

// Resolutions.
const (
	ResolutionNotAvailable Resolution = iota
	ResolutionStarted
	ResolutionUnable
)

func (r Resolution) String() string {
	switch r {
	case ResolutionNotAvailable:
		return "not_available"
	case ResolutionStarted:
		return "started"
	case ResolutionUnable:
		return "unable"
	default:
		return "unknown"
	}
}

// Resolver drives resolution flows for a Machine's connection failures.
type Resolver struct {
	machine *Machine
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[RequestToken]failure.Descriptor
}

// NewResolver returns a Resolver that reports outcomes into m.
func NewResolver(m *Machine, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		machine: m,
		logger:  logger,
		pending: make(map[RequestToken]failure.Descriptor),
	}
}

// Resolve attempts to fix the failure described by desc. Without a
// resolution flow the failure summary goes straight to host.ShowFailure.
// If the host cannot start the flow, the machine moves to UnableToResolve
// and an *failure.UnresolvableError is returned.
func (r *Resolver) Resolve(ctx context.Context, host Host, desc failure.Descriptor) (Resolution, error) {
	if !desc.HasResolution {
		r.logger.Info("no resolution available", slog.String("code", desc.Code.String()))
		host.ShowFailure(desc)

		return ResolutionNotAvailable, nil
	}

	token := RequestToken(uuid.NewString())

	r.mu.Lock()
	r.pending[token] = desc
	r.mu.Unlock()

	r.logger.Info("starting resolution",
		slog.String("token", string(token)),
		slog.String("code", desc.Code.String()),
	)

	if err := host.StartResolution(ctx, ResolutionRequest{Token: token, Failure: desc}); err != nil {
		r.forget(token)
		r.logger.Warn("resolution could not be started",
			slog.String("token", string(token)),
			slog.String("error", err.Error()),
		)
		r.machine.unableToResolve(desc)

		return ResolutionUnable, &failure.UnresolvableError{Descriptor: desc, Err: err}
	}

	return ResolutionStarted, nil
}

// OnResolutionOutcome re-injects the outcome of a started flow. Success
// reconnects the session; failure leaves the machine Failed and re-emits
// the original failure. Each token is accepted once.
func (r *Resolver) OnResolutionOutcome(token RequestToken, succeeded bool) error {
	desc, ok := r.forget(token)
	if !ok {
		return ErrUnknownRequest
	}

	if succeeded {
		r.logger.Info("resolution succeeded, reconnecting", slog.String("token", string(token)))
		r.machine.Connect()

		return nil
	}

	r.logger.Warn("resolution failed", slog.String("token", string(token)))
	r.machine.resolutionFailed(desc)

	return nil
}

// Pending reports how many started flows await an outcome.
func (r *Resolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.pending)
}

func (r *Resolver) forget(token RequestToken) (failure.Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, ok := r.pending[token]
	delete(r.pending, token)

	return desc, ok
}
