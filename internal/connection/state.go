// Package connection presents the lifecycle of a remote session as a
// multicast stream of immutable State values, and drives the external
// resolution flow for recoverable connection failures.
package connection

import (
	"fmt"

	"github.com/tonimelisma/drivebridge/internal/failure"
	"github.com/tonimelisma/drivebridge/internal/remote"
)

// State is one point in the connection lifecycle. The concrete types are
// Connected, Suspended, Failed and UnableToResolve; no other type can
// implement State, so a switch over them is exhaustive.
type State interface {
	fmt.Stringer
	state()
}

// Connected reports an established session.
type Connected struct {
	Session remote.SessionInfo
}

// Suspended reports a temporarily interrupted session.
type Suspended struct {
	Cause SuspendCause
}

// Failed reports a session-level failure. The caller may hand Failure to a
// Resolver when Failure.HasResolution is set.
type Failed struct {
	Failure failure.Descriptor
}

// UnableToResolve is terminal until the caller rebuilds the session: the
// resolution flow for Failure could not be started.
type UnableToResolve struct {
	Failure failure.Descriptor
}

func (Connected) state()       {}
func (Suspended) state()       {}
func (Failed) state()          {}
func (UnableToResolve) state() {}

func (s Connected) String() string {
	if s.Session.DisplayName == "" {
		return "connected"
	}

	return "connected (" + s.Session.DisplayName + ")"
}

func (s Suspended) String() string {
	return "suspended (" + s.Cause.String() + ")"
}

func (s Failed) String() string {
	return "failed (" + s.Failure.String() + ")"
}

func (s UnableToResolve) String() string {
	return "unable to resolve (" + s.Failure.String() + ")"
}

// Err returns the ConnectionFailed value for the state stream consumer.
func (s Failed) Err() error {
	return &failure.ConnectionError{Descriptor: s.Failure}
}

// Err returns the UnableToResolveConnection value.
func (s UnableToResolve) Err() error {
	return &failure.UnresolvableError{Descriptor: s.Failure}
}

// SuspendCause is the two-bucket classification of a suspension.
type SuspendCause int

// Suspension causes.
const (
	ServiceDisconnected SuspendCause = iota
	NetworkLost
)

func (c SuspendCause) String() string {
	if c == NetworkLost {
		return "network_lost"
	}

	return "service_disconnected"
}

// ClassifyCause maps a raw suspension cause code to its bucket. Any code
// other than remote.CauseNetworkLost is a service-side disconnection.
func ClassifyCause(code int) SuspendCause {
	if code == remote.CauseNetworkLost {
		return NetworkLost
	}

	return ServiceDisconnected
}

// Phase is the machine's own view of where the lifecycle stands. Unlike
// State it includes the points that emit nothing (Disconnected, Connecting).
type Phase int

// Phases.
const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseSuspended
	PhaseFailed
	PhaseUnableToResolve
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseSuspended:
		return "suspended"
	case PhaseFailed:
		return "failed"
	case PhaseUnableToResolve:
		return "unable_to_resolve"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// PhaseOf returns the phase a state puts the machine in.
func PhaseOf(s State) Phase {
	switch s.(type) {
	case Connected:
		return PhaseConnected
	case Suspended:
		return PhaseSuspended
	case Failed:
		return PhaseFailed
	case UnableToResolve:
		return PhaseUnableToResolve
	default:
		return PhaseDisconnected
	}
}
