package connection

import (
	"log/slog"
	"sync"

	"github.com/tonimelisma/drivebridge/internal/failure"
	"github.com/tonimelisma/drivebridge/internal/remote"
)

// SessionFactory builds the single session handle a Machine owns, with the
// machine's listener registered for lifecycle callbacks.
type SessionFactory func(l remote.Listener) remote.Session

// Machine owns one remote.Session and turns its raw callbacks into a
// multicast stream of State values. It is the only caller of the session's
// Connect and Disconnect. All methods are safe for concurrent use.
type Machine struct {
	mu      sync.Mutex
	build   SessionFactory
	session remote.Session
	gen     uint64 // bumped by Rebuild; callbacks from older sessions are dropped
	phase   Phase
	info    remote.SessionInfo
	bus     *broadcaster
	logger  *slog.Logger
}

// New creates a Machine and builds its session. The machine starts
// Disconnected; nothing is emitted until Connect is called.
func New(build SessionFactory, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Machine{
		build:  build,
		bus:    newBroadcaster(),
		logger: logger,
	}
	m.session = build(&listener{m: m, gen: m.gen})

	return m
}

// Connect asks the session to establish. It is a no-op while the session is
// connecting, connected or suspended, and while the machine is in
// UnableToResolve (Rebuild first).
func (m *Machine) Connect() {
	m.mu.Lock()

	switch m.phase {
	case PhaseConnecting, PhaseConnected, PhaseSuspended:
		m.logger.Debug("connect ignored", slog.String("phase", m.phase.String()))
		m.mu.Unlock()

		return
	case PhaseUnableToResolve:
		m.logger.Warn("connect ignored: session must be rebuilt after an unresolvable failure")
		m.mu.Unlock()

		return
	}

	m.logger.Debug("connecting", slog.String("from", m.phase.String()))
	m.phase = PhaseConnecting
	session := m.session
	m.mu.Unlock()

	// Outside the lock: sessions may report synchronously.
	session.Connect()
}

// Disconnect tears the session down. It emits nothing; the stream is
// meaningless until the next Connect.
func (m *Machine) Disconnect() {
	m.mu.Lock()
	m.phase = PhaseDisconnected
	m.info = remote.SessionInfo{}
	session := m.session
	m.mu.Unlock()

	m.logger.Debug("disconnecting")
	session.Disconnect()
}

// IsConnected is an advisory snapshot from the session handle. It may race
// with an in-flight transition; prefer States.
func (m *Machine) IsConnected() bool {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	return session.IsConnected()
}

// States subscribes to the state stream. Only states emitted after the call
// are delivered. Close the subscription when done.
func (m *Machine) States() *Subscription {
	return m.bus.subscribe()
}

// Phase returns the machine's current lifecycle phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.phase
}

// Info returns the session info of the last Connected state, if the machine
// is currently connected.
func (m *Machine) Info() (remote.SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.info, m.phase == PhaseConnected
}

// Rebuild discards the current session and builds a fresh one through the
// factory. It is the caller intervention that leaves UnableToResolve. The
// machine is Disconnected afterwards.
func (m *Machine) Rebuild() {
	m.mu.Lock()
	old := m.session
	m.gen++
	m.session = m.build(&listener{m: m, gen: m.gen})
	m.phase = PhaseDisconnected
	m.info = remote.SessionInfo{}
	m.mu.Unlock()

	m.logger.Info("session rebuilt")
	old.Disconnect()
}

// emit records st as the current phase and publishes it. Callers hold m.mu,
// so the publish order equals the order the transitions were applied.
func (m *Machine) emitLocked(st State) {
	m.phase = PhaseOf(st)

	if c, ok := st.(Connected); ok {
		m.info = c.Session
	} else {
		m.info = remote.SessionInfo{}
	}

	m.logger.Debug("connection state", slog.String("state", st.String()))
	m.bus.publish(st)
}

// unableToResolve moves the machine to its terminal failure state.
func (m *Machine) unableToResolve(desc failure.Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.emitLocked(UnableToResolve{Failure: desc})
}

// resolutionFailed re-emits Failed after an unsuccessful resolution flow.
func (m *Machine) resolutionFailed(desc failure.Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.emitLocked(Failed{Failure: desc})
}

// listener adapts session callbacks for one session generation.
type listener struct {
	m   *Machine
	gen uint64
}

func (l *listener) deliver(st State) {
	m := l.m

	m.mu.Lock()
	defer m.mu.Unlock()

	if l.gen != m.gen {
		m.logger.Debug("dropping callback from replaced session", slog.String("state", st.String()))
		return
	}

	m.emitLocked(st)
}

func (l *listener) OnConnected(info remote.SessionInfo) {
	l.deliver(Connected{Session: info})
}

func (l *listener) OnSuspended(cause int) {
	l.deliver(Suspended{Cause: ClassifyCause(cause)})
}

func (l *listener) OnConnectionFailed(err error) {
	desc := failure.Describe(err)
	l.m.logger.Warn("connection failed",
		slog.String("code", desc.Code.String()),
		slog.Bool("has_resolution", desc.HasResolution),
		slog.String("error", desc.Message),
	)

	l.deliver(Failed{Failure: desc})
}
