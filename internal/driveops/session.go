package driveops

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tonimelisma/drivebridge/internal/graph"
	"github.com/tonimelisma/drivebridge/internal/remote"
	"github.com/tonimelisma/drivebridge/internal/tokenfile"
)

// Defaults applied by NewSessionProvider.
const (
	DefaultProbeInterval  = 30 * time.Second
	DefaultConnectTimeout = 30 * time.Second
)

// Token metadata keys cached after a successful connect.
const (
	MetaAccountID   = "account_id"
	MetaDisplayName = "display_name"
	MetaDriveID     = "drive_id"
	MetaDriveType   = "drive_type"
)

// Config wires a SessionProvider to an account and the network.
type Config struct {
	Auth    graph.AuthConfig
	BaseURL string // empty selects graph.DefaultBaseURL

	// HTTPClient carries metadata calls and probes; TransferHTTPClient
	// carries uploads and downloads, which may run far longer.
	HTTPClient         *http.Client
	TransferHTTPClient *http.Client
	UserAgent          string

	// ProbeInterval is how often a connected session checks the drive.
	// Zero selects DefaultProbeInterval; negative disables probing.
	ProbeInterval time.Duration
	// ConnectTimeout bounds the connect handshake and each probe.
	ConnectTimeout time.Duration

	ChunkSize int64  // upload session chunk size; 0 selects the Graph default
	SpoolDir  string // temporary content files; empty selects os.TempDir

	Logger *slog.Logger
}

// SessionProvider builds Sessions and tracks the one most recently built,
// whose clients back the Service.
type SessionProvider struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	active *Session
}

// NewSessionProvider applies defaults to cfg and returns a provider.
func NewSessionProvider(cfg Config) *SessionProvider {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = graph.DefaultBaseURL
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	if cfg.TransferHTTPClient == nil {
		cfg.TransferHTTPClient = cfg.HTTPClient
	}

	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	return &SessionProvider{cfg: cfg, logger: cfg.Logger}
}

// NewSession builds a Session reporting to l. It matches
// connection.SessionFactory; the new session becomes the active one.
func (p *SessionProvider) NewSession(l remote.Listener) remote.Session {
	s := &Session{provider: p, listener: l, logger: p.logger}

	p.mu.Lock()
	p.active = s
	p.mu.Unlock()

	return s
}

// connection returns the clients of the active session, or
// remote.ErrNotConnected when there is none or it is not connected.
func (p *SessionProvider) connection() (*conn, error) {
	p.mu.Lock()
	s := p.active
	p.mu.Unlock()

	if s == nil {
		return nil, remote.ErrNotConnected
	}

	return s.connection()
}

// conn is an established connection. It is never mutated after creation.
type conn struct {
	meta     *graph.Client
	transfer *graph.Client
	driveID  string
	info     remote.SessionInfo
}

// Session is a remote.Session over the Graph API. Connect starts a
// background run that establishes the connection and then probes it;
// every callback of a run is issued from that run's goroutine.
type Session struct {
	provider *SessionProvider
	listener remote.Listener
	logger   *slog.Logger

	// reportMu orders callbacks against Disconnect so nothing is reported
	// for a run after Disconnect returns.
	reportMu sync.Mutex

	mu        sync.Mutex
	run       uint64
	running   bool
	cancel    context.CancelFunc
	connected bool
	current   *conn
}

// Connect starts establishing the session. It is a no-op while a run is
// already in progress.
func (s *Session) Connect() {
	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		s.logger.Debug("session connect ignored: already running")

		return
	}

	s.run++
	run := s.run
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	go s.loop(ctx, run)
}

// Disconnect stops the current run. No callback of that run is delivered
// after Disconnect returns.
func (s *Session) Disconnect() {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()

	s.mu.Lock()
	s.run++
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.connected = false
	s.current = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.logger.Debug("session disconnected")
	}
}

// IsConnected reports whether the session is established and not suspended.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected
}

func (s *Session) connection() (*conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || s.current == nil {
		return nil, remote.ErrNotConnected
	}

	return s.current, nil
}

// report applies mutate and then notifies the listener, unless run has been
// superseded. It returns false when the callback was dropped.
func (s *Session) report(run uint64, mutate func(), notify func(remote.Listener)) bool {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()

	s.mu.Lock()
	if s.run != run {
		s.mu.Unlock()
		return false
	}

	if mutate != nil {
		mutate()
	}
	s.mu.Unlock()

	notify(s.listener)

	return true
}

// finish marks run as no longer running, unless it has been superseded.
func (s *Session) finish(run uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == run {
		s.running = false
		s.cancel = nil
	}
}

func (s *Session) loop(ctx context.Context, run uint64) {
	defer s.finish(run)

	c, err := s.establish(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		se := connectError(err)
		s.logger.Warn("session connect failed",
			slog.String("code", se.Code.String()),
			slog.Bool("resolvable", se.Resolvable),
			slog.String("error", err.Error()),
		)

		s.report(run, func() { s.running = false }, func(l remote.Listener) {
			l.OnConnectionFailed(se)
		})

		return
	}

	connected := func() {
		s.connected = true
		s.current = c
	}

	if !s.report(run, connected, func(l remote.Listener) { l.OnConnected(c.info) }) {
		return
	}

	interval := s.provider.cfg.ProbeInterval
	if interval < 0 {
		<-ctx.Done()
		return
	}

	s.probeLoop(ctx, run, c, interval)
}

// establish loads the stored token and resolves the account and its default
// drive. The token source lives as long as ctx so refreshes keep working
// after the handshake.
func (s *Session) establish(ctx context.Context) (*conn, error) {
	cfg := s.provider.cfg

	ts, _, err := graph.TokenSourceFromStore(ctx, cfg.Auth, s.logger)
	if err != nil {
		return nil, err
	}

	c := &conn{
		meta:     graph.NewClient(cfg.BaseURL, cfg.HTTPClient, ts, s.logger, cfg.UserAgent),
		transfer: graph.NewClient(cfg.BaseURL, cfg.TransferHTTPClient, ts, s.logger, cfg.UserAgent),
	}

	hctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	drive, err := c.meta.MyDrive(hctx)
	if err != nil {
		return nil, err
	}

	user, err := c.meta.Me(hctx)
	if err != nil {
		return nil, err
	}

	c.driveID = drive.ID
	c.info = remote.SessionInfo{
		AccountID:   user.ID,
		DisplayName: user.DisplayName,
		DriveID:     drive.ID,
		DriveType:   drive.DriveType,
		QuotaUsed:   drive.QuotaUsed,
		QuotaTotal:  drive.QuotaTotal,
		ConnectedAt: time.Now(),
	}

	if err := tokenfile.MergeMeta(cfg.Auth.Store, map[string]string{
		MetaAccountID:   user.ID,
		MetaDisplayName: user.DisplayName,
		MetaDriveID:     drive.ID,
		MetaDriveType:   drive.DriveType,
	}); err != nil {
		s.logger.Warn("caching account metadata failed", slog.String("error", err.Error()))
	}

	s.logger.Info("session connected",
		slog.String("account_id", user.ID),
		slog.String("drive_id", drive.ID),
		slog.String("drive_type", drive.DriveType),
	)

	return c, nil
}

// probeLoop checks the drive every interval. A failed probe suspends the
// session; the next successful one reports it connected again with fresh
// quota figures. A rejected credential ends the run with a failure.
func (s *Session) probeLoop(ctx context.Context, run uint64, c *conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	suspended := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		drive, err := s.probe(ctx, c)
		if ctx.Err() != nil {
			return
		}

		switch {
		case err == nil:
			if !suspended {
				continue
			}

			suspended = false
			c = c.withQuota(drive)

			s.logger.Info("session resumed", slog.String("drive_id", c.driveID))

			recovered := c
			if !s.report(run, func() {
				s.connected = true
				s.current = recovered
			}, func(l remote.Listener) { l.OnConnected(recovered.info) }) {
				return
			}

		case errors.Is(err, graph.ErrUnauthorized):
			se := connectError(err)
			s.logger.Warn("session credentials rejected", slog.String("error", err.Error()))

			s.report(run, func() {
				s.running = false
				s.connected = false
				s.current = nil
			}, func(l remote.Listener) { l.OnConnectionFailed(se) })

			return

		default:
			if suspended {
				continue
			}

			suspended = true
			cause := suspendCause(err)

			s.logger.Warn("session suspended",
				slog.Int("cause", cause),
				slog.String("error", err.Error()),
			)

			if !s.report(run, func() { s.connected = false }, func(l remote.Listener) { l.OnSuspended(cause) }) {
				return
			}
		}
	}
}

func (s *Session) probe(ctx context.Context, c *conn) (*graph.Drive, error) {
	pctx, cancel := context.WithTimeout(ctx, s.provider.cfg.ConnectTimeout)
	defer cancel()

	return c.meta.MyDrive(pctx)
}

func (c *conn) withQuota(d *graph.Drive) *conn {
	next := *c
	next.info.QuotaUsed = d.QuotaUsed
	next.info.QuotaTotal = d.QuotaTotal
	next.info.ConnectedAt = time.Now()

	return &next
}

// suspendCause tells a service that answered badly apart from one that
// could not be reached.
func suspendCause(err error) int {
	var ge *graph.GraphError
	if errors.As(err, &ge) {
		return remote.CauseServiceDisconnected
	}

	return remote.CauseNetworkLost
}

var _ remote.Session = (*Session)(nil)
