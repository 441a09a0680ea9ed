package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/tonimelisma/drivebridge/internal/bridge"
	"github.com/tonimelisma/drivebridge/internal/config"
	"github.com/tonimelisma/drivebridge/internal/connection"
	"github.com/tonimelisma/drivebridge/internal/driveops"
	"github.com/tonimelisma/drivebridge/internal/graph"
	"github.com/tonimelisma/drivebridge/internal/journal"
	"github.com/tonimelisma/drivebridge/internal/remote"
	"github.com/tonimelisma/drivebridge/internal/tokenfile"
)

// errStateStreamClosed is returned when the state subscription ends before
// the session settles.
var errStateStreamClosed = errors.New("connection state stream closed")

// app wires one bridge.Drive for the lifetime of a command.
type app struct {
	cc      *CLIContext
	auth    graph.AuthConfig
	drive   *bridge.Drive
	journal *journal.Journal // nil when the journal is disabled

	follow     *connection.Subscription
	followDone chan struct{}
	closeOnce  sync.Once
}

// tokenStore opens the configured token store.
func tokenStore(cfg *config.Resolved) (tokenfile.Store, error) {
	if cfg.Account.TokenStore == config.TokenStoreKeyring {
		store, err := tokenfile.OpenKeyringStore(cfg.Account.Name)
		if err != nil {
			return nil, fmt.Errorf("opening keyring: %w", err)
		}

		return store, nil
	}

	return tokenfile.NewFileStore(cfg.TokenPath), nil
}

// authConfig resolves the app registration and token store.
func authConfig(cfg *config.Resolved) (graph.AuthConfig, error) {
	store, err := tokenStore(cfg)
	if err != nil {
		return graph.AuthConfig{}, err
	}

	return graph.AuthConfig{
		ClientID: cfg.Account.ClientID,
		Tenant:   cfg.Account.Tenant,
		Store:    store,
	}, nil
}

// newApp builds the session provider, state machine, journal and drive.
// Close releases all of them.
func newApp(ctx context.Context, cc *CLIContext) (*app, error) {
	cfg, logger := cc.Cfg, cc.Logger

	auth, err := authConfig(cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.SpoolDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}

	provider := driveops.NewSessionProvider(driveops.Config{
		Auth: auth,
		// Metadata calls are bounded; transfers run as long as they need.
		HTTPClient:         &http.Client{Timeout: cfg.DataTimeout},
		TransferHTTPClient: &http.Client{},
		UserAgent:          cfg.Network.UserAgent,
		ProbeInterval:      cfg.ProbeInterval,
		ConnectTimeout:     cfg.ConnectTimeout,
		ChunkSize:          cfg.ChunkSize,
		SpoolDir:           cfg.SpoolDir,
		Logger:             logger,
	})

	machine := connection.New(provider.NewSession, logger)
	a := &app{cc: cc, auth: auth}

	bcfg := bridge.Config{Workers: cfg.Transfers.Workers, Logger: logger}

	if cfg.Journal.Enabled {
		j, err := journal.Open(ctx, cfg.JournalPath, logger)
		if err != nil {
			// The journal is a record, not a dependency: run without it.
			logger.Warn("journal unavailable", slog.String("error", err.Error()))
		} else {
			a.journal = j
			bcfg.Recorder = j
			a.follow = machine.States()
			a.followDone = make(chan struct{})

			go func() {
				defer close(a.followDone)
				j.Follow(context.WithoutCancel(ctx), a.follow.C())
			}()
		}
	}

	a.drive = bridge.New(driveops.NewService(provider), machine, bcfg)

	return a, nil
}

// Close disconnects, waits for in-flight calls and closes the journal.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		a.drive.Disconnect()
		a.drive.Close()

		if a.journal == nil {
			return
		}

		a.follow.Close()
		<-a.followDone

		if err := a.journal.Close(); err != nil {
			a.cc.Logger.Warn("closing journal", slog.String("error", err.Error()))
		}
	})
}

// connectedApp builds an app and waits for Connected, resolving a
// sign-in failure interactively.
func connectedApp(ctx context.Context, cc *CLIContext) (*app, remote.SessionInfo, error) {
	a, err := newApp(ctx, cc)
	if err != nil {
		return nil, remote.SessionInfo{}, err
	}

	info, err := awaitConnected(ctx, a.drive, newConsentHost(a.drive, a.auth, cc), cc)
	if err != nil {
		a.Close()
		return nil, remote.SessionInfo{}, err
	}

	return a, info, nil
}

// awaitConnected connects d and waits for the session to settle. A
// resolvable failure is handed to host once; a nil host returns the
// failure instead. Suspension is waited out.
func awaitConnected(
	ctx context.Context, d *bridge.Drive, host connection.Host, cc *CLIContext,
) (remote.SessionInfo, error) {
	sub := d.States()
	defer sub.Close()

	d.Connect()

	resolving := false

	for {
		select {
		case <-ctx.Done():
			return remote.SessionInfo{}, ctx.Err()
		case st, ok := <-sub.C():
			if !ok {
				return remote.SessionInfo{}, errStateStreamClosed
			}

			cc.Logger.Debug("connection state", slog.String("state", st.String()))

			switch s := st.(type) {
			case connection.Connected:
				return s.Session, nil
			case connection.Suspended:
				cc.Statusf("Connection suspended (%s), waiting...\n", s.Cause)
			case connection.Failed:
				if host == nil || resolving || !s.Failure.HasResolution {
					return remote.SessionInfo{}, s.Err()
				}

				resolving = true

				if _, err := d.ResolveConnection(ctx, host, s.Failure); err != nil {
					return remote.SessionInfo{}, err
				}
			case connection.UnableToResolve:
				return remote.SessionInfo{}, s.Err()
			}
		}
	}
}
