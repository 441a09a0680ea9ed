package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivebridge/internal/connection"
)

// defaultReconnect is the delay before reconnecting after an unresolvable
// failure in watch mode.
const defaultReconnect = 30 * time.Second

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and print every connection state",
		Long: `Connect and print each connection state as it is emitted, until
interrupted. A failure that sign-in can fix starts the sign-in flow; other
failures are retried after --reconnect. After an unresolvable failure the
watch waits for "drivebridge reconnect" (or SIGHUP), which rebuilds the
session. Only one watch runs at a time.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}

	cmd.Flags().Duration("reconnect", defaultReconnect, "delay before reconnecting after a failure (0 to exit instead)")

	return cmd
}

// stateLine is the JSON schema for one `watch --json` line.
type stateLine struct {
	Time       string       `json:"time"`
	Phase      string       `json:"phase"`
	Detail     string       `json:"detail"`
	Code       string       `json:"code,omitempty"`
	Resolvable bool         `json:"resolvable,omitempty"`
	Session    *sessionJSON `json:"session,omitempty"`
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)
	reconnect, _ := cmd.Flags().GetDuration("reconnect")

	lock, err := lockWatch(watchPIDPath(cc.Cfg))
	if err != nil {
		return err
	}
	defer lock.Release()

	a, err := newApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	w := &stateWatcher{
		cc:        cc,
		drive:     a.drive,
		host:      newConsentHost(a.drive, a.auth, cc),
		reconnect: reconnect,
		enc:       json.NewEncoder(cc.Stdout),
		rebuild:   a.drive.Machine().Rebuild,
		hup:       hup,
		resolve: func(ctx context.Context, host connection.Host, st connection.Failed) error {
			_, err := a.drive.ResolveConnection(ctx, host, st.Failure)
			return err
		},
	}

	return w.run(ctx)
}

// watchedDrive is the part of bridge.Drive the watcher needs.
type watchedDrive interface {
	Connect()
	States() *connection.Subscription
}

// stateWatcher prints states and drives resolution and reconnection.
type stateWatcher struct {
	cc        *CLIContext
	drive     watchedDrive
	host      connection.Host
	resolve   func(ctx context.Context, host connection.Host, st connection.Failed) error
	rebuild   func()
	hup       <-chan os.Signal
	reconnect time.Duration
	enc       *json.Encoder
}

func (w *stateWatcher) run(ctx context.Context) error {
	sub := w.drive.States()
	defer sub.Close()

	w.drive.Connect()

	retry := time.NewTimer(time.Hour)
	retry.Stop()

	resolving := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retry.C:
			w.cc.Logger.Info("reconnecting")
			w.drive.Connect()
		case <-w.hup:
			w.cc.Logger.Info("rebuilding session on request")
			retry.Stop()
			resolving = false
			w.rebuild()
			w.drive.Connect()
		case st, ok := <-sub.C():
			if !ok {
				return errStateStreamClosed
			}

			if err := w.print(st); err != nil {
				return err
			}

			switch s := st.(type) {
			case connection.Connected:
				resolving = false
			case connection.Failed:
				if s.Failure.HasResolution && !resolving && w.resolve != nil {
					resolving = true

					// A flow that cannot start moves the machine to
					// UnableToResolve, which the next state reports.
					if err := w.resolve(ctx, w.host, s); err != nil {
						w.cc.Logger.Warn("sign-in could not start", slog.String("error", err.Error()))
					}

					continue
				}

				if w.reconnect <= 0 {
					return s.Err()
				}

				resolving = false
				retry.Reset(w.reconnect)
			case connection.UnableToResolve:
				if w.reconnect <= 0 {
					return s.Err()
				}

				w.cc.Statusf("Cannot recover on its own; run 'drivebridge reconnect' once fixed.\n")
			}
		}
	}
}

func (w *stateWatcher) print(st connection.State) error {
	now := time.Now()
	phase := connection.PhaseOf(st)

	if !w.cc.Flags.JSON {
		_, err := fmt.Fprintf(w.cc.Stdout, "%s  %s  %s\n",
			now.Format(time.TimeOnly), stateColor(phase).Sprintf("%-17s", phase), st)

		return err
	}

	line := stateLine{Time: now.UTC().Format(time.RFC3339Nano), Phase: phase.String(), Detail: st.String()}

	switch s := st.(type) {
	case connection.Connected:
		sj := toSessionJSON(s.Session)
		line.Session = &sj
	case connection.Failed:
		line.Code = s.Failure.Code.String()
		line.Resolvable = s.Failure.HasResolution
	case connection.UnableToResolve:
		line.Code = s.Failure.Code.String()
	}

	if err := w.enc.Encode(line); err != nil {
		w.cc.Logger.Warn("writing state", slog.String("error", err.Error()))
		return err
	}

	return nil
}
