package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivebridge/internal/config"
)

const (
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o700
)

// watchPIDName is the lock file of a running watch, kept beside the journal.
const watchPIDName = "watch.pid"

// watchPIDPath returns where a running watch records its PID.
func watchPIDPath(cfg *config.Resolved) string {
	return filepath.Join(filepath.Dir(cfg.JournalPath), watchPIDName)
}

func newReconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconnect",
		Short: "Make a running watch rebuild its session and reconnect",
		Long: `Signal a running "drivebridge watch" (SIGHUP) to discard its session,
build a fresh one and connect again. This is the way out of the
unable-to-resolve state, for example after fixing the account.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := cliContextFrom(cmd.Context())

			if err := signalWatcher(watchPIDPath(cc.Cfg)); err != nil {
				return err
			}

			cc.Statusf("Reconnect requested.\n")

			return nil
		},
	}
}

// watchLock is the flocked PID file held by a running watch.
type watchLock struct {
	path string
	f    *os.File
}

// lockWatch records the current PID at path under an exclusive, non-blocking
// flock. Failing to get the lock means another watch owns it.
func lockWatch(path string) (*watchLock, error) {
	if path == "" {
		return nil, errors.New("PID file path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another watch is already running (%s is locked)", path)
	}

	l := &watchLock{path: path, f: f}
	if err := l.stamp(os.Getpid()); err != nil {
		f.Close()
		return nil, err
	}

	return l, nil
}

func (l *watchLock) stamp(pid int) error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := l.f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("syncing PID file: %w", err)
	}

	return nil
}

// Release removes the PID file and drops the lock.
func (l *watchLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

// watchPID returns the PID recorded at path.
func watchPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// signalWatcher sends SIGHUP to the watch recorded at pidPath. A PID file
// left behind by a dead process is removed.
func signalWatcher(pidPath string) error {
	pid, err := watchPID(pidPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("no running watch found (no PID file at %s)", pidPath)
	case err != nil:
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	// Signal 0 probes for existence.
	if proc.Signal(syscall.Signal(0)) != nil {
		os.Remove(pidPath)
		return fmt.Errorf("watch (PID %d) is not running; removed stale %s", pid, pidPath)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("signaling watch (PID %d): %w", pid, err)
	}

	return nil
}
