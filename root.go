package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivebridge/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// CLIFlags holds the global persistent flags.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
	NoBrowser  bool
}

// CLIContext is everything a subcommand needs after the root pre-run phase:
// flags, the resolved configuration and a logger built from both.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer
}

type cliContextKey struct{}

// cliContextFrom returns the CLIContext stored by the root pre-run.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:     "drivebridge",
		Short:   "OneDrive client built on an asynchronous drive bridge",
		Long:    "Browse, transfer and manage OneDrive files, with connection state tracking and an operation journal.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(flags, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")
	cmd.PersistentFlags().BoolVar(&flags.NoBrowser, "no-browser", false, "sign in with a device code instead of opening a browser")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newStatusCmd(),
		newWatchCmd(),
		newReconnectCmd(),
		newLsCmd(),
		newStatCmd(),
		newFindCmd(),
		newGetCmd(),
		newPutCmd(),
		newUpdateCmd(),
		newMkdirCmd(),
		newRmCmd(),
		newTrashCmd(),
		newUntrashCmd(),
		newMvCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)

	return cmd
}

// loadCLIContext resolves the effective configuration from the four-layer
// override chain and builds the logger.
func loadCLIContext(flags CLIFlags, stdout, stderr io.Writer) (*CLIContext, error) {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	// CLI flags always win over the config file and environment.
	switch {
	case flags.Verbose:
		cli.LogLevel = "debug"
	case flags.Quiet:
		cli.LogLevel = "error"
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &CLIContext{
		Flags:  flags,
		Cfg:    resolved,
		Logger: buildLogger(resolved, stderr),
		Stdout: stdout,
		Stderr: stderr,
	}, nil
}

// buildLogger creates an slog.Logger at the resolved level. "auto" picks
// text for a terminal and JSON otherwise.
func buildLogger(cfg *config.Resolved, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	format := cfg.Logging.LogFormat
	if format == "auto" {
		format = "json"
		if isTerminal(w) {
			format = "text"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
