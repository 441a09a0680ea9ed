package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivebridge/internal/graph"
	"github.com/tonimelisma/drivebridge/internal/remote"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in to OneDrive",
		Long: `Sign in through the system browser, or with a device code when
--no-browser is set. The token is saved to the configured token store.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved token",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	auth, err := authConfig(cc.Cfg)
	if err != nil {
		return err
	}

	cc.Logger.Info("login started", slog.String("store", auth.Store.Location()))

	if err := signIn(ctx, cc, auth, openBrowser); err != nil {
		return err
	}

	cc.Logger.Info("login successful", slog.String("store", auth.Store.Location()))

	a, err := newApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := awaitConnected(ctx, a.drive, nil, cc)
	if err != nil {
		// The token is saved; only the confirmation failed.
		cc.Statusf("Login successful, but the drive could not be reached: %v\n", err)
		return nil
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, toSessionJSON(info))
	}

	cc.Statusf("Signed in as %s.\n", accountLabel(info))

	return nil
}

// signIn runs the interactive flow selected by --no-browser. Sign-in
// prompts are printed even with --quiet.
func signIn(ctx context.Context, cc *CLIContext, auth graph.AuthConfig, openURL func(string) error) error {
	if cc.Flags.NoBrowser {
		_, err := graph.LoginWithDeviceCode(ctx, auth, func(da graph.DeviceAuth) {
			fmt.Fprintf(cc.Stderr, "To sign in, visit: %s\n", da.VerificationURI)
			fmt.Fprintf(cc.Stderr, "Enter code: %s\n", da.UserCode)
		}, cc.Logger)

		return err
	}

	_, err := graph.LoginWithBrowser(ctx, auth, openURL, func(url string) {
		fmt.Fprintf(cc.Stderr, "Open this URL in a browser to sign in:\n  %s\n", url)
	}, cc.Logger)

	return err
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := cliContextFrom(cmd.Context())

	auth, err := authConfig(cc.Cfg)
	if err != nil {
		return err
	}

	if err := graph.Logout(auth, cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Logged out.\n")

	return nil
}

// accountLabel is the display form of the signed-in account.
func accountLabel(info remote.SessionInfo) string {
	if info.DisplayName == "" {
		return info.AccountID
	}

	return fmt.Sprintf("%s (%s)", info.DisplayName, info.AccountID)
}
