package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/pkg/browser"

	"github.com/tonimelisma/drivebridge/internal/bridge"
	"github.com/tonimelisma/drivebridge/internal/connection"
	"github.com/tonimelisma/drivebridge/internal/failure"
	"github.com/tonimelisma/drivebridge/internal/graph"
)

// consentHost runs the sign-in flow that resolves a SignInRequired
// connection failure: browser consent by default, a device code with
// --no-browser. The flow finishes in the background and reports its
// outcome back to the drive, which reconnects on success.
type consentHost struct {
	drive  *bridge.Drive
	auth   graph.AuthConfig
	cc     *CLIContext
	logger *slog.Logger

	// openURL launches the browser; replaced in tests.
	openURL func(string) error
}

func newConsentHost(d *bridge.Drive, auth graph.AuthConfig, cc *CLIContext) *consentHost {
	return &consentHost{drive: d, auth: auth, cc: cc, logger: cc.Logger, openURL: openBrowser}
}

// StartResolution implements connection.Host.
func (h *consentHost) StartResolution(ctx context.Context, req connection.ResolutionRequest) error {
	h.cc.Statusf("Sign-in required (%s).\n", req.Failure)

	if h.cc.Flags.NoBrowser {
		go h.finish(req.Token, func() error {
			_, err := graph.LoginWithDeviceCode(ctx, h.auth, h.showDeviceCode, h.logger)
			return err
		})

		return nil
	}

	login, err := graph.StartBrowserLogin(ctx, h.auth, h.logger)
	if err != nil {
		return err
	}

	h.presentURL(login.URL())

	go h.finish(req.Token, func() error {
		_, err := login.Wait(ctx)
		return err
	})

	return nil
}

// ShowFailure implements connection.Host.
func (h *consentHost) ShowFailure(desc failure.Descriptor) {
	h.cc.Statusf("Connection failed: %s\n", desc)
}

// finish runs flow and reports its outcome.
func (h *consentHost) finish(token connection.RequestToken, flow func() error) {
	err := flow()
	if err != nil {
		h.logger.Warn("sign-in failed", slog.String("error", err.Error()))
		h.cc.Statusf("Sign-in failed: %v\n", err)
	} else {
		h.cc.Statusf("Signed in, reconnecting...\n")
	}

	if rerr := h.drive.OnResolutionOutcome(token, err == nil); rerr != nil {
		h.logger.Warn("reporting sign-in outcome", slog.String("error", rerr.Error()))
	}
}

// presentURL opens the consent page, falling back to printing it. The
// prompt is always shown, even with --quiet.
func (h *consentHost) presentURL(url string) {
	if err := h.openURL(url); err != nil {
		h.logger.Debug("failed to open browser", slog.String("error", err.Error()))
		fmt.Fprintf(h.cc.Stderr, "Open this URL in a browser to sign in:\n  %s\n", url)

		return
	}

	fmt.Fprintf(h.cc.Stderr, "Opened a browser to sign in. If nothing appeared, visit:\n  %s\n", url)
}

func (h *consentHost) showDeviceCode(da graph.DeviceAuth) {
	fmt.Fprintf(h.cc.Stderr, "To sign in, visit: %s\n", da.VerificationURI)
	fmt.Fprintf(h.cc.Stderr, "Enter code: %s\n", da.UserCode)
}

// openBrowser launches the system browser without echoing its output.
func openBrowser(url string) error {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard

	return browser.OpenURL(url)
}
