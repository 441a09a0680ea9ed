package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tonimelisma/drivebridge/internal/failure"
	"github.com/tonimelisma/drivebridge/internal/remote"
)

// Exit codes.
const (
	exitFailure     = 1
	exitSignIn      = 3
	exitNotFound    = 4
	exitInterrupted = 130
)

func main() {
	ctx := shutdownContext(context.Background(), slog.Default())

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}

	switch statusOf(err) {
	case remote.StatusSignInRequired:
		return exitSignIn
	case remote.StatusNotFound:
		return exitNotFound
	default:
		return exitFailure
	}
}

// statusOf extracts the status code from operation and connection errors.
func statusOf(err error) remote.StatusCode {
	var ce *failure.ConnectionError
	if errors.As(err, &ce) {
		return ce.Descriptor.Code
	}

	var ue *failure.UnresolvableError
	if errors.As(err, &ue) {
		return ue.Descriptor.Code
	}

	return failure.CodeOf(err)
}
