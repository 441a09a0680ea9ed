package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. The first signal lets in-flight calls
// drain and the journal close; the second quits if something hangs.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	context.AfterFunc(parent, func() { signal.Stop(sigCh) })

	return onShutdown(parent, logger, sigCh, func(code int) {
		signal.Stop(sigCh)
		os.Exit(code)
	})
}

// onShutdown cancels the returned context on the first value from sigs and
// calls exit(exitInterrupted) on the second. It stops listening once the
// parent is done.
func onShutdown(parent context.Context, logger *slog.Logger, sigs <-chan os.Signal, exit func(int)) context.Context {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		select {
		case sig := <-sigs:
			logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
			cancel()
		case <-parent.Done():
			cancel()
			return
		}

		select {
		case sig := <-sigs:
			logger.Warn("received second signal, forcing exit", slog.String("signal", sig.String()))
			exit(exitInterrupted)
		case <-parent.Done():
		}
	}()

	return ctx
}
