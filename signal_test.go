package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOnShutdown_FirstSignalCancelsSecondExits(t *testing.T) {
	sigs := make(chan os.Signal, 1)
	exits := make(chan int, 1)

	ctx := onShutdown(t.Context(), quietLogger(), sigs, func(code int) { exits <- code })

	sigs <- syscall.SIGTERM

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled by the first signal")
	}

	assert.Empty(t, exits, "the first signal only cancels")

	sigs <- os.Interrupt

	select {
	case code := <-exits:
		assert.Equal(t, exitInterrupted, code)
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not force an exit")
	}
}

func TestOnShutdown_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(t.Context())

	ctx := onShutdown(parent, quietLogger(), make(chan os.Signal), func(int) {
		t.Error("exit called without a signal")
	})

	cancel()

	select {
	case <-ctx.Done():
		require.ErrorIs(t, ctx.Err(), context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled with its parent")
	}
}

func TestShutdownContext_RealSignal(t *testing.T) {
	ctx := shutdownContext(t.Context(), quietLogger())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled within 2 seconds of SIGINT")
	}
}
