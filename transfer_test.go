package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivebridge/internal/bridge"
	"github.com/tonimelisma/drivebridge/internal/remote/remotetest"
)

func TestLocalTarget(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.txt")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o600))

	tests := []struct {
		name  string
		local string
		want  string
	}{
		{"default is remote name", "", "report.pdf"},
		{"directory gets remote name", dir, filepath.Join(dir, "report.pdf")},
		{"new path used as is", filepath.Join(dir, "new.pdf"), filepath.Join(dir, "new.pdf")},
		{"existing file overwritten", existing, existing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := localTarget(tt.local, "report.pdf")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteAtomic_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")

	n, err := writeAtomic(path, strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	_, err = os.Stat(path + partialSuffix)
	assert.True(t, os.IsNotExist(err), "partial file must be gone")
}

func TestWriteAtomic_ReadErrorLeavesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	r := io.MultiReader(strings.NewReader("partial data"), iotest.ErrReader(io.ErrUnexpectedEOF))

	_, err := writeAtomic(path, r)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(path + partialSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteAtomic_ReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("old content that is longer"), 0o600))

	_, err := writeAtomic(path, strings.NewReader("new"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestSourceFor(t *testing.T) {
	t.Run("stdin needs a name", func(t *testing.T) {
		_, err := sourceFor("-", "", strings.NewReader("data"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--name")
	})

	t.Run("stdin", func(t *testing.T) {
		src, err := sourceFor("-", "piped.txt", strings.NewReader("data"))
		require.NoError(t, err)

		content, err := src.Open(t.Context())
		require.NoError(t, err)
		defer content.Close()

		assert.Equal(t, "piped.txt", content.Name)

		data, err := io.ReadAll(content)
		require.NoError(t, err)
		assert.Equal(t, "data", string(data))
	})

	t.Run("uri", func(t *testing.T) {
		src, err := sourceFor("s3://bucket/key.txt", "", nil)
		require.NoError(t, err)
		assert.IsType(t, bridge.FromURI("s3://bucket/key.txt"), src)
	})

	t.Run("local file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "local.txt")
		require.NoError(t, os.WriteFile(path, []byte("local"), 0o600))

		src, err := sourceFor(path, "", nil)
		require.NoError(t, err)

		content, err := src.Open(t.Context())
		require.NoError(t, err)
		defer content.Close()

		assert.Equal(t, "local.txt", content.Name)
		assert.Equal(t, int64(5), content.Size)
	})
}

func TestDownloadRoundTrip(t *testing.T) {
	d, svc := connectedTestDrive(t)
	id := svc.Put(remotetest.RootID, "big.bin", []byte(strings.Repeat("x", 4096)))

	var last atomic.Int64

	rc, err := d.Open(id, func(p bridge.Progress) { last.Store(p.BytesTransferred) }).Await(t.Context())
	require.NoError(t, err)
	defer rc.Close()

	path := filepath.Join(t.TempDir(), "big.bin")
	n, err := writeAtomic(path, rc)
	require.NoError(t, err)

	assert.Equal(t, int64(4096), n)
	assert.Equal(t, int64(4096), last.Load())
}

func TestUploadFromFileRoundTrip(t *testing.T) {
	d, svc := connectedTestDrive(t)

	path := filepath.Join(t.TempDir(), "upload.txt")
	require.NoError(t, os.WriteFile(path, []byte("uploaded"), 0o600))

	src, err := sourceFor(path, "", nil)
	require.NoError(t, err)

	id, err := d.CreateFile(remotetest.RootID, src).Await(t.Context())
	require.NoError(t, err)

	data, ok := svc.Content(id)
	require.True(t, ok)
	assert.Equal(t, "uploaded", string(data))

	got, err := resolve(t.Context(), d, "upload.txt")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestFollowFile_CallsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.txt")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0o600))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var changes atomic.Int32
	done := make(chan error, 1)

	go func() {
		done <- followFile(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), path, func() {
			changes.Add(1)
		})
	}()

	// The watcher starts asynchronously; keep writing until it notices.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("v1"), 0o600)
		return changes.Load() > 0
	}, 5*time.Second, 100*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("followFile did not return after cancel")
	}
}

func TestFollowFile_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.txt")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0o600))

	ctx, cancel := context.WithTimeout(t.Context(), 2*followDebounce+time.Second)
	defer cancel()

	var changes atomic.Int32

	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)

		for ctx.Err() == nil {
			_ = os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600)
			time.Sleep(50 * time.Millisecond)
		}
	}()

	err := followFile(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), path, func() {
		changes.Add(1)
	})
	<-writerDone

	require.NoError(t, err)
	assert.Zero(t, changes.Load())
}

func TestFollowFile_MissingDirectory(t *testing.T) {
	err := followFile(t.Context(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		filepath.Join(t.TempDir(), "nope", "file.txt"), func() {})
	require.Error(t, err)
}
