package driveops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tonimelisma/drivebridge/internal/remote"
)

// spoolPattern names temporary content files.
const spoolPattern = "drivebridge-*.part"

// errContentsReleased is returned by I/O on a discarded or published handle.
var errContentsReleased = errors.New("driveops: contents already released")

// contents is a remote.Contents spooled through a temporary file. Read
// handles hold a completed download; write handles collect bytes until they
// are published by Commit (existing files) or Service.CreateFile (new files).
type contents struct {
	mu       sync.Mutex
	mode     remote.OpenMode
	file     *os.File
	size     int64
	commit   func(ctx context.Context, c *contents) error // nil for new-file handles
	released bool
}

func newSpool(dir string, mode remote.OpenMode) (*contents, error) {
	f, err := os.CreateTemp(dir, spoolPattern)
	if err != nil {
		return nil, fmt.Errorf("driveops: creating spool file: %w", err)
	}

	return &contents{mode: mode, file: f}, nil
}

func (c *contents) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return 0, errContentsReleased
	}

	if c.mode != remote.ModeReadOnly {
		return 0, fmt.Errorf("driveops: contents opened %s", c.mode)
	}

	return c.file.Read(p)
}

func (c *contents) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return 0, errContentsReleased
	}

	if c.mode != remote.ModeWriteOnly {
		return 0, fmt.Errorf("driveops: contents opened %s", c.mode)
	}

	n, err := c.file.Write(p)
	c.size += int64(n)

	return n, err
}

func (c *contents) Mode() remote.OpenMode { return c.mode }

func (c *contents) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}

// Commit publishes a write handle opened on an existing file and releases
// it. Handles from NewContents are published through CreateFile instead.
func (c *contents) Commit(ctx context.Context) error {
	c.mu.Lock()
	commit, released := c.commit, c.released
	c.mu.Unlock()

	if released {
		return invalid("contents already released")
	}

	if c.mode != remote.ModeWriteOnly || commit == nil {
		return invalid("contents cannot be committed")
	}

	if err := commit(ctx, c); err != nil {
		return err
	}

	return c.Discard()
}

// Discard closes and removes the spool file. Safe to call more than once.
func (c *contents) Discard() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil
	}

	c.released = true
	closeErr := c.file.Close()

	if err := os.Remove(c.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("driveops: removing spool file: %w", err)
	}

	return closeErr
}

// upload hands the spooled bytes to send as a ReaderAt of the written size.
func (c *contents) upload(send func(r io.ReaderAt, size int64) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return errContentsReleased
	}

	return send(c.file, c.size)
}

// rewind readies a completed download for reading.
func (c *contents) rewind(size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.size = size

	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("driveops: rewinding spool file: %w", err)
	}

	return nil
}

var _ remote.Contents = (*contents)(nil)
