// Package bridge turns the blocking calls of a remote.Service into cold,
// single-result asynchronous operations executed on a bounded worker pool,
// gated on the connection state of a connection.Machine.
package bridge

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/drivebridge/internal/connection"
	"github.com/tonimelisma/drivebridge/internal/failure"
	"github.com/tonimelisma/drivebridge/internal/remote"
)

// Operation names, as they appear in errors, logs and operation records.
const (
	OpListChildren      = "list_children"
	OpListParents       = "list_parents"
	OpQuery             = "query"
	OpQueryChildren     = "query_children"
	OpCreateFile        = "create_file"
	OpCreateFolder      = "create_folder"
	OpUpdateFileContent = "update_file_content"
	OpOpen              = "open"
	OpDelete            = "delete"
	OpTrash             = "trash"
	OpUntrash           = "untrash"
	OpSetParents        = "set_parents"
	OpGetMetadata       = "get_metadata"
	OpFetchResource     = "fetch_resource"
	OpRootFolder        = "root_folder"
	OpAppFolder         = "app_folder"
)

// Config tunes a Drive. The zero value is usable.
type Config struct {
	// Workers bounds concurrent remote calls (DefaultWorkers when < 1).
	Workers int
	// Recorder, if set, receives one record per completed subscription.
	Recorder Recorder
	Logger   *slog.Logger
}

// Drive is the asynchronous surface over one remote session: lifecycle
// control, the state stream, connection resolution and every resource
// operation.
type Drive struct {
	svc      remote.Service
	machine  *connection.Machine
	resolver *connection.Resolver
	pool     *Pool
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Drive issuing calls to svc while machine reports Connected.
func New(svc remote.Service, machine *connection.Machine, cfg Config) *Drive {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Drive{
		svc:      svc,
		machine:  machine,
		resolver: connection.NewResolver(machine, logger),
		pool:     NewPool(cfg.Workers, logger),
		recorder: cfg.Recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// --- Lifecycle ---

// Connect asks the session to establish. See connection.Machine.Connect.
func (d *Drive) Connect() { d.machine.Connect() }

// Disconnect tears the session down.
func (d *Drive) Disconnect() { d.machine.Disconnect() }

// IsConnected is an advisory snapshot; prefer States.
func (d *Drive) IsConnected() bool { return d.machine.IsConnected() }

// States subscribes to connection states emitted from now on.
func (d *Drive) States() *connection.Subscription { return d.machine.States() }

// Machine exposes the underlying state machine.
func (d *Drive) Machine() *connection.Machine { return d.machine }

// ResolveConnection starts the resolution flow for a Failed state.
func (d *Drive) ResolveConnection(ctx context.Context, host connection.Host, desc failure.Descriptor) (connection.Resolution, error) {
	return d.resolver.Resolve(ctx, host, desc)
}

// OnResolutionOutcome re-injects the outcome of a started resolution flow.
// Without it the machine never leaves Failed.
func (d *Drive) OnResolutionOutcome(token connection.RequestToken, succeeded bool) error {
	return d.resolver.OnResolutionOutcome(token, succeeded)
}

// Close waits for dispatched remote calls to return. It does not disconnect.
func (d *Drive) Close() {
	d.pool.Wait()
}

// --- Listing ---

// ListChildren returns a snapshot of the direct children of folder.
func (d *Drive) ListChildren(folder remote.ResourceID) *Call[[]remote.Metadata] {
	return newCall(d, OpListChildren, folder.String(), func(ctx context.Context) ([]remote.Metadata, error) {
		return d.svc.ListChildren(ctx, folder)
	})
}

// ListParents returns the current parents of a resource.
func (d *Drive) ListParents(id remote.ResourceID) *Call[[]remote.Metadata] {
	return newCall(d, OpListParents, id.String(), func(ctx context.Context) ([]remote.Metadata, error) {
		return d.svc.ListParents(ctx, id)
	})
}

// Query returns a snapshot of every resource matching q.
func (d *Drive) Query(q remote.Query) *Call[[]remote.Metadata] {
	return newCall(d, OpQuery, q.TitleContains, func(ctx context.Context) ([]remote.Metadata, error) {
		return d.svc.Query(ctx, q)
	})
}

// QueryChildren is Query restricted to the direct children of folder.
func (d *Drive) QueryChildren(folder remote.ResourceID, q remote.Query) *Call[[]remote.Metadata] {
	return newCall(d, OpQueryChildren, folder.String(), func(ctx context.Context) ([]remote.Metadata, error) {
		return d.svc.QueryChildren(ctx, folder, q)
	})
}

// GetMetadata reads the current metadata of a resource. Nothing is cached.
func (d *Drive) GetMetadata(id remote.ResourceID) *Call[*remote.Metadata] {
	return newCall(d, OpGetMetadata, id.String(), func(ctx context.Context) (*remote.Metadata, error) {
		return d.svc.Metadata(ctx, id)
	})
}

// FetchResource resolves a textual reference (an item ID or a /path).
func (d *Drive) FetchResource(ref string) *Call[remote.ResourceID] {
	return newCall(d, OpFetchResource, ref, func(ctx context.Context) (remote.ResourceID, error) {
		return d.svc.FetchResource(ctx, ref)
	})
}

// RootFolder resolves the drive's root folder.
func (d *Drive) RootFolder() *Call[remote.ResourceID] {
	return newCall(d, OpRootFolder, "", d.svc.RootFolder)
}

// AppFolder resolves the application's private folder.
func (d *Drive) AppFolder() *Call[remote.ResourceID] {
	return newCall(d, OpAppFolder, "", d.svc.AppFolder)
}

// --- Creation and content ---

// CreateOption overrides a CreateFile default.
type CreateOption func(*createOptions)

type createOptions struct {
	title    string
	mimeType string
}

// WithTitle sets the new file's title instead of the source name.
func WithTitle(title string) CreateOption {
	return func(o *createOptions) { o.title = title }
}

// WithMimeType sets the new file's MIME type instead of the detected one.
func WithMimeType(mimeType string) CreateOption {
	return func(o *createOptions) { o.mimeType = mimeType }
}

// CreateFile copies the whole source into freshly allocated remote contents
// and then creates the file entry under folder. A failure reading the source
// is a ContentTransferFailed error and no entry is created.
//
// The title defaults to the source name, or the current Unix time in
// milliseconds when the source has none. The MIME type defaults to the
// source's detected content type, or none.
func (d *Drive) CreateFile(folder remote.ResourceID, src Source, opts ...CreateOption) *Call[remote.ResourceID] {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}

	return newCall(d, OpCreateFile, folder.String(), func(ctx context.Context) (remote.ResourceID, error) {
		content, err := src.Open(ctx)
		if err != nil {
			return "", failure.Transfer(OpCreateFile, err)
		}
		defer content.Close()

		change := remote.MetadataChange{
			Title:    d.defaultTitle(o.title, content.Name),
			MimeType: o.mimeType,
		}
		if change.MimeType == "" {
			change.MimeType = content.ContentType
		}

		contents, err := d.svc.NewContents(ctx)
		if err != nil {
			return "", err
		}

		if _, err := io.Copy(contents, content); err != nil {
			contents.Discard()
			return "", failure.Transfer(OpCreateFile, err)
		}

		md, err := d.svc.CreateFile(ctx, folder, change, contents)
		if err != nil {
			contents.Discard()
			return "", err
		}

		d.logger.Info("file created",
			slog.String("item_id", md.ID.String()),
			slog.String("title", md.Title),
		)

		return md.ID, nil
	})
}

// CreateFolder creates a folder named title under parent.
func (d *Drive) CreateFolder(parent remote.ResourceID, title string) *Call[remote.ResourceID] {
	return newCall(d, OpCreateFolder, parent.String(), func(ctx context.Context) (remote.ResourceID, error) {
		md, err := d.svc.CreateFolder(ctx, parent, remote.MetadataChange{Title: norm.NFC.String(title)})
		if err != nil {
			return "", err
		}

		return md.ID, nil
	})
}

// UpdateFileContent overwrites the whole content of file with src and
// commits it. The result is file itself.
func (d *Drive) UpdateFileContent(file remote.ResourceID, src Source) *Call[remote.ResourceID] {
	return newCall(d, OpUpdateFileContent, file.String(), func(ctx context.Context) (remote.ResourceID, error) {
		content, err := src.Open(ctx)
		if err != nil {
			return "", failure.Transfer(OpUpdateFileContent, err)
		}
		defer content.Close()

		contents, err := d.svc.OpenFile(ctx, file, remote.ModeWriteOnly, nil)
		if err != nil {
			return "", err
		}

		if _, err := io.Copy(contents, content); err != nil {
			contents.Discard()
			return "", failure.Transfer(OpUpdateFileContent, err)
		}

		if err := contents.Commit(ctx); err != nil {
			contents.Discard()
			return "", err
		}

		return file, nil
	})
}

// Open downloads file and resolves with a reader over its content. Progress
// values from the transfer are passed to observer (which may be nil) on the
// worker, in order, and never after the result is delivered. The caller
// must Close the reader.
func (d *Drive) Open(file remote.ResourceID, observer ProgressObserver) *Call[io.ReadCloser] {
	c := newCall(d, OpOpen, file.String(), func(ctx context.Context) (io.ReadCloser, error) {
		gate := &progressGate{observer: observer}
		whenSettled(ctx, gate.close)

		contents, err := d.svc.OpenFile(ctx, file, remote.ModeReadOnly, gate.report)
		gate.close()

		if err != nil {
			return nil, err
		}

		return contentsReader{contents}, nil
	})
	c.release = func(rc io.ReadCloser) { rc.Close() }

	return c
}

// --- Mutations ---

// Delete permanently removes a resource.
func (d *Drive) Delete(id remote.ResourceID) *Call[bool] {
	return d.ack(OpDelete, id, d.svc.Delete)
}

// Trash moves a resource to the recycle bin.
func (d *Drive) Trash(id remote.ResourceID) *Call[bool] {
	return d.ack(OpTrash, id, d.svc.Trash)
}

// Untrash restores a trashed resource.
func (d *Drive) Untrash(id remote.ResourceID) *Call[bool] {
	return d.ack(OpUntrash, id, d.svc.Untrash)
}

// SetParents replaces the full parent set of a resource.
func (d *Drive) SetParents(id remote.ResourceID, parents []remote.ResourceID) *Call[bool] {
	parents = append([]remote.ResourceID(nil), parents...)

	return newCall(d, OpSetParents, id.String(), func(ctx context.Context) (bool, error) {
		if err := d.svc.SetParents(ctx, id, parents); err != nil {
			return false, err
		}

		return true, nil
	})
}

func (d *Drive) ack(op string, id remote.ResourceID, fn func(context.Context, remote.ResourceID) error) *Call[bool] {
	return newCall(d, op, id.String(), func(ctx context.Context) (bool, error) {
		if err := fn(ctx, id); err != nil {
			return false, err
		}

		return true, nil
	})
}

// --- Internals ---

func (d *Drive) connected() bool {
	return d.machine.Phase() == connection.PhaseConnected
}

func (d *Drive) defaultTitle(explicit, sourceName string) string {
	title := explicit
	if title == "" {
		title = sourceName
	}

	if title == "" {
		title = strconv.FormatInt(d.now().UnixMilli(), 10)
	}

	return norm.NFC.String(title)
}

func (d *Drive) record(id, op, resource string, start time.Time, err error) {
	elapsed := d.now().Sub(start)

	if err != nil {
		d.logger.Debug("operation failed",
			slog.String("op", op),
			slog.String("resource", resource),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	} else {
		d.logger.Debug("operation completed",
			slog.String("op", op),
			slog.String("resource", resource),
			slog.Duration("elapsed", elapsed),
		)
	}

	if d.recorder == nil {
		return
	}

	rec := OperationRecord{
		ID:        id,
		Op:        op,
		Resource:  resource,
		StartedAt: start,
		Duration:  elapsed,
	}

	if err != nil {
		rec.Code = failure.CodeOf(err)
		rec.Message = err.Error()
	}

	if rerr := d.recorder.RecordOperation(context.Background(), rec); rerr != nil {
		d.logger.Warn("recording operation failed",
			slog.String("op", op),
			slog.String("error", rerr.Error()),
		)
	}
}

// progressGate forwards native progress callbacks to an observer until the
// transfer completes or the subscription settles, whichever comes first.
type progressGate struct {
	mu       sync.Mutex
	closed   bool
	observer ProgressObserver
}

func (g *progressGate) report(transferred, expected int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || g.observer == nil {
		return
	}

	g.observer(newProgress(transferred, expected))
}

func (g *progressGate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// contentsReader exposes read contents as an io.ReadCloser.
type contentsReader struct {
	remote.Contents
}

func (r contentsReader) Read(p []byte) (int, error) {
	return r.Contents.Read(p)
}

func (r contentsReader) Close() error {
	return r.Contents.Discard()
}
