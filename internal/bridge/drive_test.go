package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivebridge/internal/connection"
	"github.com/tonimelisma/drivebridge/internal/failure"
	"github.com/tonimelisma/drivebridge/internal/remote"
	"github.com/tonimelisma/drivebridge/internal/remote/remotetest"
)

// recorder collects operation records.
type recorder struct {
	mu   sync.Mutex
	recs []OperationRecord
}

func (r *recorder) RecordOperation(_ context.Context, rec OperationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recs = append(r.recs, rec)

	return nil
}

func (r *recorder) records() []OperationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]OperationRecord(nil), r.recs...)
}

// newTestDrive returns a Drive over an in-memory service. The drive is not
// connected yet.
func newTestDrive(t *testing.T, svc remote.Service, factory connection.SessionFactory) (*Drive, *recorder) {
	t.Helper()

	rec := &recorder{}
	m := connection.New(factory, nil)
	d := New(svc, m, Config{Workers: 4, Recorder: rec})

	t.Cleanup(d.Close)

	return d, rec
}

func connectedDrive(t *testing.T) (*Drive, *remotetest.Service, *recorder) {
	t.Helper()

	svc := remotetest.New()
	d, rec := newTestDrive(t, svc, svc.Factory)
	t.Cleanup(svc.Release)

	d.Connect()
	require.Equal(t, connection.PhaseConnected, d.Machine().Phase())

	return d, svc, rec
}

func requireCode(t *testing.T, err error, code remote.StatusCode) {
	t.Helper()

	require.Error(t, err)
	require.ErrorIs(t, err, failure.ErrRemoteOperationFailed)

	var oe *failure.OperationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, code, oe.Code)
}

// failingReader returns some bytes and then an I/O error.
type failingReader struct {
	sent bool
}

var errDiskGone = errors.New("disk gone")

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "partial"), nil
	}

	return 0, errDiskGone
}

// --- Connection gating ---

func TestDrive_NotConnectedFailsFast(t *testing.T) {
	svc := remotetest.New()
	d, rec := newTestDrive(t, svc, svc.Factory)

	calls := []func() error{
		func() error { _, err := d.ListChildren(remotetest.RootID).Await(t.Context()); return err },
		func() error { _, err := d.GetMetadata("x").Await(t.Context()); return err },
		func() error { _, err := d.Trash("x").Await(t.Context()); return err },
		func() error {
			_, err := d.CreateFile(remotetest.RootID, FromReader("a", bytes.NewReader(nil))).Await(t.Context())
			return err
		},
		func() error { _, err := d.Open("x", nil).Await(t.Context()); return err },
	}

	for _, call := range calls {
		done := make(chan error, 1)
		go func() { done <- call() }()

		select {
		case err := <-done:
			requireCode(t, err, remote.StatusNotConnected)
			assert.ErrorIs(t, err, remote.ErrNotConnected)
		case <-time.After(time.Second):
			t.Fatal("operation blocked while not connected")
		}
	}

	assert.Zero(t, svc.Calls("ListChildren"))
	assert.Zero(t, svc.Calls("Metadata"))
	assert.Len(t, rec.records(), len(calls))
}

func TestDrive_SuspendedFailsFast(t *testing.T) {
	d, svc, _ := connectedDrive(t)

	svc.Session().Suspend(remote.CauseNetworkLost)
	require.Equal(t, connection.PhaseSuspended, d.Machine().Phase())

	_, err := d.RootFolder().Await(t.Context())
	requireCode(t, err, remote.StatusNotConnected)
}

// --- Cold, independent subscriptions ---

func TestDrive_CallsAreCold(t *testing.T) {
	d, svc, _ := connectedDrive(t)

	call := d.GetMetadata(remotetest.RootID)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, svc.Calls("Metadata"))

	md, err := call.Await(t.Context())
	require.NoError(t, err)
	assert.Equal(t, remotetest.RootID, md.ID)
	assert.Equal(t, 1, svc.Calls("Metadata"))

	_, err = call.Await(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Calls("Metadata"), "re-subscribing replays the round trip")
}

func TestDrive_ConcurrentSubscriptionsAreIndependent(t *testing.T) {
	d, svc, _ := connectedDrive(t)
	started := svc.Hold()

	call := d.ListChildren(remotetest.RootID)
	a := call.Subscribe(t.Context())
	b := call.Subscribe(t.Context())

	for range 2 {
		select {
		case m := <-started:
			assert.Equal(t, "ListChildren", m)
		case <-time.After(time.Second):
			t.Fatal("subscription did not reach the service")
		}
	}

	svc.Release()

	_, errA := a.Result()
	_, errB := b.Result()
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, 2, svc.Calls("ListChildren"))
}

func TestDrive_CancelStopsListeningOnly(t *testing.T) {
	d, svc, _ := connectedDrive(t)
	started := svc.Hold()

	ctx, cancel := context.WithCancel(t.Context())
	fut := d.Trash(remotetest.AppID).Subscribe(ctx)
	<-started

	cancel()

	select {
	case <-fut.Done():
	case <-time.After(time.Second):
		t.Fatal("future not resolved after cancel")
	}

	_, err := fut.Result()
	requireCode(t, err, remote.StatusCanceled)
	assert.ErrorIs(t, err, context.Canceled)

	// The dispatched call still runs to completion.
	svc.Release()
	d.Close()

	md, err := d.GetMetadata(remotetest.AppID).Await(t.Context())
	require.NoError(t, err)
	assert.True(t, md.IsTrashed)
}

func TestFuture_WaitHonorsContext(t *testing.T) {
	d, svc, _ := connectedDrive(t)
	started := svc.Hold()

	fut := d.RootFolder().Subscribe(context.Background())
	<-started

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	_, err := fut.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	svc.Release()

	id, err := fut.Result()
	require.NoError(t, err)
	assert.Equal(t, remotetest.RootID, id)
}

// --- CreateFile ---

func TestDrive_CreateFileDefaultsTitleToSourceName(t *testing.T) {
	d, _, _ := connectedDrive(t)

	src := FromReader("hello.txt", bytes.NewReader([]byte{0x68, 0x65, 0x6C, 0x6C, 0x6F}))

	id, err := d.CreateFile(remotetest.RootID, src).Await(t.Context())
	require.NoError(t, err)

	md, err := d.GetMetadata(id).Await(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", md.Title)
	assert.Equal(t, "text/plain", md.MimeType)
	assert.Equal(t, int64(5), md.Size)
}

func TestDrive_CreateFileTimestampTitleWithoutName(t *testing.T) {
	d, svc, _ := connectedDrive(t)
	d.now = func() time.Time { return time.UnixMilli(1700000000123) }

	id, err := d.CreateFile(remotetest.RootID, FromReader("", bytes.NewReader([]byte("%PDF-1.4\n")))).Await(t.Context())
	require.NoError(t, err)

	md, err := d.GetMetadata(id).Await(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "1700000000123", md.Title)
	assert.Equal(t, "application/pdf", md.MimeType, "content type sniffed from the stream")

	data, ok := svc.Content(id)
	require.True(t, ok)
	assert.Equal(t, "%PDF-1.4\n", string(data), "sniffed bytes are replayed")
}

func TestDrive_CreateFileOptionsOverrideDefaults(t *testing.T) {
	d, _, _ := connectedDrive(t)

	id, err := d.CreateFile(remotetest.RootID, FromReader("x.txt", bytes.NewReader([]byte("x"))),
		WithTitle("cafe\u0301.md"), WithMimeType("text/markdown"),
	).Await(t.Context())
	require.NoError(t, err)

	md, err := d.GetMetadata(id).Await(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9.md", md.Title, "titles are NFC-normalized")
	assert.Equal(t, "text/markdown", md.MimeType)
}

func TestDrive_CreateFileCopyFailureCreatesNothing(t *testing.T) {
	d, svc, rec := connectedDrive(t)

	_, err := d.CreateFile(remotetest.RootID, FromReader("broken.bin", &failingReader{})).Await(t.Context())

	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrContentTransferFailed)
	assert.ErrorIs(t, err, errDiskGone)
	assert.Zero(t, svc.Calls("CreateFile"))

	recs := rec.records()
	require.NotEmpty(t, recs)
	assert.Equal(t, OpCreateFile, recs[len(recs)-1].Op)
	assert.Equal(t, remote.StatusContentTransferFailed, recs[len(recs)-1].Code)
}

func TestDrive_ReaderSourceIsSingleUse(t *testing.T) {
	d, _, _ := connectedDrive(t)

	call := d.CreateFile(remotetest.RootID, FromReader("once.txt", bytes.NewReader([]byte("1"))))

	_, err := call.Await(t.Context())
	require.NoError(t, err)

	_, err = call.Await(t.Context())
	assert.ErrorIs(t, err, failure.ErrContentTransferFailed)
	assert.ErrorIs(t, err, ErrSourceConsumed)
}

func TestDrive_CreateFileFromFileAndURI(t *testing.T) {
	d, svc, _ := connectedDrive(t)

	path := filepath.Join(t.TempDir(), "notes.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o600))

	for _, src := range []Source{FromFile(path), FromURI("file://" + path)} {
		call := d.CreateFile(remotetest.RootID, src)

		// File-backed sources reopen on every subscription.
		for range 2 {
			id, err := call.Await(t.Context())
			require.NoError(t, err)

			md, err := d.GetMetadata(id).Await(t.Context())
			require.NoError(t, err)
			assert.Equal(t, "notes.json", md.Title)
			assert.Equal(t, "application/json", md.MimeType)

			data, _ := svc.Content(id)
			assert.JSONEq(t, `{"a":1}`, string(data))
		}
	}
}

func TestDrive_CreateFileMissingLocalFile(t *testing.T) {
	d, _, _ := connectedDrive(t)

	_, err := d.CreateFile(remotetest.RootID, FromFile(filepath.Join(t.TempDir(), "nope"))).Await(t.Context())
	assert.ErrorIs(t, err, failure.ErrContentTransferFailed)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDrive_CreateFileRemoteFailure(t *testing.T) {
	d, svc, _ := connectedDrive(t)
	svc.FailWith("CreateFile", &remote.StatusError{Code: remote.StatusConflict, Message: "name taken"})

	_, err := d.CreateFile(remotetest.RootID, FromReader("a.txt", bytes.NewReader([]byte("a")))).Await(t.Context())
	requireCode(t, err, remote.StatusConflict)
}

// --- Content update and download ---

func TestDrive_UpdateFileContentReturnsSameReference(t *testing.T) {
	d, svc, _ := connectedDrive(t)
	id := svc.Put(remotetest.RootID, "doc.txt", []byte("old content"))

	got, err := d.UpdateFileContent(id, FromReader("", bytes.NewReader([]byte("new")))).Await(t.Context())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	data, _ := svc.Content(id)
	assert.Equal(t, "new", string(data))
}

func TestDrive_UpdateFileContentTransferFailure(t *testing.T) {
	d, svc, _ := connectedDrive(t)
	id := svc.Put(remotetest.RootID, "doc.txt", []byte("keep"))

	_, err := d.UpdateFileContent(id, FromReader("doc.txt", &failingReader{})).Await(t.Context())
	assert.ErrorIs(t, err, failure.ErrContentTransferFailed)

	data, _ := svc.Content(id)
	assert.Equal(t, "keep", string(data), "nothing committed")
}

func TestDrive_OpenReportsProgressBeforeResult(t *testing.T) {
	d, svc, _ := connectedDrive(t)
	payload := bytes.Repeat([]byte{0xAB}, 1000)
	id := svc.Put(remotetest.RootID, "blob.bin", payload)

	var (
		mu     sync.Mutex
		events []Progress
	)

	rc, err := d.Open(id, func(p Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	}).Await(t.Context())
	require.NoError(t, err)
	defer rc.Close()

	mu.Lock()
	got := append([]Progress(nil), events...)
	mu.Unlock()

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, int64(1000), last.BytesTransferred)
	assert.Equal(t, int64(1000), last.BytesExpected)
	assert.True(t, last.IsComplete())

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].BytesTransferred, got[i-1].BytesTransferred)
	}

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

// stallingService reports some progress from OpenFile, then waits for resume
// before reporting the rest.
type stallingService struct {
	*remotetest.Service
	reported chan struct{}
	resume   chan struct{}
}

func (s *stallingService) OpenFile(
	ctx context.Context, file remote.ResourceID, mode remote.OpenMode, progress remote.ProgressFunc,
) (remote.Contents, error) {
	progress(10, 100)
	close(s.reported)
	<-s.resume
	progress(100, 100)

	return s.Service.OpenFile(ctx, file, mode, nil)
}

func TestDrive_OpenNoProgressAfterCancel(t *testing.T) {
	inner := remotetest.New()
	svc := &stallingService{Service: inner, reported: make(chan struct{}), resume: make(chan struct{})}
	d, _ := newTestDrive(t, svc, inner.Factory)
	d.Connect()

	id := inner.Put(remotetest.RootID, "big.bin", bytes.Repeat([]byte{1}, 100))

	var (
		mu     sync.Mutex
		events int
	)

	ctx, cancel := context.WithCancel(t.Context())
	fut := d.Open(id, func(Progress) {
		mu.Lock()
		events++
		mu.Unlock()
	}).Subscribe(ctx)

	<-svc.reported
	cancel()

	_, err := fut.Result()
	requireCode(t, err, remote.StatusCanceled)

	mu.Lock()
	atResult := events
	mu.Unlock()

	close(svc.resume)
	d.Close()

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, 1, atResult)
	assert.Equal(t, atResult, events, "progress delivered after the result")
}

func TestDrive_OpenWithoutObserverDeliversSameContent(t *testing.T) {
	d, svc, _ := connectedDrive(t)
	id := svc.Put(remotetest.RootID, "a.txt", []byte("same"))

	rc, err := d.Open(id, nil).Await(t.Context())
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "same", string(data))
}

func TestDrive_OpenErrorHasNoProgress(t *testing.T) {
	d, _, _ := connectedDrive(t)

	var calls int
	_, err := d.Open("missing", func(Progress) { calls++ }).Await(t.Context())

	requireCode(t, err, remote.StatusNotFound)
	assert.Zero(t, calls)
}

// --- Mutations, queries, lookups ---

func TestDrive_TrashUntrashDelete(t *testing.T) {
	d, svc, _ := connectedDrive(t)
	id := svc.Put(remotetest.RootID, "x", nil)

	ok, err := d.Trash(id).Await(t.Context())
	require.NoError(t, err)
	assert.True(t, ok)

	children, err := d.ListChildren(remotetest.RootID).Await(t.Context())
	require.NoError(t, err)
	for _, c := range children {
		assert.NotEqual(t, id, c.ID, "trashed items are not listed")
	}

	ok, err = d.Untrash(id).Await(t.Context())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Delete(id).Await(t.Context())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = d.GetMetadata(id).Await(t.Context())
	requireCode(t, err, remote.StatusNotFound)

	ok, err = d.Delete(id).Await(t.Context())
	requireCode(t, err, remote.StatusNotFound)
	assert.False(t, ok)
}

func TestDrive_SetParentsReplacesParentSet(t *testing.T) {
	d, svc, _ := connectedDrive(t)
	id := svc.Put(remotetest.RootID, "moving.txt", nil)

	folder, err := d.CreateFolder(remotetest.RootID, "Archive").Await(t.Context())
	require.NoError(t, err)

	ok, err := d.SetParents(id, []remote.ResourceID{folder}).Await(t.Context())
	require.NoError(t, err)
	assert.True(t, ok)

	parents, err := d.ListParents(id).Await(t.Context())
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, "Archive", parents[0].Title)

	_, err = d.SetParents(id, []remote.ResourceID{"nope"}).Await(t.Context())
	requireCode(t, err, remote.StatusNotFound)
}

func TestDrive_QueryAndLookups(t *testing.T) {
	d, svc, _ := connectedDrive(t)
	docs, err := d.CreateFolder(remotetest.RootID, "Docs").Await(t.Context())
	require.NoError(t, err)

	svc.Put(docs, "report-2024.txt", []byte("r"))
	svc.Put(docs, "summary.txt", []byte("s"))
	svc.Put(remotetest.RootID, "report-old.txt", []byte("o"))

	all, err := d.Query(remote.Query{TitleContains: "report"}).Await(t.Context())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	inDocs, err := d.QueryChildren(docs, remote.Query{TitleContains: "report"}).Await(t.Context())
	require.NoError(t, err)
	require.Len(t, inDocs, 1)
	assert.Equal(t, "report-2024.txt", inDocs[0].Title)

	folders, err := d.QueryChildren(remotetest.RootID, remote.Query{FoldersOnly: true}).Await(t.Context())
	require.NoError(t, err)
	assert.Len(t, folders, 2, "Docs and the app folder")

	ref, err := d.FetchResource("/Docs/summary.txt").Await(t.Context())
	require.NoError(t, err)
	md, err := d.GetMetadata(ref).Await(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "summary.txt", md.Title)

	root, err := d.RootFolder().Await(t.Context())
	require.NoError(t, err)
	assert.Equal(t, remotetest.RootID, root)

	app, err := d.AppFolder().Await(t.Context())
	require.NoError(t, err)
	assert.Equal(t, remotetest.AppID, app)
}

// --- Error isolation and recording ---

func TestDrive_OperationErrorsDoNotTouchStateStream(t *testing.T) {
	d, svc, _ := connectedDrive(t)
	sub := d.States()
	defer sub.Close()

	svc.FailWith("Metadata", &remote.StatusError{Code: remote.StatusForbidden, Message: "denied"})

	_, err := d.GetMetadata(remotetest.RootID).Await(t.Context())
	requireCode(t, err, remote.StatusForbidden)
	assert.Equal(t, connection.PhaseConnected, d.Machine().Phase())

	select {
	case st := <-sub.C():
		t.Fatalf("unexpected state %v", st)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestDrive_RecordsEveryCompletedSubscription(t *testing.T) {
	d, svc, rec := connectedDrive(t)
	svc.FailWith("Trash", &remote.StatusError{Code: remote.StatusLocked})

	_, err := d.RootFolder().Await(t.Context())
	require.NoError(t, err)
	_, err = d.Trash("x").Await(t.Context())
	require.Error(t, err)

	recs := rec.records()
	require.Len(t, recs, 2)

	assert.Equal(t, OpRootFolder, recs[0].Op)
	assert.True(t, recs[0].Succeeded())
	assert.NotEmpty(t, recs[0].ID)

	assert.Equal(t, OpTrash, recs[1].Op)
	assert.Equal(t, "x", recs[1].Resource)
	assert.Equal(t, remote.StatusLocked, recs[1].Code)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
}

// panickingService blows up on Metadata.
type panickingService struct {
	*remotetest.Service
}

func (panickingService) Metadata(context.Context, remote.ResourceID) (*remote.Metadata, error) {
	panic("corrupt response")
}

func TestDrive_PanicBecomesInternalFailure(t *testing.T) {
	svc := remotetest.New()
	d, _ := newTestDrive(t, panickingService{svc}, svc.Factory)
	d.Connect()

	_, err := d.GetMetadata(remotetest.RootID).Await(t.Context())
	requireCode(t, err, remote.StatusInternal)
	assert.Contains(t, err.Error(), "corrupt response")
}

// --- Resolution through the drive ---

type consentHost struct {
	mu       sync.Mutex
	requests []connection.ResolutionRequest
}

func (h *consentHost) StartResolution(_ context.Context, req connection.ResolutionRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.requests = append(h.requests, req)

	return nil
}

func (h *consentHost) ShowFailure(failure.Descriptor) {}

func TestDrive_ResolveAndReconnect(t *testing.T) {
	svc := remotetest.New()
	d, _ := newTestDrive(t, svc, svc.Factory)
	sub := d.States()
	defer sub.Close()

	svc.Session().FailNextConnect(&remote.StatusError{
		Code: remote.StatusSignInRequired, Message: "login", Resolvable: true,
	})
	d.Connect()

	st := <-sub.C()
	failed, ok := st.(connection.Failed)
	require.True(t, ok)
	require.True(t, failed.Failure.HasResolution)

	host := &consentHost{}
	res, err := d.ResolveConnection(t.Context(), host, failed.Failure)
	require.NoError(t, err)
	assert.Equal(t, connection.ResolutionStarted, res)

	require.NoError(t, d.OnResolutionOutcome(host.requests[0].Token, true))

	st = <-sub.C()
	assert.IsType(t, connection.Connected{}, st)
	assert.True(t, d.IsConnected())

	d.Disconnect()
	assert.False(t, d.IsConnected())
}
