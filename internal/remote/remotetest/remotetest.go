// Package remotetest provides an in-memory remote.Session and remote.Service
// for tests. Sessions report lifecycle callbacks synchronously from the
// calling goroutine.
package remotetest

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tonimelisma/drivebridge/internal/remote"
)

// Well-known folder IDs.
const (
	RootID remote.ResourceID = "root"
	AppID  remote.ResourceID = "approot"
)

// DefaultChunkSize is the granularity of progress callbacks on reads.
const DefaultChunkSize = 256

type item struct {
	md   remote.Metadata
	data []byte
}

// Service is an in-memory remote.Service. Calls fail with
// remote.ErrNotConnected unless the Session built by Factory is connected.
type Service struct {
	mu       sync.Mutex
	items    map[remote.ResourceID]*item
	nextID   int
	session  *Session
	calls    map[string]int
	errs     map[string]error
	gate     chan struct{}
	started  chan string
	now      func() time.Time
	chunk    int
	sessions int
}

// New returns a Service holding an empty root folder and app folder.
func New() *Service {
	s := &Service{
		items: make(map[remote.ResourceID]*item),
		calls: make(map[string]int),
		errs:  make(map[string]error),
		now:   time.Now,
		chunk: DefaultChunkSize,
	}

	s.items[RootID] = &item{md: remote.Metadata{ID: RootID, Title: "root", IsFolder: true}}
	s.items[AppID] = &item{md: remote.Metadata{
		ID: AppID, Title: "Apps", IsFolder: true, ParentIDs: []remote.ResourceID{RootID},
	}}

	return s
}

// --- Test controls ---

// Factory builds Sessions bound to this service. It matches
// connection.SessionFactory.
func (s *Service) Factory(l remote.Listener) remote.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions++
	s.session = &Session{listener: l, Info: remote.SessionInfo{
		AccountID:   "test-account",
		DisplayName: "Test User",
		DriveID:     "test-drive",
		DriveType:   "personal",
	}}

	return s.session
}

// Session returns the session most recently built by Factory.
func (s *Service) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.session
}

// SessionsBuilt reports how many sessions Factory has built.
func (s *Service) SessionsBuilt() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessions
}

// SetChunkSize changes the progress granularity of reads.
func (s *Service) SetChunkSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunk = n
}

// FailWith makes every later call of method fail with err (nil clears it).
// Method names are the remote.Service method names.
func (s *Service) FailWith(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.errs, method)
		return
	}

	s.errs[method] = err
}

// Calls reports how many times method was invoked.
func (s *Service) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[method]
}

// Hold makes every later call block after it is counted, until Release.
// Each blocked call's method name is sent on the returned channel.
func (s *Service) Hold() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gate = make(chan struct{})
	s.started = make(chan string, 64)

	return s.started
}

// Release unblocks calls held by Hold.
func (s *Service) Release() {
	s.mu.Lock()
	gate := s.gate
	s.gate = nil
	s.mu.Unlock()

	if gate != nil {
		close(gate)
	}
}

// Put stores a file directly, bypassing the connection check.
func (s *Service) Put(parent remote.ResourceID, title string, data []byte) remote.ResourceID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addLocked(parent, remote.MetadataChange{Title: title}, false, data)
}

// Content returns the stored bytes of a file.
func (s *Service) Content(id remote.ResourceID) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return nil, false
	}

	return bytes.Clone(it.data), true
}

// --- remote.Service ---

func (s *Service) RootFolder(ctx context.Context) (remote.ResourceID, error) {
	if err := s.enter(ctx, "RootFolder"); err != nil {
		return "", err
	}

	return RootID, nil
}

func (s *Service) AppFolder(ctx context.Context) (remote.ResourceID, error) {
	if err := s.enter(ctx, "AppFolder"); err != nil {
		return "", err
	}

	return AppID, nil
}

func (s *Service) FetchResource(ctx context.Context, ref string) (remote.ResourceID, error) {
	if err := s.enter(ctx, "FetchResource"); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !strings.HasPrefix(ref, "/") {
		if _, ok := s.items[remote.ResourceID(ref)]; ok {
			return remote.ResourceID(ref), nil
		}

		return "", notFound(ref)
	}

	cur := RootID

	for _, part := range strings.Split(strings.Trim(ref, "/"), "/") {
		if part == "" {
			continue
		}

		next, ok := s.childByTitleLocked(cur, part)
		if !ok {
			return "", notFound(ref)
		}

		cur = next
	}

	return cur, nil
}

func (s *Service) Metadata(ctx context.Context, id remote.ResourceID) (*remote.Metadata, error) {
	if err := s.enter(ctx, "Metadata"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return nil, notFound(id.String())
	}

	md := cloneMetadata(it.md)

	return &md, nil
}

func (s *Service) ListChildren(ctx context.Context, folder remote.ResourceID) ([]remote.Metadata, error) {
	return s.children(ctx, "ListChildren", folder, remote.Query{})
}

func (s *Service) ListParents(ctx context.Context, id remote.ResourceID) ([]remote.Metadata, error) {
	if err := s.enter(ctx, "ListParents"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return nil, notFound(id.String())
	}

	out := make([]remote.Metadata, 0, len(it.md.ParentIDs))
	for _, pid := range it.md.ParentIDs {
		if p, ok := s.items[pid]; ok {
			out = append(out, cloneMetadata(p.md))
		}
	}

	return out, nil
}

func (s *Service) Query(ctx context.Context, q remote.Query) ([]remote.Metadata, error) {
	if err := s.enter(ctx, "Query"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []remote.Metadata

	for id, it := range s.items {
		if id == RootID {
			continue
		}

		if matches(q, &it.md) {
			out = append(out, cloneMetadata(it.md))
		}
	}

	sortByTitle(out)

	return out, nil
}

func (s *Service) QueryChildren(ctx context.Context, folder remote.ResourceID, q remote.Query) ([]remote.Metadata, error) {
	return s.children(ctx, "QueryChildren", folder, q)
}

func (s *Service) children(ctx context.Context, method string, folder remote.ResourceID, q remote.Query) ([]remote.Metadata, error) {
	if err := s.enter(ctx, method); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.items[folder]
	if !ok {
		return nil, notFound(folder.String())
	}

	if !parent.md.IsFolder {
		return nil, &remote.StatusError{Code: remote.StatusInvalidRequest, Message: "not a folder"}
	}

	var out []remote.Metadata

	for _, it := range s.items {
		if hasParent(&it.md, folder) && matches(q, &it.md) {
			out = append(out, cloneMetadata(it.md))
		}
	}

	sortByTitle(out)

	return out, nil
}

func (s *Service) CreateFolder(ctx context.Context, parent remote.ResourceID, change remote.MetadataChange) (*remote.Metadata, error) {
	if err := s.enter(ctx, "CreateFolder"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFolderLocked(parent); err != nil {
		return nil, err
	}

	id := s.addLocked(parent, change, true, nil)
	md := cloneMetadata(s.items[id].md)

	return &md, nil
}

func (s *Service) NewContents(ctx context.Context) (remote.Contents, error) {
	if err := s.enter(ctx, "NewContents"); err != nil {
		return nil, err
	}

	return &Contents{mode: remote.ModeWriteOnly}, nil
}

func (s *Service) CreateFile(
	ctx context.Context, folder remote.ResourceID, change remote.MetadataChange, contents remote.Contents,
) (*remote.Metadata, error) {
	if err := s.enter(ctx, "CreateFile"); err != nil {
		return nil, err
	}

	c, ok := contents.(*Contents)
	if !ok || c.mode != remote.ModeWriteOnly {
		return nil, &remote.StatusError{Code: remote.StatusInvalidRequest, Message: "foreign contents handle"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFolderLocked(folder); err != nil {
		return nil, err
	}

	id := s.addLocked(folder, change, false, c.buf.Bytes())
	md := cloneMetadata(s.items[id].md)

	return &md, nil
}

func (s *Service) OpenFile(
	ctx context.Context, file remote.ResourceID, mode remote.OpenMode, progress remote.ProgressFunc,
) (remote.Contents, error) {
	if err := s.enter(ctx, "OpenFile"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	it, ok := s.items[file]
	var (
		data     []byte
		isFolder bool
	)
	if ok {
		data = bytes.Clone(it.data)
		isFolder = it.md.IsFolder
	}
	chunk := s.chunk
	s.mu.Unlock()

	if !ok {
		return nil, notFound(file.String())
	}

	if isFolder {
		return nil, &remote.StatusError{Code: remote.StatusInvalidRequest, Message: "cannot open a folder"}
	}

	if mode == remote.ModeWriteOnly {
		return &Contents{mode: mode, commit: func(b []byte) error {
			s.mu.Lock()
			defer s.mu.Unlock()

			cur, ok := s.items[file]
			if !ok {
				return notFound(file.String())
			}

			cur.data = bytes.Clone(b)
			cur.md.Size = int64(len(b))
			cur.md.ModifiedAt = s.now()

			return nil
		}}, nil
	}

	total := int64(len(data))
	if progress != nil {
		if total == 0 {
			progress(0, 0)
		}

		for off := int64(0); off < total; {
			off = min(off+int64(chunk), total)
			progress(off, total)
		}
	}

	c := &Contents{mode: mode}
	c.buf.Write(data)

	return c, nil
}

func (s *Service) Delete(ctx context.Context, id remote.ResourceID) error {
	if err := s.enter(ctx, "Delete"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return notFound(id.String())
	}

	s.deleteLocked(id)

	return nil
}

func (s *Service) Trash(ctx context.Context, id remote.ResourceID) error {
	return s.setTrashed(ctx, "Trash", id, true)
}

func (s *Service) Untrash(ctx context.Context, id remote.ResourceID) error {
	return s.setTrashed(ctx, "Untrash", id, false)
}

func (s *Service) SetParents(ctx context.Context, id remote.ResourceID, parents []remote.ResourceID) error {
	if err := s.enter(ctx, "SetParents"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return notFound(id.String())
	}

	if len(parents) == 0 {
		return &remote.StatusError{Code: remote.StatusInvalidRequest, Message: "at least one parent is required"}
	}

	for _, p := range parents {
		if err := s.checkFolderLocked(p); err != nil {
			return err
		}
	}

	it.md.ParentIDs = append([]remote.ResourceID(nil), parents...)
	it.md.ModifiedAt = s.now()

	return nil
}

// --- internals ---

// enter counts the call, waits while held, and applies the connection check
// and any injected failure.
func (s *Service) enter(ctx context.Context, method string) error {
	s.mu.Lock()
	s.calls[method]++
	gate, started := s.gate, s.started
	injected := s.errs[method]
	session := s.session
	s.mu.Unlock()

	if gate != nil {
		started <- method
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if session == nil || !session.IsConnected() {
		return remote.ErrNotConnected
	}

	return injected
}

func (s *Service) setTrashed(ctx context.Context, method string, id remote.ResourceID, trashed bool) error {
	if err := s.enter(ctx, method); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return notFound(id.String())
	}

	it.md.IsTrashed = trashed

	return nil
}

func (s *Service) addLocked(parent remote.ResourceID, change remote.MetadataChange, folder bool, data []byte) remote.ResourceID {
	s.nextID++
	id := remote.ResourceID(fmt.Sprintf("item-%d", s.nextID))
	now := s.now()

	s.items[id] = &item{
		md: remote.Metadata{
			ID:         id,
			Title:      change.Title,
			MimeType:   change.MimeType,
			Size:       int64(len(data)),
			IsFolder:   folder,
			ParentIDs:  []remote.ResourceID{parent},
			CreatedAt:  now,
			ModifiedAt: now,
		},
		data: bytes.Clone(data),
	}

	return id
}

func (s *Service) deleteLocked(id remote.ResourceID) {
	delete(s.items, id)

	for cid, it := range s.items {
		if hasParent(&it.md, id) {
			s.deleteLocked(cid)
		}
	}
}

func (s *Service) checkFolderLocked(id remote.ResourceID) error {
	it, ok := s.items[id]
	if !ok {
		return notFound(id.String())
	}

	if !it.md.IsFolder {
		return &remote.StatusError{Code: remote.StatusInvalidRequest, Message: id.String() + " is not a folder"}
	}

	return nil
}

func (s *Service) childByTitleLocked(parent remote.ResourceID, title string) (remote.ResourceID, bool) {
	for id, it := range s.items {
		if hasParent(&it.md, parent) && strings.EqualFold(it.md.Title, title) {
			return id, true
		}
	}

	return "", false
}

func matches(q remote.Query, md *remote.Metadata) bool {
	if q.TitleContains != "" && !strings.Contains(strings.ToLower(md.Title), strings.ToLower(q.TitleContains)) {
		return false
	}

	return q.Matches(md)
}

func hasParent(md *remote.Metadata, parent remote.ResourceID) bool {
	for _, p := range md.ParentIDs {
		if p == parent {
			return true
		}
	}

	return false
}

func cloneMetadata(md remote.Metadata) remote.Metadata {
	md.ParentIDs = append([]remote.ResourceID(nil), md.ParentIDs...)
	return md
}

func sortByTitle(items []remote.Metadata) {
	sort.Slice(items, func(i, j int) bool { return items[i].Title < items[j].Title })
}

func notFound(ref string) error {
	return &remote.StatusError{Code: remote.StatusNotFound, Message: "item not found: " + ref}
}

// Contents is the in-memory content handle.
type Contents struct {
	mu        sync.Mutex
	mode      remote.OpenMode
	buf       bytes.Buffer
	commit    func([]byte) error
	discarded bool
}

func (c *Contents) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.buf.Read(p)
}

func (c *Contents) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != remote.ModeWriteOnly {
		return 0, fmt.Errorf("remotetest: contents opened %s", c.mode)
	}

	return c.buf.Write(p)
}

func (c *Contents) Mode() remote.OpenMode { return c.mode }

func (c *Contents) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return int64(c.buf.Len())
}

func (c *Contents) Commit(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.commit == nil {
		return &remote.StatusError{Code: remote.StatusInvalidRequest, Message: "contents cannot be committed"}
	}

	return c.commit(c.buf.Bytes())
}

func (c *Contents) Discard() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.discarded = true
	c.buf.Reset()

	return nil
}

// Discarded reports whether Discard was called.
func (c *Contents) Discarded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.discarded
}

// Session is the in-memory remote.Session.
type Session struct {
	mu         sync.Mutex
	listener   remote.Listener
	connected  bool
	connectErr error
	Info       remote.SessionInfo
}

// FailNextConnect makes the next Connect report err instead of connecting.
func (s *Session) FailNextConnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connectErr = err
}

func (s *Session) Connect() {
	s.mu.Lock()
	err := s.connectErr
	s.connectErr = nil
	s.connected = err == nil
	info := s.Info
	s.mu.Unlock()

	if err != nil {
		s.listener.OnConnectionFailed(err)
		return
	}

	info.ConnectedAt = time.Now()
	s.listener.OnConnected(info)
}

func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected
}

// Suspend drops the connection and reports cause.
func (s *Session) Suspend(cause int) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	s.listener.OnSuspended(cause)
}

// Resume restores a suspended connection.
func (s *Session) Resume() {
	s.mu.Lock()
	s.connected = true
	info := s.Info
	s.mu.Unlock()

	s.listener.OnConnected(info)
}

// Fail reports a session-level failure and drops the connection.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	s.listener.OnConnectionFailed(err)
}
