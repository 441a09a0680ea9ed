package driveops

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/drivebridge/internal/graph"
	"github.com/tonimelisma/drivebridge/internal/remote"
	"github.com/tonimelisma/drivebridge/internal/tokenfile"
)

const (
	testDriveID  = "d1"
	testUserID   = "user-1"
	callbackWait = 2 * time.Second
)

// fakeGraph is an httptest Graph API. /me and /me/drive are always served;
// tests register item endpoints on mux.
type fakeGraph struct {
	mux *http.ServeMux
	srv *httptest.Server

	mu          sync.Mutex
	driveStatus int // 0 answers normally
	driveHits   int
	driveGate   chan struct{}
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()

	f := &fakeGraph{mux: http.NewServeMux()}

	f.mux.HandleFunc("GET /me", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": testUserID, "displayName": "Test User"})
	})
	f.mux.HandleFunc("GET /me/drive", f.handleDrive)

	f.srv = httptest.NewServer(f.mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeGraph) handleDrive(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.driveHits++
	status, gate := f.driveStatus, f.driveGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	if status != 0 {
		writeJSON(w, status, map[string]any{"error": map[string]any{"code": "test"}})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        testDriveID,
		"driveType": "personal",
		"quota":     map[string]any{"used": 100, "total": 1000},
	})
}

func (f *fakeGraph) setDriveStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.driveStatus = code
}

func (f *fakeGraph) hits() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.driveHits
}

// holdDrive blocks /me/drive until the returned func is called.
func (f *fakeGraph) holdDrive() func() {
	gate := make(chan struct{})

	f.mu.Lock()
	f.driveGate = gate
	f.mu.Unlock()

	var once sync.Once

	return func() { once.Do(func() { close(gate) }) }
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeItem is the subset of a driveItem the tests care about.
type fakeItem struct {
	ID          string
	Name        string
	Parent      string
	MimeType    string
	Size        int64
	Folder      bool
	Deleted     bool
	DownloadURL string
}

func (it fakeItem) json() map[string]any {
	m := map[string]any{
		"id":                   it.ID,
		"name":                 it.Name,
		"size":                 it.Size,
		"createdDateTime":      "2024-01-02T03:04:05Z",
		"lastModifiedDateTime": "2024-02-03T04:05:06Z",
	}

	if it.Parent != "" {
		m["parentReference"] = map[string]any{"id": it.Parent, "driveId": testDriveID}
	}

	if it.Folder {
		m["folder"] = map[string]any{"childCount": 0}
	} else {
		m["file"] = map[string]any{"mimeType": it.MimeType}
	}

	if it.Deleted {
		m["deleted"] = map[string]any{}
	}

	if it.DownloadURL != "" {
		m["@microsoft.graph.downloadUrl"] = it.DownloadURL
	}

	return m
}

func itemHandler(it fakeItem) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, it.json())
	}
}

func collectionHandler(items ...fakeItem) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		value := make([]map[string]any, 0, len(items))
		for _, it := range items {
			value = append(value, it.json())
		}

		writeJSON(w, http.StatusOK, map[string]any{"value": value})
	}
}

func statusHandler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status, map[string]any{"error": map[string]any{"code": "test"}})
	}
}

// loggedInStore returns a file store holding a token valid for an hour, so
// no refresh is attempted.
func loggedInStore(t *testing.T) tokenfile.Store {
	t.Helper()

	store := emptyStore(t)
	require.NoError(t, store.Save(&oauth2.Token{
		AccessToken:  "test-access",
		RefreshToken: "test-refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}, nil))

	return store
}

func emptyStore(t *testing.T) tokenfile.Store {
	t.Helper()

	return tokenfile.NewFileStore(filepath.Join(t.TempDir(), "token.json"))
}

func testConfig(t *testing.T, f *fakeGraph, store tokenfile.Store) Config {
	t.Helper()

	return Config{
		Auth: graph.AuthConfig{
			Store:    store,
			Endpoint: &oauth2.Endpoint{AuthURL: f.srv.URL + "/authorize", TokenURL: f.srv.URL + "/token"},
		},
		BaseURL:        f.srv.URL,
		ProbeInterval:  -1,
		ConnectTimeout: callbackWait,
		SpoolDir:       t.TempDir(),
		Logger:         slog.Default(),
	}
}

// event is one recorded listener callback.
type event struct {
	kind  string
	info  remote.SessionInfo
	cause int
	err   error
}

// recorder is a remote.Listener that queues callbacks for assertions.
type recorder struct {
	events chan event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan event, 32)}
}

func (r *recorder) OnConnected(info remote.SessionInfo) {
	r.events <- event{kind: "connected", info: info}
}

func (r *recorder) OnSuspended(cause int) {
	r.events <- event{kind: "suspended", cause: cause}
}

func (r *recorder) OnConnectionFailed(err error) {
	r.events <- event{kind: "failed", err: err}
}

func (r *recorder) next(t *testing.T) event {
	t.Helper()

	select {
	case e := <-r.events:
		return e
	case <-time.After(callbackWait):
		t.Fatal("timed out waiting for a session callback")
		return event{}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()

	select {
	case e := <-r.events:
		t.Fatalf("unexpected %s callback", e.kind)
	case <-time.After(wait):
	}
}

// connectSession builds a provider over f and connects its session.
func connectSession(t *testing.T, f *fakeGraph, tweak func(*Config)) (*SessionProvider, *Session, *recorder) {
	t.Helper()

	cfg := testConfig(t, f, loggedInStore(t))
	if tweak != nil {
		tweak(&cfg)
	}

	p := NewSessionProvider(cfg)
	rec := newRecorder()
	s := p.NewSession(rec).(*Session)
	t.Cleanup(s.Disconnect)

	s.Connect()

	e := rec.next(t)
	require.Equal(t, "connected", e.kind, "connect failed: %v", e.err)

	return p, s, rec
}

// connectService returns a Service over a connected session.
func connectService(t *testing.T, f *fakeGraph) (*Service, *SessionProvider) {
	t.Helper()

	p, _, _ := connectSession(t, f, nil)

	return NewService(p), p
}

// flakyTransport fails every round trip while down is set.
type flakyTransport struct {
	down atomic.Bool
}

func (ft *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if ft.down.Load() {
		return nil, errors.New("connection refused")
	}

	return http.DefaultTransport.RoundTrip(r)
}
