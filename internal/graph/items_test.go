package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// itemJSON renders a minimal driveItem for handlers.
func itemJSON(id, name, parent string) string {
	return fmt.Sprintf(`{"id":%q,"name":%q,"createdDateTime":"2024-01-01T00:00:00Z",`+
		`"lastModifiedDateTime":"2024-01-01T00:00:00Z","parentReference":{"id":%q,"driveId":"d"}}`, id, name, parent)
}

func jsonHandler(t *testing.T, method, path, body string) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, method, r.Method)
		assert.Equal(t, path, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

func TestGetItem_File(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/drives/drive-abc-123/items/item-123", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "item-123",
			"name": "notes.txt",
			"size": 1024,
			"eTag": "etag-abc",
			"createdDateTime": "2024-01-15T10:30:00Z",
			"lastModifiedDateTime": "2024-06-20T14:45:00Z",
			"parentReference": {"id": "parent-456", "driveId": "DRIVE-ABC-123"},
			"file": {"mimeType": "text/plain"},
			"@microsoft.graph.downloadUrl": "https://download.example/blob"
		}`)
	}))
	defer srv.Close()

	item, err := newTestClient(t, srv.URL).GetItem(context.Background(), "drive-abc-123", "item-123")
	require.NoError(t, err)

	assert.Equal(t, "item-123", item.ID)
	assert.Equal(t, "notes.txt", item.Name)
	assert.Equal(t, "parent-456", item.ParentID)
	assert.Equal(t, int64(1024), item.Size)
	assert.Equal(t, "text/plain", item.MimeType)
	assert.Equal(t, "https://download.example/blob", item.DownloadURL)
	assert.False(t, item.IsFolder)
	assert.Equal(t, time.Date(2024, 6, 20, 14, 45, 0, 0, time.UTC), item.ModifiedAt)
}

func TestGetItem_PackageIsFolder(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, http.MethodGet, "/drives/d/items/x", `{
		"id": "x",
		"name": "Notebook",
		"package": {"type": "oneNote"},
		"deleted": {"state": "deleted"}
	}`))
	defer srv.Close()

	item, err := newTestClient(t, srv.URL).GetItem(context.Background(), "d", "x")
	require.NoError(t, err)

	assert.True(t, item.IsFolder, "packages hold children")
	assert.True(t, item.IsDeleted)
	assert.Empty(t, item.ParentID, "no parentReference")
	assert.Empty(t, item.MimeType)
	assert.True(t, item.CreatedAt.IsZero(), "missing timestamps stay unknown")
}

func TestGetItem_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"itemNotFound"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetItem(context.Background(), "d", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestParseTimestamp(t *testing.T) {
	logger := slog.Default()

	for _, raw := range []string{"", "not-a-date", "2024-13-01T00:00:00Z"} {
		assert.True(t, parseTimestamp(raw, "item", logger).IsZero(), "raw=%q", raw)
	}

	got := parseTimestamp("2024-03-01T12:00:00Z", "item", logger)
	assert.Equal(t, time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC), got)
}

func TestGetItemByPath_EncodesSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drives/d/root:/My Docs/a#b.txt:", r.URL.Path)
		fmt.Fprint(w, itemJSON("i", "a#b.txt", "p"))
	}))
	defer srv.Close()

	item, err := newTestClient(t, srv.URL).GetItemByPath(context.Background(), "d", "My Docs/a#b.txt")
	require.NoError(t, err)
	assert.Equal(t, "a#b.txt", item.Name)
}

func TestEscapePath(t *testing.T) {
	assert.Equal(t, "a/b%20c/d%3Fe", escapePath("a/b c/d?e"))
	assert.Equal(t, "plain", escapePath("plain"))
}

func TestItemPath(t *testing.T) {
	assert.Equal(t, "/drives/d/items/i", itemPath("d", "i"))
	assert.Equal(t, "/drives/d/items/i/restore", itemPath("d", "i", "restore"))
}

func TestSpecialFolder(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, http.MethodGet, "/drives/d/special/approot", itemJSON("app", "Apps", "root")))
	defer srv.Close()

	item, err := newTestClient(t, srv.URL).SpecialFolder(context.Background(), "d", "approot")
	require.NoError(t, err)
	assert.Equal(t, "app", item.ID)
}

func TestListChildren_Pagination(t *testing.T) {
	var srv *httptest.Server

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drives/d/items/p/children", r.URL.Path)

		if r.URL.Query().Get("page") != "2" {
			assert.Equal(t, "200", r.URL.Query().Get("$top"))
			fmt.Fprintf(w, `{"value":[%s],"@odata.nextLink":"%s/drives/d/items/p/children?$top=200&page=2"}`,
				itemJSON("a", "item-a", "p"), srv.URL)

			return
		}

		fmt.Fprintf(w, `{"value":[%s]}`, itemJSON("b", "item-b", "p"))
	}))
	defer srv.Close()

	items, err := newTestClient(t, srv.URL).ListChildren(context.Background(), "d", "p")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "item-a", items[0].Name)
	assert.Equal(t, "item-b", items[1].Name)
}

func TestListChildren_Empty(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, http.MethodGet, "/drives/d/items/p/children", `{"value": []}`))
	defer srv.Close()

	items, err := newTestClient(t, srv.URL).ListChildren(context.Background(), "d", "p")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestListChildren_ForeignNextLink(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, http.MethodGet, "/drives/d/items/p/children",
		`{"value": [], "@odata.nextLink": "https://evil.example.com/steal"}`))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).ListChildren(context.Background(), "d", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leaves base URL")
}

func TestSearch_QuotesAndEncodesTerm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drives/d/root/search(q='it''s a test')", r.URL.Path)
		fmt.Fprintf(w, `{"value":[%s]}`, itemJSON("s", "it's a test.txt", "p"))
	}))
	defer srv.Close()

	items, err := newTestClient(t, srv.URL).Search(context.Background(), "d", "it's a test")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "s", items[0].ID)
}

func TestCreateFolder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/drives/d/items/p/children", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Reports", body["name"])
		assert.Equal(t, "fail", body["@microsoft.graph.conflictBehavior"])
		assert.NotNil(t, body["folder"])

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"new","name":"Reports","folder":{"childCount":0},`+
			`"createdDateTime":"2024-01-01T00:00:00Z","lastModifiedDateTime":"2024-01-01T00:00:00Z"}`)
	}))
	defer srv.Close()

	item, err := newTestClient(t, srv.URL).CreateFolder(context.Background(), "d", "p", "Reports")
	require.NoError(t, err)
	assert.True(t, item.IsFolder)
}

func TestCreateFolder_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CreateFolder(context.Background(), "d", "p", "dup")
	require.ErrorIs(t, err, ErrConflict)
}

func TestMoveItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/drives/d/items/i", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"parentReference":{"id":"p2"}}`, string(body), "the name is kept")

		fmt.Fprint(w, itemJSON("i", "b.txt", "p2"))
	}))
	defer srv.Close()

	item, err := newTestClient(t, srv.URL).MoveItem(context.Background(), "d", "i", "p2")
	require.NoError(t, err)
	assert.Equal(t, "p2", item.ParentID)
}

func TestMoveItem_NoParent(t *testing.T) {
	_, err := newTestClient(t, "http://unused.invalid").MoveItem(context.Background(), "d", "i", "")
	require.ErrorIs(t, err, ErrNoParent)
}

func TestDeleteItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/drives/d/items/i", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv.URL).DeleteItem(context.Background(), "d", "i"))
}

func TestPermanentDeleteItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/drives/d/items/i/permanentDelete", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv.URL).PermanentDeleteItem(context.Background(), "d", "i"))
}

func TestRestoreItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/drives/d/items/i/restore", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(body), "no parent restores to the original location")

		fmt.Fprint(w, itemJSON("i", "back.txt", "p"))
	}))
	defer srv.Close()

	item, err := newTestClient(t, srv.URL).RestoreItem(context.Background(), "d", "i", "")
	require.NoError(t, err)
	assert.False(t, item.IsDeleted)
}
