package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// pageSize is the $top for collection requests, the maximum Graph allows
// for drive items.
const pageSize = 200

// ErrNoParent is returned by MoveItem when no destination is given.
var ErrNoParent = errors.New("graph: move needs a destination folder")

// driveItem mirrors the Graph driveItem JSON. Only toItem looks at it.
type driveItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Created  string `json:"createdDateTime"`
	Modified string `json:"lastModifiedDateTime"`
	Parent   *struct {
		ID string `json:"id"`
	} `json:"parentReference"`
	File *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
	Folder      *json.RawMessage `json:"folder"`
	Package     *json.RawMessage `json:"package"`
	Deleted     *json.RawMessage `json:"deleted"`
	DownloadURL string           `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle // Graph API annotation key
}

type driveItemPage struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

// parentRef is the destination in move and restore bodies.
type parentRef struct {
	ID string `json:"id"`
}

func (d *driveItem) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:          d.ID,
		Name:        d.Name,
		Size:        d.Size,
		IsFolder:    d.Folder != nil || d.Package != nil,
		IsDeleted:   d.Deleted != nil,
		DownloadURL: d.DownloadURL,
		CreatedAt:   parseTimestamp(d.Created, d.ID, logger),
		ModifiedAt:  parseTimestamp(d.Modified, d.ID, logger),
	}

	if d.Parent != nil {
		item.ParentID = d.Parent.ID
	}

	if d.File != nil {
		item.MimeType = d.File.MimeType
	}

	return item
}

// parseTimestamp returns the zero time for a missing or malformed value so
// callers can show it as unknown.
func parseTimestamp(raw, itemID string, logger *slog.Logger) time.Time {
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Debug("ignoring malformed timestamp",
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Time{}
	}

	return t
}

// itemPath is the API path of an item, plus an optional action segment.
func itemPath(driveID, itemID string, action ...string) string {
	p := "/drives/" + url.PathEscape(driveID) + "/items/" + url.PathEscape(itemID)
	for _, a := range action {
		p += "/" + a
	}

	return p
}

// escapePath URL-encodes each segment of a slash-separated drive path.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// sendItem issues a request with an optional JSON body and decodes a
// driveItem reply.
func (c *Client) sendItem(ctx context.Context, method, path string, body any) (*Item, error) {
	var r io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("graph: encoding request: %w", err)
		}

		r = bytes.NewReader(data)
	}

	resp, err := c.Do(ctx, method, path, r)
	if err != nil {
		return nil, err
	}

	return c.decodeItem(resp, "item")
}

// decodeItem reads a driveItem reply and closes its body.
func (c *Client) decodeItem(resp *http.Response, what string) (*Item, error) {
	defer resp.Body.Close()

	var d driveItem
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("graph: decoding %s response: %w", what, err)
	}

	item := d.toItem(c.logger)

	return &item, nil
}

// sendAck issues a bodiless request whose reply carries no content.
func (c *Client) sendAck(ctx context.Context, method, path string) error {
	resp, err := c.Do(ctx, method, path, nil)
	if err != nil {
		return err
	}

	return drain(resp)
}

// collect follows @odata.nextLink until the collection is exhausted.
// Next links must stay on the client's base URL; the token is never sent
// anywhere else.
func (c *Client) collect(ctx context.Context, path string) ([]Item, error) {
	var items []Item

	for path != "" {
		resp, err := c.Do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}

		var page driveItemPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()

		if err != nil {
			return nil, fmt.Errorf("graph: decoding collection: %w", err)
		}

		for i := range page.Value {
			items = append(items, page.Value[i].toItem(c.logger))
		}

		path = ""

		if page.NextLink != "" {
			rest, ok := strings.CutPrefix(page.NextLink, c.baseURL)
			if !ok {
				return nil, fmt.Errorf("graph: next link %q leaves base URL %q", page.NextLink, c.baseURL)
			}

			path = rest
		}
	}

	c.logger.Debug("collected items", slog.Int("count", len(items)))

	return items, nil
}

// GetItem retrieves a single drive item by ID.
func (c *Client) GetItem(ctx context.Context, driveID, itemID string) (*Item, error) {
	return c.sendItem(ctx, http.MethodGet, itemPath(driveID, itemID), nil)
}

// GetItemByPath retrieves an item by its path under the drive root, without
// a leading slash.
func (c *Client) GetItemByPath(ctx context.Context, driveID, remotePath string) (*Item, error) {
	return c.sendItem(ctx, http.MethodGet,
		"/drives/"+url.PathEscape(driveID)+"/root:/"+escapePath(remotePath)+":", nil)
}

// SpecialFolder resolves a well-known folder such as "approot". The app
// folder is created on first access.
func (c *Client) SpecialFolder(ctx context.Context, driveID, name string) (*Item, error) {
	return c.sendItem(ctx, http.MethodGet,
		"/drives/"+url.PathEscape(driveID)+"/special/"+url.PathEscape(name), nil)
}

// ListChildren returns every child of a folder across all pages.
func (c *Client) ListChildren(ctx context.Context, driveID, parentID string) ([]Item, error) {
	return c.collect(ctx, fmt.Sprintf("%s?$top=%d", itemPath(driveID, parentID, "children"), pageSize))
}

// Search runs a full-text search over the drive. The service matches names,
// metadata and content, so callers filter further.
func (c *Client) Search(ctx context.Context, driveID, query string) ([]Item, error) {
	// OData string literals escape a single quote by doubling it.
	term := url.PathEscape(strings.ReplaceAll(query, "'", "''"))

	return c.collect(ctx, fmt.Sprintf("/drives/%s/root/search(q='%s')?$top=%d", url.PathEscape(driveID), term, pageSize))
}

// CreateFolder creates a folder under parentID. A name collision fails with
// ErrConflict rather than renaming.
func (c *Client) CreateFolder(ctx context.Context, driveID, parentID, name string) (*Item, error) {
	body := map[string]any{
		"name":                              name,
		"folder":                            struct{}{},
		"@microsoft.graph.conflictBehavior": "fail",
	}

	return c.sendItem(ctx, http.MethodPost, itemPath(driveID, parentID, "children"), body)
}

// MoveItem reparents an item, keeping its name.
func (c *Client) MoveItem(ctx context.Context, driveID, itemID, parentID string) (*Item, error) {
	if parentID == "" {
		return nil, ErrNoParent
	}

	body := struct {
		ParentReference parentRef `json:"parentReference"`
	}{parentRef{ID: parentID}}

	return c.sendItem(ctx, http.MethodPatch, itemPath(driveID, itemID), body)
}

// DeleteItem moves an item to the recycle bin.
func (c *Client) DeleteItem(ctx context.Context, driveID, itemID string) error {
	return c.sendAck(ctx, http.MethodDelete, itemPath(driveID, itemID))
}

// PermanentDeleteItem deletes an item without going through the recycle bin.
func (c *Client) PermanentDeleteItem(ctx context.Context, driveID, itemID string) error {
	return c.sendAck(ctx, http.MethodPost, itemPath(driveID, itemID, "permanentDelete"))
}

// RestoreItem brings a recycled item back. An empty parentID restores it to
// its original location.
func (c *Client) RestoreItem(ctx context.Context, driveID, itemID, parentID string) (*Item, error) {
	body := struct {
		ParentReference *parentRef `json:"parentReference,omitempty"`
	}{}

	if parentID != "" {
		body.ParentReference = &parentRef{ID: parentID}
	}

	return c.sendItem(ctx, http.MethodPost, itemPath(driveID, itemID, "restore"), body)
}
