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
	"time"
)

// chunkAlignment is the required alignment for upload chunk sizes (320 KiB).
// All chunks except the final one must be a multiple of this value.
const chunkAlignment = 320 * 1024

// DefaultChunkSize is used for session uploads when the caller passes 0.
const DefaultChunkSize = 32 * chunkAlignment // 10 MiB

// simpleUploadMaxSize is the maximum file size for simple (single-request) upload (4 MB).
// Files larger than this must use resumable upload sessions.
const simpleUploadMaxSize = 4 * 1024 * 1024

// Conflict behaviors sent with uploads.
const (
	conflictRename  = "rename"
	conflictReplace = "replace"
)

// ErrInvalidUploadTarget is returned when an UploadTarget names neither an
// existing item nor a parent and name.
var ErrInvalidUploadTarget = errors.New("graph: upload target needs an item ID or a parent ID and name")

// UploadTarget says where uploaded bytes land. Set ItemID to replace the
// content of an existing file, or ParentID and Name to create a new one. A
// new file whose name is taken gets a unique name rather than replacing it.
type UploadTarget struct {
	ItemID   string
	ParentID string
	Name     string
}

func (t UploadTarget) validate() error {
	if t.ItemID != "" || (t.ParentID != "" && t.Name != "") {
		return nil
	}

	return ErrInvalidUploadTarget
}

// contentPath is the simple-upload endpoint for the target.
func (t UploadTarget) contentPath(driveID string) string {
	if t.ItemID != "" {
		return fmt.Sprintf("/drives/%s/items/%s/content", driveID, t.ItemID)
	}

	return fmt.Sprintf("/drives/%s/items/%s:/%s:/content?@microsoft.graph.conflictBehavior=%s",
		driveID, t.ParentID, url.PathEscape(t.Name), conflictRename)
}

// sessionPath is the createUploadSession endpoint for the target.
func (t UploadTarget) sessionPath(driveID string) (string, string) {
	if t.ItemID != "" {
		return fmt.Sprintf("/drives/%s/items/%s/createUploadSession", driveID, t.ItemID), conflictReplace
	}

	return fmt.Sprintf("/drives/%s/items/%s:/%s:/createUploadSession",
		driveID, t.ParentID, url.PathEscape(t.Name)), conflictRename
}

// Upload request/response types for Graph API JSON serialization.
type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionItem struct {
	ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type uploadSessionResponse struct {
	UploadURL          string `json:"uploadUrl"`
	ExpirationDateTime string `json:"expirationDateTime"`
}

// Upload sends size bytes from r to the target. Files up to 4 MB go in a
// single PUT; larger ones use an upload session with chunkSize-byte chunks
// (0 selects DefaultChunkSize; other values are rounded down to the 320 KiB
// alignment). progress (may be nil) is called as bytes are accepted.
func (c *Client) Upload(
	ctx context.Context, driveID string, target UploadTarget,
	r io.ReaderAt, size, chunkSize int64, progress ProgressFunc,
) (*Item, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}

	if size <= simpleUploadMaxSize {
		item, err := c.SimpleUpload(ctx, driveID, target, io.NewSectionReader(r, 0, size), size, progress)
		if err != nil {
			return nil, err
		}

		return item, nil
	}

	session, err := c.CreateUploadSession(ctx, driveID, target)
	if err != nil {
		return nil, err
	}

	item, err := c.uploadChunks(ctx, session, r, size, alignChunkSize(chunkSize), progress)
	if err != nil {
		// Best effort: an abandoned session expires on its own anyway.
		if cancelErr := c.CancelUploadSession(context.WithoutCancel(ctx), session); cancelErr != nil {
			c.logger.Warn("canceling upload session failed",
				slog.String("error", cancelErr.Error()),
			)
		}

		return nil, err
	}

	return item, nil
}

func alignChunkSize(n int64) int64 {
	if n <= 0 {
		return DefaultChunkSize
	}

	if n < chunkAlignment {
		return chunkAlignment
	}

	return n - n%chunkAlignment
}

func (c *Client) uploadChunks(
	ctx context.Context, session *UploadSession, r io.ReaderAt, size, chunkSize int64, progress ProgressFunc,
) (*Item, error) {
	for offset := int64(0); offset < size; offset += chunkSize {
		length := min(chunkSize, size-offset)

		item, err := c.UploadChunk(ctx, session, io.NewSectionReader(r, offset, length), offset, length, size)
		if err != nil {
			return nil, err
		}

		if progress != nil {
			progress(offset+length, size)
		}

		if item != nil {
			return item, nil
		}
	}

	return nil, fmt.Errorf("graph: upload session ended without a completed item")
}

// SimpleUpload uploads content up to 4 MB in a single PUT with content type
// application/octet-stream. For larger files, use Upload.
func (c *Client) SimpleUpload(
	ctx context.Context, driveID string, target UploadTarget, r io.Reader, size int64, progress ProgressFunc,
) (*Item, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}

	c.logger.Info("simple upload",
		slog.String("drive_id", driveID),
		slog.String("item_id", target.ItemID),
		slog.String("parent_id", target.ParentID),
		slog.String("name", target.Name),
		slog.Int64("size", size),
	)

	body := io.Reader(&progressReader{r: r, total: size, progress: progress})

	// An empty body must still be non-nil so the request carries Content-Length: 0.
	if size == 0 {
		body = http.NoBody
	}

	headers := http.Header{"Content-Type": {"application/octet-stream"}}

	resp, err := c.doAuthed(ctx, http.MethodPut, target.contentPath(driveID), body, size, headers)
	if err != nil {
		return nil, err
	}

	item, err := c.decodeItem(resp, "simple upload")
	if err != nil {
		return nil, err
	}

	if progress != nil {
		progress(size, size)
	}

	return item, nil
}

// CreateUploadSession creates a resumable upload session for the target.
// The returned UploadSession contains a pre-authenticated upload URL.
func (c *Client) CreateUploadSession(ctx context.Context, driveID string, target UploadTarget) (*UploadSession, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}

	path, conflict := target.sessionPath(driveID)

	c.logger.Info("creating upload session",
		slog.String("drive_id", driveID),
		slog.String("item_id", target.ItemID),
		slog.String("parent_id", target.ParentID),
		slog.String("name", target.Name),
	)

	bodyBytes, err := json.Marshal(createUploadSessionRequest{
		Item: uploadSessionItem{ConflictBehavior: conflict},
	})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling upload session request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var usr uploadSessionResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&usr); decErr != nil {
		return nil, fmt.Errorf("graph: decoding upload session response: %w", decErr)
	}

	expTime, parseErr := time.Parse(time.RFC3339, usr.ExpirationDateTime)
	if parseErr != nil {
		c.logger.Warn("invalid upload session expiration, using zero time",
			slog.String("raw", usr.ExpirationDateTime),
			slog.String("error", parseErr.Error()),
		)
	}

	return &UploadSession{UploadURL: usr.UploadURL, ExpirationTime: expTime}, nil
}

// UploadChunk uploads a chunk of data to an upload session.
// Returns the completed Item on the final chunk (201/200), nil for intermediate chunks (202).
// offset is the byte offset, length is the chunk size, total is the full file size.
func (c *Client) UploadChunk(
	ctx context.Context, session *UploadSession, chunk io.Reader,
	offset, length, total int64,
) (*Item, error) {
	c.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int64("length", length),
		slog.Int64("total", total),
	)

	headers := http.Header{
		"Content-Range": {fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, total)},
		"Content-Type":  {"application/octet-stream"},
	}

	resp, err := c.doPreAuth(ctx, http.MethodPut, session.UploadURL, chunk, length, headers)
	if err != nil {
		return nil, fmt.Errorf("graph: uploading chunk at offset %d: %w", offset, err)
	}

	// 202 Accepted means more chunks are expected.
	if resp.StatusCode == http.StatusAccepted {
		return nil, drain(resp)
	}

	return c.decodeItem(resp, "final chunk")
}

// CancelUploadSession cancels an in-progress upload session.
func (c *Client) CancelUploadSession(ctx context.Context, session *UploadSession) error {
	c.logger.Debug("canceling upload session")

	resp, err := c.doPreAuth(ctx, http.MethodDelete, session.UploadURL, http.NoBody, 0, nil)
	if err != nil {
		return fmt.Errorf("graph: canceling upload session: %w", err)
	}

	return drain(resp)
}

// progressReader reports the running byte count as the body is consumed.
type progressReader struct {
	r        io.Reader
	n        int64
	total    int64
	progress ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	pr.n += int64(n)

	// The final report is sent once the service has accepted the bytes.
	if pr.progress != nil && n > 0 && pr.n < pr.total {
		pr.progress(pr.n, pr.total)
	}

	return n, err
}
