package driveops

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/tonimelisma/drivebridge/internal/graph"
	"github.com/tonimelisma/drivebridge/internal/remote"
)

// Well-known Graph item references.
const (
	rootItemID    = "root"
	appFolderName = "approot"
)

// Service implements remote.Service over the provider's active session.
// Every call fails fast with remote.ErrNotConnected while the session is
// not connected; Graph failures surface as *remote.StatusError.
type Service struct {
	provider *SessionProvider
	logger   *slog.Logger
}

// NewService returns a Service bound to p.
func NewService(p *SessionProvider) *Service {
	return &Service{provider: p, logger: p.logger}
}

// --- Lookups ---

func (s *Service) RootFolder(ctx context.Context) (remote.ResourceID, error) {
	return s.lookup(ctx, func(c *conn) (*graph.Item, error) {
		return c.meta.GetItem(ctx, c.driveID, rootItemID)
	})
}

// AppFolder resolves the application's private folder, which the service
// creates on first access.
func (s *Service) AppFolder(ctx context.Context) (remote.ResourceID, error) {
	return s.lookup(ctx, func(c *conn) (*graph.Item, error) {
		return c.meta.SpecialFolder(ctx, c.driveID, appFolderName)
	})
}

// FetchResource resolves ref, which is either an item ID or a path from the
// drive root starting with "/".
func (s *Service) FetchResource(ctx context.Context, ref string) (remote.ResourceID, error) {
	return s.lookup(ctx, func(c *conn) (*graph.Item, error) {
		if !strings.HasPrefix(ref, "/") {
			return c.meta.GetItem(ctx, c.driveID, ref)
		}

		clean := strings.Trim(ref, "/")
		if clean == "" {
			return c.meta.GetItem(ctx, c.driveID, rootItemID)
		}

		return c.meta.GetItemByPath(ctx, c.driveID, clean)
	})
}

func (s *Service) lookup(ctx context.Context, fetch func(c *conn) (*graph.Item, error)) (remote.ResourceID, error) {
	md, err := s.item(ctx, fetch)
	if err != nil {
		return "", err
	}

	return md.ID, nil
}

func (s *Service) Metadata(ctx context.Context, id remote.ResourceID) (*remote.Metadata, error) {
	return s.item(ctx, func(c *conn) (*graph.Item, error) {
		return c.meta.GetItem(ctx, c.driveID, id.String())
	})
}

func (s *Service) item(ctx context.Context, fetch func(c *conn) (*graph.Item, error)) (*remote.Metadata, error) {
	c, err := s.provider.connection()
	if err != nil {
		return nil, err
	}

	it, err := fetch(c)
	if err != nil {
		return nil, statusError(err)
	}

	md := toMetadata(it)

	return &md, nil
}

// --- Listings ---

func (s *Service) ListChildren(ctx context.Context, folder remote.ResourceID) ([]remote.Metadata, error) {
	return s.QueryChildren(ctx, folder, remote.Query{})
}

// ListParents returns the item's parent folder. Drive items have at most
// one parent; the root has none.
func (s *Service) ListParents(ctx context.Context, id remote.ResourceID) ([]remote.Metadata, error) {
	c, err := s.provider.connection()
	if err != nil {
		return nil, err
	}

	it, err := c.meta.GetItem(ctx, c.driveID, id.String())
	if err != nil {
		return nil, statusError(err)
	}

	if it.ParentID == "" {
		return []remote.Metadata{}, nil
	}

	parent, err := c.meta.GetItem(ctx, c.driveID, it.ParentID)
	if err != nil {
		return nil, statusError(err)
	}

	return []remote.Metadata{toMetadata(parent)}, nil
}

// Query searches the whole drive. The search index matches TitleContains
// against names and content, so results are narrowed to title matches
// before the remaining filters apply. An empty TitleContains searches for
// every item.
func (s *Service) Query(ctx context.Context, q remote.Query) ([]remote.Metadata, error) {
	c, err := s.provider.connection()
	if err != nil {
		return nil, err
	}

	term := q.TitleContains
	if term == "" {
		term = q.Title
	}

	items, err := c.meta.Search(ctx, c.driveID, term)
	if err != nil {
		return nil, statusError(err)
	}

	return filter(items, q), nil
}

// QueryChildren lists a folder and filters the children with q.
func (s *Service) QueryChildren(ctx context.Context, folder remote.ResourceID, q remote.Query) ([]remote.Metadata, error) {
	c, err := s.provider.connection()
	if err != nil {
		return nil, err
	}

	items, err := c.meta.ListChildren(ctx, c.driveID, folder.String())
	if err != nil {
		return nil, statusError(err)
	}

	return filter(items, q), nil
}

func filter(items []graph.Item, q remote.Query) []remote.Metadata {
	needle := strings.ToLower(q.TitleContains)
	out := make([]remote.Metadata, 0, len(items))

	for i := range items {
		md := toMetadata(&items[i])

		if needle != "" && !strings.Contains(strings.ToLower(md.Title), needle) {
			continue
		}

		if q.Matches(&md) {
			out = append(out, md)
		}
	}

	return out
}

// --- Creation and content ---

func (s *Service) CreateFolder(ctx context.Context, parent remote.ResourceID, change remote.MetadataChange) (*remote.Metadata, error) {
	if change.Title == "" {
		return nil, invalid("folder title must not be empty")
	}

	return s.item(ctx, func(c *conn) (*graph.Item, error) {
		return c.meta.CreateFolder(ctx, c.driveID, parent.String(), change.Title)
	})
}

// NewContents returns an empty write handle for CreateFile.
func (s *Service) NewContents(_ context.Context) (remote.Contents, error) {
	if _, err := s.provider.connection(); err != nil {
		return nil, err
	}

	return newSpool(s.provider.cfg.SpoolDir, remote.ModeWriteOnly)
}

// CreateFile uploads a handle from NewContents as a new file in folder and
// releases the handle. A name collision is resolved by the service renaming
// the new file. The MIME type is derived by the service from the title's
// extension; change.MimeType is not sent.
func (s *Service) CreateFile(
	ctx context.Context, folder remote.ResourceID, change remote.MetadataChange, handle remote.Contents,
) (*remote.Metadata, error) {
	c, ok := handle.(*contents)
	if !ok || c.mode != remote.ModeWriteOnly || c.commit != nil {
		return nil, invalid("contents were not created by NewContents")
	}

	if change.Title == "" {
		return nil, invalid("file title must not be empty")
	}

	target := graph.UploadTarget{ParentID: folder.String(), Name: change.Title}

	md, err := s.upload(ctx, target, c)
	if err != nil {
		return nil, err
	}

	if err := c.Discard(); err != nil {
		s.logger.Warn("releasing spool file failed", slog.String("error", err.Error()))
	}

	return md, nil
}

// OpenFile opens file for reading or for a full content replacement. A read
// handle is returned after the whole download completes, with progress
// reported along the way; a write handle is published by Commit.
func (s *Service) OpenFile(
	ctx context.Context, file remote.ResourceID, mode remote.OpenMode, progress remote.ProgressFunc,
) (remote.Contents, error) {
	c, err := s.provider.connection()
	if err != nil {
		return nil, err
	}

	switch mode {
	case remote.ModeReadOnly:
		return s.download(ctx, c, file, progress)
	case remote.ModeWriteOnly:
		it, err := c.meta.GetItem(ctx, c.driveID, file.String())
		if err != nil {
			return nil, statusError(err)
		}

		if it.IsFolder {
			return nil, invalid("cannot write content to a folder")
		}

		h, err := newSpool(s.provider.cfg.SpoolDir, mode)
		if err != nil {
			return nil, err
		}

		h.commit = func(ctx context.Context, h *contents) error {
			_, err := s.upload(ctx, graph.UploadTarget{ItemID: file.String()}, h)
			return err
		}

		return h, nil
	default:
		return nil, invalid("unknown open mode " + mode.String())
	}
}

func (s *Service) download(
	ctx context.Context, c *conn, file remote.ResourceID, progress remote.ProgressFunc,
) (remote.Contents, error) {
	h, err := newSpool(s.provider.cfg.SpoolDir, remote.ModeReadOnly)
	if err != nil {
		return nil, err
	}

	n, err := c.transfer.Download(ctx, c.driveID, file.String(), h.file, graph.ProgressFunc(progress))
	if err != nil {
		h.Discard()
		return nil, statusError(err)
	}

	if err := h.rewind(n); err != nil {
		h.Discard()
		return nil, err
	}

	return h, nil
}

// upload sends the spooled bytes of h to target on the session current at
// the time of the call.
func (s *Service) upload(ctx context.Context, target graph.UploadTarget, h *contents) (*remote.Metadata, error) {
	c, err := s.provider.connection()
	if err != nil {
		return nil, err
	}

	var it *graph.Item

	err = h.upload(func(r io.ReaderAt, size int64) error {
		var uerr error
		it, uerr = c.transfer.Upload(ctx, c.driveID, target, r, size, s.provider.cfg.ChunkSize, nil)

		return uerr
	})
	if err != nil {
		return nil, statusError(err)
	}

	md := toMetadata(it)

	return &md, nil
}

// --- Mutations ---

// Delete removes id permanently, bypassing the recycle bin.
func (s *Service) Delete(ctx context.Context, id remote.ResourceID) error {
	return s.mutate(func(c *conn) error {
		return c.meta.PermanentDeleteItem(ctx, c.driveID, id.String())
	})
}

// Trash moves id to the recycle bin.
func (s *Service) Trash(ctx context.Context, id remote.ResourceID) error {
	return s.mutate(func(c *conn) error {
		return c.meta.DeleteItem(ctx, c.driveID, id.String())
	})
}

// Untrash restores id from the recycle bin to its original location.
func (s *Service) Untrash(ctx context.Context, id remote.ResourceID) error {
	return s.mutate(func(c *conn) error {
		_, err := c.meta.RestoreItem(ctx, c.driveID, id.String(), "")
		return err
	})
}

// SetParents moves id under its new parent. Drive items have exactly one
// parent, so any other parent count is rejected.
func (s *Service) SetParents(ctx context.Context, id remote.ResourceID, parents []remote.ResourceID) error {
	switch {
	case len(parents) == 0:
		return invalid("at least one parent is required")
	case len(parents) > 1:
		return &remote.StatusError{Code: remote.StatusUnsupported, Message: "items cannot have more than one parent"}
	}

	return s.mutate(func(c *conn) error {
		_, err := c.meta.MoveItem(ctx, c.driveID, id.String(), parents[0].String())
		return err
	})
}

func (s *Service) mutate(fn func(c *conn) error) error {
	c, err := s.provider.connection()
	if err != nil {
		return err
	}

	return statusError(fn(c))
}

// toMetadata converts a Graph item into a metadata snapshot.
func toMetadata(it *graph.Item) remote.Metadata {
	md := remote.Metadata{
		ID:         remote.ResourceID(it.ID),
		Title:      it.Name,
		MimeType:   it.MimeType,
		Size:       it.Size,
		IsFolder:   it.IsFolder,
		IsTrashed:  it.IsDeleted,
		CreatedAt:  it.CreatedAt,
		ModifiedAt: it.ModifiedAt,
	}

	if it.ParentID != "" {
		md.ParentIDs = []remote.ResourceID{remote.ResourceID(it.ParentID)}
	}

	return md
}

var _ remote.Service = (*Service)(nil)
