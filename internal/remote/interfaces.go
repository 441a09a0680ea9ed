package remote

import (
	"context"
	"io"
)

// Suspension cause codes reported through Listener.OnSuspended. Only
// CauseNetworkLost is distinguished by consumers; every other code is treated
// as a service-side disconnection.
const (
	CauseServiceDisconnected = 1
	CauseNetworkLost         = 2
)

// Listener receives raw lifecycle callbacks from a Session. Callbacks may
// arrive on any goroutine but are never issued concurrently for the same
// Session.
type Listener interface {
	OnConnected(info SessionInfo)
	OnSuspended(cause int)
	OnConnectionFailed(err error)
}

// Session is the long-lived authenticated connection. Connect and Disconnect
// return immediately; the outcome of Connect is reported to the Listener the
// Session was built with.
type Session interface {
	Connect()
	Disconnect()
	IsConnected() bool
}

// Contents is a content handle obtained from NewContents or OpenFile. Read
// handles expose the downloaded bytes through Read; write handles accept
// bytes through Write and are published by Commit (for OpenFile) or by
// Service.CreateFile (for NewContents). Discard releases the handle without
// publishing anything and is safe to call more than once.
type Contents interface {
	io.Reader
	io.Writer
	Mode() OpenMode
	Size() int64
	Commit(ctx context.Context) error
	Discard() error
}

// Service is the set of blocking resource calls. Every call fails with a
// *StatusError (ErrNotConnected when the session is down) on non-success.
type Service interface {
	RootFolder(ctx context.Context) (ResourceID, error)
	AppFolder(ctx context.Context) (ResourceID, error)
	FetchResource(ctx context.Context, ref string) (ResourceID, error)

	Metadata(ctx context.Context, id ResourceID) (*Metadata, error)
	ListChildren(ctx context.Context, folder ResourceID) ([]Metadata, error)
	ListParents(ctx context.Context, id ResourceID) ([]Metadata, error)
	Query(ctx context.Context, q Query) ([]Metadata, error)
	QueryChildren(ctx context.Context, folder ResourceID, q Query) ([]Metadata, error)

	CreateFolder(ctx context.Context, parent ResourceID, change MetadataChange) (*Metadata, error)
	NewContents(ctx context.Context) (Contents, error)
	CreateFile(ctx context.Context, folder ResourceID, change MetadataChange, contents Contents) (*Metadata, error)
	OpenFile(ctx context.Context, file ResourceID, mode OpenMode, progress ProgressFunc) (Contents, error)

	Delete(ctx context.Context, id ResourceID) error
	Trash(ctx context.Context, id ResourceID) error
	Untrash(ctx context.Context, id ResourceID) error
	SetParents(ctx context.Context, id ResourceID, parents []ResourceID) error
}
