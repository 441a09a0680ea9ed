package remote

import "time"

// ResourceID is an opaque reference to a remote file or folder. Callers must
// not inspect its structure; it is only threaded through calls and results.
type ResourceID string

// String returns the raw identifier.
func (id ResourceID) String() string {
	return string(id)
}

// IsZero reports whether the reference is empty.
func (id ResourceID) IsZero() bool {
	return id == ""
}

// Metadata is a point-in-time snapshot of a remote resource.
type Metadata struct {
	ID         ResourceID
	Title      string
	MimeType   string
	Size       int64
	IsFolder   bool
	IsTrashed  bool
	ParentIDs  []ResourceID
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// MetadataChange carries the fields set when a resource is created. Empty
// fields are left for the service to decide.
type MetadataChange struct {
	Title    string
	MimeType string
}

// Query filters a listing. TitleContains is evaluated by the service's search
// index; the remaining fields narrow the result set.
type Query struct {
	TitleContains  string
	Title          string
	MimeType       string
	FoldersOnly    bool
	FilesOnly      bool
	IncludeTrashed bool
}

// Matches reports whether md satisfies the non-search filters of q.
// TitleContains is not evaluated here.
func (q Query) Matches(md *Metadata) bool {
	if !q.IncludeTrashed && md.IsTrashed {
		return false
	}

	if q.Title != "" && md.Title != q.Title {
		return false
	}

	if q.MimeType != "" && md.MimeType != q.MimeType {
		return false
	}

	if q.FoldersOnly && !md.IsFolder {
		return false
	}

	if q.FilesOnly && md.IsFolder {
		return false
	}

	return true
}

// SessionInfo describes an established session. It is the payload of the
// OnConnected callback.
type SessionInfo struct {
	AccountID   string
	DisplayName string
	DriveID     string
	DriveType   string
	QuotaUsed   int64
	QuotaTotal  int64
	ConnectedAt time.Time
}

// OpenMode selects how OpenFile prepares a content handle.
type OpenMode int

// Open modes.
const (
	ModeReadOnly OpenMode = iota
	ModeWriteOnly
)

func (m OpenMode) String() string {
	switch m {
	case ModeReadOnly:
		return "read_only"
	case ModeWriteOnly:
		return "write_only"
	default:
		return "unknown"
	}
}

// SizeUnknown is reported as the expected size by a ProgressFunc when the
// total transfer size is not known.
const SizeUnknown int64 = -1

// ProgressFunc is the service's native progress callback. It is invoked on
// the goroutine performing the transfer.
type ProgressFunc func(bytesTransferred, bytesExpected int64)
