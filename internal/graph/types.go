package graph

import "time"

// Item is a drive item normalized from the API response. Packages such as
// OneNote notebooks are reported as folders: they hold children and have no
// downloadable content.
type Item struct {
	ID          string
	Name        string
	ParentID    string
	Size        int64
	MimeType    string
	IsFolder    bool
	IsDeleted   bool
	CreatedAt   time.Time // zero when the service sent none or garbage
	ModifiedAt  time.Time
	DownloadURL string // pre-authenticated and short-lived; never log it
}

// User is the signed-in account.
type User struct {
	ID          string
	DisplayName string
	Email       string
}

// Drive is the account's default drive with its storage quota.
type Drive struct {
	ID         string
	DriveType  string // "personal", "business", "documentLibrary"
	QuotaUsed  int64
	QuotaTotal int64
}

// UploadSession is a resumable upload target returned by createUploadSession.
type UploadSession struct {
	UploadURL      string
	ExpirationTime time.Time
}

// ProgressFunc receives byte counts during a transfer. total is -1 when the
// size is not known in advance.
type ProgressFunc func(transferred, total int64)
