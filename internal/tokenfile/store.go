package tokenfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// Store is where the OAuth2 token and its metadata live between runs.
type Store interface {
	// Load returns (nil, nil, nil) when nothing is stored.
	Load() (*oauth2.Token, map[string]string, error)
	Save(tok *oauth2.Token, meta map[string]string) error
	// Delete is a no-op when nothing is stored.
	Delete() error
	// Location describes the store for messages; it never contains secrets.
	Location() string
}

// FileStore keeps the token in a JSON file with owner-only permissions.
type FileStore struct {
	Path string
}

// NewFileStore returns a Store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load implements Store.
func (s *FileStore) Load() (*oauth2.Token, map[string]string, error) {
	data, err := os.ReadFile(s.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil, nil //nolint:nilnil // nothing stored
	case err != nil:
		return nil, nil, fmt.Errorf("tokenfile: reading %s: %w", s.Path, err)
	}

	return unmarshalRecord(s.Path, data)
}

// Save implements Store. The file is replaced atomically and token values
// are never logged.
func (s *FileStore) Save(tok *oauth2.Token, meta map[string]string) error {
	data, err := marshalRecord(tok, meta)
	if err != nil {
		return err
	}

	return replaceFile(s.Path, data)
}

// Delete implements Store.
func (s *FileStore) Delete() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", s.Path, err)
	}

	return nil
}

// Location implements Store.
func (s *FileStore) Location() string {
	return s.Path
}

// replaceFile writes data to a sibling temp file, syncs it and renames it
// over path, so readers see either the old token or the new one.
func replaceFile(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(FilePerms); err != nil {
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	return nil
}
