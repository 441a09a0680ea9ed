// Package tokenfile persists the OAuth2 token together with cached account
// metadata (display name, drive ID). Tokens live either in a JSON file or in
// the OS keyring; both sit behind Store. This is a leaf package imported by
// graph/ and the CLI.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token's parent directory.
const DirPerms = 0o700

// ErrNoToken is returned by operations that need an existing token.
var ErrNoToken = errors.New("no token stored")

// record is the document both stores persist. A bare oauth2.Token (no
// "token" wrapper) is not accepted.
type record struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

func marshalRecord(tok *oauth2.Token, meta map[string]string) ([]byte, error) {
	if tok == nil {
		return nil, errors.New("tokenfile: refusing to save nil token")
	}

	data, err := json.MarshalIndent(record{Token: tok, Meta: meta}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("tokenfile: encoding: %w", err)
	}

	return data, nil
}

// unmarshalRecord validates a stored document. src names the store in errors.
func unmarshalRecord(src string, data []byte) (*oauth2.Token, map[string]string, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil, fmt.Errorf("tokenfile: decoding %s: %w", src, err)
	}

	switch {
	case rec.Token == nil:
		return nil, nil, fmt.Errorf("tokenfile: %s missing token field (re-login required)", src)
	case rec.Token.AccessToken == "" && rec.Token.RefreshToken == "":
		return nil, nil, fmt.Errorf("tokenfile: %s has empty credentials (re-login required)", src)
	}

	return rec.Token, rec.Meta, nil
}

// MergeMeta overlays meta onto the metadata already stored with the token.
// Keys in meta win. Returns ErrNoToken when the store is empty.
func MergeMeta(store Store, meta map[string]string) error {
	tok, current, err := store.Load()
	if err != nil {
		return fmt.Errorf("tokenfile: reading token for metadata update: %w", err)
	}

	if tok == nil {
		return fmt.Errorf("tokenfile: %s: %w", store.Location(), ErrNoToken)
	}

	merged := make(map[string]string, len(current)+len(meta))
	maps.Copy(merged, current)
	maps.Copy(merged, meta)

	return store.Save(tok, merged)
}
