package tokenfile

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

// KeyringService is the service name tokens are filed under in the OS keyring.
const KeyringService = "drivebridge"

// KeyringStore keeps the token in the OS credential store (macOS Keychain,
// Windows Credential Manager, Secret Service, or pass).
type KeyringStore struct {
	ring keyring.Keyring
	key  string
}

// OpenKeyringStore opens the platform keyring and returns a Store holding the
// token for account under KeyringService.
func OpenKeyringStore(account string) (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              KeyringService,
		KeychainTrustApplication: true,
		PassPrefix:               KeyringService,
		WinCredPrefix:            KeyringService,
		LibSecretCollectionName:  KeyringService,
	})
	if err != nil {
		return nil, fmt.Errorf("tokenfile: opening keyring: %w", err)
	}

	return NewKeyringStore(ring, account), nil
}

// NewKeyringStore wraps an already opened keyring.
func NewKeyringStore(ring keyring.Keyring, account string) *KeyringStore {
	return &KeyringStore{ring: ring, key: "token:" + account}
}

// Load implements Store.
func (s *KeyringStore) Load() (*oauth2.Token, map[string]string, error) {
	item, err := s.ring.Get(s.key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, nil, fmt.Errorf("tokenfile: reading keyring item %s: %w", s.key, err)
	}

	return unmarshalRecord(s.Location(), item.Data)
}

// Save implements Store.
func (s *KeyringStore) Save(tok *oauth2.Token, meta map[string]string) error {
	data, err := marshalRecord(tok, meta)
	if err != nil {
		return err
	}

	if err := s.ring.Set(keyring.Item{
		Key:         s.key,
		Data:        data,
		Label:       KeyringService + " OAuth token",
		Description: "OAuth2 token for " + KeyringService,
	}); err != nil {
		return fmt.Errorf("tokenfile: writing keyring item %s: %w", s.key, err)
	}

	return nil
}

// Delete implements Store.
func (s *KeyringStore) Delete() error {
	err := s.ring.Remove(s.key)
	if err == nil || errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}

	return fmt.Errorf("tokenfile: removing keyring item %s: %w", s.key, err)
}

// Location implements Store.
func (s *KeyringStore) Location() string {
	return "keyring:" + KeyringService + "/" + s.key
}
