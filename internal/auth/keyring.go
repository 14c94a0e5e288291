package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"

	"github.com/staybook/staybook-cli/internal/statefile"
)

const (
	serviceName = "staybook"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("credential not found")

// KeyStore is a persistent key/value store for credentials, preferring the
// system keychain and falling back to a 0600 JSON file.
type KeyStore struct {
	useKeyring bool
	file       *statefile.File[map[string]string]
}

// NewKeyStore creates a key store, probing whether the keyring is usable.
func NewKeyStore(fallbackDir string) *KeyStore {
	file := statefile.New[map[string]string](fallbackDir, "credentials.json")

	if os.Getenv("STAYBOOK_NO_KEYRING") != "" {
		return &KeyStore{useKeyring: false, file: file}
	}

	testKey := key("probe")
	if err := keyring.Set(serviceName, testKey, "probe"); err == nil {
		_ = keyring.Delete(serviceName, testKey)
		return &KeyStore{useKeyring: true, file: file}
	}
	fmt.Fprintf(os.Stderr, "warning: system keyring unavailable, credentials stored in plaintext at %s\n", file.Path())
	return &KeyStore{useKeyring: false, file: file}
}

// NewFileKeyStore creates a key store that never touches the keyring.
func NewFileKeyStore(dir string) *KeyStore {
	return &KeyStore{file: statefile.New[map[string]string](dir, "credentials.json")}
}

// key returns the keyring account name for a logical key.
func key(name string) string {
	return "staybook::" + name
}

// Get returns the value stored under name, or ErrNotFound.
func (s *KeyStore) Get(name string) (string, error) {
	if s.useKeyring {
		v, err := keyring.Get(serviceName, key(name))
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		if err != nil {
			return "", fmt.Errorf("keyring get %s: %w", name, err)
		}
		return v, nil
	}

	all, err := s.file.Load()
	if err != nil {
		return "", err
	}
	v, ok := all[name]
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores value under name.
func (s *KeyStore) Set(name, value string) error {
	if s.useKeyring {
		return keyring.Set(serviceName, key(name), value)
	}
	return s.file.Update(func(all *map[string]string) error {
		if *all == nil {
			*all = make(map[string]string)
		}
		(*all)[name] = value
		return nil
	})
}

// Delete removes name. Deleting an absent key is not an error.
func (s *KeyStore) Delete(name string) error {
	if s.useKeyring {
		err := keyring.Delete(serviceName, key(name))
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return err
	}
	if !s.file.Exists() {
		return nil
	}
	return s.file.Update(func(all *map[string]string) error {
		delete(*all, name)
		return nil
	})
}

// UsingKeyring returns true if the store is using the system keyring.
func (s *KeyStore) UsingKeyring() bool {
	return s.useKeyring
}
