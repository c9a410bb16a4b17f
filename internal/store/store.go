// Package store abstracts the host key-value storage the keystore writes
// through: a persistent scope (file-backed here, chrome.storage in the
// extension host) and an optional process-local session scope.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Persistent-scope keys.
const (
	KeyWalletsEnvelope = "wallets_envelope"
	KeyActiveWalletID  = "active_wallet_id"
	KeyNetworkName     = "network_name"
	KeyCustomNetworks  = "custom_networks"
	KeyRPCOverrides    = "rpc_overrides"
	KeyAuthHash        = "auth_hash"
	KeyRateLimit       = "rate_limit"
	KeyInstallSecret   = "install_secret"
	KeyPriceCache      = "price_cache"
	KeyMetadataCache   = "metadata_cache"
	KeyFailedLookups   = "failed_lookups"
)

// Session-scope keys.
const (
	KeySessionWallets  = "session_wallets_json"
	KeySessionPassword = "session_password"
)

// Store is the key-value surface consumed by the keystore.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)

	// Set writes key to value.
	Set(key, value string) error

	// Remove deletes the given keys; absent keys are not an error.
	Remove(keys ...string) error
}

// FileStore is a persistent Store backed by a single JSON file. Writes go
// through a temp file and rename so a crash never truncates the envelope.
type FileStore struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// NewFileStore opens (or creates) the store file at path.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, data: make(map[string]string)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fs.data); err != nil {
			return nil, fmt.Errorf("store: parse %s: %w", path, err)
		}
	}
	return fs, nil
}

// Get implements Store.
func (fs *FileStore) Get(key string) (string, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	v, ok := fs.data[key]
	return v, ok, nil
}

// Set implements Store.
func (fs *FileStore) Set(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.data[key] = value
	return fs.flushLocked()
}

// Remove implements Store.
func (fs *FileStore) Remove(keys ...string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, k := range keys {
		delete(fs.data, k)
	}
	return fs.flushLocked()
}

func (fs *FileStore) flushLocked() error {
	raw, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".store-*")
	if err != nil {
		return fmt.Errorf("store: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: chmod: %w", err)
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

// MemoryStore is a volatile Store used for the session scope and in tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// Get implements Store.
func (ms *MemoryStore) Get(key string) (string, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	v, ok := ms.data[key]
	return v, ok, nil
}

// Set implements Store.
func (ms *MemoryStore) Set(key, value string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.data[key] = value
	return nil
}

// Remove implements Store.
func (ms *MemoryStore) Remove(keys ...string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, k := range keys {
		delete(ms.data, k)
	}
	return nil
}
