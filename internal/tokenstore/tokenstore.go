// Package tokenstore persists the platform access token. The token lives in a
// single named slot on disk; absence of the file means "logged out". A Store
// wraps the slot with a mutex so reads and writes are atomic relative to the
// session guard's refresh protocol. Leaf package imported by api/ and the CLI.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// File is the on-disk format of the token slot. Meta caches API response
// fields (username, roles) so the CLI can show them without decoding the token.
type File struct {
	Token string            `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// Load reads the token slot from disk. Returns ("", nil, nil) if the slot
// does not exist, which is the logged-out state, not an error.
func Load(path string) (string, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil, nil
	}

	if err != nil {
		return "", nil, fmt.Errorf("tokenstore: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return "", nil, fmt.Errorf("tokenstore: decoding %s: %w", path, err)
	}

	if tf.Token == "" {
		return "", nil, fmt.Errorf("tokenstore: %s missing token field (re-login required)", path)
	}

	return tf.Token, tf.Meta, nil
}

// Save writes the token slot to disk atomically (write-to-temp + rename)
// with 0600 permissions. Never logs token values.
func Save(path, token string, meta map[string]string) error {
	tf := File{Token: token, Meta: meta}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenstore: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: writing: %w", err)
	}

	// Flush to stable storage before rename so a power loss between close and
	// rename cannot leave an empty or partial token file at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenstore: renaming: %w", err)
	}

	success = true

	return nil
}

// Clear removes the token slot. Returns nil if the slot does not exist
// (already logged out).
func Clear(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

// MergeMeta reads the current slot, merges new metadata keys (new keys
// overwrite existing), and saves. Returns an error if the slot is empty.
func MergeMeta(path string, meta map[string]string) error {
	token, existing, err := Load(path)
	if err != nil {
		return fmt.Errorf("reading token for metadata update: %w", err)
	}

	if token == "" {
		return fmt.Errorf("no token at %s", path)
	}

	if existing == nil {
		existing = make(map[string]string, len(meta))
	}

	maps.Copy(existing, meta)

	return Save(path, token, existing)
}

// Store is the process's view of the token slot. All access goes through the
// mutex so no caller ever observes a half-updated token while the session
// guard swaps it during a refresh.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a Store backed by the slot at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the slot's on-disk location.
func (s *Store) Path() string {
	return s.path
}

// Token returns the current token, or "" when logged out. Read errors
// (corrupt slot) also yield ""; the caller re-authenticates.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, _, err := Load(s.path)
	if err != nil {
		return ""
	}

	return token
}

// Meta returns the cached metadata for the current token, or nil.
func (s *Store) Meta() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, meta, err := Load(s.path)
	if err != nil {
		return nil
	}

	return meta
}

// Set replaces the stored token and metadata.
func (s *Store) Set(token string, meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Save(s.path, token, meta)
}

// Clear empties the slot. Idempotent.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Clear(s.path)
}
