package upload

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrCorruptRecord is returned when a session record cannot be parsed as
// JSON. The corrupt file is deleted automatically.
var ErrCorruptRecord = errors.New("upload: corrupt session record")

// sessionSubdir is the subdirectory within the data dir for session records.
const sessionSubdir = "upload-sessions"

const (
	recordFilePerms = 0o600
	recordDirPerms  = 0o700
)

// StaleRecordAge is the default TTL for session records. Server sessions are
// garbage-collected far sooner; a week covers any clock weirdness.
const StaleRecordAge = 7 * 24 * time.Hour

// cleanThrottle prevents excessive directory scans. CleanStale is a no-op if
// called again within this interval.
const cleanThrottle = 1 * time.Hour

// SessionRecord tracks a server-side upload session started by this machine,
// so an interrupted run can cancel it later.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	LocalPath string    `json:"local_path"`
	FileType  string    `json:"file_type"`
	FileSize  int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore persists session records as JSON files keyed by the session
// ID, in a dedicated directory under the data dir. Safe for concurrent use.
type SessionStore struct {
	dir    string
	logger *slog.Logger

	cleanMu   sync.Mutex
	lastClean time.Time
}

// NewSessionStore creates a SessionStore rooted at dataDir/upload-sessions.
func NewSessionStore(dataDir string, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &SessionStore{
		dir:    filepath.Join(dataDir, sessionSubdir),
		logger: logger,
	}
}

// Load reads the record for a session ID. Returns nil, nil when absent.
func (s *SessionStore) Load(sessionID string) (*SessionRecord, error) {
	path := s.filePath(sessionID)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading session record: %w", err)
	}

	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// Corrupt file, delete and treat as absent.
		s.logger.Warn("corrupt session record, deleting",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove corrupt session record",
				slog.String("path", path),
				slog.String("error", rmErr.Error()),
			)
		}

		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}

	return &rec, nil
}

// Save persists a session record, creating the directory if needed.
// Triggers lazy stale-record cleanup, throttled to once per hour.
func (s *SessionStore) Save(rec *SessionRecord) error {
	if rec.SessionID == "" {
		return errors.New("upload: session record has no session id")
	}

	if err := os.MkdirAll(s.dir, recordDirPerms); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}

	path := s.filePath(rec.SessionID)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, recordFilePerms); err != nil {
		return fmt.Errorf("writing session temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // best-effort cleanup
		return fmt.Errorf("renaming session temp file: %w", err)
	}

	s.cleanMu.Lock()
	due := time.Since(s.lastClean) >= cleanThrottle
	s.cleanMu.Unlock()

	if due {
		go s.cleanIfDue()
	}

	return nil
}

// Delete removes the record for a session ID. No error if it doesn't exist.
func (s *SessionStore) Delete(sessionID string) error {
	if err := os.Remove(s.filePath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting session record: %w", err)
	}

	return nil
}

// List returns every readable session record, oldest first. Corrupt files
// are skipped and deleted.
func (s *SessionStore) List() ([]*SessionRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading session dir: %w", err)
	}

	var records []*SessionRecord

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}

		data, readErr := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if readErr != nil {
			continue
		}

		var rec SessionRecord
		if umErr := json.Unmarshal(data, &rec); umErr != nil {
			s.logger.Warn("skipping corrupt session record",
				slog.String("file", e.Name()),
			)

			_ = os.Remove(filepath.Join(s.dir, e.Name())) //nolint:errcheck // best-effort cleanup

			continue
		}

		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

// CleanStale removes record files older than maxAge. Returns the number of
// files deleted. Safe to call concurrently.
func (s *SessionStore) CleanStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("reading session dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.dir, e.Name())
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to clean stale session record",
					slog.String("file", e.Name()),
					slog.String("error", err.Error()),
				)

				continue
			}

			s.logger.Info("deleted stale session record",
				slog.String("file", e.Name()),
				slog.Duration("age", time.Since(info.ModTime())),
			)

			deleted++
		}
	}

	return deleted, nil
}

// cleanIfDue runs CleanStale if at least cleanThrottle has elapsed since the
// last run. Runs in a goroutine, so panics are contained here.
func (s *SessionStore) cleanIfDue() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in session record cleanup", slog.Any("panic", r))
		}
	}()

	s.cleanMu.Lock()
	if time.Since(s.lastClean) < cleanThrottle {
		s.cleanMu.Unlock()
		return
	}

	s.lastClean = time.Now()
	s.cleanMu.Unlock()

	n, err := s.CleanStale(StaleRecordAge)
	if err != nil {
		s.logger.Warn("stale record cleanup failed", slog.String("error", err.Error()))
		return
	}

	if n > 0 {
		s.logger.Info("cleaned stale session records", slog.Int("count", n))
	}
}

// recordKey hashes the session ID into a safe filename. The ID comes from
// the server and is never trusted as a path component.
func recordKey(sessionID string) string {
	h := sha256.Sum256([]byte(sessionID))
	return fmt.Sprintf("%x.json", h)
}

func (s *SessionStore) filePath(sessionID string) string {
	return filepath.Join(s.dir, recordKey(sessionID))
}
