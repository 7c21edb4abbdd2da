package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// storeVersion is the on-disk format version. Newer engine versions may add
// fields but must keep reading version 1 envelopes.
const storeVersion = 1

// envelope is the versioned on-disk shape of the store.
type envelope struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// FileStore is the JSON-file-backed cache store. All access is serialized
// behind one mutex; every Put flushes to disk so that results recorded before
// a cancellation survive it.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
}

// Open loads the store at path. A missing file yields an empty store. An
// unreadable or malformed file also yields an empty, usable store together
// with a *CorruptionError the caller can surface as a warning; it never
// prevents the run.
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, entries: make(map[string]Entry)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, &CorruptionError{Path: path, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return s, &CorruptionError{Path: path, Err: err}
	}
	if env.Version != storeVersion {
		return s, &CorruptionError{Path: path, Err: fmt.Errorf("unsupported store version %d", env.Version)}
	}
	if env.Entries != nil {
		s.entries = env.Entries
	}
	return s, nil
}

// Get implements Store.
func (s *FileStore) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// Put implements Store, persisting the whole table atomically.
func (s *FileStore) Put(id string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = e
	return s.flushLocked()
}

// Len reports the number of entries, for logging.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// flushLocked writes the envelope via a temp file and rename so a crash never
// leaves a half-written store behind. Callers hold s.mu.
func (s *FileStore) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	raw, err := json.MarshalIndent(envelope{Version: storeVersion, Entries: s.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".cache-*")
	if err != nil {
		return fmt.Errorf("write cache store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write cache store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write cache store: %w", err)
	}
	return nil
}
