// Package cache is the persistent fingerprint store deciding skip-vs-rebuild
// per candidate. Entries are keyed by stable candidate identity (workspace
// manifest + target name) and survive across runs; the store is never the
// reason a run fails.
package cache

import (
	"fmt"
	"os"

	"github.com/vk/elfmagic/internal/catalog"
)

// Status records the outcome of the last build attempt for an entry.
type Status string

const (
	// StatusSuccess marks an entry whose last build produced an artifact.
	StatusSuccess Status = "success"
	// StatusFailure marks an entry whose last build failed.
	StatusFailure Status = "failure"
)

// Entry is one persisted cache record.
type Entry struct {
	Fingerprint  string `json:"fingerprint"`
	ArtifactPath string `json:"artifact_path"`
	LastStatus   Status `json:"last_status"`
}

// Store is the cache backend. Implementations serialize access internally;
// the orchestrator's workers call Put concurrently.
type Store interface {
	Get(id string) (Entry, bool)
	Put(id string, e Entry) error
}

// CorruptionError reports an unreadable or malformed cache store. It is
// non-fatal: the store degrades to empty, forcing a full rebuild.
type CorruptionError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *CorruptionError) Error() string {
	return fmt.Sprintf("cache store %s is unreadable, rebuilding from scratch: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// Hit reports whether a candidate can skip its build: an entry must exist,
// its fingerprint must equal the fresh one, its last build must have
// succeeded, and its recorded artifact must still resolve to existing bytes.
func Hit(store Store, c catalog.Candidate, fingerprint string) (Entry, bool) {
	entry, ok := store.Get(c.ID())
	if !ok {
		return Entry{}, false
	}
	if entry.Fingerprint != fingerprint || entry.LastStatus != StatusSuccess {
		return Entry{}, false
	}
	info, err := os.Stat(entry.ArtifactPath)
	if err != nil || info.IsDir() {
		return Entry{}, false
	}
	return entry, true
}
