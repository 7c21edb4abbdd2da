package cache

import "sync"

// MemoryStore is the ephemeral Store used in tests and by callers that do not
// want persistence. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Get implements Store.
func (s *MemoryStore) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// Put implements Store.
func (s *MemoryStore) Put(id string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = e
	return nil
}
