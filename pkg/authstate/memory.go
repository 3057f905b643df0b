package authstate

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store using an in-memory map. Credentials do not
// survive a process restart; intended for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates a new in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
	}
}

// Load retrieves the credential blob for a session. Returns nil, nil if absent.
func (s *MemoryStore) Load(_ context.Context, sessionID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[sessionID]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// Save persists the credential blob for a session, replacing any previous value.
func (s *MemoryStore) Save(_ context.Context, sessionID string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob := make([]byte, len(state))
	copy(blob, state)
	s.blobs[sessionID] = blob
	return nil
}

// Delete removes all persisted material for a session.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, sessionID)
	return nil
}

// ListSessionIDs returns the IDs of all sessions with persisted credentials.
func (s *MemoryStore) ListSessionIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.blobs))
	for id := range s.blobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close releases backend resources.
func (*MemoryStore) Close() error {
	return nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
