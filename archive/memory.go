package archive

import (
	"context"
	"sync"

	"github.com/glimte/mmate-relay/contracts"
)

// MemoryStore keeps records in process memory. Used in tests and as a
// fallback when no other backend is configured for tooling.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]contracts.Envelope
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]contracts.Envelope),
	}
}

// Push implements Store
func (s *MemoryStore) Push(ctx context.Context, id string, env contracts.Envelope) error {
	if id == "" {
		return ErrEmptyID
	}

	body := make([]byte, len(env.Body))
	copy(body, env.Body)
	env.Body = body

	s.mu.Lock()
	s.records[id] = env
	s.mu.Unlock()
	return nil
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, id string) (*contracts.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &env, nil
}

// IDs returns the ids of every stored record
func (s *MemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}
