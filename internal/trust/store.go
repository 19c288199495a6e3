package trust

import (
	"context"
	"sync"
)

// Store persists trust state. The model loads everything once and writes
// through on every update.
type Store interface {
	// Load returns every tracked pattern's state.
	Load(ctx context.Context) (map[string]State, error)

	// Save persists the state of one pattern.
	Save(ctx context.Context, patternID string, state State) error

	// Close releases resources held by the store.
	Close() error
}

// MemoryStore is an in-process Store for tests and ephemeral engines.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

// Load returns a copy of all states.
func (s *MemoryStore) Load(ctx context.Context) (map[string]State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]State, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out, nil
}

// Save stores the state for a pattern.
func (s *MemoryStore) Save(ctx context.Context, patternID string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[patternID] = state
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
