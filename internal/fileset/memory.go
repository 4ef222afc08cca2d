package fileset

import (
	"context"
	"sync"
)

// MemoryStore keeps collections in process memory. Used by tests and the
// memory storage backend.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contexts: make(map[string]map[string]string)}
}

func (s *MemoryStore) Put(ctx context.Context, contextID, hash, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.contexts[contextID]
	if !ok {
		records = make(map[string]string)
		s.contexts[contextID] = records
	}
	records[hash] = payload
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, contextID, hash string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.contexts[contextID][hash]
	if !ok {
		return "", ErrNotFound
	}
	return payload, nil
}

func (s *MemoryStore) List(ctx context.Context, contextID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.contexts[contextID]
	out := make(map[string]string, len(records))
	for hash, payload := range records {
		out[hash] = payload
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, contextID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[contextID][hash]; !ok {
		return ErrNotFound
	}
	delete(s.contexts[contextID], hash)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
