package fileset

import (
	"context"
	"sync"
	"time"
)

// cachedStore memoizes List results per context for a TTL, invalidating
// on any write to that context. Collections are read on every request
// that touches files but change rarely.
type cachedStore struct {
	inner Store
	ttl   time.Duration

	mu    sync.Mutex
	lists map[string]cachedList
}

type cachedList struct {
	records map[string]string
	fetched time.Time
}

// newCachedStore wraps inner with a List cache. A non-positive TTL
// returns inner unwrapped.
func newCachedStore(inner Store, ttl time.Duration) Store {
	if ttl <= 0 {
		return inner
	}
	return &cachedStore{inner: inner, ttl: ttl, lists: make(map[string]cachedList)}
}

func (s *cachedStore) Put(ctx context.Context, contextID, hash, payload string) error {
	if err := s.inner.Put(ctx, contextID, hash, payload); err != nil {
		return err
	}
	s.invalidate(contextID)
	return nil
}

func (s *cachedStore) Get(ctx context.Context, contextID, hash string) (string, error) {
	return s.inner.Get(ctx, contextID, hash)
}

func (s *cachedStore) List(ctx context.Context, contextID string) (map[string]string, error) {
	s.mu.Lock()
	cached, ok := s.lists[contextID]
	s.mu.Unlock()
	if ok && time.Since(cached.fetched) < s.ttl {
		return copyRecords(cached.records), nil
	}

	records, err := s.inner.List(ctx, contextID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lists[contextID] = cachedList{records: copyRecords(records), fetched: time.Now()}
	s.mu.Unlock()
	return records, nil
}

func (s *cachedStore) Delete(ctx context.Context, contextID, hash string) error {
	if err := s.inner.Delete(ctx, contextID, hash); err != nil {
		return err
	}
	s.invalidate(contextID)
	return nil
}

func (s *cachedStore) Close() error { return s.inner.Close() }

func (s *cachedStore) invalidate(contextID string) {
	s.mu.Lock()
	delete(s.lists, contextID)
	s.mu.Unlock()
}

func copyRecords(records map[string]string) map[string]string {
	out := make(map[string]string, len(records))
	for hash, payload := range records {
		out[hash] = payload
	}
	return out
}
