package kvstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store. It is mainly useful for tests and for
// sharing a persisted namespace between caches inside one process.
type MemoryStore struct {
	mu    sync.RWMutex
	data  *orderedMap
	quota int64
}

// NewMemoryStore creates a memory store. A positive quota limits the total
// bytes of keys and values; writes beyond it fail with ErrQuotaExceeded.
func NewMemoryStore(quota int64) *MemoryStore {
	return &MemoryStore{data: newOrderedMap(), quota: quota}
}

func (s *MemoryStore) GetItem(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data.get(key)
	return v, ok, nil
}

func (s *MemoryStore) SetItem(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quota > 0 && s.data.sizeAfterSet(key, value) > s.quota {
		return fmt.Errorf("%w: writing %q would exceed %d bytes", ErrQuotaExceeded, key, s.quota)
	}
	s.data.set(key, value)
	return nil
}

func (s *MemoryStore) RemoveItem(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.remove(key)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.keys(), nil
}

// Len returns the number of stored keys
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.len()
}

func (s *MemoryStore) Close() error { return nil }
