// Package backend implements the storage adapters behind a cache instance.
//
// Every adapter satisfies types.Backend and stores entries verbatim; TTL and
// eviction decisions belong to the cache instance. The adapters differ in
// where entries live and in how failures are reported:
//
//   - Memory keeps entries in-process and never fails.
//   - Persisted writes encoded entries to a kvstore.Store and absorbs every
//     failure through an ErrorHandler, degrading to misses and no-ops.
//   - Durable writes encoded entries to a blockstore.Collection, opened on
//     first use, and returns store failures to the caller.
package backend

import (
	"container/list"
	"context"
	"sync"

	"github.com/objectfs/cachemgr/pkg/types"
)

// Memory is an in-process backend. Entries are cloned on the way in and
// out, so callers never share an entry with the store.
type Memory struct {
	mu    sync.RWMutex
	items map[string]*list.Element
	order *list.List
}

type memoryItem struct {
	key   string
	entry *types.Entry
}

// NewMemory creates an empty memory backend
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

func (m *Memory) Write(_ context.Context, key string, entry *types.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		el.Value.(*memoryItem).entry = entry.Clone()
		return nil
	}
	m.items[key] = m.order.PushBack(&memoryItem{key: key, entry: entry.Clone()})
	return nil
}

func (m *Memory) Read(_ context.Context, key string) (*types.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	el, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	return el.Value.(*memoryItem).entry.Clone(), true, nil
}

func (m *Memory) Remove(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return false, nil
	}
	m.order.Remove(el)
	delete(m.items, key)
	return true, nil
}

func (m *Memory) RemoveAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*list.Element)
	m.order.Init()
	return nil
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

// Entries lists entries in insertion order
func (m *Memory) Entries(_ context.Context) ([]types.KeyedEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]types.KeyedEntry, 0, len(m.items))
	for el := m.order.Front(); el != nil; el = el.Next() {
		item := el.Value.(*memoryItem)
		entries = append(entries, types.KeyedEntry{Key: item.key, Entry: item.entry.Clone()})
	}
	return entries, nil
}

func (m *Memory) Kind() types.StorageKind {
	return types.StorageMemory
}
