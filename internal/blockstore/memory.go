package blockstore

import (
	"context"
	"sync"
)

// MemoryOpener opens an in-process collection. Every Open returns the same
// collection, so data survives across adapters but not across processes.
type MemoryOpener struct {
	mu         sync.Mutex
	collection *memoryCollection
	closed     bool
}

// NewMemoryOpener creates a memory opener
func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{}
}

func (o *MemoryOpener) Open(_ context.Context) (Collection, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if o.collection == nil {
		o.collection = &memoryCollection{namespaces: make(map[string]*memoryNamespace)}
	}
	return o.collection, nil
}

func (o *MemoryOpener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

type memoryNamespace struct {
	order   []string
	records map[string][]byte
}

type memoryCollection struct {
	mu         sync.RWMutex
	namespaces map[string]*memoryNamespace
}

func (c *memoryCollection) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ns, ok := c.namespaces[namespace]
	if !ok {
		return nil, false, nil
	}
	payload, ok := ns.records[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), payload...), true, nil
}

func (c *memoryCollection) Put(_ context.Context, namespace, key string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.namespaces[namespace]
	if !ok {
		ns = &memoryNamespace{records: make(map[string][]byte)}
		c.namespaces[namespace] = ns
	}
	if _, exists := ns.records[key]; !exists {
		ns.order = append(ns.order, key)
	}
	ns.records[key] = append([]byte(nil), payload...)
	return nil
}

func (c *memoryCollection) Delete(_ context.Context, namespace, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.namespaces[namespace]
	if !ok {
		return false, nil
	}
	if _, exists := ns.records[key]; !exists {
		return false, nil
	}
	delete(ns.records, key)
	for i, k := range ns.order {
		if k == key {
			ns.order = append(ns.order[:i], ns.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (c *memoryCollection) DeleteAll(_ context.Context, namespace string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.namespaces, namespace)
	return nil
}

func (c *memoryCollection) Count(_ context.Context, namespace string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ns, ok := c.namespaces[namespace]; ok {
		return len(ns.records), nil
	}
	return 0, nil
}

func (c *memoryCollection) List(_ context.Context, namespace string) ([]Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ns, ok := c.namespaces[namespace]
	if !ok {
		return nil, nil
	}
	records := make([]Record, 0, len(ns.order))
	for _, key := range ns.order {
		records = append(records, Record{Key: key, Payload: append([]byte(nil), ns.records[key]...)})
	}
	return records, nil
}
