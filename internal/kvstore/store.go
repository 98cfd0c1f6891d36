// Package kvstore provides string key/value stores used by the persisted
// cache backend. A store is one physical key space that several named caches
// share by prefixing their keys.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrQuotaExceeded is returned when a write would exceed the store's capacity
var ErrQuotaExceeded = errors.New("kvstore: quota exceeded")

// Store is a string key/value store that remembers insertion order.
type Store interface {
	// GetItem returns the value stored at key, or false if there is none.
	GetItem(ctx context.Context, key string) (string, bool, error)
	// SetItem stores value at key. Overwriting keeps the key's original position.
	SetItem(ctx context.Context, key, value string) error
	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error
	// Keys lists every key in insertion order.
	Keys(ctx context.Context) ([]string, error)
	// Close releases resources held by the store.
	Close() error
}

// Pinger is implemented by stores that can verify they are reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe reports whether store is usable: non-nil and, if it supports it,
// answering pings.
func Probe(ctx context.Context, store Store) error {
	if store == nil {
		return errors.New("kvstore: no store configured")
	}
	if p, ok := store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// InvalidatePattern removes every key containing pattern and returns how
// many were removed. Only keys visible through store are affected.
func InvalidatePattern(ctx context.Context, store Store, pattern string) (int, error) {
	if pattern == "" {
		return 0, errors.New("kvstore: empty invalidation pattern")
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list keys: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if !strings.Contains(key, pattern) {
			continue
		}
		if err := store.RemoveItem(ctx, key); err != nil {
			return removed, fmt.Errorf("failed to remove %q: %w", key, err)
		}
		removed++
	}
	return removed, nil
}

// KeysWithPrefix lists the keys of store that start with prefix, in insertion order.
func KeysWithPrefix(ctx context.Context, store Store, prefix string) ([]string, error) {
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	return matched, nil
}
