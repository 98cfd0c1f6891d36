package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/objectfs/cachemgr/internal/eviction"
	cerrors "github.com/objectfs/cachemgr/pkg/errors"
	"github.com/objectfs/cachemgr/pkg/types"
)

// Observer receives cache events for metrics. Implementations must be safe
// for concurrent use.
type Observer interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
	RecordEviction(cache string)
	RecordExpiration(cache string)
	RecordError(operation string, err error)
}

type nopObserver struct{}

func (nopObserver) RecordCacheHit(string)     {}
func (nopObserver) RecordCacheMiss(string)    {}
func (nopObserver) RecordEviction(string)     {}
func (nopObserver) RecordExpiration(string)   {}
func (nopObserver) RecordError(string, error) {}

// Clock returns the current time
type Clock func() time.Time

// SetOption customizes a single Set call
type SetOption func(*setOptions)

type setOptions struct {
	ttl    time.Duration
	hasTTL bool
}

// WithTTL overrides the cache's default TTL for one entry. Zero disables
// expiration for that entry.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
		o.hasTTL = true
	}
}

// Instance is a named cache bound to one backend and one eviction
// strategy. It is safe for concurrent use.
type Instance struct {
	mu       sync.Mutex
	name     string
	config   types.CacheConfig
	backend  types.Backend
	clock    Clock
	logger   *slog.Logger
	observer Observer
	handler  types.ErrorHandler

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64
	absorbed    atomic.Uint64
}

func newInstance(name string, cfg types.CacheConfig, b types.Backend, clock Clock, logger *slog.Logger, observer Observer, handler types.ErrorHandler) *Instance {
	return &Instance{
		name:     name,
		config:   cfg,
		backend:  b,
		clock:    clock,
		logger:   logger,
		observer: observer,
		handler:  handler,
	}
}

// Name returns the name the instance is registered under
func (c *Instance) Name() string { return c.name }

// Config returns the effective configuration
func (c *Instance) Config() types.CacheConfig { return c.config }

// Storage returns the storage kind chosen when the instance was created
func (c *Instance) Storage() types.StorageKind { return c.backend.Kind() }

// Set stores value under key. The value is encoded as JSON; a value that
// cannot be encoded is reported to the error handler and not stored.
// Adding a new key to a full cache evicts entries first.
func (c *Instance) Set(ctx context.Context, key string, value any, opts ...SetOption) error {
	data, err := json.Marshal(value)
	if err != nil {
		c.absorb("set", key, cerrors.Wrap(cerrors.ErrCodeSerialization, err, "value is not JSON-encodable"))
		return nil
	}
	return c.SetJSON(ctx, key, data, opts...)
}

// SetJSON stores an already encoded JSON value under key
func (c *Instance) SetJSON(ctx context.Context, key string, data json.RawMessage, opts ...SetOption) error {
	o := setOptions{ttl: c.config.TTL}
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists, err := c.backend.Read(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		if err := c.makeRoom(ctx); err != nil {
			return err
		}
	}

	now := c.clock()
	return c.backend.Write(ctx, key, types.NewEntry(data, now, o.ttl))
}

// makeRoom evicts until the cache is below MaxSize. Must hold c.mu.
func (c *Instance) makeRoom(ctx context.Context) error {
	if c.config.MaxSize <= 0 {
		return nil
	}

	count, err := c.backend.Count(ctx)
	if err != nil {
		return err
	}

	for count >= c.config.MaxSize {
		entries, err := c.backend.Entries(ctx)
		if err != nil {
			return err
		}
		victim, err := eviction.SelectVictim(entries, c.config.Strategy)
		if errors.Is(err, eviction.ErrNoCandidates) {
			return nil
		}
		if err != nil {
			return cerrors.Wrap(cerrors.ErrCodeInternalError, err, "victim selection failed").
				WithComponent("cache").WithOperation("evict")
		}

		removed, err := c.backend.Remove(ctx, victim)
		if err != nil {
			return err
		}
		if !removed {
			// Adapter absorbed the failure; writing anyway keeps Set non-failing
			return nil
		}

		c.evictions.Add(1)
		c.observer.RecordEviction(c.name)
		c.logger.Debug("Evicted entry", "key", victim, "strategy", c.config.Strategy)
		count--
	}
	return nil
}

// Get decodes the value stored under key into dst. It reports false on a
// miss or when the entry has expired.
func (c *Instance) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, found, err := c.GetBytes(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return true, cerrors.Wrap(cerrors.ErrCodeSerialization, err, "cached value does not match destination type").
			WithComponent("cache").
			WithOperation("get").
			WithKey(key)
	}
	return true, nil
}

// GetBytes returns the JSON encoding of the value stored under key. A hit
// records the access on the entry.
func (c *Instance) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found, err := c.backend.Read(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		c.miss()
		return nil, false, nil
	}

	now := c.clock()
	if entry.Expired(now) {
		if _, err := c.backend.Remove(ctx, key); err != nil {
			return nil, false, err
		}
		c.expirations.Add(1)
		c.observer.RecordExpiration(c.name)
		c.miss()
		return nil, false, nil
	}

	entry.Touch(now)
	if err := c.backend.Write(ctx, key, entry); err != nil {
		return nil, false, err
	}

	c.hits.Add(1)
	c.observer.RecordCacheHit(c.name)
	return entry.Data, true, nil
}

// Has reports whether key holds a live entry. It behaves like Get,
// including purging an expired entry and recording the access.
func (c *Instance) Has(ctx context.Context, key string) (bool, error) {
	_, found, err := c.GetBytes(ctx, key)
	return found, err
}

// Delete removes key and reports whether it was present
func (c *Instance) Delete(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Remove(ctx, key)
}

// Clear removes every entry of this cache
func (c *Instance) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.RemoveAll(ctx)
}

// Size returns the number of stored entries, including expired entries
// that have not been purged yet
func (c *Instance) Size(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Count(ctx)
}

// Stats returns the instance's counters
func (c *Instance) Stats() types.CacheStats {
	stats := types.CacheStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Absorbed:    c.absorbed.Load(),
		Capacity:    c.config.MaxSize,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *Instance) miss() {
	c.misses.Add(1)
	c.observer.RecordCacheMiss(c.name)
}

// HandleError counts and forwards failures absorbed by the backend
func (c *Instance) HandleError(operation, key string, err error) {
	c.absorbed.Add(1)
	c.handler.HandleError(operation, key, err)
}

func (c *Instance) absorb(operation, key string, err *cerrors.CacheError) {
	err.Absorbed = true
	c.HandleError(operation, key, err.WithComponent("cache").WithOperation(operation).WithKey(key))
}
