/*
Package cache provides named key/value caches over interchangeable storage backends.

A Manager owns the physical stores and hands out Instances. Every instance has
its own capacity, default TTL and eviction strategy, and exposes the same API
whichever backend it was bound to.

# Architecture

	┌─────────────────────────────────────────────┐
	│               Application                   │
	│   Set / Get / Has / Delete / Clear / Size   │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│                 Manager                     │  ← This Package
	│   CreateCache, storage negotiation,         │
	│   ClearAll, InvalidatePattern               │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│          Instance (per cache name)          │
	│   TTL check, eviction, access metadata      │
	└─────────────────────────────────────────────┘
	                      │
	┌──────────────┬──────────────┬───────────────┐
	│    memory    │  persisted   │    durable    │
	│  (process)   │ kvstore.Store│ blockstore    │
	│              │ memory/file/ │ memory/S3/    │
	│              │ redis        │ postgres      │
	└──────────────┴──────────────┴───────────────┘

# Storage Negotiation

Storage is chosen once, when the cache is created:

  - persisted needs a key/value store that answers kvstore.Probe
  - durable needs a block store opener
  - anything else, or an unsatisfied request, gets a memory backend

A fallback is logged at INFO and is otherwise invisible; Storage reports the
backend that was actually chosen.

# Eviction

When a new key is added to a cache holding MaxSize entries, victims are
removed until there is room. Overwriting an existing key never evicts.

  - lru: oldest LastAccessed
  - lfu: lowest AccessCount
  - fifo: oldest Timestamp

Ties go to the entry listed first by the backend, which is insertion order
for memory and persisted stores and timestamp order for durable stores.

# Errors

Misses are never errors. Persisted stores absorb their failures (quota,
serialization, I/O) and report them to the manager's error handler; the
failed operation behaves as a miss or a no-op. Durable store failures are
returned to the caller of that one operation.

# Usage

	m := cache.NewManager(
		cache.WithKVStore(kvstore.NewMemoryStore(5 << 20)),
		cache.WithKeyPrefix("app_"),
	)
	defer m.Close()

	users, err := m.CreateCache(ctx, "users", types.CacheConfig{
		TTL:      10 * time.Minute,
		MaxSize:  500,
		Strategy: types.StrategyLRU,
		Storage:  types.StoragePersisted,
	})
	if err != nil {
		return err
	}

	if err := users.Set(ctx, "42", user); err != nil {
		return err
	}

	var u User
	found, err := users.Get(ctx, "42", &u)

Memoizing a function:

	lookup := cache.Memoize(users, "lookup", fetchUser,
		cache.WithRecorder[string](collector))
	u, err := lookup(ctx, "42")

# Thread Safety

Instances serialize their own operations with a mutex. Store handles are
shared between instances and must be safe for concurrent use.
*/
package cache
