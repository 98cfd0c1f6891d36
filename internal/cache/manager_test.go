package cache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/cachemgr/internal/blockstore"
	"github.com/objectfs/cachemgr/internal/config"
	"github.com/objectfs/cachemgr/internal/kvstore"
	cerrors "github.com/objectfs/cachemgr/pkg/errors"
	"github.com/objectfs/cachemgr/pkg/types"
)

type unreachableStore struct {
	*kvstore.MemoryStore
}

func (unreachableStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

func TestManager_CreateCacheValidates(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  types.CacheConfig
	}{
		{"unknown strategy", types.CacheConfig{Strategy: "random"}},
		{"unknown storage", types.CacheConfig{Storage: "tape"}},
		{"negative size", types.CacheConfig{MaxSize: -1}},
		{"negative ttl", types.CacheConfig{TTL: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CreateCache(ctx, "c", tt.cfg)
			require.Error(t, err)
			assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeInvalidConfig))
		})
	}

	_, err := m.CreateCache(ctx, "", types.CacheConfig{})
	assert.Error(t, err)
	assert.Empty(t, m.Names())
}

func TestManager_AppliesDefaults(t *testing.T) {
	m := NewManager()
	inst, err := m.CreateCache(context.Background(), "c", types.CacheConfig{})
	require.NoError(t, err)

	cfg := inst.Config()
	assert.Equal(t, types.DefaultMaxSize, cfg.MaxSize)
	assert.Equal(t, types.StrategyLRU, cfg.Strategy)
	assert.Equal(t, types.StorageMemory, cfg.Storage)
}

func TestManager_StorageFallback(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))

	tests := []struct {
		name    string
		opts    []Option
		storage types.StorageKind
		want    types.StorageKind
	}{
		{"persisted without store", nil, types.StoragePersisted, types.StorageMemory},
		{"persisted with unreachable store", []Option{WithKVStore(unreachableStore{kvstore.NewMemoryStore(0)})}, types.StoragePersisted, types.StorageMemory},
		{"persisted with store", []Option{WithKVStore(kvstore.NewMemoryStore(0))}, types.StoragePersisted, types.StoragePersisted},
		{"durable without store", nil, types.StorageDurable, types.StorageMemory},
		{"durable with store", []Option{WithBlockStore(blockstore.NewMemoryOpener())}, types.StorageDurable, types.StorageDurable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs.Reset()
			m := NewManager(append(tt.opts, WithLogger(logger))...)
			inst, err := m.CreateCache(context.Background(), "c", types.CacheConfig{Storage: tt.storage})
			require.NoError(t, err)
			assert.Equal(t, tt.want, inst.Storage())
			assert.Equal(t, tt.want, inst.Config().Storage)

			if tt.want != tt.storage {
				assert.Contains(t, logs.String(), "Storage unavailable, using memory")
			}

			// The fallback instance still works
			require.NoError(t, inst.Set(context.Background(), "k", "v"))
			found, err := inst.Has(context.Background(), "k")
			require.NoError(t, err)
			assert.True(t, found)
		})
	}
}

func TestManager_Isolation(t *testing.T) {
	m := NewManager(WithKVStore(kvstore.NewMemoryStore(0)))
	ctx := context.Background()

	for _, kind := range []types.StorageKind{types.StorageMemory, types.StoragePersisted} {
		t.Run(string(kind), func(t *testing.T) {
			one, err := m.CreateCache(ctx, "one", types.CacheConfig{MaxSize: 1, Storage: kind})
			require.NoError(t, err)
			two, err := m.CreateCache(ctx, "two", types.CacheConfig{MaxSize: 1, Storage: kind})
			require.NoError(t, err)

			require.NoError(t, one.Set(ctx, "x", 1))
			require.NoError(t, two.Set(ctx, "x", 2))
			require.NoError(t, one.Set(ctx, "y", 3))

			var v int
			found, err := one.Get(ctx, "x", &v)
			require.NoError(t, err)
			assert.False(t, found)

			found, err = two.Get(ctx, "x", &v)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, 2, v)

			assert.Equal(t, uint64(1), one.Stats().Evictions)
			assert.Zero(t, two.Stats().Evictions)

			require.NoError(t, m.ClearAll(ctx))
		})
	}
}

func TestManager_RejectsOverlappingNamespaces(t *testing.T) {
	store := kvstore.NewMemoryStore(0)
	m := NewManager(WithKVStore(store), WithKeyPrefix("app_"))
	ctx := context.Background()
	persisted := types.CacheConfig{MaxSize: 1, Storage: types.StoragePersisted}

	a, err := m.CreateCache(ctx, "a", persisted)
	require.NoError(t, err)

	// app_a_ is a prefix of app_a_b_
	_, err = m.CreateCache(ctx, "a_b", persisted)
	require.Error(t, err)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeInvalidConfig))
	_, ok := m.GetCache("a_b")
	assert.False(t, ok)

	_, err = m.CreateCache(ctx, "x_y", persisted)
	require.NoError(t, err)
	_, err = m.CreateCache(ctx, "x", persisted)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeInvalidConfig))

	// Re-creating the same name replaces it
	a, err = m.CreateCache(ctx, "a", persisted)
	require.NoError(t, err)

	// A memory cache holds no store keys, so the name is free for it
	ab, err := m.CreateCache(ctx, "a_b", types.CacheConfig{MaxSize: 1})
	require.NoError(t, err)

	require.NoError(t, ab.Set(ctx, "x", 1))
	size, err := a.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	require.NoError(t, a.Set(ctx, "y", 2))
	found, err := ab.Has(ctx, "x")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Zero(t, a.Stats().Evictions)
}

func TestManager_ReplacesRegistration(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	first, err := m.CreateCache(ctx, "c", types.CacheConfig{MaxSize: 1})
	require.NoError(t, err)
	second, err := m.CreateCache(ctx, "c", types.CacheConfig{MaxSize: 2})
	require.NoError(t, err)

	got, ok := m.GetCache("c")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.NotSame(t, first, got)

	_, ok = m.GetCache("missing")
	assert.False(t, ok)
}

func TestManager_Names(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	for _, name := range []string{"sessions", "users", "avatars"} {
		_, err := m.CreateCache(ctx, name, types.CacheConfig{})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"avatars", "sessions", "users"}, m.Names())
}

func TestManager_InvalidatePattern(t *testing.T) {
	store := kvstore.NewMemoryStore(0)
	m := NewManager(WithKVStore(store))
	ctx := context.Background()

	c, err := m.CreateCache(ctx, "cache", types.CacheConfig{Storage: types.StoragePersisted})
	require.NoError(t, err)
	other, err := m.CreateCache(ctx, "other", types.CacheConfig{Storage: types.StoragePersisted})
	require.NoError(t, err)
	mem, err := m.CreateCache(ctx, "memtest", types.CacheConfig{})
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "test_a", 1))
	require.NoError(t, c.Set(ctx, "test_b", 2))
	require.NoError(t, other.Set(ctx, "key", 3))
	require.NoError(t, mem.Set(ctx, "test_c", 4))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cache_test_a", "cache_test_b", "other_key"}, keys)

	removed, err := m.InvalidatePattern(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	found, err := c.Has(ctx, "test_a")
	require.NoError(t, err)
	assert.False(t, found)
	found, err = other.Has(ctx, "key")
	require.NoError(t, err)
	assert.True(t, found)
	found, err = mem.Has(ctx, "test_c")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestManager_InvalidatePatternWithoutStore(t *testing.T) {
	removed, err := NewManager().InvalidatePattern(context.Background(), "test")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestManager_KeyPrefix(t *testing.T) {
	store := kvstore.NewMemoryStore(0)
	m := NewManager(WithKVStore(store), WithKeyPrefix("app_"))
	ctx := context.Background()

	c, err := m.CreateCache(ctx, "users", types.CacheConfig{Storage: types.StoragePersisted})
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "42", "ada"))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app_users_42"}, keys)
}

func TestManager_ClearAllJoinsErrors(t *testing.T) {
	failing := openerFunc(func(context.Context) (blockstore.Collection, error) {
		return nil, assert.AnError
	})
	m := NewManager(WithBlockStore(failing))
	ctx := context.Background()

	ok, err := m.CreateCache(ctx, "ok", types.CacheConfig{})
	require.NoError(t, err)
	require.NoError(t, ok.Set(ctx, "k", 1))
	_, err = m.CreateCache(ctx, "broken", types.CacheConfig{Storage: types.StorageDurable})
	require.NoError(t, err)

	err = m.ClearAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `cache "broken"`)
	assert.ErrorIs(t, err, assert.AnError)

	size, err := ok.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestManager_DefaultHandlerNotifiesObserver(t *testing.T) {
	obs := &countingObserver{}
	m := NewManager(
		WithKVStore(kvstore.NewMemoryStore(1)),
		WithObserver(obs),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	)
	ctx := context.Background()

	c, err := m.CreateCache(ctx, "c", types.CacheConfig{Storage: types.StoragePersisted})
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "k", "too large"))

	assert.Equal(t, 1, obs.errors)
}

func TestNewManagerFromConfig(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Persisted.Driver = config.PersistedFile
	cfg.Persisted.File.Path = filepath.Join(t.TempDir(), "store.json")
	cfg.Persisted.KeyPrefix = "svc_"
	cfg.Durable.Driver = config.DurableMemory
	cfg.Caches = map[string]types.CacheConfig{
		"users":    {Storage: types.StoragePersisted, MaxSize: 5},
		"sessions": {Storage: types.StorageDurable},
		"scratch":  {},
	}

	ctx := context.Background()
	m, err := NewManagerFromConfig(ctx, cfg, nil, nil)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, []string{"scratch", "sessions", "users"}, m.Names())

	users, ok := m.GetCache("users")
	require.True(t, ok)
	assert.Equal(t, types.StoragePersisted, users.Storage())
	assert.Equal(t, 5, users.Config().MaxSize)

	sessions, _ := m.GetCache("sessions")
	assert.Equal(t, types.StorageDurable, sessions.Storage())

	scratch, _ := m.GetCache("scratch")
	assert.Equal(t, types.StorageMemory, scratch.Storage())
	assert.Equal(t, types.DefaultMaxSize, scratch.Config().MaxSize)

	require.NoError(t, users.Set(ctx, "1", "ada"))
	keys, err := kvstore.KeysWithPrefix(ctx, m.KVStore(), "svc_users_")
	require.NoError(t, err)
	assert.Equal(t, []string{"svc_users_1"}, keys)
}

func TestNewManagerFromConfig_Invalid(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Persisted.Driver = "etcd"

	_, err := NewManagerFromConfig(context.Background(), cfg, nil, nil)
	assert.Error(t, err)
}

func TestManager_Check(t *testing.T) {
	ctx := context.Background()

	m := NewManager(WithKVStore(kvstore.NewMemoryStore(0)), WithBlockStore(blockstore.NewMemoryOpener()))
	assert.Equal(t, []string{ComponentKVStore, ComponentBlockStore}, m.Components())
	assert.NoError(t, m.Check(ctx, ComponentKVStore))
	assert.NoError(t, m.Check(ctx, ComponentBlockStore))
	assert.Error(t, m.Check(ctx, "tape"))

	down := NewManager(
		WithKVStore(unreachableStore{kvstore.NewMemoryStore(0)}),
		WithBlockStore(openerFunc(func(context.Context) (blockstore.Collection, error) {
			return nil, assert.AnError
		})),
	)
	assert.True(t, cerrors.HasCode(down.Check(ctx, ComponentKVStore), cerrors.ErrCodeStorageUnavailable))
	assert.True(t, cerrors.HasCode(down.Check(ctx, ComponentBlockStore), cerrors.ErrCodeStorageUnavailable))

	assert.Empty(t, NewManager().Components())
	assert.True(t, cerrors.HasCode(NewManager().Check(ctx, ComponentBlockStore), cerrors.ErrCodeCapabilityUnavailable))
}

func TestManager_Sizes(t *testing.T) {
	ctx := context.Background()
	m := NewManager(WithKVStore(kvstore.NewMemoryStore(0)))

	a, err := m.CreateCache(ctx, "a", types.CacheConfig{})
	require.NoError(t, err)
	b, err := m.CreateCache(ctx, "b", types.CacheConfig{Storage: types.StoragePersisted})
	require.NoError(t, err)

	require.NoError(t, a.Set(ctx, "k", 1))
	require.NoError(t, b.Set(ctx, "k", 1))
	require.NoError(t, b.Set(ctx, "l", 2))

	assert.Equal(t, map[string]int{"a": 1, "b": 2}, m.Sizes(ctx))
}

type countingObserver struct {
	hits, misses, evictions, expirations, errors int
}

func (o *countingObserver) RecordCacheHit(string)     { o.hits++ }
func (o *countingObserver) RecordCacheMiss(string)    { o.misses++ }
func (o *countingObserver) RecordEviction(string)     { o.evictions++ }
func (o *countingObserver) RecordExpiration(string)   { o.expirations++ }
func (o *countingObserver) RecordError(string, error) { o.errors++ }
