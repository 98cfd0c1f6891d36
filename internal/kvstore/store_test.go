package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Basic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	require.NoError(t, store.SetItem(ctx, "a", "1"))
	require.NoError(t, store.SetItem(ctx, "b", "2"))
	require.NoError(t, store.SetItem(ctx, "a", "3"))

	v, ok, err := store.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	_, ok, err = store.GetItem(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys, "overwrite keeps original position")

	require.NoError(t, store.RemoveItem(ctx, "a"))
	require.NoError(t, store.RemoveItem(ctx, "a"))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_Quota(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)

	require.NoError(t, store.SetItem(ctx, "k1", "12345"))

	err := store.SetItem(ctx, "k2", "123456")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuotaExceeded))

	// Shrinking an existing value is always allowed
	require.NoError(t, store.SetItem(ctx, "k1", "1"))
	require.NoError(t, store.SetItem(ctx, "k2", "1234"))
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.json")

	store, err := NewFileStore(&FileStoreConfig{Path: path})
	require.NoError(t, err)

	require.NoError(t, store.SetItem(ctx, "first", `{"v":1}`))
	require.NoError(t, store.SetItem(ctx, "second", `{"v":2}`))
	require.NoError(t, store.RemoveItem(ctx, "first"))
	require.NoError(t, store.SetItem(ctx, "third", `{"v":3}`))
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Close())

	_, _, err = store.GetItem(ctx, "second")
	assert.Error(t, err, "closed store rejects reads")

	reopened, err := NewFileStore(&FileStoreConfig{Path: path})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	keys, err := reopened.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "third"}, keys)

	v, ok, err := reopened.GetItem(ctx, "third")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"v":3}`, v)
}

func TestFileStore_Quota(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	store, err := NewFileStore(&FileStoreConfig{Path: path, QuotaBytes: 8})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.SetItem(ctx, "a", "1234"))
	err = store.SetItem(ctx, "b", "12345678")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	_, ok, err := store.GetItem(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_RejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

	_, err := NewFileStore(&FileStoreConfig{Path: path})
	assert.Error(t, err)

	_, err = NewFileStore(&FileStoreConfig{})
	assert.Error(t, err)
}

func TestInvalidatePattern(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	require.NoError(t, store.SetItem(ctx, "cache_test_a", "1"))
	require.NoError(t, store.SetItem(ctx, "cache_test_b", "2"))
	require.NoError(t, store.SetItem(ctx, "other_key", "3"))

	removed, err := InvalidatePattern(ctx, store, "test")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other_key"}, keys)

	_, err = InvalidatePattern(ctx, store, "")
	assert.Error(t, err)
}

func TestKeysWithPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	for _, k := range []string{"p_users_1", "p_posts_1", "p_users_2"} {
		require.NoError(t, store.SetItem(ctx, k, "x"))
	}

	keys, err := KeysWithPrefix(ctx, store, "p_users_")
	require.NoError(t, err)
	assert.Equal(t, []string{"p_users_1", "p_users_2"}, keys)
}

type failingPinger struct {
	*MemoryStore
}

func (failingPinger) Ping(context.Context) error { return errors.New("unreachable") }

func TestProbe(t *testing.T) {
	ctx := context.Background()

	assert.Error(t, Probe(ctx, nil))
	assert.NoError(t, Probe(ctx, NewMemoryStore(0)))
	assert.Error(t, Probe(ctx, failingPinger{NewMemoryStore(0)}))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CACHEMGR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CACHEMGR_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	store := NewRedisStore(RedisStoreConfig{Addr: addr, KeyPrefix: "cachemgr:test:" + t.Name() + ":"})
	defer func() { _ = store.Close() }()
	require.NoError(t, store.Ping(ctx))

	t.Cleanup(func() {
		keys, _ := store.Keys(context.Background())
		for _, k := range keys {
			_ = store.RemoveItem(context.Background(), k)
		}
	})

	require.NoError(t, store.SetItem(ctx, "cache_test_a", "1"))
	require.NoError(t, store.SetItem(ctx, "cache_test_b", "2"))
	require.NoError(t, store.SetItem(ctx, "other_key", "3"))
	require.NoError(t, store.SetItem(ctx, "cache_test_a", "4"))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cache_test_a", "cache_test_b", "other_key"}, keys)

	v, ok, err := store.GetItem(ctx, "cache_test_a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "4", v)

	removed, err := InvalidatePattern(ctx, store, "test")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, ok, err = store.GetItem(ctx, "cache_test_b")
	require.NoError(t, err)
	assert.False(t, ok)
}
