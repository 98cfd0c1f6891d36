package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/cachemgr/internal/kvstore"
	"github.com/objectfs/cachemgr/pkg/types"
)

type recordedCall struct {
	name     string
	duration time.Duration
}

type callRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *callRecorder) Record(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{name, d})
}

func (r *callRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestMemoize_HitAndMiss(t *testing.T) {
	inst, _ := newTestCache(t, types.CacheConfig{})
	rec := &callRecorder{}

	var calls atomic.Int32
	square := Memoize(inst, "square", func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n * n, nil
	}, WithRecorder[int](rec))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := square(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, 16, got)
	}
	got, err := square(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 25, got)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 4, rec.count())
	assert.Equal(t, "square", rec.calls[0].name)

	found, err := inst.Has(ctx, "square:4")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemoize_ErrorsAreNotCached(t *testing.T) {
	inst, _ := newTestCache(t, types.CacheConfig{})
	errBackend := errors.New("backend down")

	var calls atomic.Int32
	fetch := Memoize(inst, "fetch", func(_ context.Context, id string) (string, error) {
		if calls.Add(1) == 1 {
			return "", errBackend
		}
		return "user-" + id, nil
	})

	ctx := context.Background()
	_, err := fetch(ctx, "7")
	assert.ErrorIs(t, err, errBackend)

	got, err := fetch(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "user-7", got)

	got, err = fetch(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "user-7", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemoize_KeyFunc(t *testing.T) {
	store := kvstore.NewMemoryStore(0)
	inst, _ := newTestCache(t, types.CacheConfig{Storage: types.StoragePersisted}, WithKVStore(store))

	type query struct {
		ID   int
		Page int
	}
	lookup := Memoize(inst, "lookup", func(_ context.Context, q query) ([]int, error) {
		return []int{q.ID, q.Page}, nil
	}, WithKeyFunc(func(q query) (string, error) {
		return "id-" + strconv.Itoa(q.ID), nil
	}))

	ctx := context.Background()
	first, err := lookup(ctx, query{ID: 1, Page: 1})
	require.NoError(t, err)
	second, err := lookup(ctx, query{ID: 1, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test_id-1"}, keys)
}

func TestMemoize_RecomputesUndecodableValue(t *testing.T) {
	inst, _ := newTestCache(t, types.CacheConfig{})
	ctx := context.Background()
	require.NoError(t, inst.Set(ctx, "count:1", "not a number"))

	count := Memoize(inst, "count", func(_ context.Context, n int) (int, error) {
		return n + 1, nil
	})

	got, err := count(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestMemoize_ConcurrentCallers(t *testing.T) {
	inst, _ := newTestCache(t, types.CacheConfig{})

	var calls atomic.Int32
	slow := Memoize(inst, "slow", func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return n * 2, nil
	})

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := slow(context.Background(), 21)
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, 42, v)
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	assert.LessOrEqual(t, calls.Load(), int32(len(results)))
}

func TestMemoize_CanceledCallerDoesNotFailWaiters(t *testing.T) {
	inst, _ := newTestCache(t, types.CacheConfig{})

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	triple := Memoize(inst, "triple", func(ctx context.Context, n int) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return n * 3, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := triple(firstCtx, 7)
		firstErr <- err
	}()
	<-started

	type result struct {
		v   int
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := triple(context.Background(), 7)
		second <- result{v, err}
	}()
	time.Sleep(10 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, 21, got.v)

	// The shared call finished and stored its result
	v, err := triple(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 21, v)
	assert.Equal(t, int32(1), calls.Load())
}
