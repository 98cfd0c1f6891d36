package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/objectfs/cachemgr/internal/blockstore"
	"github.com/objectfs/cachemgr/internal/kvstore"
	"github.com/objectfs/cachemgr/pkg/types"
)

func newBenchCache(b *testing.B, cfg types.CacheConfig) *Instance {
	b.Helper()
	m := NewManager(
		WithKVStore(kvstore.NewMemoryStore(0)),
		WithBlockStore(blockstore.NewMemoryOpener()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	inst, err := m.CreateCache(context.Background(), "bench", cfg)
	if err != nil {
		b.Fatal(err)
	}
	return inst
}

type benchValue struct {
	ID      int    `json:"id"`
	Payload string `json:"payload"`
}

// BenchmarkCacheGet measures hits on a warm cache
func BenchmarkCacheGet(b *testing.B) {
	for _, storage := range []types.StorageKind{types.StorageMemory, types.StoragePersisted, types.StorageDurable} {
		b.Run(string(storage), func(b *testing.B) {
			ctx := context.Background()
			inst := newBenchCache(b, types.CacheConfig{Storage: storage, MaxSize: 1000})
			for i := 0; i < 1000; i++ {
				if err := inst.Set(ctx, fmt.Sprintf("key-%d", i), benchValue{ID: i, Payload: "x"}); err != nil {
					b.Fatal(err)
				}
			}

			b.ResetTimer()
			b.ReportAllocs()
			var v benchValue
			for i := 0; i < b.N; i++ {
				if _, err := inst.Get(ctx, fmt.Sprintf("key-%d", i%1000), &v); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkCacheSetWithEviction measures writes into a full cache, each
// evicting one victim
func BenchmarkCacheSetWithEviction(b *testing.B) {
	for _, strategy := range []types.Strategy{types.StrategyLRU, types.StrategyLFU, types.StrategyFIFO} {
		b.Run(string(strategy), func(b *testing.B) {
			ctx := context.Background()
			inst := newBenchCache(b, types.CacheConfig{Strategy: strategy, MaxSize: 100})

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := inst.Set(ctx, fmt.Sprintf("key-%d", i), i); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkCacheConcurrency measures mixed reads and writes from parallel
// goroutines on one instance
func BenchmarkCacheConcurrency(b *testing.B) {
	ctx := context.Background()
	inst := newBenchCache(b, types.CacheConfig{MaxSize: 500})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		var v int
		for pb.Next() {
			key := fmt.Sprintf("key-%d", i%1000)
			if i%4 == 0 {
				_ = inst.Set(ctx, key, i)
			} else {
				_, _ = inst.Get(ctx, key, &v)
			}
			i++
		}
	})
}

// BenchmarkMemoize measures the hit path of a memoized function
func BenchmarkMemoize(b *testing.B) {
	ctx := context.Background()
	inst := newBenchCache(b, types.CacheConfig{MaxSize: 100})
	square := Memoize(inst, "square", func(_ context.Context, n int) (int, error) {
		return n * n, nil
	})

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := square(ctx, i%50); err != nil {
			b.Fatal(err)
		}
	}
}
