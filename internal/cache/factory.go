package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/objectfs/cachemgr/internal/blockstore"
	"github.com/objectfs/cachemgr/internal/circuit"
	"github.com/objectfs/cachemgr/internal/config"
	"github.com/objectfs/cachemgr/internal/kvstore"
)

// NewManagerFromConfig builds the stores selected by cfg and registers every
// configured cache. Stores are opened lazily where the driver allows it, so
// an unreachable durable store only affects the caches that use it.
func NewManagerFromConfig(ctx context.Context, cfg *config.Configuration, logger *slog.Logger, observer Observer) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	kv, err := newKVStore(cfg.Persisted, logger)
	if err != nil {
		return nil, err
	}

	blocks, err := newBlockStore(cfg.Durable)
	if err != nil {
		if kv != nil {
			_ = kv.Close()
		}
		return nil, err
	}

	opts := []Option{
		WithLogger(logger.With("component", "cache-manager")),
		WithObserver(observer),
		WithKeyPrefix(cfg.Persisted.KeyPrefix),
	}
	if kv != nil {
		opts = append(opts, WithKVStore(kv))
	}
	if blocks != nil {
		opts = append(opts, WithBlockStore(blocks))
	}
	m := NewManager(opts...)

	names := make([]string, 0, len(cfg.Caches))
	for name := range cfg.Caches {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := m.CreateCache(ctx, name, cfg.CacheConfig(name)); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("failed to create cache %q: %w", name, err)
		}
	}

	return m, nil
}

func newKVStore(cfg config.PersistedConfig, logger *slog.Logger) (kvstore.Store, error) {
	switch cfg.Driver {
	case config.PersistedMemory, "":
		return kvstore.NewMemoryStore(cfg.QuotaBytes), nil
	case config.PersistedFile:
		fileCfg := cfg.File
		if fileCfg.QuotaBytes == 0 {
			fileCfg.QuotaBytes = cfg.QuotaBytes
		}
		store, err := kvstore.NewFileStore(&fileCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return store, nil
	case config.PersistedRedis:
		breaker := cfg.Redis.Breaker
		breaker.OnStateChange = func(name string, from, to circuit.State) {
			logger.Warn("Store circuit breaker changed state", "store", name, "from", from.String(), "to", to.String())
		}
		return kvstore.NewGuardedStore(kvstore.NewRedisStore(cfg.Redis), "redis", breaker), nil
	default:
		return nil, fmt.Errorf("unsupported persisted driver: %q", cfg.Driver)
	}
}

func newBlockStore(cfg config.DurableConfig) (blockstore.Opener, error) {
	switch cfg.Driver {
	case config.DurableNone, "":
		return nil, nil
	case config.DurableMemory:
		return blockstore.NewMemoryOpener(), nil
	case config.DurableS3:
		s3cfg := cfg.S3
		if s3cfg.Collection == "" {
			s3cfg.Collection = cfg.Collection
		}
		opener, err := blockstore.NewS3Opener(s3cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure s3 block store: %w", err)
		}
		return opener, nil
	case config.DurablePostgres:
		pgcfg := cfg.Postgres
		if pgcfg.Collection == "" {
			pgcfg.Collection = cfg.Collection
		}
		opener, err := blockstore.NewPostgresOpener(pgcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure postgres block store: %w", err)
		}
		return opener, nil
	default:
		return nil, fmt.Errorf("unsupported durable driver: %q", cfg.Driver)
	}
}
