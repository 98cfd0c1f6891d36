package kvstore

import (
	"context"
	"errors"

	"github.com/objectfs/cachemgr/internal/circuit"
)

// GuardedStore passes every call through a circuit breaker so a store that
// stops answering fails fast until it recovers.
type GuardedStore struct {
	store   Store
	breaker *circuit.Breaker
}

// NewGuardedStore wraps store with a breaker built from config. Quota
// rejections do not count as failures.
func NewGuardedStore(store Store, name string, config circuit.Config) *GuardedStore {
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, ErrQuotaExceeded)
		}
	}
	return &GuardedStore{store: store, breaker: circuit.NewBreaker(name, config)}
}

// Breaker returns the breaker guarding the store
func (g *GuardedStore) Breaker() *circuit.Breaker {
	return g.breaker
}

func (g *GuardedStore) GetItem(ctx context.Context, key string) (value string, ok bool, err error) {
	err = g.breaker.Do(ctx, func(ctx context.Context) error {
		value, ok, err = g.store.GetItem(ctx, key)
		return err
	})
	return value, ok, err
}

func (g *GuardedStore) SetItem(ctx context.Context, key, value string) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.store.SetItem(ctx, key, value)
	})
}

func (g *GuardedStore) RemoveItem(ctx context.Context, key string) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.store.RemoveItem(ctx, key)
	})
}

func (g *GuardedStore) Keys(ctx context.Context) (keys []string, err error) {
	err = g.breaker.Do(ctx, func(ctx context.Context) error {
		keys, err = g.store.Keys(ctx)
		return err
	})
	return keys, err
}

// Ping probes the wrapped store. While the breaker is open it reports
// circuit.ErrOpenState; after the cool-down a ping is the half-open probe.
func (g *GuardedStore) Ping(ctx context.Context) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return Probe(ctx, g.store)
	})
}

func (g *GuardedStore) Close() error {
	return g.store.Close()
}
