package kvstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/objectfs/cachemgr/internal/circuit"
)

// RedisStore implements Store on Redis. Values live under
// <prefix>item:<key>; insertion order is kept in the sorted set
// <prefix>order, scored by a counter at <prefix>seq.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisStoreConfig holds configuration for the Redis store.
type RedisStoreConfig struct {
	Addr      string `yaml:"addr"`       // Redis address (e.g. "localhost:6379")
	Password  string `yaml:"password"`   // Redis password
	DB        int    `yaml:"db"`         // Redis database number
	KeyPrefix string `yaml:"key_prefix"` // Key prefix for namespacing (default: "cachemgr:kv:")

	// Breaker configures the circuit breaker placed in front of the store
	Breaker circuit.Config `yaml:"breaker"`
}

const defaultRedisPrefix = "cachemgr:kv:"

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(cfg RedisStoreConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreFromClient(client, cfg.KeyPrefix)
}

// NewRedisStoreFromClient creates a Redis store using an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) itemKey(k string) string { return s.prefix + "item:" + k }
func (s *RedisStore) orderKey() string       { return s.prefix + "order" }
func (s *RedisStore) seqKey() string         { return s.prefix + "seq" }

func (s *RedisStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.itemKey(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, translateRedisError(err)
	}
	return val, true, nil
}

func (s *RedisStore) SetItem(ctx context.Context, key, value string) error {
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return translateRedisError(err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.itemKey(key), value, 0)
		pipe.ZAddNX(ctx, s.orderKey(), &redis.Z{Score: float64(seq), Member: key})
		return nil
	})
	return translateRedisError(err)
}

func (s *RedisStore) RemoveItem(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.itemKey(key))
		pipe.ZRem(ctx, s.orderKey(), key)
		return nil
	})
	return translateRedisError(err)
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.ZRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, translateRedisError(err)
	}
	return keys, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return translateRedisError(s.client.Ping(ctx).Err())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// translateRedisError maps maxmemory rejections to ErrQuotaExceeded. Every
// RedisStore method returns its errors through it.
func translateRedisError(err error) error {
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "OOM") {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}
