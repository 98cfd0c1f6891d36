package kvstore

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
)

// rejectHook fails every command before it reaches the network
type rejectHook struct {
	err error
}

func (h rejectHook) BeforeProcess(ctx context.Context, _ redis.Cmder) (context.Context, error) {
	return ctx, h.err
}

func (h rejectHook) AfterProcess(context.Context, redis.Cmder) error { return nil }

func (h rejectHook) BeforeProcessPipeline(ctx context.Context, _ []redis.Cmder) (context.Context, error) {
	return ctx, h.err
}

func (h rejectHook) AfterProcessPipeline(context.Context, []redis.Cmder) error { return nil }

func newRejectingRedisStore(t *testing.T, err error) *RedisStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(rejectHook{err: err})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreFromClient(client, "cachemgr:test:")
}

func TestRedisStore_TranslatesOOMOnEveryOperation(t *testing.T) {
	oom := errors.New("OOM command not allowed when used memory > 'maxmemory'.")
	store := newRejectingRedisStore(t, oom)
	ctx := context.Background()

	_, _, err := store.GetItem(ctx, "k")
	assert.ErrorIs(t, err, ErrQuotaExceeded, "GetItem")
	assert.ErrorIs(t, store.SetItem(ctx, "k", "v"), ErrQuotaExceeded, "SetItem")
	assert.ErrorIs(t, store.RemoveItem(ctx, "k"), ErrQuotaExceeded, "RemoveItem")
	_, err = store.Keys(ctx)
	assert.ErrorIs(t, err, ErrQuotaExceeded, "Keys")
	assert.ErrorIs(t, store.Ping(ctx), ErrQuotaExceeded, "Ping")
}

func TestRedisStore_PassesOtherErrorsThrough(t *testing.T) {
	refused := errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	store := newRejectingRedisStore(t, refused)
	ctx := context.Background()

	err := store.RemoveItem(ctx, "k")
	assert.ErrorIs(t, err, refused)
	assert.NotErrorIs(t, err, ErrQuotaExceeded)

	keys, err := store.Keys(ctx)
	assert.ErrorIs(t, err, refused)
	assert.Nil(t, keys)
}

func TestTranslateRedisError(t *testing.T) {
	assert.NoError(t, translateRedisError(nil))

	err := translateRedisError(errors.New("OOM command not allowed"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "OOM command not allowed")

	plain := errors.New("READONLY You can't write against a read only replica.")
	assert.Same(t, plain, translateRedisError(plain))
}
