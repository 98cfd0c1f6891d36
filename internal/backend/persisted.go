package backend

import (
	"context"
	"errors"
	"strings"

	"github.com/objectfs/cachemgr/internal/codec"
	"github.com/objectfs/cachemgr/internal/kvstore"
	cerrors "github.com/objectfs/cachemgr/pkg/errors"
	"github.com/objectfs/cachemgr/pkg/types"
)

const persistedComponent = "persisted-backend"

// Namespace returns the key prefix a named cache uses inside a shared store
func Namespace(prefix, cacheName string) string {
	return prefix + cacheName + "_"
}

// Persisted stores entries in a kvstore.Store under namespace+key. It never
// returns an error: failures are passed to the ErrorHandler and the
// operation degrades to a miss or a no-op.
type Persisted struct {
	store     kvstore.Store
	namespace string
	codec     *codec.Codec
	handler   types.ErrorHandler
}

// NewPersisted creates a persisted backend. A nil handler discards failures.
func NewPersisted(store kvstore.Store, namespace string, c *codec.Codec, handler types.ErrorHandler) *Persisted {
	if handler == nil {
		handler = types.ErrorHandlerFunc(func(string, string, error) {})
	}
	return &Persisted{store: store, namespace: namespace, codec: c, handler: handler}
}

// Namespace returns the prefix applied to every key
func (p *Persisted) Namespace() string {
	return p.namespace
}

func (p *Persisted) Write(ctx context.Context, key string, entry *types.Entry) error {
	value, err := p.codec.EncodeString(entry)
	if err != nil {
		p.absorb("write", key, cerrors.ErrCodeSerialization, err)
		return nil
	}

	if err := p.store.SetItem(ctx, p.namespace+key, value); err != nil {
		code := cerrors.ErrCodeStorageWrite
		if errors.Is(err, kvstore.ErrQuotaExceeded) {
			code = cerrors.ErrCodeQuotaExceeded
		}
		p.absorb("write", key, code, err)
	}
	return nil
}

func (p *Persisted) Read(ctx context.Context, key string) (*types.Entry, bool, error) {
	entry, found := p.load(ctx, key, "read")
	return entry, found, nil
}

func (p *Persisted) Remove(ctx context.Context, key string) (bool, error) {
	_, found, err := p.store.GetItem(ctx, p.namespace+key)
	if err != nil {
		p.absorb("remove", key, cerrors.ErrCodeStorageRead, err)
		return false, nil
	}
	if !found {
		return false, nil
	}
	if err := p.store.RemoveItem(ctx, p.namespace+key); err != nil {
		p.absorb("remove", key, cerrors.ErrCodeStorageWrite, err)
		return false, nil
	}
	return true, nil
}

func (p *Persisted) RemoveAll(ctx context.Context) error {
	keys, err := kvstore.KeysWithPrefix(ctx, p.store, p.namespace)
	if err != nil {
		p.absorb("clear", "", cerrors.ErrCodeStorageRead, err)
		return nil
	}
	for _, k := range keys {
		if err := p.store.RemoveItem(ctx, k); err != nil {
			p.absorb("clear", strings.TrimPrefix(k, p.namespace), cerrors.ErrCodeStorageWrite, err)
		}
	}
	return nil
}

func (p *Persisted) Count(ctx context.Context) (int, error) {
	keys, err := kvstore.KeysWithPrefix(ctx, p.store, p.namespace)
	if err != nil {
		p.absorb("count", "", cerrors.ErrCodeStorageRead, err)
		return 0, nil
	}
	return len(keys), nil
}

// Entries lists decodable entries in store order. Undecodable values are
// removed and skipped.
func (p *Persisted) Entries(ctx context.Context) ([]types.KeyedEntry, error) {
	keys, err := kvstore.KeysWithPrefix(ctx, p.store, p.namespace)
	if err != nil {
		p.absorb("entries", "", cerrors.ErrCodeStorageRead, err)
		return nil, nil
	}

	entries := make([]types.KeyedEntry, 0, len(keys))
	for _, k := range keys {
		key := strings.TrimPrefix(k, p.namespace)
		if entry, ok := p.load(ctx, key, "entries"); ok {
			entries = append(entries, types.KeyedEntry{Key: key, Entry: entry})
		}
	}
	return entries, nil
}

func (p *Persisted) Kind() types.StorageKind {
	return types.StoragePersisted
}

// load reads and decodes one entry, treating any failure as a miss
func (p *Persisted) load(ctx context.Context, key, operation string) (*types.Entry, bool) {
	value, found, err := p.store.GetItem(ctx, p.namespace+key)
	if err != nil {
		p.absorb(operation, key, cerrors.ErrCodeStorageRead, err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	entry, err := p.codec.DecodeString(value)
	if err != nil {
		p.absorb(operation, key, cerrors.ErrCodeSerialization, err)
		if rmErr := p.store.RemoveItem(ctx, p.namespace+key); rmErr != nil {
			p.absorb(operation, key, cerrors.ErrCodeStorageWrite, rmErr)
		}
		return nil, false
	}
	return entry, true
}

func (p *Persisted) absorb(operation, key string, code cerrors.ErrorCode, cause error) {
	err := cerrors.Wrap(code, cause, "persisted "+operation+" failed").
		WithComponent(persistedComponent).
		WithOperation(operation).
		WithKey(key)
	err.Absorbed = true
	p.handler.HandleError(operation, key, err)
}
