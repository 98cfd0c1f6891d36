package backend

import (
	"context"
	"errors"
	"sync"

	"github.com/objectfs/cachemgr/internal/blockstore"
	"github.com/objectfs/cachemgr/internal/codec"
	cerrors "github.com/objectfs/cachemgr/pkg/errors"
	"github.com/objectfs/cachemgr/pkg/types"
)

const durableComponent = "durable-backend"

// Durable stores entries in a blockstore collection under its own
// namespace. The collection is opened on first use and kept for the
// adapter's lifetime; a failed open is retried by the next operation.
// Store failures are returned for the failing call only. Encoding failures
// are absorbed like in the persisted backend.
type Durable struct {
	opener    blockstore.Opener
	namespace string
	codec     *codec.Codec
	handler   types.ErrorHandler

	mu         sync.Mutex
	collection blockstore.Collection
}

// NewDurable creates a durable backend. A nil handler discards absorbed failures.
func NewDurable(opener blockstore.Opener, namespace string, c *codec.Codec, handler types.ErrorHandler) *Durable {
	if handler == nil {
		handler = types.ErrorHandlerFunc(func(string, string, error) {})
	}
	return &Durable{opener: opener, namespace: namespace, codec: c, handler: handler}
}

func (d *Durable) open(ctx context.Context, operation string) (blockstore.Collection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.collection != nil {
		return d.collection, nil
	}
	c, err := d.opener.Open(ctx)
	if err != nil {
		code := cerrors.ErrCodeStorageUnavailable
		if errors.Is(err, blockstore.ErrSchemaMismatch) {
			code = cerrors.ErrCodeSchemaMismatch
		}
		return nil, cerrors.Wrap(code, err, "failed to open durable store").
			WithComponent(durableComponent).
			WithOperation(operation)
	}
	d.collection = c
	return c, nil
}

func (d *Durable) Write(ctx context.Context, key string, entry *types.Entry) error {
	payload, err := d.codec.Encode(entry)
	if err != nil {
		d.absorb("write", key, err)
		return nil
	}

	c, err := d.open(ctx, "write")
	if err != nil {
		return err
	}
	if err := c.Put(ctx, d.namespace, key, payload); err != nil {
		return d.transactionError("write", key, err)
	}
	return nil
}

func (d *Durable) Read(ctx context.Context, key string) (*types.Entry, bool, error) {
	c, err := d.open(ctx, "read")
	if err != nil {
		return nil, false, err
	}

	payload, found, err := c.Get(ctx, d.namespace, key)
	if err != nil {
		return nil, false, d.transactionError("read", key, err)
	}
	if !found {
		return nil, false, nil
	}

	entry, err := d.codec.Decode(payload)
	if err != nil {
		d.absorb("read", key, err)
		if _, rmErr := c.Delete(ctx, d.namespace, key); rmErr != nil {
			return nil, false, d.transactionError("read", key, rmErr)
		}
		return nil, false, nil
	}
	return entry, true, nil
}

func (d *Durable) Remove(ctx context.Context, key string) (bool, error) {
	c, err := d.open(ctx, "remove")
	if err != nil {
		return false, err
	}
	removed, err := c.Delete(ctx, d.namespace, key)
	if err != nil {
		return false, d.transactionError("remove", key, err)
	}
	return removed, nil
}

func (d *Durable) RemoveAll(ctx context.Context) error {
	c, err := d.open(ctx, "clear")
	if err != nil {
		return err
	}
	if err := c.DeleteAll(ctx, d.namespace); err != nil {
		return d.transactionError("clear", "", err)
	}
	return nil
}

func (d *Durable) Count(ctx context.Context) (int, error) {
	c, err := d.open(ctx, "count")
	if err != nil {
		return 0, err
	}
	n, err := c.Count(ctx, d.namespace)
	if err != nil {
		return 0, d.transactionError("count", "", err)
	}
	return n, nil
}

// Entries lists decodable entries in the collection's insertion order.
// Records that cannot be decoded are skipped.
func (d *Durable) Entries(ctx context.Context) ([]types.KeyedEntry, error) {
	c, err := d.open(ctx, "entries")
	if err != nil {
		return nil, err
	}

	records, err := c.List(ctx, d.namespace)
	if err != nil {
		return nil, d.transactionError("entries", "", err)
	}

	entries := make([]types.KeyedEntry, 0, len(records))
	for _, r := range records {
		entry, err := d.codec.Decode(r.Payload)
		if err != nil {
			d.absorb("entries", r.Key, err)
			continue
		}
		entries = append(entries, types.KeyedEntry{Key: r.Key, Entry: entry})
	}
	return entries, nil
}

func (d *Durable) Kind() types.StorageKind {
	return types.StorageDurable
}

func (d *Durable) transactionError(operation, key string, cause error) error {
	return cerrors.Wrap(cerrors.ErrCodeTransactionFailed, cause, "durable "+operation+" failed").
		WithComponent(durableComponent).
		WithOperation(operation).
		WithKey(key)
}

func (d *Durable) absorb(operation, key string, cause error) {
	err := cerrors.Wrap(cerrors.ErrCodeSerialization, cause, "durable "+operation+" failed").
		WithComponent(durableComponent).
		WithOperation(operation).
		WithKey(key)
	err.Absorbed = true
	d.handler.HandleError(operation, key, err)
}
