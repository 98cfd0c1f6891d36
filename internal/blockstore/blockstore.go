// Package blockstore provides the durable block stores behind the durable
// cache backend.
//
// An Opener connects to a physical store and prepares its schema the first
// time it is used. The resulting Collection holds opaque payloads addressed by
// (namespace, key); each named cache uses its own namespace. Schemas are
// versioned: opening a store written by a newer version fails with
// ErrSchemaMismatch instead of silently misreading it.
package blockstore

import (
	"context"
	"errors"
)

// SchemaVersion is the layout version written by this package
const SchemaVersion = 1

var (
	// ErrSchemaMismatch is returned by Open when the store carries a newer schema
	ErrSchemaMismatch = errors.New("blockstore: schema version mismatch")

	// ErrClosed is returned by operations on a closed opener
	ErrClosed = errors.New("blockstore: closed")
)

// Record is a stored payload with its key
type Record struct {
	Key     string
	Payload []byte
}

// Opener connects to a durable store.
type Opener interface {
	// Open connects and prepares the schema. Each call may be retried after
	// a failure.
	Open(ctx context.Context) (Collection, error)
	// Close releases the connection.
	Close() error
}

// Collection is an opened durable store. Implementations are safe for
// concurrent use.
type Collection interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Put(ctx context.Context, namespace, key string, payload []byte) error
	// Delete removes a record and reports whether it existed.
	Delete(ctx context.Context, namespace, key string) (bool, error)
	DeleteAll(ctx context.Context, namespace string) error
	Count(ctx context.Context, namespace string) (int, error)
	// List returns every record in namespace in first-insertion order.
	// Overwriting a record keeps its position.
	List(ctx context.Context, namespace string) ([]Record, error)
}

const defaultCollection = "cachemgr"
