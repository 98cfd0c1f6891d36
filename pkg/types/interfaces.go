package types

import (
	"context"
	"time"
)

// Backend defines the storage contract shared by every backend adapter.
// Adapters store entries verbatim; expiration is decided by the caller.
type Backend interface {
	// Write stores the entry, replacing any entry at the same key.
	Write(ctx context.Context, key string, entry *Entry) error
	// Read returns the stored entry, or false if the key is absent.
	Read(ctx context.Context, key string) (*Entry, bool, error)
	// Remove deletes the entry and reports whether one existed.
	Remove(ctx context.Context, key string) (bool, error)
	// RemoveAll deletes every entry owned by this adapter.
	RemoveAll(ctx context.Context) error
	// Count returns the number of entries owned by this adapter.
	Count(ctx context.Context) (int, error)
	// Entries lists the stored entries for victim selection.
	Entries(ctx context.Context) ([]KeyedEntry, error)
	// Kind identifies the adapter family.
	Kind() StorageKind
}

// ErrorHandler receives failures that an adapter absorbs instead of
// returning, so they can be logged and counted.
type ErrorHandler interface {
	HandleError(operation, key string, err error)
}

// ErrorHandlerFunc adapts a function to ErrorHandler
type ErrorHandlerFunc func(operation, key string, err error)

// HandleError calls f
func (f ErrorHandlerFunc) HandleError(operation, key string, err error) {
	f(operation, key, err)
}

// Recorder receives named operation durations from instrumented code
type Recorder interface {
	Record(name string, duration time.Duration)
}

// RecorderFunc adapts a function to Recorder
type RecorderFunc func(name string, duration time.Duration)

// Record calls f
func (f RecorderFunc) Record(name string, duration time.Duration) {
	f(name, duration)
}
