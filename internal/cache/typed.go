package cache

import "context"

// Typed is a view of an Instance that stores values of a single type
type Typed[V any] struct {
	inst *Instance
}

// NewTyped wraps inst
func NewTyped[V any](inst *Instance) *Typed[V] {
	return &Typed[V]{inst: inst}
}

// Instance returns the underlying cache
func (t *Typed[V]) Instance() *Instance {
	return t.inst
}

// Get returns the value stored under key. On a miss the zero value is
// returned with false.
func (t *Typed[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var v V
	found, err := t.inst.Get(ctx, key, &v)
	if err != nil || !found {
		var zero V
		return zero, false, err
	}
	return v, true, nil
}

// Set stores v under key
func (t *Typed[V]) Set(ctx context.Context, key string, v V, opts ...SetOption) error {
	return t.inst.Set(ctx, key, v, opts...)
}
