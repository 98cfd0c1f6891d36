package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	cerrors "github.com/objectfs/cachemgr/pkg/errors"
	"github.com/objectfs/cachemgr/pkg/types"
)

// MemoizeOption configures Memoize
type MemoizeOption[A any] func(*memoizeOptions[A])

type memoizeOptions[A any] struct {
	keyFunc  func(A) (string, error)
	recorder types.Recorder
	setOpts  []SetOption
}

// WithKeyFunc derives the cache key from the argument. The default key is
// "<name>:" followed by the JSON encoding of the argument.
func WithKeyFunc[A any](fn func(A) (string, error)) MemoizeOption[A] {
	return func(o *memoizeOptions[A]) { o.keyFunc = fn }
}

// WithRecorder receives the duration of every call
func WithRecorder[A any](r types.Recorder) MemoizeOption[A] {
	return func(o *memoizeOptions[A]) { o.recorder = r }
}

// WithSetOptions applies opts when storing computed results
func WithSetOptions[A any](opts ...SetOption) MemoizeOption[A] {
	return func(o *memoizeOptions[A]) { o.setOpts = opts }
}

// Memoize wraps fn so results are served from inst when present. Concurrent
// misses for the same key share one call to fn, which is not cancelled when
// the caller that started it gives up. Errors returned by fn are passed
// through and not cached.
func Memoize[A, R any](inst *Instance, name string, fn func(context.Context, A) (R, error), opts ...MemoizeOption[A]) func(context.Context, A) (R, error) {
	o := memoizeOptions[A]{
		keyFunc: func(arg A) (string, error) {
			data, err := json.Marshal(arg)
			if err != nil {
				return "", err
			}
			return name + ":" + string(data), nil
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	var group singleflight.Group

	return func(ctx context.Context, arg A) (R, error) {
		start := time.Now()
		if o.recorder != nil {
			defer func() { o.recorder.Record(name, time.Since(start)) }()
		}

		var zero R
		key, err := o.keyFunc(arg)
		if err != nil {
			return zero, fmt.Errorf("memoize %s: failed to derive key: %w", name, err)
		}

		var cached R
		found, err := inst.Get(ctx, key, &cached)
		switch {
		case cerrors.HasCode(err, cerrors.ErrCodeSerialization):
			// Stored value no longer decodes as R; recompute and overwrite
		case err != nil:
			return zero, err
		case found:
			return cached, nil
		}

		// The shared call ignores the first caller's cancellation; each caller
		// stops waiting when its own ctx is done.
		ch := group.DoChan(key, func() (interface{}, error) {
			shared := context.WithoutCancel(ctx)
			result, err := fn(shared, arg)
			if err != nil {
				return nil, err
			}
			if err := inst.Set(shared, key, result, o.setOpts...); err != nil {
				inst.logger.Warn("Failed to store memoized result", "name", name, "key", key, "error", err)
			}
			return result, nil
		})

		var v interface{}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return zero, res.Err
			}
			v = res.Val
		}
		result, _ := v.(R)
		return result, nil
	}
}
