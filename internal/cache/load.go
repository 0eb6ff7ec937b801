package cache

import (
	"context"
	"time"
)

// Load returns the cached value for key when it holds a T, otherwise calls
// load, caches the result for ttl and returns it. Concurrent misses for the
// same key share a single load call. hit reports whether the value came from
// the cache. Errors are returned to every waiter and nothing is cached.
//
// The shared load runs detached from ctx, bounded by the store's load timeout,
// so one waiter giving up does not fail the others. Each waiter still returns
// ctx.Err() as soon as its own ctx is done. A result is not cached when the
// key space saw a Delete, Invalidate or Clear while the load was running.
func Load[T any](ctx context.Context, s *Store, key string, ttl time.Duration, load func(context.Context) (T, error)) (val T, hit bool, err error) {
	if v, ok := s.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, true, nil
		}
	}

	ch := s.loads.DoChan(key, func() (any, error) {
		lctx := context.WithoutCancel(ctx)
		if s.loadTimeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(lctx, s.loadTimeout)
			defer cancel()
		}
		epoch := s.currentEpoch()
		v, err := load(lctx)
		if err != nil {
			return nil, err
		}
		s.setIfEpoch(key, v, ttl, epoch)
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, false, res.Err
		}
		return res.Val.(T), false, nil
	}
}
