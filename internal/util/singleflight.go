package util

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group is a typed singleflight.Group whose callers may give up early.
type Group[T any] struct {
	g singleflight.Group
}

// Do runs fn once per in-flight key. A caller whose ctx ends returns
// ctx.Err() while the shared call keeps running for the others. The shared
// call runs under a context detached from any single caller's cancellation.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	ch := g.g.DoChan(key, func() (interface{}, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			var zero T
			return zero, r.Shared, r.Err
		}
		return r.Val.(T), r.Shared, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}
