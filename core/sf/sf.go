// Package sf wraps golang.org/x/sync/singleflight with a typed result.
package sf

import "golang.org/x/sync/singleflight"

// Group deduplicates concurrent calls with the same key; callers that join an
// in-flight call all receive its result.
type Group[T any] struct {
	g singleflight.Group
}

func (g *Group[T]) Do(key string, fn func() (T, error)) (T, error) {
	v, err, _ := g.g.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (g *Group[T]) Forget(key string) { g.g.Forget(key) }
