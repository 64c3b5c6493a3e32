// Package cache provides a small key-value cache used by the read side of
// the persistence core (e.g. caching materialized views between updates).
//
// [Cache] is untyped; wrap it with [NewTyped] for compile-time type safety.
// [LRU] is a mutex-guarded in-memory implementation with LRU eviction,
// [Nop] disables caching entirely.
package cache

type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any)
	Delete(key string)
}

// TypedCache is a type-safe view over a Cache.
type TypedCache[T any] interface {
	Get(key string) (T, bool)
	Put(key string, val T)
	Delete(key string)
}

type typedCache[T any] struct {
	c Cache
}

func NewTyped[T any](c Cache) TypedCache[T] { return &typedCache[T]{c: c} }

func (t *typedCache[T]) Get(key string) (out T, ok bool) {
	v, ok := t.c.Get(key)
	if !ok {
		return out, false
	}
	out, ok = v.(T)
	return out, ok
}

func (t *typedCache[T]) Put(key string, val T) { t.c.Put(key, val) }
func (t *typedCache[T]) Delete(key string)     { t.c.Delete(key) }

var _ TypedCache[any] = (*typedCache[any])(nil)
