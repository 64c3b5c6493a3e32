package cqrs

import (
	"context"
	"fmt"

	"github.com/parrrate/cqrs/core/cache"
	"github.com/parrrate/cqrs/internal/codec"
)

type cachedView struct {
	payload []byte
	qctx    QueryContext
}

// CachedViewRepository is a read-through cache over a ViewRepository. Views
// are cached serialized so callers never share mutable state; a conflicting
// update evicts the stale entry.
type CachedViewRepository[V any] struct {
	repo    ViewRepository[V]
	cache   cache.TypedCache[cachedView]
	codec   codec.Codec
	metrics Metrics
	name    string
}

func NewCachedViewRepository[V any](repo ViewRepository[V], c cache.Cache, opts ...QueryOption) *CachedViewRepository[V] {
	o := defaultQueryOptions()
	for _, opt := range opts {
		opt.applyToQuery(&o)
	}
	name := o.name
	if name == "" {
		var v V
		name = fmt.Sprintf("%T", v)
	}
	return &CachedViewRepository[V]{
		repo:    repo,
		cache:   cache.NewTyped[cachedView](c),
		codec:   o.codec,
		metrics: o.metrics,
		name:    name,
	}
}

func (r *CachedViewRepository[V]) LoadView(ctx context.Context, viewID string) (*V, QueryContext, error) {
	if entry, ok := r.cache.Get(viewID); ok {
		view := new(V)
		if err := r.codec.Unmarshal(entry.payload, view); err == nil {
			r.metrics.ViewCacheHit(r.name)
			return view, entry.qctx.clone(), nil
		}
		r.cache.Delete(viewID)
	}
	r.metrics.ViewCacheMiss(r.name)

	view, qctx, err := r.repo.LoadView(ctx, viewID)
	if err != nil {
		return nil, QueryContext{}, err
	}
	r.put(viewID, view, qctx)
	return view, qctx, nil
}

func (r *CachedViewRepository[V]) UpdateView(ctx context.Context, view *V, qctx QueryContext) error {
	if err := r.repo.UpdateView(ctx, view, qctx); err != nil {
		if IsConflict(err) {
			r.cache.Delete(qctx.ViewID)
		}
		return err
	}
	// Mirror the repository's version bump.
	updated := qctx.clone()
	updated.Version++
	r.put(qctx.ViewID, view, updated)
	return nil
}

func (r *CachedViewRepository[V]) put(viewID string, view *V, qctx QueryContext) {
	payload, err := r.codec.Marshal(view)
	if err != nil {
		return
	}
	r.cache.Put(viewID, cachedView{payload: payload, qctx: qctx.clone()})
}

var _ ViewRepository[struct{}] = (*CachedViewRepository[struct{}])(nil)
