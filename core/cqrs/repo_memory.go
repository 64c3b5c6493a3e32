package cqrs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/parrrate/cqrs/internal/codec"
	"github.com/parrrate/cqrs/ports/kv"
)

// InMemoryRepository implements EventRepository and SnapshotRepository for
// tests and single-process setups.
type InMemoryRepository struct {
	mu        sync.RWMutex
	streams   map[string][]SerializedEvent
	snapshots kv.Store
	codec     codec.Codec
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		streams:   make(map[string][]SerializedEvent),
		snapshots: kv.NewMemStore(),
		codec:     codec.Default,
	}
}

func streamKey(aggregateType, aggregateID string) string {
	return aggregateType + "/" + aggregateID
}

func (r *InMemoryRepository) LoadEvents(_ context.Context, aggregateType, aggregateID string) ([]SerializedEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stream := r.streams[streamKey(aggregateType, aggregateID)]
	out := make([]SerializedEvent, len(stream))
	copy(out, stream)
	return out, nil
}

func (r *InMemoryRepository) LoadEventsFrom(_ context.Context, aggregateType, aggregateID string, lastSequence uint64) ([]SerializedEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stream := r.streams[streamKey(aggregateType, aggregateID)]
	out := make([]SerializedEvent, 0)
	for _, rec := range stream {
		if rec.Sequence > lastSequence {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) PersistEvents(_ context.Context, aggregateType, aggregateID string, expectedSequence uint64, events []SerializedEvent) error {
	if len(events) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := streamKey(aggregateType, aggregateID)
	stream := r.streams[key]
	var last uint64
	if n := len(stream); n > 0 {
		last = stream[n-1].Sequence
	}
	if last != expectedSequence {
		return fmt.Errorf("%w: %s at sequence %d, expected %d",
			ErrAggregateConflict, key, last, expectedSequence)
	}
	r.streams[key] = append(stream, events...)
	return nil
}

func (r *InMemoryRepository) LoadSnapshot(ctx context.Context, aggregateType, aggregateID string) (SerializedSnapshot, error) {
	entry, err := r.snapshots.Get(ctx, streamKey(aggregateType, aggregateID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return SerializedSnapshot{}, ErrSnapshotNotFound
		}
		return SerializedSnapshot{}, err
	}
	var snap SerializedSnapshot
	if err := r.codec.Unmarshal(entry.Value, &snap); err != nil {
		return SerializedSnapshot{}, err
	}
	return snap, nil
}

func (r *InMemoryRepository) PersistSnapshot(ctx context.Context, snap SerializedSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	value, err := r.codec.Marshal(&snap)
	if err != nil {
		return err
	}
	key := streamKey(snap.AggregateType, snap.AggregateID)
	for {
		entry, err := r.snapshots.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			if _, cerr := r.snapshots.Create(ctx, key, value); cerr != nil {
				if errors.Is(cerr, kv.ErrRevisionMismatch) {
					continue
				}
				return cerr
			}
			return nil
		}
		if err != nil {
			return err
		}
		var stored SerializedSnapshot
		if err := r.codec.Unmarshal(entry.Value, &stored); err == nil &&
			stored.CurrentSequence >= snap.CurrentSequence {
			// A newer snapshot already exists; keep it.
			return nil
		}
		if _, err := r.snapshots.Update(ctx, key, value, entry.Revision); err != nil {
			if errors.Is(err, kv.ErrRevisionMismatch) {
				continue
			}
			return err
		}
		return nil
	}
}

var (
	_ EventRepository    = (*InMemoryRepository)(nil)
	_ SnapshotRepository = (*InMemoryRepository)(nil)
)

type storedView[V any] struct {
	View    *V           `json:"view"`
	Context QueryContext `json:"context"`
}

// InMemoryViewRepository implements ViewRepository over an in-memory
// versioned key-value store.
type InMemoryViewRepository[V any] struct {
	store kv.Store
	codec codec.Codec
}

func NewInMemoryViewRepository[V any]() *InMemoryViewRepository[V] {
	return &InMemoryViewRepository[V]{
		store: kv.NewMemStore(),
		codec: codec.Default,
	}
}

func (r *InMemoryViewRepository[V]) LoadView(ctx context.Context, viewID string) (*V, QueryContext, error) {
	entry, err := r.store.Get(ctx, viewID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, QueryContext{}, ErrViewNotFound
		}
		return nil, QueryContext{}, err
	}
	var sv storedView[V]
	if err := r.codec.Unmarshal(entry.Value, &sv); err != nil {
		return nil, QueryContext{}, err
	}
	sv.Context.Version = entry.Revision
	return sv.View, sv.Context, nil
}

func (r *InMemoryViewRepository[V]) UpdateView(ctx context.Context, view *V, qctx QueryContext) error {
	value, err := r.codec.Marshal(&storedView[V]{View: view, Context: qctx})
	if err != nil {
		return err
	}
	if qctx.Version == 0 {
		_, err = r.store.Create(ctx, qctx.ViewID, value)
	} else {
		_, err = r.store.Update(ctx, qctx.ViewID, value, qctx.Version)
	}
	if err != nil {
		if errors.Is(err, kv.ErrRevisionMismatch) || errors.Is(err, kv.ErrNotFound) {
			return fmt.Errorf("%w: view %s at version %d", ErrAggregateConflict, qctx.ViewID, qctx.Version)
		}
		return err
	}
	return nil
}

var _ ViewRepository[struct{}] = (*InMemoryViewRepository[struct{}])(nil)
