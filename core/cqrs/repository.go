package cqrs

import (
	"context"
	"errors"
)

var (
	// ErrSnapshotNotFound is returned by snapshot repositories when no
	// snapshot exists for an aggregate.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrViewNotFound is returned by view repositories when a view instance
	// has not been materialized yet.
	ErrViewNotFound = errors.New("view not found")
)

// EventRepository is the storage port for serialized event streams.
// Implementations must enforce the (aggregate_type, aggregate_id, sequence)
// uniqueness that optimistic concurrency relies on.
type EventRepository interface {
	// LoadEvents returns the full stream in ascending sequence order; an
	// unknown aggregate yields an empty slice.
	LoadEvents(ctx context.Context, aggregateType, aggregateID string) ([]SerializedEvent, error)
	// LoadEventsFrom returns events with sequence > lastSequence.
	LoadEventsFrom(ctx context.Context, aggregateType, aggregateID string, lastSequence uint64) ([]SerializedEvent, error)
	// PersistEvents appends events atomically. The first event must carry
	// sequence expectedSequence+1; if another writer got there first the
	// repository returns an error matching ErrAggregateConflict and writes
	// nothing.
	PersistEvents(ctx context.Context, aggregateType, aggregateID string, expectedSequence uint64, events []SerializedEvent) error
}

// SnapshotRepository is the storage port for aggregate snapshots. At most one
// snapshot per aggregate is retained.
type SnapshotRepository interface {
	// LoadSnapshot returns ErrSnapshotNotFound if no snapshot exists.
	LoadSnapshot(ctx context.Context, aggregateType, aggregateID string) (SerializedSnapshot, error)
	// PersistSnapshot stores snap, replacing any older snapshot. A stored
	// snapshot with a sequence >= snap's must win; the call is then a no-op.
	PersistSnapshot(ctx context.Context, snap SerializedSnapshot) error
}

// ViewRepository is the storage port for one materialized view type.
// UpdateView is a compare-and-swap on qctx.Version: it succeeds only when the
// stored version still matches, then bumps the stored version by one.
type ViewRepository[V any] interface {
	// LoadView returns ErrViewNotFound for views that do not exist yet; the
	// caller then starts from a zero view with a fresh context at version 0.
	LoadView(ctx context.Context, viewID string) (*V, QueryContext, error)
	// UpdateView returns an error matching ErrAggregateConflict when the
	// stored version moved past qctx.Version.
	UpdateView(ctx context.Context, view *V, qctx QueryContext) error
}
