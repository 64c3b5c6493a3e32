package cqrs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/parrrate/cqrs/core/sf"
)

// SnapshotPolicy decides when the snapshot store writes a new snapshot after
// a successful commit.
type SnapshotPolicy interface {
	// ShouldSnapshot is called with the sequence of the last stored
	// snapshot, the stream sequence after the commit, and the number of
	// events just committed.
	ShouldSnapshot(lastSnapshot, current uint64, committed int) bool
}

type snapshotEvery uint64

func (n snapshotEvery) ShouldSnapshot(lastSnapshot, current uint64, _ int) bool {
	return current >= lastSnapshot+uint64(n)
}

// SnapshotEvery snapshots once at least n events accumulated since the last
// snapshot.
func SnapshotEvery(n uint64) SnapshotPolicy {
	if n == 0 {
		n = 1
	}
	return snapshotEvery(n)
}

// PersistedSnapshotStore decorates PersistedEventStore with snapshot-seeded
// loads and policy-driven snapshot writes. Snapshots are an optimization: a
// missing, corrupt or stale snapshot degrades to full replay, and a failed
// snapshot write never fails the commit it follows.
type PersistedSnapshotStore[A Aggregate] struct {
	inner           *PersistedEventStore[A]
	snapshots       SnapshotRepository
	policy          SnapshotPolicy
	snapshotVersion SemanticVersion

	loads sf.Group[SerializedSnapshot]
}

func NewSnapshotStore[A Aggregate](repo EventRepository, snapshots SnapshotRepository, registry *EventRegistry, opts ...StoreOption) *PersistedSnapshotStore[A] {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt.applyToStore(&o)
	}
	return &PersistedSnapshotStore[A]{
		inner:           NewEventStore[A](repo, registry, opts...),
		snapshots:       snapshots,
		policy:          o.snapshotPolicy,
		snapshotVersion: o.snapshotVersion,
	}
}

func (s *PersistedSnapshotStore[A]) Load(ctx context.Context, aggregateID string) (AggregateContext[A], error) {
	snap, ok := s.loadSnapshot(ctx, aggregateID)
	if !ok {
		actx, err := s.inner.Load(ctx, aggregateID)
		if err != nil {
			return nil, err
		}
		esc := actx.(*eventStoreContext[A])
		return &snapshotStoreContext[A]{eventStoreContext: *esc}, nil
	}

	agg := newAggregate[A]()
	if err := s.inner.codec.Unmarshal(snap.Payload, agg); err != nil {
		s.warnSnapshot(aggregateID, "snapshot payload unreadable, replaying from scratch", err)
		actx, lerr := s.inner.Load(ctx, aggregateID)
		if lerr != nil {
			return nil, lerr
		}
		esc := actx.(*eventStoreContext[A])
		return &snapshotStoreContext[A]{eventStoreContext: *esc}, nil
	}

	tail, err := s.inner.repo.LoadEventsFrom(ctx, s.inner.aggregateType, aggregateID, snap.CurrentSequence)
	if err != nil {
		return nil, WrapTechnical(fmt.Sprintf(
			"load events for %s/%s after sequence %d",
			s.inner.aggregateType, aggregateID, snap.CurrentSequence), err)
	}
	seq, err := s.inner.replay(agg, snap.CurrentSequence, tail)
	if err != nil {
		return nil, err
	}

	s.inner.log.Debug("aggregate loaded from snapshot",
		slog.Group("agg",
			slog.String("type", s.inner.aggregateType),
			slog.String("id", aggregateID),
			slog.Uint64("sequence", seq),
		),
		slog.Uint64("snapshot_sequence", snap.CurrentSequence),
	)

	return &snapshotStoreContext[A]{
		eventStoreContext: eventStoreContext[A]{
			aggregateID: aggregateID,
			aggregate:   agg,
			sequence:    seq,
		},
		snapshotSequence: snap.CurrentSequence,
	}, nil
}

// loadSnapshot fetches, verifies and upcasts the stored snapshot. Concurrent
// loads of the same aggregate share one repository round trip. Any failure
// is reported as a cache miss.
func (s *PersistedSnapshotStore[A]) loadSnapshot(ctx context.Context, aggregateID string) (SerializedSnapshot, bool) {
	defer s.inner.metrics.SnapshotLoadDuration(s.inner.aggregateType).ObserveDuration()

	snap, err := s.loads.Do(aggregateID, func() (SerializedSnapshot, error) {
		return s.snapshots.LoadSnapshot(ctx, s.inner.aggregateType, aggregateID)
	})
	if err != nil {
		if !errors.Is(err, ErrSnapshotNotFound) {
			s.warnSnapshot(aggregateID, "snapshot load failed, replaying from scratch", err)
		}
		return SerializedSnapshot{}, false
	}
	if err := snap.VerifyChecksum(); err != nil {
		s.warnSnapshot(aggregateID, "snapshot checksum mismatch, replaying from scratch", err)
		return SerializedSnapshot{}, false
	}
	if snap.SnapshotVersion.Less(s.snapshotVersion) {
		migrated, err := s.upcastSnapshot(snap)
		if err != nil {
			s.warnSnapshot(aggregateID, "snapshot upcast failed, replaying from scratch", err)
			return SerializedSnapshot{}, false
		}
		snap = migrated
	}
	return snap, true
}

func (s *PersistedSnapshotStore[A]) upcastSnapshot(snap SerializedSnapshot) (SerializedSnapshot, error) {
	rec := SerializedEvent{
		EventID:       "snapshot",
		AggregateType: snap.AggregateType,
		AggregateID:   snap.AggregateID,
		Sequence:      snap.CurrentSequence,
		EventType:     SnapshotType(snap.AggregateType),
		EventVersion:  snap.SnapshotVersion,
		Payload:       snap.Payload,
	}
	migrated, err := s.inner.upcasters.Upcast(rec, s.snapshotVersion)
	if err != nil {
		return SerializedSnapshot{}, err
	}
	snap.Payload = migrated.Payload
	snap.SnapshotVersion = migrated.EventVersion
	return snap, nil
}

func (s *PersistedSnapshotStore[A]) Commit(ctx context.Context, actx AggregateContext[A], events []any, metadata Metadata) ([]EventEnvelope, error) {
	ssc, ok := actx.(*snapshotStoreContext[A])
	if !ok {
		return nil, NewTechnicalError("commit requires a context produced by this store's Load")
	}

	envs, err := s.inner.commit(ctx, &ssc.eventStoreContext, events, metadata)
	if err != nil || len(envs) == 0 {
		return envs, err
	}

	// Advance the context aggregate so it reflects the committed events and
	// can be snapshotted as-is.
	for _, env := range envs {
		if aerr := ssc.aggregate.Apply(env.Event); aerr != nil {
			s.warnSnapshot(ssc.aggregateID, "skipping snapshot, committed event did not apply", aerr)
			ssc.sequence = envs[len(envs)-1].Sequence
			return envs, nil
		}
		ssc.sequence = env.Sequence
	}

	if s.policy.ShouldSnapshot(ssc.snapshotSequence, ssc.sequence, len(envs)) {
		s.persistSnapshot(ctx, ssc)
	}
	return envs, nil
}

// persistSnapshot writes a snapshot of the context aggregate. Failures are
// logged and swallowed.
func (s *PersistedSnapshotStore[A]) persistSnapshot(ctx context.Context, ssc *snapshotStoreContext[A]) {
	defer s.inner.metrics.SnapshotSaveDuration(s.inner.aggregateType).ObserveDuration()

	payload, err := s.inner.codec.Marshal(ssc.aggregate)
	if err != nil {
		s.warnSnapshot(ssc.aggregateID, "snapshot serialization failed", err)
		return
	}
	snap := SerializedSnapshot{
		AggregateType:   s.inner.aggregateType,
		AggregateID:     ssc.aggregateID,
		CurrentSequence: ssc.sequence,
		SnapshotVersion: s.snapshotVersion,
		Payload:         payload,
		Checksum:        PayloadChecksum(payload),
	}
	if err := s.snapshots.PersistSnapshot(ctx, snap); err != nil {
		s.warnSnapshot(ssc.aggregateID, "snapshot write failed", err)
		return
	}
	ssc.snapshotSequence = ssc.sequence

	s.inner.log.Debug("snapshot persisted",
		slog.Group("agg",
			slog.String("type", s.inner.aggregateType),
			slog.String("id", ssc.aggregateID),
			slog.Uint64("sequence", ssc.sequence),
		),
		s.snapshotVersion.SlogAttrWithKey("snapshot_version"),
	)
}

func (s *PersistedSnapshotStore[A]) warnSnapshot(aggregateID, msg string, err error) {
	s.inner.log.Warn(msg,
		slog.Group("agg",
			slog.String("type", s.inner.aggregateType),
			slog.String("id", aggregateID),
		),
		slog.String("error", err.Error()),
	)
}

var _ AggregateStore[Aggregate] = (*PersistedSnapshotStore[Aggregate])(nil)
