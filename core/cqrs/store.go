package cqrs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parrrate/cqrs/internal/codec"
)

// AggregateStore loads aggregates from history and commits new events with
// optimistic concurrency. PersistedEventStore replays the full stream on
// every load; PersistedSnapshotStore decorates it with snapshots.
type AggregateStore[A Aggregate] interface {
	Load(ctx context.Context, aggregateID string) (AggregateContext[A], error)
	// Commit appends events produced against actx. It fails with an error
	// matching ErrAggregateConflict when the stream advanced since Load.
	Commit(ctx context.Context, actx AggregateContext[A], events []any, metadata Metadata) ([]EventEnvelope, error)
}

// PersistedEventStore rebuilds aggregates by replaying their full event
// stream and commits through an EventRepository.
type PersistedEventStore[A Aggregate] struct {
	log           *slog.Logger
	repo          EventRepository
	registry      *EventRegistry
	upcasters     *UpcasterChain
	codec         codec.Codec
	metrics       Metrics
	idGenerator   IDGenerator
	aggregateType string
}

func NewEventStore[A Aggregate](repo EventRepository, registry *EventRegistry, opts ...StoreOption) *PersistedEventStore[A] {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt.applyToStore(&o)
	}
	return &PersistedEventStore[A]{
		log:           o.log,
		repo:          repo,
		registry:      registry,
		upcasters:     o.upcasters,
		codec:         o.codec,
		metrics:       o.metrics,
		idGenerator:   o.idGenerator,
		aggregateType: AggregateTypeOf[A](),
	}
}

func (s *PersistedEventStore[A]) Load(ctx context.Context, aggregateID string) (AggregateContext[A], error) {
	defer s.metrics.LoadDuration(s.aggregateType).ObserveDuration()

	recs, err := s.repo.LoadEvents(ctx, s.aggregateType, aggregateID)
	if err != nil {
		return nil, WrapTechnical(fmt.Sprintf("load events for %s/%s", s.aggregateType, aggregateID), err)
	}

	agg := newAggregate[A]()
	seq, err := s.replay(agg, 0, recs)
	if err != nil {
		return nil, err
	}

	s.log.Debug("aggregate loaded",
		slog.Group("agg",
			slog.String("type", s.aggregateType),
			slog.String("id", aggregateID),
			slog.Uint64("sequence", seq),
		),
	)

	return &eventStoreContext[A]{
		aggregateID: aggregateID,
		aggregate:   agg,
		sequence:    seq,
	}, nil
}

// replay folds records into agg, upcasting as needed. baseline is the
// sequence agg already reflects; records must continue gaplessly from it.
func (s *PersistedEventStore[A]) replay(agg A, baseline uint64, recs []SerializedEvent) (uint64, error) {
	seq := baseline
	upcast := 0
	for _, rec := range recs {
		if rec.Sequence != seq+1 {
			return 0, NewTechnicalError(fmt.Sprintf(
				"corrupt stream %s/%s: expected sequence %d, got %d",
				rec.AggregateType, rec.AggregateID, seq+1, rec.Sequence))
		}
		migrated := false
		current, known := s.registry.CurrentVersion(rec.EventType)
		// A stored type the registry no longer knows may have been renamed
		// since; applicable upcasters re-home it before decoding.
		for !known {
			next, applied, err := s.upcasters.advance(rec)
			if err != nil {
				return 0, err
			}
			if !applied {
				break
			}
			rec = next
			migrated = true
			current, known = s.registry.CurrentVersion(rec.EventType)
		}
		if known && rec.EventVersion.Less(current) {
			next, err := s.upcasters.Upcast(rec, current)
			if err != nil {
				return 0, err
			}
			rec = next
			migrated = true
		}
		if migrated {
			upcast++
		}
		ev, err := s.registry.Decode(rec)
		if err != nil {
			return 0, err
		}
		if err := agg.Apply(ev); err != nil {
			return 0, WrapTechnical(fmt.Sprintf(
				"apply event %q at sequence %d", rec.EventType, rec.Sequence), err)
		}
		seq = rec.Sequence
	}
	if upcast > 0 {
		s.metrics.EventsUpcast(s.aggregateType, upcast)
	}
	return seq, nil
}

func (s *PersistedEventStore[A]) Commit(ctx context.Context, actx AggregateContext[A], events []any, metadata Metadata) ([]EventEnvelope, error) {
	esc, ok := actx.(*eventStoreContext[A])
	if !ok {
		return nil, NewTechnicalError("commit requires a context produced by this store's Load")
	}
	return s.commit(ctx, esc, events, metadata)
}

func (s *PersistedEventStore[A]) commit(ctx context.Context, esc *eventStoreContext[A], events []any, metadata Metadata) ([]EventEnvelope, error) {
	if len(events) == 0 {
		return nil, nil
	}
	defer s.metrics.CommitDuration(s.aggregateType).ObserveDuration()

	recs, envs, err := s.serialize(esc.aggregateID, esc.sequence, events, metadata)
	if err != nil {
		return nil, err
	}

	if err := s.repo.PersistEvents(ctx, s.aggregateType, esc.aggregateID, esc.sequence, recs); err != nil {
		if IsConflict(err) {
			s.metrics.CommitConflict(s.aggregateType)
			s.log.Debug("commit conflict",
				slog.Group("agg",
					slog.String("type", s.aggregateType),
					slog.String("id", esc.aggregateID),
					slog.Uint64("sequence", esc.sequence),
				),
			)
			return nil, err
		}
		return nil, WrapTechnical(fmt.Sprintf("persist events for %s/%s", s.aggregateType, esc.aggregateID), err)
	}

	s.metrics.EventsCommitted(s.aggregateType, len(events))
	s.log.Debug("events committed",
		slog.Group("agg",
			slog.String("type", s.aggregateType),
			slog.String("id", esc.aggregateID),
			slog.Uint64("sequence", esc.sequence+uint64(len(events))),
		),
		slog.Int("count", len(events)),
	)
	return envs, nil
}

func (s *PersistedEventStore[A]) serialize(aggregateID string, baseline uint64, events []any, metadata Metadata) ([]SerializedEvent, []EventEnvelope, error) {
	recs := make([]SerializedEvent, 0, len(events))
	envs := make([]EventEnvelope, 0, len(events))
	for i, ev := range events {
		version, err := eventVersionOf(ev)
		if err != nil {
			return nil, nil, err
		}
		payload, err := s.codec.Marshal(ev)
		if err != nil {
			return nil, nil, WrapTechnical(fmt.Sprintf("serialize event %q", eventTypeOf(ev)), err)
		}
		seq := baseline + uint64(i) + 1
		rec := SerializedEvent{
			EventID:       s.idGenerator(),
			AggregateType: s.aggregateType,
			AggregateID:   aggregateID,
			Sequence:      seq,
			EventType:     eventTypeOf(ev),
			EventVersion:  version,
			Payload:       payload,
			Metadata:      metadata.clone(),
		}
		if err := rec.Validate(); err != nil {
			return nil, nil, err
		}
		recs = append(recs, rec)
		envs = append(envs, EventEnvelope{
			AggregateType: s.aggregateType,
			AggregateID:   aggregateID,
			Sequence:      seq,
			Event:         ev,
			Metadata:      rec.Metadata,
		})
	}
	return recs, envs, nil
}

var _ AggregateStore[Aggregate] = (*PersistedEventStore[Aggregate])(nil)
