package cqrs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrSequenceGap is returned when a projection receives events that do not
// continue contiguously from the view's watermark. Redelivery of the missing
// range heals the view.
var ErrSequenceGap = errors.New("sequence gap")

// Query consumes committed events to maintain a read model. Dispatch receives
// each commit's envelopes in stream order.
type Query interface {
	Name() string
	Dispatch(ctx context.Context, aggregateID string, events []EventEnvelope) error
}

// ViewIDMapper selects the view instance an aggregate's events fold into.
type ViewIDMapper func(aggregateID string) string

// ViewPerAggregate maintains one view instance per aggregate.
func ViewPerAggregate(aggregateID string) string { return aggregateID }

// SingleView folds all aggregates of a type into one shared view instance.
func SingleView(viewID string) ViewIDMapper {
	return func(string) string { return viewID }
}

// ViewFold folds one event envelope into the view state.
type ViewFold[V any] func(view *V, env EventEnvelope)

// GenericQuery is a watermark-guarded projection over a ViewRepository.
// Duplicate deliveries are skipped, gaps are rejected, and concurrent view
// updates are resolved by reloading and refolding.
type GenericQuery[V any] struct {
	log     *slog.Logger
	repo    ViewRepository[V]
	fold    ViewFold[V]
	metrics Metrics
	name    string
	viewID  ViewIDMapper
	retries int
}

func NewGenericQuery[V any](repo ViewRepository[V], fold ViewFold[V], opts ...QueryOption) *GenericQuery[V] {
	o := defaultQueryOptions()
	for _, opt := range opts {
		opt.applyToQuery(&o)
	}
	name := o.name
	if name == "" {
		var v V
		name = fmt.Sprintf("%T", v)
	}
	return &GenericQuery[V]{
		log:     o.log,
		repo:    repo,
		fold:    fold,
		metrics: o.metrics,
		name:    name,
		viewID:  o.viewID,
		retries: o.conflictRetries,
	}
}

func (q *GenericQuery[V]) Name() string { return q.name }

func (q *GenericQuery[V]) Dispatch(ctx context.Context, aggregateID string, events []EventEnvelope) error {
	if len(events) == 0 {
		return nil
	}
	defer q.metrics.QueryDuration(q.name).ObserveDuration()

	viewID := q.viewID(aggregateID)
	for attempt := 0; ; attempt++ {
		err := q.apply(ctx, viewID, aggregateID, events)
		if err == nil {
			return nil
		}
		if !IsConflict(err) {
			return err
		}
		q.metrics.ViewConflict(q.name)
		if attempt+1 >= q.retries {
			return WrapTechnical(fmt.Sprintf(
				"view %q for %s kept conflicting after %d attempts", q.name, viewID, q.retries), err)
		}
		q.log.Debug("view conflict, refolding",
			slog.String("query", q.name),
			slog.String("view_id", viewID),
			slog.Int("attempt", attempt+1),
		)
	}
}

func (q *GenericQuery[V]) apply(ctx context.Context, viewID, aggregateID string, events []EventEnvelope) error {
	view, qctx, err := q.loadView(ctx, viewID)
	if err != nil {
		return err
	}

	watermark := qctx.Watermark(aggregateID)
	pending := events[:0:0]
	for _, env := range events {
		if env.Sequence <= watermark {
			continue
		}
		pending = append(pending, env)
	}
	if len(pending) == 0 {
		// The whole batch was already folded; redelivery is a no-op.
		return nil
	}
	if pending[0].Sequence != watermark+1 {
		return WrapTechnical(fmt.Sprintf(
			"view %q for %s: watermark %d, next delivered sequence %d",
			q.name, viewID, watermark, pending[0].Sequence), ErrSequenceGap)
	}

	for _, env := range pending {
		q.fold(view, env)
		qctx.SetWatermark(aggregateID, env.Sequence)
	}

	if err := q.repo.UpdateView(ctx, view, qctx); err != nil {
		if IsConflict(err) {
			return err
		}
		return WrapTechnical(fmt.Sprintf("update view %q for %s", q.name, viewID), err)
	}
	return nil
}

func (q *GenericQuery[V]) loadView(ctx context.Context, viewID string) (*V, QueryContext, error) {
	view, qctx, err := q.repo.LoadView(ctx, viewID)
	if err != nil {
		if errors.Is(err, ErrViewNotFound) {
			return new(V), NewQueryContext(viewID), nil
		}
		return nil, QueryContext{}, WrapTechnical(fmt.Sprintf("load view %q for %s", q.name, viewID), err)
	}
	if view == nil {
		view = new(V)
	}
	return view, qctx, nil
}

var _ Query = (*GenericQuery[struct{}])(nil)
