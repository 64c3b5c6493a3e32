package cqrs

import (
	"context"
	"errors"
	"log/slog"
)

// Framework ties an aggregate store to a dispatcher: it loads the aggregate,
// runs the command handler, commits the resulting events and hands them to
// the read side.
type Framework[A Aggregate] struct {
	log        *slog.Logger
	store      AggregateStore[A]
	dispatcher Dispatcher
}

func NewFramework[A Aggregate](store AggregateStore[A], dispatcher Dispatcher, opts ...StoreOption) *Framework[A] {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt.applyToStore(&o)
	}
	if dispatcher == nil {
		dispatcher = NewSyncDispatcher(o.log)
	}
	return &Framework[A]{
		log:        o.log,
		store:      store,
		dispatcher: dispatcher,
	}
}

// HandleCommand executes command against the aggregate identified by
// aggregateID. Domain rejections surface as *UserError, concurrent commits
// as ErrAggregateConflict; a handler that returns no events commits nothing.
func (f *Framework[A]) HandleCommand(ctx context.Context, aggregateID string, command any) error {
	return f.HandleCommandWithMetadata(ctx, aggregateID, command, nil)
}

func (f *Framework[A]) HandleCommandWithMetadata(ctx context.Context, aggregateID string, command any, metadata Metadata) error {
	actx, err := f.store.Load(ctx, aggregateID)
	if err != nil {
		return err
	}

	events, err := actx.Aggregate().Handle(ctx, command)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	envs, err := f.store.Commit(ctx, actx, events, metadata)
	if err != nil {
		return err
	}

	f.dispatcher.Dispatch(ctx, aggregateID, envs)
	return nil
}

// Close shuts down the dispatcher, draining any pending deliveries.
func (f *Framework[A]) Close() {
	f.dispatcher.Close()
}

// LoadView reads a materialized view. A view that has not been materialized
// yet yields (nil, nil).
func LoadView[V any](ctx context.Context, repo ViewRepository[V], viewID string) (*V, error) {
	view, _, err := repo.LoadView(ctx, viewID)
	if err != nil {
		if errors.Is(err, ErrViewNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return view, nil
}
