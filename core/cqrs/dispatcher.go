package cqrs

import (
	"context"
	"log/slog"

	"github.com/parrrate/cqrs/core/perkey"
)

// Dispatcher delivers committed event envelopes to registered queries.
// Delivery failures never fail the commit that produced the events.
type Dispatcher interface {
	Dispatch(ctx context.Context, aggregateID string, events []EventEnvelope)
	Close()
}

// SyncDispatcher delivers events to each query inline, in registration
// order, before Dispatch returns.
type SyncDispatcher struct {
	log     *slog.Logger
	queries []Query
}

func NewSyncDispatcher(log *slog.Logger, queries ...Query) *SyncDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &SyncDispatcher{log: log, queries: queries}
}

func (d *SyncDispatcher) Dispatch(ctx context.Context, aggregateID string, events []EventEnvelope) {
	for _, q := range d.queries {
		if err := q.Dispatch(ctx, aggregateID, events); err != nil {
			d.log.Error("query dispatch failed",
				slog.String("query", q.Name()),
				slog.String("aggregate_id", aggregateID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (d *SyncDispatcher) Close() {}

// AsyncDispatcher delivers events on background goroutines while preserving
// per-aggregate order, so a slow projection does not stall commits.
type AsyncDispatcher struct {
	log     *slog.Logger
	queries []Query
	sched   *perkey.Scheduler[string]
}

func NewAsyncDispatcher(log *slog.Logger, queries ...Query) *AsyncDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &AsyncDispatcher{
		log:     log,
		queries: queries,
		sched:   perkey.New[string](perkey.Opts{}),
	}
}

func (d *AsyncDispatcher) Dispatch(_ context.Context, aggregateID string, events []EventEnvelope) {
	err := d.sched.Go(aggregateID, func() {
		// Commit contexts may be gone by the time this runs.
		ctx := context.Background()
		for _, q := range d.queries {
			if err := q.Dispatch(ctx, aggregateID, events); err != nil {
				d.log.Error("query dispatch failed",
					slog.String("query", q.Name()),
					slog.String("aggregate_id", aggregateID),
					slog.String("error", err.Error()),
				)
			}
		}
	})
	if err != nil {
		d.log.Error("dispatch after close",
			slog.String("aggregate_id", aggregateID),
			slog.Int("count", len(events)),
		)
	}
}

// Close drains queued deliveries and stops the dispatcher.
func (d *AsyncDispatcher) Close() {
	d.sched.Close()
}

var (
	_ Dispatcher = (*SyncDispatcher)(nil)
	_ Dispatcher = (*AsyncDispatcher)(nil)
)
