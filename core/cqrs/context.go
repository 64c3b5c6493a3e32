package cqrs

// AggregateContext carries a loaded aggregate together with the stream
// position it was rebuilt to. Commit uses the position as the optimistic
// concurrency baseline, so contexts must flow from Load to Commit unchanged.
type AggregateContext[A Aggregate] interface {
	Aggregate() A
	AggregateID() string
	// Sequence is the last committed sequence the aggregate reflects,
	// 0 for a fresh aggregate.
	Sequence() uint64
}

type eventStoreContext[A Aggregate] struct {
	aggregateID string
	aggregate   A
	sequence    uint64
}

func (c *eventStoreContext[A]) Aggregate() A        { return c.aggregate }
func (c *eventStoreContext[A]) AggregateID() string { return c.aggregateID }
func (c *eventStoreContext[A]) Sequence() uint64    { return c.sequence }

// snapshotStoreContext additionally tracks the snapshot the aggregate was
// seeded from, so the decorator knows when a new snapshot is due.
type snapshotStoreContext[A Aggregate] struct {
	eventStoreContext[A]
	snapshotSequence uint64
}

// QueryContext is the idempotence and concurrency state of one materialized
// view instance. Version is the storage revision used for compare-and-swap
// updates; Watermarks records the highest folded sequence per source
// aggregate stream.
type QueryContext struct {
	ViewID     string            `json:"view_id"`
	Version    uint64            `json:"version"`
	Watermarks map[string]uint64 `json:"watermarks,omitempty"`
}

func NewQueryContext(viewID string) QueryContext {
	return QueryContext{ViewID: viewID, Watermarks: make(map[string]uint64)}
}

// Watermark returns the highest sequence already folded for aggregateID.
func (q *QueryContext) Watermark(aggregateID string) uint64 {
	return q.Watermarks[aggregateID]
}

func (q *QueryContext) SetWatermark(aggregateID string, sequence uint64) {
	if q.Watermarks == nil {
		q.Watermarks = make(map[string]uint64)
	}
	q.Watermarks[aggregateID] = sequence
}

func (q QueryContext) clone() QueryContext {
	out := q
	out.Watermarks = make(map[string]uint64, len(q.Watermarks))
	for k, v := range q.Watermarks {
		out.Watermarks[k] = v
	}
	return out
}
