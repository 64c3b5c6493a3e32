// Package cqrs is an event-sourcing persistence core: aggregates are
// rebuilt by replaying serialized event streams, commits use optimistic
// concurrency on the stream sequence, and committed events feed materialized
// read-model views.
//
// The write side revolves around three pieces:
//
//   - [PersistedEventStore] loads an [Aggregate] by replaying its stream
//     through the registered upcasters and commits new events against the
//     sequence observed at load time.
//   - [PersistedSnapshotStore] decorates the event store with snapshots so
//     long streams load in O(tail) instead of O(stream).
//   - [Framework] wires a store to a [Dispatcher] and exposes
//     HandleCommand.
//
// The read side is [GenericQuery], a watermark-guarded fold over a
// [ViewRepository]. Storage is pluggable through [EventRepository],
// [SnapshotRepository] and [ViewRepository]; in-memory implementations ship
// with the package, durable ones live under adapters/.
//
// Errors fall into three kinds: *[UserError] (domain rejection),
// [ErrAggregateConflict] (concurrent writer, reload and retry) and
// *[TechnicalError] (infrastructure failure).
package cqrs
