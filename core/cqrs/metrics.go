package cqrs

import "github.com/parrrate/cqrs/core/metrics"

// Metrics is the instrumentation surface of the persistence core. Adapters
// provide concrete implementations; the default records nothing.
type Metrics interface {
	LoadDuration(aggregateType string) metrics.Timer
	CommitDuration(aggregateType string) metrics.Timer
	EventsCommitted(aggregateType string, n int)
	CommitConflict(aggregateType string)
	EventsUpcast(aggregateType string, n int)
	SnapshotLoadDuration(aggregateType string) metrics.Timer
	SnapshotSaveDuration(aggregateType string) metrics.Timer
	QueryDuration(queryName string) metrics.Timer
	ViewConflict(queryName string)
	ViewCacheHit(queryName string)
	ViewCacheMiss(queryName string)
}

type nopMetrics struct{}

func (nopMetrics) LoadDuration(string) metrics.Timer         { return metrics.NopTimer() }
func (nopMetrics) CommitDuration(string) metrics.Timer       { return metrics.NopTimer() }
func (nopMetrics) EventsCommitted(string, int)               {}
func (nopMetrics) CommitConflict(string)                     {}
func (nopMetrics) EventsUpcast(string, int)                  {}
func (nopMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) QueryDuration(string) metrics.Timer        { return metrics.NopTimer() }
func (nopMetrics) ViewConflict(string)                       {}
func (nopMetrics) ViewCacheHit(string)                       {}
func (nopMetrics) ViewCacheMiss(string)                      {}

// NopMetrics returns a Metrics implementation that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }
