package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parrrate/cqrs/core/cqrs"
	"github.com/parrrate/cqrs/core/metrics"
)

// storeMetrics implements cqrs.Metrics using Prometheus.
type storeMetrics struct {
	loadDuration         *prometheus.HistogramVec
	commitDuration       *prometheus.HistogramVec
	eventsCommitted      *prometheus.CounterVec
	commitConflicts      *prometheus.CounterVec
	eventsUpcast         *prometheus.CounterVec
	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec
	queryDuration        *prometheus.HistogramVec
	viewConflicts        *prometheus.CounterVec
	viewCacheHits        *prometheus.CounterVec
	viewCacheMisses      *prometheus.CounterVec
}

// NewStoreMetrics creates a Prometheus implementation of cqrs.Metrics and
// registers all collectors on reg.
func NewStoreMetrics(reg prometheus.Registerer) cqrs.Metrics {
	m := &storeMetrics{
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cqrs_store_load_duration_seconds",
			Help:    "Aggregate load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cqrs_store_commit_duration_seconds",
			Help:    "Aggregate commit latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_events_committed_total",
			Help: "Total number of events committed",
		}, []string{"aggregate_type"}),

		commitConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_commit_conflicts_total",
			Help: "Total number of optimistic concurrency failures at commit",
		}, []string{"aggregate_type"}),

		eventsUpcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_events_upcast_total",
			Help: "Total number of events migrated by the upcaster chain",
		}, []string{"aggregate_type"}),

		snapshotLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cqrs_snapshot_load_duration_seconds",
			Help:    "Snapshot load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		snapshotSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cqrs_snapshot_save_duration_seconds",
			Help:    "Snapshot save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cqrs_query_duration_seconds",
			Help:    "View projection latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"query"}),

		viewConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_view_conflicts_total",
			Help: "Total number of optimistic concurrency failures at view update",
		}, []string{"query"}),

		viewCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_view_cache_hits_total",
			Help: "Total number of view cache hits",
		}, []string{"query"}),

		viewCacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrs_view_cache_misses_total",
			Help: "Total number of view cache misses",
		}, []string{"query"}),
	}

	reg.MustRegister(
		m.loadDuration,
		m.commitDuration,
		m.eventsCommitted,
		m.commitConflicts,
		m.eventsUpcast,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
		m.queryDuration,
		m.viewConflicts,
		m.viewCacheHits,
		m.viewCacheMisses,
	)

	return m
}

func (m *storeMetrics) LoadDuration(aggregateType string) metrics.Timer {
	return newTimer(m.loadDuration.WithLabelValues(aggregateType))
}

func (m *storeMetrics) CommitDuration(aggregateType string) metrics.Timer {
	return newTimer(m.commitDuration.WithLabelValues(aggregateType))
}

func (m *storeMetrics) EventsCommitted(aggregateType string, n int) {
	m.eventsCommitted.WithLabelValues(aggregateType).Add(float64(n))
}

func (m *storeMetrics) CommitConflict(aggregateType string) {
	m.commitConflicts.WithLabelValues(aggregateType).Inc()
}

func (m *storeMetrics) EventsUpcast(aggregateType string, n int) {
	m.eventsUpcast.WithLabelValues(aggregateType).Add(float64(n))
}

func (m *storeMetrics) SnapshotLoadDuration(aggregateType string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(aggregateType))
}

func (m *storeMetrics) SnapshotSaveDuration(aggregateType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(aggregateType))
}

func (m *storeMetrics) QueryDuration(queryName string) metrics.Timer {
	return newTimer(m.queryDuration.WithLabelValues(queryName))
}

func (m *storeMetrics) ViewConflict(queryName string) {
	m.viewConflicts.WithLabelValues(queryName).Inc()
}

func (m *storeMetrics) ViewCacheHit(queryName string) {
	m.viewCacheHits.WithLabelValues(queryName).Inc()
}

func (m *storeMetrics) ViewCacheMiss(queryName string) {
	m.viewCacheMisses.WithLabelValues(queryName).Inc()
}

var _ cqrs.Metrics = (*storeMetrics)(nil)
