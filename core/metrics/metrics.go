// Package metrics provides abstract metrics interfaces so the persistence
// core can be instrumented without coupling to a specific backend
// (Prometheus, StatsD, ...).
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when the
// operation completes to record the elapsed time:
//
//	defer m.LoadDuration("account").ObserveDuration()
type Timer interface {
	ObserveDuration()
}
