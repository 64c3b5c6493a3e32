package cqrs

import (
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/parrrate/cqrs/internal/codec"
)

// IDGenerator produces unique event ids.
type IDGenerator func() string

// DefaultIDGenerator produces 21-character nanoid event ids.
func DefaultIDGenerator() string {
	return gonanoid.Must()
}

type storeOptions struct {
	log         *slog.Logger
	codec       codec.Codec
	metrics     Metrics
	upcasters   *UpcasterChain
	idGenerator IDGenerator

	// snapshot store only
	snapshotPolicy  SnapshotPolicy
	snapshotVersion SemanticVersion
}

func defaultStoreOptions() storeOptions {
	return storeOptions{
		log:             slog.Default(),
		codec:           codec.Default,
		metrics:         NopMetrics(),
		upcasters:       NewUpcasterChain(),
		idGenerator:     DefaultIDGenerator,
		snapshotPolicy:  SnapshotEvery(100),
		snapshotVersion: SemanticVersion{Major: 1},
	}
}

// StoreOption configures event and snapshot stores.
type StoreOption interface {
	applyToStore(*storeOptions)
}

type storeOptionFunc func(*storeOptions)

func (f storeOptionFunc) applyToStore(o *storeOptions) { f(o) }

func WithLog(log *slog.Logger) StoreOption {
	return storeOptionFunc(func(o *storeOptions) {
		if log != nil {
			o.log = log
		}
	})
}

func WithCodec(c codec.Codec) StoreOption {
	return storeOptionFunc(func(o *storeOptions) {
		if c != nil {
			o.codec = c
		}
	})
}

func WithMetrics(m Metrics) StoreOption {
	return storeOptionFunc(func(o *storeOptions) {
		if m != nil {
			o.metrics = m
		}
	})
}

func WithUpcasters(upcasters ...EventUpcaster) StoreOption {
	return storeOptionFunc(func(o *storeOptions) {
		o.upcasters = NewUpcasterChain(upcasters...)
	})
}

func WithIDGenerator(gen IDGenerator) StoreOption {
	return storeOptionFunc(func(o *storeOptions) {
		if gen != nil {
			o.idGenerator = gen
		}
	})
}

// WithSnapshotPolicy controls when the snapshot store writes a new snapshot.
func WithSnapshotPolicy(p SnapshotPolicy) StoreOption {
	return storeOptionFunc(func(o *storeOptions) {
		if p != nil {
			o.snapshotPolicy = p
		}
	})
}

// WithSnapshotVersion sets the snapshot schema version written by the
// snapshot store. Bump it together with registering snapshot upcasters.
func WithSnapshotVersion(v SemanticVersion) StoreOption {
	return storeOptionFunc(func(o *storeOptions) {
		o.snapshotVersion = v
	})
}

type queryOptions struct {
	log             *slog.Logger
	codec           codec.Codec
	metrics         Metrics
	name            string
	viewID          ViewIDMapper
	conflictRetries int
}

func defaultQueryOptions() queryOptions {
	return queryOptions{
		log:             slog.Default(),
		codec:           codec.Default,
		metrics:         NopMetrics(),
		viewID:          ViewPerAggregate,
		conflictRetries: 5,
	}
}

// QueryOption configures generic query projections.
type QueryOption interface {
	applyToQuery(*queryOptions)
}

type queryOptionFunc func(*queryOptions)

func (f queryOptionFunc) applyToQuery(o *queryOptions) { f(o) }

func WithQueryLog(log *slog.Logger) QueryOption {
	return queryOptionFunc(func(o *queryOptions) {
		if log != nil {
			o.log = log
		}
	})
}

// WithQueryCodec sets the codec cached views are serialized with.
func WithQueryCodec(c codec.Codec) QueryOption {
	return queryOptionFunc(func(o *queryOptions) {
		if c != nil {
			o.codec = c
		}
	})
}

func WithQueryMetrics(m Metrics) QueryOption {
	return queryOptionFunc(func(o *queryOptions) {
		if m != nil {
			o.metrics = m
		}
	})
}

// WithQueryName overrides the query name used in logs and metrics.
func WithQueryName(name string) QueryOption {
	return queryOptionFunc(func(o *queryOptions) {
		if name != "" {
			o.name = name
		}
	})
}

// WithViewIDMapper controls which view instance an aggregate's events are
// folded into. The default maps each aggregate to its own view.
func WithViewIDMapper(m ViewIDMapper) QueryOption {
	return queryOptionFunc(func(o *queryOptions) {
		if m != nil {
			o.viewID = m
		}
	})
}

// WithConflictRetries bounds how often a projection reloads and refolds
// after a concurrent view update.
func WithConflictRetries(n int) QueryOption {
	return queryOptionFunc(func(o *queryOptions) {
		if n > 0 {
			o.conflictRetries = n
		}
	})
}
