package cqrs

import (
	"context"
	"reflect"
)

// Aggregate is a domain entity rebuilt from its event stream. Implementations
// are plain structs; Apply mutates state, Handle validates commands and
// returns the resulting events without mutating state.
type Aggregate interface {
	// AggregateType names the stream family, e.g. "account".
	AggregateType() string
	// Apply folds a single event into the aggregate state. It must not fail
	// for events the aggregate itself emitted.
	Apply(event any) error
	// Handle validates a command against current state and returns zero or
	// more events to commit. Domain rejections are returned as *UserError.
	Handle(ctx context.Context, command any) ([]any, error)
}

// newAggregate instantiates a fresh zero-state aggregate. A may be a pointer
// type; the pointee is allocated.
func newAggregate[A Aggregate]() A {
	var a A
	rt := reflect.TypeOf(a)
	if rt != nil && rt.Kind() == reflect.Ptr {
		return reflect.New(rt.Elem()).Interface().(A)
	}
	return a
}

// AggregateTypeOf returns the stream family name of aggregate type A.
func AggregateTypeOf[A Aggregate]() string {
	return newAggregate[A]().AggregateType()
}
