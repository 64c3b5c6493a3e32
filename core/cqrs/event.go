package cqrs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/parrrate/cqrs/internal/codec"
	"github.com/parrrate/cqrs/internal/reflector"
)

// ErrUnknownEventType is returned when a stored event type has no registered
// constructor.
var ErrUnknownEventType = errors.New("unknown event type")

// EventEnvelope carries a deserialized event together with its stream
// position and metadata. Query projections consume envelopes.
type EventEnvelope struct {
	AggregateType string
	AggregateID   string
	Sequence      uint64
	Event         any
	Metadata      Metadata
}

// TypedEvent lets an event override its storage type name. Events without it
// are named by their Go type.
type TypedEvent interface {
	EventType() string
}

// VersionedEvent lets an event declare its current schema version. Events
// without it default to 1.0.0.
type VersionedEvent interface {
	EventVersion() string
}

var defaultEventVersion = SemanticVersion{Major: 1}

// EventCtor produces a zero value of an event type, always as a pointer so
// payloads can be unmarshaled into it.
type EventCtor func() any

// Event builds a constructor for event type T.
func Event[T any]() EventCtor {
	return func() any {
		return new(T)
	}
}

func eventTypeOf(ev any) string {
	if te, ok := ev.(TypedEvent); ok {
		return te.EventType()
	}
	return reflector.TypeInfoOf(ev).Name
}

func eventVersionOf(ev any) (SemanticVersion, error) {
	ve, ok := ev.(VersionedEvent)
	if !ok {
		return defaultEventVersion, nil
	}
	v, err := ParseSemanticVersion(ve.EventVersion())
	if err != nil {
		return SemanticVersion{}, WrapTechnical(fmt.Sprintf("event %s declares invalid version", eventTypeOf(ev)), err)
	}
	return v, nil
}

type eventInfo struct {
	ctor    EventCtor
	current SemanticVersion
}

// EventRegistry maps stored event type names to constructors and current
// schema versions. Safe for concurrent use after registration.
type EventRegistry struct {
	mu    sync.RWMutex
	types map[string]eventInfo
	codec codec.Codec
}

func NewEventRegistry() *EventRegistry {
	return &EventRegistry{
		types: make(map[string]eventInfo),
		codec: codec.Default,
	}
}

// Register adds event constructors. The sample value produced by each ctor
// determines the stored type name and current version.
func (r *EventRegistry) Register(ctors ...EventCtor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ctor := range ctors {
		sample := ctor()
		name := eventTypeOf(sample)
		version, err := eventVersionOf(sample)
		if err != nil {
			return err
		}
		if _, ok := r.types[name]; ok {
			return fmt.Errorf("event type %q already registered", name)
		}
		r.types[name] = eventInfo{ctor: ctor, current: version}
	}
	return nil
}

// CurrentVersion reports the registered schema version for eventType.
func (r *EventRegistry) CurrentVersion(eventType string) (SemanticVersion, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.types[eventType]
	return info.current, ok
}

// Decode deserializes a stored event payload into its registered Go type.
// The returned value is a pointer to the event struct.
func (r *EventRegistry) Decode(rec SerializedEvent) (any, error) {
	r.mu.RLock()
	info, ok := r.types[rec.EventType]
	r.mu.RUnlock()
	if !ok {
		return nil, WrapTechnical(fmt.Sprintf("decode event %q", rec.EventType), ErrUnknownEventType)
	}
	ev := info.ctor()
	if err := r.codec.Unmarshal(rec.Payload, ev); err != nil {
		return nil, WrapTechnical(fmt.Sprintf("decode event %q at sequence %d", rec.EventType, rec.Sequence), err)
	}
	return ev, nil
}
