package cqrs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrMissingUpcaster is returned when a stored event is older than the
// current schema and no registered upcaster covers its version.
var ErrMissingUpcaster = errors.New("missing upcaster")

// UpcastFunc rewrites an event payload from one schema version to the next.
type UpcastFunc func(payload json.RawMessage) (json.RawMessage, error)

// EventUpcaster migrates stored events of one type from an older schema
// version range to a newer one.
type EventUpcaster interface {
	// Applies reports whether this upcaster handles eventType at version v.
	Applies(eventType string, v SemanticVersion) bool
	// Upcast rewrites the payload.
	Upcast(payload json.RawMessage) (json.RawMessage, error)
	// Target returns the event type and version the payload is rewritten to.
	Target() (string, SemanticVersion)
}

// SemanticVersionEventUpcaster upcasts events of one type whose version
// falls in [from, to) to version to. The event type may change as well,
// covering renames.
type SemanticVersionEventUpcaster struct {
	eventType string
	from      SemanticVersion
	to        SemanticVersion
	toType    string
	fn        UpcastFunc
}

// NewUpcaster builds an upcaster for eventType covering [from, to).
func NewUpcaster(eventType string, from, to SemanticVersion, fn UpcastFunc) *SemanticVersionEventUpcaster {
	return &SemanticVersionEventUpcaster{
		eventType: eventType,
		from:      from,
		to:        to,
		toType:    eventType,
		fn:        fn,
	}
}

// NewRenamingUpcaster builds an upcaster that also renames the event type.
func NewRenamingUpcaster(fromType, toType string, from, to SemanticVersion, fn UpcastFunc) *SemanticVersionEventUpcaster {
	return &SemanticVersionEventUpcaster{
		eventType: fromType,
		from:      from,
		to:        to,
		toType:    toType,
		fn:        fn,
	}
}

func (u *SemanticVersionEventUpcaster) Applies(eventType string, v SemanticVersion) bool {
	return eventType == u.eventType && !v.Less(u.from) && v.Less(u.to)
}

func (u *SemanticVersionEventUpcaster) Upcast(payload json.RawMessage) (json.RawMessage, error) {
	return u.fn(payload)
}

func (u *SemanticVersionEventUpcaster) Target() (string, SemanticVersion) {
	return u.toType, u.to
}

// UpcasterChain applies upcasters in ascending target-version order until a
// stored event reaches the current schema version.
type UpcasterChain struct {
	upcasters []EventUpcaster
}

func NewUpcasterChain(upcasters ...EventUpcaster) *UpcasterChain {
	sorted := make([]EventUpcaster, len(upcasters))
	copy(sorted, upcasters)
	sort.SliceStable(sorted, func(i, j int) bool {
		_, vi := sorted[i].Target()
		_, vj := sorted[j].Target()
		return vi.Less(vj)
	})
	return &UpcasterChain{upcasters: sorted}
}

// Upcast migrates rec to the current schema version. Records already at or
// above current are returned unchanged, so replaying migrated events is
// idempotent. A record that cannot reach current yields ErrMissingUpcaster.
func (c *UpcasterChain) Upcast(rec SerializedEvent, current SemanticVersion) (SerializedEvent, error) {
	for rec.EventVersion.Less(current) {
		next, applied, err := c.advance(rec)
		if err != nil {
			return rec, err
		}
		if !applied {
			return rec, WrapTechnical(
				fmt.Sprintf("event %q stuck at version %s, current is %s", rec.EventType, rec.EventVersion, current),
				ErrMissingUpcaster)
		}
		rec = next
	}
	return rec, nil
}

// advance applies the lowest-target upcaster covering rec, reporting whether
// one applied. Each application moves the record to its upcaster's target
// version, which is strictly above the record's, so repeated calls terminate.
func (c *UpcasterChain) advance(rec SerializedEvent) (SerializedEvent, bool, error) {
	for _, u := range c.upcasters {
		if !u.Applies(rec.EventType, rec.EventVersion) {
			continue
		}
		payload, err := u.Upcast(rec.Payload)
		if err != nil {
			return rec, false, WrapTechnical(
				fmt.Sprintf("upcast event %q from %s", rec.EventType, rec.EventVersion), err)
		}
		rec.Payload = payload
		rec.EventType, rec.EventVersion = u.Target()
		return rec, true, nil
	}
	return rec, false, nil
}

// Len reports the number of registered upcasters.
func (c *UpcasterChain) Len() int { return len(c.upcasters) }

// SnapshotType names the snapshot schema for an aggregate type; snapshot
// upcasters register under this name.
func SnapshotType(aggregateType string) string {
	return aggregateType + ".snapshot"
}
