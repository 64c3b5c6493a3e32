package cqrs

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Metadata travels with every committed event, carrying caller-supplied
// context such as request or correlation ids.
type Metadata map[string]string

func (m Metadata) clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SerializedEvent is the storage representation of a single domain event.
// Sequence starts at 1 and is gapless within an aggregate stream.
type SerializedEvent struct {
	EventID       string          `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Sequence      uint64          `json:"sequence"`
	EventType     string          `json:"event_type"`
	EventVersion  SemanticVersion `json:"event_version"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      Metadata        `json:"metadata,omitempty"`
}

func (e *SerializedEvent) Validate() error {
	switch {
	case e.AggregateType == "":
		return NewTechnicalError("serialized event: empty aggregate type")
	case e.AggregateID == "":
		return NewTechnicalError("serialized event: empty aggregate id")
	case e.Sequence == 0:
		return NewTechnicalError("serialized event: sequence must start at 1")
	case e.EventType == "":
		return NewTechnicalError("serialized event: empty event type")
	}
	return nil
}

// SerializedSnapshot is the storage representation of an aggregate snapshot
// taken at CurrentSequence.
type SerializedSnapshot struct {
	AggregateType   string          `json:"aggregate_type"`
	AggregateID     string          `json:"aggregate_id"`
	CurrentSequence uint64          `json:"current_sequence"`
	SnapshotVersion SemanticVersion `json:"snapshot_version"`
	Payload         json.RawMessage `json:"payload"`
	Checksum        string          `json:"checksum,omitempty"`
}

func (s *SerializedSnapshot) Validate() error {
	switch {
	case s.AggregateType == "":
		return NewTechnicalError("serialized snapshot: empty aggregate type")
	case s.AggregateID == "":
		return NewTechnicalError("serialized snapshot: empty aggregate id")
	case s.CurrentSequence == 0:
		return NewTechnicalError("serialized snapshot: sequence must be at least 1")
	}
	return nil
}

// PayloadChecksum returns a hex-encoded blake2b-256 digest of data.
func PayloadChecksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum checks the snapshot payload against its recorded checksum.
// Snapshots without a checksum pass.
func (s *SerializedSnapshot) VerifyChecksum() error {
	if s.Checksum == "" {
		return nil
	}
	if got := PayloadChecksum(s.Payload); got != s.Checksum {
		return WrapTechnical("snapshot checksum mismatch",
			fmt.Errorf("aggregate %s/%s at sequence %d", s.AggregateType, s.AggregateID, s.CurrentSequence))
	}
	return nil
}
