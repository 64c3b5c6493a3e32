// Package codec is the serialization boundary for event, snapshot and view
// payloads. The persistence core treats payloads as opaque bytes; everything
// that marshals or unmarshals a payload goes through a Codec so the encoding
// can be swapped without touching store logic.
package codec

import "encoding/json"

type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes payloads as compact JSON.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

// Default is the codec used when none is configured.
var Default Codec = JSONCodec{}
