package domain

import (
	"bytes"
	"encoding/json"
)

// Payload wraps an opaque JSON snapshot, such as a prediction result, that the
// store persists without interpreting. Callers decode it into typed structures
// as needed.
type Payload struct {
	defined bool
	raw     json.RawMessage
}

// NewPayload builds a payload from raw JSON. The bytes are cloned so callers
// cannot mutate stored state. A nil slice yields a defined but empty payload.
func NewPayload(raw json.RawMessage) Payload {
	payload := Payload{defined: true}
	if raw != nil {
		payload.raw = cloneRawMessage(raw)
	}
	return payload
}

// NewPayloadFromValue marshals a typed value into a Payload.
func NewPayloadFromValue[T any](value T) (Payload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Payload{}, err
	}
	return NewPayload(raw), nil
}

// Defined reports whether the payload has been initialized.
func (p Payload) Defined() bool {
	return p.defined
}

// IsEmpty reports whether the payload contains no bytes.
func (p Payload) IsEmpty() bool {
	return !p.defined || len(p.raw) == 0
}

// Raw returns a copy of the underlying JSON bytes, or nil when empty.
func (p Payload) Raw() json.RawMessage {
	if p.IsEmpty() {
		return nil
	}
	return cloneRawMessage(p.raw)
}

// Decode unmarshals the payload into dst.
func (p Payload) Decode(dst any) error {
	if p.IsEmpty() {
		return json.Unmarshal([]byte("null"), dst)
	}
	return json.Unmarshal(p.raw, dst)
}

// PredictionResult decodes the payload as a prediction result.
func (p Payload) PredictionResult() (PredictionResult, error) {
	var out PredictionResult
	err := p.Decode(&out)
	return out, err
}

// MarshalJSON emits the stored bytes verbatim; an empty payload encodes as null.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.IsEmpty() {
		return []byte("null"), nil
	}
	return cloneRawMessage(p.raw), nil
}

// UnmarshalJSON keeps the raw bytes untouched.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = Payload{defined: true}
		return nil
	}
	*p = NewPayload(data)
	return nil
}

func cloneRawMessage(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	cloned := make(json.RawMessage, len(raw))
	copy(cloned, raw)
	return cloned
}
