package domain

import "encoding/json"

// Payload is the opaque key-value mapping exchanged on every connection.
// Vehicles report arbitrary telemetry shapes, so no schema is imposed here;
// structured types are constructed only at the points that need guarantees.
type Payload map[string]any

// DecodePayload parses raw text into a payload. Text that is not a JSON
// object is wrapped under a "raw" key instead of being dropped, so telemetry
// is never silently lost to formatting drift. The second return reports
// whether structured decoding succeeded.
func DecodePayload(raw string) (Payload, bool) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p == nil {
		return Payload{"raw": raw}, false
	}
	return p, true
}

// EnsureKind tags the payload with a default message kind if absent.
func (p Payload) EnsureKind(kind string) {
	if _, ok := p["type"]; !ok {
		p["type"] = kind
	}
}

// Encode serializes the payload for transmission.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}
