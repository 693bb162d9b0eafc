package transport

import (
	"encoding/json"
	"errors"
)

// Envelope is the wire format of every frame in both directions:
// {"event": <name>, "data": <payload>}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var errNoEvent = errors.New("envelope has no event name")

// EncodeEnvelope marshals an outbound frame. A nil payload produces an
// envelope with no data field.
func EncodeEnvelope(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses an inbound frame, rejecting frames without an event
// name.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, errNoEvent
	}
	return env, nil
}
