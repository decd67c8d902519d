package ipc

import "encoding/json"

// envelope is the JSON frame exchanged over the redis transport. Requests
// carry a correlation ID and, for invokes, the reply channel to publish the
// response on. Responses reuse the request's ID and set either Payload or
// Error.
type envelope struct {
	ID      string          `json:"id"`
	Channel string          `json:"channel"`
	ReplyTo string          `json:"reply_to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// encodeEnvelope serializes an envelope for the wire.
func encodeEnvelope(env *envelope) ([]byte, error) {
	return json.Marshal(env)
}

// decodeEnvelope parses a wire frame back into an envelope.
func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// encodePayload serializes an arbitrary payload into the envelope's raw
// form. A nil payload encodes as absent.
func encodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// decodePayload deserializes a raw payload into its generic form
// (maps, slices, strings, float64 numbers). Absent payloads decode to nil.
func decodePayload(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
