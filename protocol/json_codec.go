package protocol

import "encoding/json"

// JSONCodec is the default wire codec: one JSON document per frame.
type JSONCodec struct{}

// Name reports "json".
func (JSONCodec) Name() string { return "json" }

// Marshal encodes v as a JSON frame.
func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes a JSON frame into v.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Binary reports false; JSON frames travel as text.
func (JSONCodec) Binary() bool { return false }
