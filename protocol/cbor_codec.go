package protocol

import "github.com/fxamacker/cbor/v2"

// CBORCodec is the optional binary wire codec, for orchestrators that
// prefer compact frames over readability.
type CBORCodec struct{}

// Name reports "cbor".
func (CBORCodec) Name() string { return "cbor" }

// Marshal encodes v as a CBOR frame.
func (CBORCodec) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

// Unmarshal decodes a CBOR frame into v.
func (CBORCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// Binary reports true; CBOR frames travel as binary messages.
func (CBORCodec) Binary() bool { return true }
