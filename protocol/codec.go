package protocol

import "fmt"

// Codec serializes wire messages to and from transport frames.
// Implementations handle the serialization format (JSON, CBOR); framing
// is the transport's concern.
type Codec interface {
	// Name reports the codec's configuration name.
	Name() string

	// Marshal encodes a message into one frame.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes one frame into a message.
	Unmarshal(data []byte, v any) error

	// Binary reports whether frames are binary rather than text.
	Binary() bool
}

// NewCodec creates a codec for the given configuration name.
// Supported formats: "json", "cbor".
func NewCodec(format string) (Codec, error) {
	switch format {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported codec format: %s", format)
	}
}
