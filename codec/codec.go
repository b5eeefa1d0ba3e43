// Package codec encodes call arguments for the wire and decodes backend replies.
package codec

// Codec converts between Go values and wire bytes.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Name() string
}

// Default is the codec used when none is configured.
var Default Codec = &JSONCodec{}
