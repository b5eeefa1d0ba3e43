package codec

import (
	"encoding/json"
)

// JSONCodec uses encoding/json. The wire protocol is JSON in both directions:
// the argument list travels as a JSON array in the query string and the
// backend answers with a JSON document.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode rejects malformed documents even when v is a *json.RawMessage.
func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Name() string {
	return "json"
}
