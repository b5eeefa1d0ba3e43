package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Image is the JSON envelope the backend uses for binary resources.
// Data holds base64 (optionally as a data: URL).
type Image struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

var ErrNoImageData = errors.New("image payload has no data")

// EncodeImage builds the envelope for raw bytes.
func EncodeImage(name, mimeType string, raw []byte) Image {
	return Image{
		Data:     base64.StdEncoding.EncodeToString(raw),
		MimeType: mimeType,
		Name:     name,
	}
}

// DecodeImage parses a binary fetch reply and returns the envelope and its bytes.
func DecodeImage(reply json.RawMessage) (*Image, []byte, error) {
	var img Image
	if err := Default.Decode(reply, &img); err != nil {
		return nil, nil, fmt.Errorf("decode image envelope: %w", err)
	}
	data := img.Data
	if data == "" {
		return nil, nil, ErrNoImageData
	}
	// data:image/png;base64,....
	if strings.HasPrefix(data, "data:") {
		if i := strings.Index(data, ","); i >= 0 {
			if img.MimeType == "" {
				img.MimeType = strings.TrimSuffix(strings.TrimPrefix(data[:i], "data:"), ";base64")
			}
			data = data[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode image data: %w", err)
	}
	return &img, raw, nil
}
