package converter

import (
	"encoding/json"

	"github.com/go-durable/durable/backend/payload"
)

// Converter encodes workflow inputs, step outputs, event values and messages for storage.
type Converter interface {
	To(v any) (payload.Payload, error)

	// From decodes data into the value vptr points to
	From(data payload.Payload, vptr any) error
}

// DefaultConverter stores values as JSON.
var DefaultConverter Converter = jsonConverter{}

// Decode decodes p into a T. An empty payload is the zero value, steps and workflows returning only
// an error store no output.
func Decode[T any](c Converter, p payload.Payload) (T, error) {
	var v T
	if len(p) == 0 {
		return v, nil
	}

	err := c.From(p, &v)
	return v, err
}

type jsonConverter struct{}

func (jsonConverter) To(v any) (payload.Payload, error) {
	return json.Marshal(v)
}

func (jsonConverter) From(data payload.Payload, vptr any) error {
	return json.Unmarshal(data, vptr)
}
