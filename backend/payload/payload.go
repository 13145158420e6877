package payload

// Payload is a serialized value as produced by a converter.
type Payload []byte
