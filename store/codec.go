package store

import (
	"encoding/json"

	"github.com/c360/streamview/errors"
)

// Codec converts between typed payloads and store bytes.
type Codec[T any] interface {
	// Name identifies the codec for diagnostics.
	Name() string

	// Marshal encodes a payload for storage.
	Marshal(value T) ([]byte, error)

	// Unmarshal decodes a stored payload, optionally into a caller-supplied
	// instance (pool-backed deserialization). into may be the zero value.
	Unmarshal(data []byte, into T) (T, error)
}

// JSONCodec encodes payloads as JSON. The engine default for structured
// payload types.
type JSONCodec[T any] struct{}

// Name identifies the codec.
func (JSONCodec[T]) Name() string { return "json" }

// Marshal encodes value as JSON.
func (JSONCodec[T]) Marshal(value T) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.WrapInvalid(err, "JSONCodec", "Marshal", "payload encoding")
	}
	return data, nil
}

// Unmarshal decodes JSON. The into parameter is ignored: JSON payloads
// are value types without pooled backing.
func (JSONCodec[T]) Unmarshal(data []byte, _ T) (T, error) {
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return value, errors.WrapFatal(errors.ErrCorruptRecord, "JSONCodec", "Unmarshal", "payload decoding")
	}
	return value, nil
}

// RawCodec passes payload bytes through unchanged.
type RawCodec struct{}

// Name identifies the codec.
func (RawCodec) Name() string { return "raw" }

// Marshal returns the bytes unchanged.
func (RawCodec) Marshal(value []byte) ([]byte, error) { return value, nil }

// Unmarshal copies the record bytes into the supplied buffer when one is
// provided (pooled reads), otherwise returns a fresh copy.
func (RawCodec) Unmarshal(data []byte, into []byte) ([]byte, error) {
	if cap(into) >= len(data) {
		into = into[:len(data)]
		copy(into, data)
		return into, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
