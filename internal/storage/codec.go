package storage

import (
	"encoding/json"
	"fmt"
)

// Codec converts an entity to and from its stored representation.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
	// Patch applies top-level field updates to an encoded record.
	Patch(data []byte, fields map[string]any) ([]byte, error)
}

// JSONCodec stores entities as JSON objects.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decoding record: %w", err)
	}
	return v, nil
}

func (JSONCodec[T]) Patch(data []byte, fields map[string]any) ([]byte, error) {
	return patchJSON(data, fields)
}

func patchJSON(data []byte, fields map[string]any) ([]byte, error) {
	var record map[string]json.RawMessage
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding record for patch: %w", err)
	}
	if record == nil {
		record = make(map[string]json.RawMessage, len(fields))
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding field %s: %w", k, err)
		}
		record[k] = raw
	}
	return json.Marshal(record)
}
