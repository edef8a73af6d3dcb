package kserde

import (
	"encoding/json"
	"fmt"
)

func JSONSerializer[T any]() Serializer[T] {
	return func(t T) ([]byte, error) {
		return json.Marshal(t)
	}
}

// JSONDeserializer rejects empty input instead of yielding a zero value, so
// tombstones and truncated payloads surface as errors.
func JSONDeserializer[T any]() Deserializer[T] {
	return func(b []byte) (T, error) {
		var deserialized T
		if len(b) == 0 {
			return deserialized, fmt.Errorf("json: empty payload")
		}
		if err := json.Unmarshal(b, &deserialized); err != nil {
			return *new(T), fmt.Errorf("json: %w", err)
		}
		return deserialized, nil
	}
}

func JSON[T any]() Serde[T] {
	return Serde[T]{
		Serializer:   JSONSerializer[T](),
		Deserializer: JSONDeserializer[T](),
	}
}
