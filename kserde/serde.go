// Package kserde converts keys and values to and from their wire bytes.
package kserde

// Serde pairs the two directions of one wire format.
type Serde[T any] struct {
	Serializer   Serializer[T]
	Deserializer Deserializer[T]
}

type Serializer[T any] func(T) ([]byte, error)

type Deserializer[T any] func([]byte) (T, error)
