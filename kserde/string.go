package kserde

import "errors"

// ErrEmptyString is returned by NonEmptyString for a missing key.
var ErrEmptyString = errors.New("string: empty")

var String = Serde[string]{
	Serializer:   func(data string) ([]byte, error) { return []byte(data), nil },
	Deserializer: func(data []byte) (string, error) { return string(data), nil },
}

// NonEmptyString is String, except that an empty or nil input is an error.
// Keyed operators use it so that unkeyed events are dropped rather than
// tracked under "".
var NonEmptyString = Serde[string]{
	Serializer: String.Serializer,
	Deserializer: func(data []byte) (string, error) {
		if len(data) == 0 {
			return "", ErrEmptyString
		}
		return string(data), nil
	},
}
