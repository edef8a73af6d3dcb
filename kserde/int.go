package kserde

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Int64Serializer serializes int64 to big-endian bytes
var Int64Serializer = func(data int64) ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(data))
	return buf, nil
}

// Int64Deserializer deserializes big-endian bytes to int64
var Int64Deserializer = func(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("int64 deserialization requires exactly 8 bytes, got %d", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

// Int64 is a Serde for int64 values in the 8-byte big-endian layout used by
// Kafka's LongSerializer.
var Int64 = Serde[int64]{
	Serializer:   Int64Serializer,
	Deserializer: Int64Deserializer,
}

// DecimalInt64 is a Serde for int64 values written as base-10 text, which
// is what console producers emit.
var DecimalInt64 = Serde[int64]{
	Serializer: func(data int64) ([]byte, error) {
		return strconv.AppendInt(nil, data, 10), nil
	},
	Deserializer: func(data []byte) (int64, error) {
		v, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("decimal int64: %w", err)
		}
		return v, nil
	},
}
