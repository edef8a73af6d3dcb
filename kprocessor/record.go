package kprocessor

// Record is one keyed event read from, or written to, a log.
type Record[K, V any] struct {
	Key   K
	Value V

	// Timestamp is the producer-side wall clock in epoch milliseconds.
	Timestamp int64

	Metadata RecordMetadata
}

// RecordMetadata locates a record in its log. Output records produced by
// operators carry the metadata of the input record they were derived from.
type RecordMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
	Headers   *Headers
}

// WithValue returns a copy of r carrying v instead of r.Value.
func WithValue[K, Vin, Vout any](r Record[K, Vin], v Vout) Record[K, Vout] {
	return Record[K, Vout]{
		Key:       r.Key,
		Value:     v,
		Timestamp: r.Timestamp,
		Metadata:  r.Metadata,
	}
}

// Headers provides access to record headers.
//
// Headers is not safe for concurrent use. Each record is handled by exactly
// one loop goroutine.
type Headers struct {
	headers []RecordHeader
}

// RecordHeader represents a single header key-value pair
type RecordHeader struct {
	Key   string
	Value []byte
}

// NewHeaders creates a new Headers instance
func NewHeaders() *Headers {
	return &Headers{
		headers: make([]RecordHeader, 0),
	}
}

// Get retrieves the first header value for the given key
func (h *Headers) Get(key string) ([]byte, bool) {
	if h == nil {
		return nil, false
	}
	for _, header := range h.headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}

// Add appends a header value without removing existing values for the key
func (h *Headers) Add(key string, value []byte) {
	h.headers = append(h.headers, RecordHeader{Key: key, Value: value})
}

// All returns a copy of all headers
func (h *Headers) All() []RecordHeader {
	if h == nil {
		return nil
	}
	result := make([]RecordHeader, len(h.headers))
	copy(result, h.headers)
	return result
}

// Len returns the number of headers
func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.headers)
}
