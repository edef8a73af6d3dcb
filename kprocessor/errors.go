package kprocessor

import (
	"errors"
	"fmt"
)

// TransportError is reported when the underlying log fails: the source
// cannot be read or the sink rejects a record. The loop never retries these.
type TransportError struct {
	// Op is the failing operation, e.g. "open", "next" or "send".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedEventError marks one event whose key or payload cannot be
// interpreted. The event is dropped and processing continues.
type MalformedEventError struct {
	Offset int64
	Err    error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event at offset %d: %v", e.Offset, e.Err)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

// Malformed wraps err as a MalformedEventError for the record at offset.
func Malformed(offset int64, err error) error {
	return &MalformedEventError{Offset: offset, Err: err}
}

// ConfigurationError is returned at startup, before any event is pulled,
// when an option is missing or out of range.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// IsMalformed reports whether err carries a MalformedEventError.
func IsMalformed(err error) bool {
	var m *MalformedEventError
	return errors.As(err, &m)
}

// IsTransport reports whether err carries a TransportError.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}
