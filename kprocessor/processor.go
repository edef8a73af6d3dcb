package kprocessor

import (
	"context"
)

// Operator is a stateful per-record transformation. Process looks up the
// state for record.Key, replaces it, and returns the records to emit (zero
// or more). Process is only ever called from a single goroutine.
//
// The returned error may wrap a MalformedEventError, in which case the
// event is dropped and the operator's state must be left untouched.
type Operator[Kin any, Vin any, Vout any] interface {
	Process(ctx context.Context, record Record[Kin, Vin]) ([]Record[Kin, Vout], error)

	// Close releases the operator and the state it owns.
	Close() error
}

// OperatorBuilder creates an operator together with its state. The loop
// calls it exactly once, while it is in the CREATED state.
type OperatorBuilder[Kin any, Vin any, Vout any] func() (Operator[Kin, Vin, Vout], error)

// TransportSensitive is implemented by operators whose state would
// desynchronize from the output log if a failed send were skipped. The loop
// treats every transport error of such an operator as fatal.
type TransportSensitive interface {
	TransportErrorsFatal() bool
}

// StateSizer is implemented by operators that can report the number of keys
// they currently hold state for.
type StateSizer interface {
	StateSize() int
}
