package execution

import (
	"context"
	"fmt"

	"github.com/birdayz/clickstream/kio"
	"github.com/birdayz/clickstream/kprocessor"
)

// ErrorRecovery determines how to handle a processing error
type ErrorRecovery int

const (
	// RecoveryFail stops the loop
	RecoveryFail ErrorRecovery = iota
	// RecoverySkip drops the record and continues with the next one
	RecoverySkip
)

func (r ErrorRecovery) String() string {
	switch r {
	case RecoveryFail:
		return "fail"
	case RecoverySkip:
		return "skip"
	}
	return fmt.Sprintf("ErrorRecovery(%d)", int(r))
}

// ErrorHandler is called when a record fails. It receives the error and the
// raw record that failed, and returns the desired recovery action.
//
// Operators implementing kprocessor.TransportSensitive override the handler
// for transport errors: those always stop the loop.
type ErrorHandler func(ctx context.Context, err error, record kio.RawRecord) ErrorRecovery

// DefaultErrorHandler skips malformed events and fails on everything else.
func DefaultErrorHandler() ErrorHandler {
	return func(ctx context.Context, err error, record kio.RawRecord) ErrorRecovery {
		if kprocessor.IsMalformed(err) {
			return RecoverySkip
		}
		return RecoveryFail
	}
}

// SkipTransportErrors skips malformed events and failed sends.
func SkipTransportErrors() ErrorHandler {
	return func(ctx context.Context, err error, record kio.RawRecord) ErrorRecovery {
		if kprocessor.IsMalformed(err) || kprocessor.IsTransport(err) {
			return RecoverySkip
		}
		return RecoveryFail
	}
}

// ProcessingStage indicates where in the loop an error occurred
type ProcessingStage string

const (
	StageOpen            ProcessingStage = "open"
	StageFetch           ProcessingStage = "fetch"
	StageDeserialization ProcessingStage = "deserialization"
	StageProcessing      ProcessingStage = "processing"
	StageSerialization   ProcessingStage = "serialization"
	StageForward         ProcessingStage = "forward"
	StageFlush           ProcessingStage = "flush"
	StageCheckpoint      ProcessingStage = "checkpoint"
)

// ProcessingError wraps an error with source attribution.
type ProcessingError struct {
	Cause error

	Stage ProcessingStage

	// Operator is the name of the loop's operator
	Operator string

	Topic     string
	Partition int32
	// Offset is the offset of the failed record, or -1 for errors not tied
	// to a record.
	Offset int64
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s error in operator %q (topic=%s partition=%d offset=%d): %v",
		e.Stage, e.Operator, e.Topic, e.Partition, e.Offset, e.Cause)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// stageError tags an error with the stage it happened in until the loop
// attaches the record attribution.
type stageError struct {
	stage ProcessingStage
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

func atStage(stage ProcessingStage, err error) error {
	return &stageError{stage: stage, err: err}
}
