// Package kio defines the log transport the stream loop consumes from and
// produces to. Adapters live in subpackages: memlog for an in-process log,
// kafka for a Kafka cluster.
package kio

import (
	"context"
	"fmt"

	"github.com/birdayz/clickstream/kprocessor"
)

// RawRecord is a record as it is stored in a log, before deserialization.
type RawRecord = kprocessor.Record[[]byte, []byte]

type StartKind int

const (
	StartEarliest StartKind = iota
	StartLatest
	StartAt
)

func (k StartKind) String() string {
	switch k {
	case StartEarliest:
		return "earliest"
	case StartLatest:
		return "latest"
	case StartAt:
		return "at"
	}
	return fmt.Sprintf("StartKind(%d)", int(k))
}

// StartPosition is where a cursor starts reading.
type StartPosition struct {
	Kind StartKind
	// Offset is the first offset returned, only used with StartAt.
	Offset int64
}

func Earliest() StartPosition { return StartPosition{Kind: StartEarliest} }

func Latest() StartPosition { return StartPosition{Kind: StartLatest} }

// At starts reading at offset, which is returned first.
func At(offset int64) StartPosition { return StartPosition{Kind: StartAt, Offset: offset} }

func (p StartPosition) String() string {
	if p.Kind == StartAt {
		return fmt.Sprintf("at(%d)", p.Offset)
	}
	return p.Kind.String()
}

// StartPolicy is the configured way of choosing a StartPosition.
type StartPolicy string

const (
	PolicyEarliest StartPolicy = "earliest"
	PolicyLatest   StartPolicy = "latest"
	// PolicyResume continues after the last position saved in a checkpoint,
	// falling back to earliest when nothing was saved.
	PolicyResume StartPolicy = "resume"
)

// ParseStartPolicy validates a configured start policy.
func ParseStartPolicy(s string) (StartPolicy, error) {
	switch p := StartPolicy(s); p {
	case PolicyEarliest, PolicyLatest, PolicyResume:
		return p, nil
	}
	return "", &kprocessor.ConfigurationError{
		Field:  "start",
		Reason: fmt.Sprintf("unknown start policy %q, want earliest, latest or resume", s),
	}
}

// Source opens read cursors on one partition of a log.
type Source interface {
	Open(ctx context.Context, start StartPosition) (Cursor, error)
}

// Cursor reads a partition in append order.
type Cursor interface {
	// Next blocks until a record is available. It returns ctx.Err() when
	// ctx is done before that, and a *kprocessor.TransportError when the
	// log fails.
	Next(ctx context.Context) (RawRecord, error)

	Close() error
}

// Sink appends records to a log. Sends may complete asynchronously; a
// failed delivery is reported by a later Send or by Flush.
type Sink interface {
	Send(ctx context.Context, record RawRecord) error

	// Flush blocks until every record sent so far is delivered or failed.
	Flush(ctx context.Context) error

	Close() error
}
