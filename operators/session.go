package operators

import (
	"context"

	"github.com/birdayz/clickstream/kprocessor"
	"github.com/birdayz/clickstream/kstate"
)

// SessionState is the per-key sessionization state.
type SessionState struct {
	LastTimestamp int64 `json:"last_timestamp"`
	SessionID     int64 `json:"session_id"`
}

// SessionAssigner computes session ids from inactivity gaps.
//
// Timestamps are trusted to arrive non-decreasing per key. A late event is
// compared against the stored LastTimestamp as-is: its negative gap never
// opens a session, and it moves LastTimestamp backwards, so the next event
// may open a session it otherwise would not have.
type SessionAssigner struct {
	// SessionLengthMs is the largest gap, in milliseconds, between two events
	// of the same session.
	SessionLengthMs int64
}

// Assign returns the state after an event at ts and the session id to stamp
// on it. hasPrior is false for the first event of a key.
func (a SessionAssigner) Assign(ts int64, prior SessionState, hasPrior bool) (SessionState, int64) {
	if !hasPrior {
		return SessionState{LastTimestamp: ts, SessionID: 0}, 0
	}
	id := prior.SessionID
	if ts-prior.LastTimestamp > a.SessionLengthMs {
		id++
	}
	return SessionState{LastTimestamp: ts, SessionID: id}, id
}

// SessionizerConfig configures NewSessionizer.
type SessionizerConfig[K comparable, V any] struct {
	// SessionLengthMs must not be negative. Zero opens a new session for
	// every event that is at least 1ms after its predecessor.
	SessionLengthMs int64

	// Stamp returns a copy of v carrying the session id. Required.
	Stamp func(v V, sessionID int64) V

	// Timestamp extracts the event time used for gap detection. Defaults to
	// the record timestamp.
	Timestamp func(kprocessor.Record[K, V]) int64

	// Store defaults to an unbounded in-memory store.
	Store kstate.StoreBuilder[K, SessionState]
}

// NewSessionizer returns an operator stamping every event with the session
// id of its key. Exactly one record is emitted per input.
func NewSessionizer[K comparable, V any](cfg SessionizerConfig[K, V]) kprocessor.OperatorBuilder[K, V, V] {
	return func() (kprocessor.Operator[K, V, V], error) {
		if cfg.SessionLengthMs < 0 {
			return nil, &kprocessor.ConfigurationError{Field: "session-length", Reason: "must not be negative"}
		}
		if cfg.Stamp == nil {
			return nil, &kprocessor.ConfigurationError{Field: "stamp", Reason: "missing session id stamp function"}
		}
		timestamp := cfg.Timestamp
		if timestamp == nil {
			timestamp = func(r kprocessor.Record[K, V]) int64 { return r.Timestamp }
		}
		build := cfg.Store
		if build == nil {
			build = kstate.InMemory[K, SessionState]()
		}
		store, err := build()
		if err != nil {
			return nil, err
		}
		return &Sessionizer[K, V]{
			assigner:  SessionAssigner{SessionLengthMs: cfg.SessionLengthMs},
			stamp:     cfg.Stamp,
			timestamp: timestamp,
			store:     store,
		}, nil
	}
}

// Sessionizer is the operator built by NewSessionizer.
type Sessionizer[K comparable, V any] struct {
	assigner  SessionAssigner
	stamp     func(V, int64) V
	timestamp func(kprocessor.Record[K, V]) int64
	store     kstate.Store[K, SessionState]
}

func (s *Sessionizer[K, V]) Process(ctx context.Context, r kprocessor.Record[K, V]) ([]kprocessor.Record[K, V], error) {
	prior, ok := s.store.Get(r.Key)
	next, id := s.assigner.Assign(s.timestamp(r), prior, ok)
	s.store.Put(r.Key, next)
	return []kprocessor.Record[K, V]{kprocessor.WithValue(r, s.stamp(r.Value, id))}, nil
}

// Session returns the current state of key.
func (s *Sessionizer[K, V]) Session(key K) (SessionState, bool) {
	return s.store.Get(key)
}

// TransportErrorsFatal is always true: skipping a failed send would leave
// the output log without an event whose session the state already counts.
func (s *Sessionizer[K, V]) TransportErrorsFatal() bool { return true }

func (s *Sessionizer[K, V]) StateSize() int { return s.store.Len() }

func (s *Sessionizer[K, V]) Close() error {
	s.store = nil
	return nil
}
