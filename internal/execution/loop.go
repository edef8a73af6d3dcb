package execution

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/birdayz/clickstream/internal/checkpoint"
	"github.com/birdayz/clickstream/internal/metrics"
	"github.com/birdayz/clickstream/kio"
	"github.com/birdayz/clickstream/kprocessor"
	"github.com/birdayz/clickstream/kserde"
)

type LoopState string

const (
	StateCreated  LoopState = "CREATED"
	StateRunning  LoopState = "RUNNING"
	StateDraining LoopState = "DRAINING"
	StateStopped  LoopState = "STOPPED"
)

const (
	DefaultRecordProcessTimeout = 30 * time.Second
	DefaultFlushTimeout         = 30 * time.Second
	DefaultShutdownTimeout      = 30 * time.Second
)

// ErrShutdownTimeout is returned when graceful shutdown exceeds the timeout
var ErrShutdownTimeout = errors.New("loop shutdown timed out")

// LoopConfig configures a Loop. Source, Sink, Operator and all four serdes
// are required.
type LoopConfig[K, Vin, Vout any] struct {
	// Name labels logs and metrics, e.g. "sessionizer".
	Name string

	// Topic and Partition identify the input in the checkpoint.
	Topic     string
	Partition int32

	Source kio.Source
	Sink   kio.Sink

	Start kio.StartPolicy
	// Checkpoint is written on drain when set. Required for kio.PolicyResume.
	Checkpoint *checkpoint.File

	Operator kprocessor.OperatorBuilder[K, Vin, Vout]

	KeyDeserializer   kserde.Deserializer[K]
	ValueDeserializer kserde.Deserializer[Vin]
	KeySerializer     kserde.Serializer[K]
	ValueSerializer   kserde.Serializer[Vout]

	// ErrorHandler defaults to DefaultErrorHandler.
	ErrorHandler ErrorHandler

	Metrics *metrics.Operator
	Log     *slog.Logger

	RecordProcessTimeout time.Duration
	FlushTimeout         time.Duration
	ShutdownTimeout      time.Duration
}

// Loop drives one operator over one input partition.
//
// State transitions may only be done from within Run.
type Loop[K, Vin, Vout any] struct {
	cfg LoopConfig[K, Vin, Vout]
	log *slog.Logger

	state atomic.Value

	operator kprocessor.Operator[K, Vin, Vout]
	cursor   kio.Cursor

	// position is the offset following the last record that was fully
	// handled, processed or skipped.
	position    int64
	hasPosition bool

	// startMu orders Run's start against Close: a Close that returns
	// before Run started guarantees Run processes nothing.
	startMu        sync.Mutex
	started        bool
	closeRequested chan struct{}
	closeOnce      sync.Once
	stopped        chan struct{}

	err error
}

// NewLoop validates cfg and returns a loop in state CREATED.
func NewLoop[K, Vin, Vout any](cfg LoopConfig[K, Vin, Vout]) (*Loop[K, Vin, Vout], error) {
	switch {
	case cfg.Source == nil:
		return nil, &kprocessor.ConfigurationError{Field: "source", Reason: "missing"}
	case cfg.Sink == nil:
		return nil, &kprocessor.ConfigurationError{Field: "sink", Reason: "missing"}
	case cfg.Operator == nil:
		return nil, &kprocessor.ConfigurationError{Field: "operator", Reason: "missing"}
	case cfg.KeyDeserializer == nil || cfg.ValueDeserializer == nil:
		return nil, &kprocessor.ConfigurationError{Field: "deserializer", Reason: "missing key or value deserializer"}
	case cfg.KeySerializer == nil || cfg.ValueSerializer == nil:
		return nil, &kprocessor.ConfigurationError{Field: "serializer", Reason: "missing key or value serializer"}
	}

	if cfg.Start == "" {
		cfg.Start = kio.PolicyEarliest
	}
	if _, err := kio.ParseStartPolicy(string(cfg.Start)); err != nil {
		return nil, err
	}
	if cfg.Start == kio.PolicyResume && cfg.Checkpoint == nil {
		return nil, &kprocessor.ConfigurationError{Field: "checkpoint", Reason: "required to resume"}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler()
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(discard{}, nil))
	}
	if cfg.RecordProcessTimeout <= 0 {
		cfg.RecordProcessTimeout = DefaultRecordProcessTimeout
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "loop"
	}

	l := &Loop[K, Vin, Vout]{
		cfg:            cfg,
		log:            cfg.Log.With("operator", cfg.Name, "topic", cfg.Topic, "partition", cfg.Partition),
		closeRequested: make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	l.state.Store(StateCreated)
	return l, nil
}

// State returns the current state. Safe to call from any goroutine.
func (l *Loop[K, Vin, Vout]) State() LoopState {
	return l.state.Load().(LoopState)
}

// Position returns the offset the next run should resume from, and false if
// no record was handled yet. It must only be called after Run returned.
func (l *Loop[K, Vin, Vout]) Position() (int64, bool) {
	return l.position, l.hasPosition
}

func (l *Loop[K, Vin, Vout]) changeState(newState LoopState) {
	l.log.Info("Change state", "from", l.State(), "to", newState)
	l.state.Store(newState)
}

// Run processes records until ctx is done, Close is called or a record
// fails fatally. It returns nil after a clean shutdown. Run may only be
// called once.
func (l *Loop[K, Vin, Vout]) Run(ctx context.Context) error {
	l.startMu.Lock()
	if l.started {
		l.startMu.Unlock()
		return errors.New("loop already started")
	}
	l.started = true
	l.startMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	select {
	case <-l.closeRequested:
		cancel()
	default:
	}
	go func() {
		select {
		case <-l.closeRequested:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for {
		switch l.State() {
		case StateCreated:
			l.handleCreated(runCtx)
		case StateRunning:
			l.handleRunning(runCtx)
		case StateDraining:
			l.handleDraining()
		case StateStopped:
			l.handleStopped()
			return l.err
		}
	}
}

// Close requests shutdown and waits until the loop is stopped. The record in
// flight, if any, is completed first. Called before Run, it returns at once
// and a later Run stops without opening the source.
func (l *Loop[K, Vin, Vout]) Close() error {
	l.startMu.Lock()
	l.closeOnce.Do(func() {
		close(l.closeRequested)
	})
	started := l.started
	l.startMu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-l.stopped:
		return nil
	case <-time.After(l.cfg.ShutdownTimeout):
		l.log.Error("Shutdown timeout exceeded", "timeout", l.cfg.ShutdownTimeout)
		return ErrShutdownTimeout
	}
}

func (l *Loop[K, Vin, Vout]) fail(err error, stage ProcessingStage, offset int64) {
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
		err = se.err
	}
	l.err = &ProcessingError{
		Cause:     err,
		Stage:     stage,
		Operator:  l.cfg.Name,
		Topic:     l.cfg.Topic,
		Partition: l.cfg.Partition,
		Offset:    offset,
	}
}

func (l *Loop[K, Vin, Vout]) advance(offset int64) {
	l.position = offset + 1
	l.hasPosition = true
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func transportFatal(op any) bool {
	ts, ok := op.(kprocessor.TransportSensitive)
	return ok && ts.TransportErrorsFatal()
}

func stateSize(op any) (int, bool) {
	s, ok := op.(kprocessor.StateSizer)
	if !ok {
		return 0, false
	}
	return s.StateSize(), true
}

func asTransport(op string, err error) error {
	if kprocessor.IsTransport(err) {
		return err
	}
	return &kprocessor.TransportError{Op: op, Err: err}
}
