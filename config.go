package clickstream

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/birdayz/clickstream/internal/execution"
	"github.com/birdayz/clickstream/kio"
	"github.com/birdayz/clickstream/kprocessor"
	"github.com/birdayz/clickstream/operators"
)

// Config enumerates every recognized option. The koanf tags are the flag,
// file and environment names used by the binaries.
type Config struct {
	Brokers     []string `koanf:"brokers"`
	InputTopic  string   `koanf:"input-topic"`
	OutputTopic string   `koanf:"output-topic"`
	Partition   int32    `koanf:"partition"`

	// SessionLengthMs is the inactivity gap, in milliseconds, that closes a
	// session.
	SessionLengthMs int64 `koanf:"session-length"`

	// Start is one of earliest, latest or resume.
	Start string `koanf:"start"`
	// CheckpointPath is where the read position is saved on shutdown.
	// Required to resume.
	CheckpointPath string `koanf:"checkpoint"`

	// Combine is the aggregator's combine operator: sum, min, max or product.
	Combine string `koanf:"combine"`

	// StateBound caps the number of keys held in state. Zero is unbounded.
	StateBound int `koanf:"state-bound"`

	// OnTransportError is fail or skip. The sessionizer always fails.
	OnTransportError string `koanf:"on-transport-error"`

	RecordProcessTimeout time.Duration `koanf:"record-timeout"`
	FlushTimeout         time.Duration `koanf:"flush-timeout"`
	ShutdownTimeout      time.Duration `koanf:"shutdown-timeout"`

	// MetricsAddr serves /metrics when set, e.g. ":9100".
	MetricsAddr string `koanf:"metrics-addr"`
}

// DefaultConfig returns the sessionizer defaults.
func DefaultConfig() Config {
	return Config{
		Brokers:              []string{"localhost:9092"},
		InputTopic:           "clicks",
		OutputTopic:          "sessionized_clicks",
		SessionLengthMs:      5000,
		Start:                string(kio.PolicyEarliest),
		Combine:              "sum",
		OnTransportError:     "fail",
		RecordProcessTimeout: execution.DefaultRecordProcessTimeout,
		FlushTimeout:         execution.DefaultFlushTimeout,
		ShutdownTimeout:      execution.DefaultShutdownTimeout,
	}
}

// DefaultAggregatorConfig returns the aggregator defaults.
func DefaultAggregatorConfig() Config {
	c := DefaultConfig()
	c.InputTopic = "javaproducer-locations"
	c.OutputTopic = "javaproducer-aggregate-sales"
	return c
}

// Validate reports the first invalid option as a *kprocessor.ConfigurationError.
func (c Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return &kprocessor.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	switch {
	case c.InputTopic == "":
		return invalid("input-topic", "must not be empty")
	case c.OutputTopic == "":
		return invalid("output-topic", "must not be empty")
	case c.Partition < 0:
		return invalid("partition", "must not be negative, got %d", c.Partition)
	case c.SessionLengthMs < 0:
		return invalid("session-length", "must not be negative, got %d", c.SessionLengthMs)
	case c.StateBound < 0:
		return invalid("state-bound", "must not be negative, got %d", c.StateBound)
	case !slices.Contains(operators.CombineNames(), c.Combine):
		return invalid("combine", "unknown combine operator %q, want one of %v", c.Combine, operators.CombineNames())
	case c.OnTransportError != "fail" && c.OnTransportError != "skip":
		return invalid("on-transport-error", "want fail or skip, got %q", c.OnTransportError)
	case c.RecordProcessTimeout < 0 || c.FlushTimeout < 0 || c.ShutdownTimeout < 0:
		return invalid("timeout", "must not be negative")
	}

	policy, err := kio.ParseStartPolicy(c.Start)
	if err != nil {
		return err
	}
	if policy == kio.PolicyResume && c.CheckpointPath == "" {
		return invalid("checkpoint", "required when start is resume")
	}
	return nil
}

// Option is a function that configures an App
type Option func(*App)

// WithConfig replaces the configuration. It is validated by the constructor.
var WithConfig = func(cfg Config) Option {
	return func(a *App) {
		a.cfg = cfg
	}
}

// WithLog sets the logger for the application
var WithLog = func(log *slog.Logger) Option {
	return func(a *App) {
		a.log = log
	}
}

// WithRegistry sets the registry metrics are registered with and served
// from. Defaults to a fresh registry per App.
var WithRegistry = func(reg *prometheus.Registry) Option {
	return func(a *App) {
		a.registry = reg
	}
}

// ErrorRecovery determines how to handle a processing error
type ErrorRecovery = execution.ErrorRecovery

const (
	RecoveryFail = execution.RecoveryFail
	RecoverySkip = execution.RecoverySkip
)

// ErrorHandler is called when a record processing error occurs
type ErrorHandler = execution.ErrorHandler

// ProcessingError is returned by Run when a record fails fatally.
type ProcessingError = execution.ProcessingError

// WithErrorHandler sets a custom error handler for processing failures.
// It takes precedence over Config.OnTransportError.
var WithErrorHandler = func(handler ErrorHandler) Option {
	return func(a *App) {
		a.errorHandler = handler
	}
}

// NullWriter is a writer that discards all data
type NullWriter struct{}

func (NullWriter) Write(p []byte) (int, error) { return len(p), nil }

// NullLogger creates a logger that discards all output
func NullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(NullWriter{}, nil))
}
