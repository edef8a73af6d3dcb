// Package clickstream runs keyed stateful operators over a log: a
// sessionizer that assigns page views to sessions per client IP, and an
// aggregator that keeps a running count and reduction per key.
package clickstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/birdayz/clickstream/internal/checkpoint"
	"github.com/birdayz/clickstream/internal/execution"
	"github.com/birdayz/clickstream/internal/metrics"
	"github.com/birdayz/clickstream/kio"
	"github.com/birdayz/clickstream/kprocessor"
	"github.com/birdayz/clickstream/kserde"
	"github.com/birdayz/clickstream/kstate"
	"github.com/birdayz/clickstream/operators"
)

type loop interface {
	Run(ctx context.Context) error
	Close() error
}

type App struct {
	cfg Config
	log *slog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	errorHandler ErrorHandler

	loop loop

	mu       sync.Mutex
	listener net.Listener
}

func newApp(defaults Config, opts []Option) (*App, error) {
	a := &App{
		cfg: defaults,
		log: NullLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	m, err := metrics.New(a.registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.metrics = m

	if a.errorHandler == nil {
		if a.cfg.OnTransportError == "skip" {
			a.errorHandler = execution.SkipTransportErrors()
		} else {
			a.errorHandler = execution.DefaultErrorHandler()
		}
	}
	return a, nil
}

// NewSessionizer creates an App sessionizing JSON page views keyed by IP.
func NewSessionizer(src kio.Source, sink kio.Sink, opts ...Option) (*App, error) {
	a, err := newApp(DefaultConfig(), opts)
	if err != nil {
		return nil, err
	}

	const name = "sessionizer"
	pv := kserde.JSON[operators.PageView]()
	l, err := execution.NewLoop(execution.LoopConfig[string, operators.PageView, operators.PageView]{
		Name:                 name,
		Topic:                a.cfg.InputTopic,
		Partition:            a.cfg.Partition,
		Source:               src,
		Sink:                 sink,
		Start:                kio.StartPolicy(a.cfg.Start),
		Checkpoint:           a.checkpoint(),
		Operator:             traced(a.log, operators.PageViewSessionizer(a.cfg.SessionLengthMs, stateStore[string, operators.SessionState](a, name))),
		KeyDeserializer:      kserde.NonEmptyString.Deserializer,
		ValueDeserializer:    pv.Deserializer,
		KeySerializer:        kserde.String.Serializer,
		ValueSerializer:      pv.Serializer,
		ErrorHandler:         a.errorHandler,
		Metrics:              a.metrics.Operator(name),
		Log:                  a.log.WithGroup("loop"),
		RecordProcessTimeout: a.cfg.RecordProcessTimeout,
		FlushTimeout:         a.cfg.FlushTimeout,
		ShutdownTimeout:      a.cfg.ShutdownTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.loop = l
	return a, nil
}

// AggregatorCodec describes the wire format of an aggregator's input.
type AggregatorCodec[K comparable, V any, N operators.Number] struct {
	Key   kserde.Serde[K]
	Value kserde.Deserializer[V]
	// Extract reads the number to aggregate from a decoded value.
	Extract func(V) (N, error)
}

// NewAggregator creates an App counting and reducing values per key with the
// configured combine operator. The state of every key is emitted as JSON
// after each event.
func NewAggregator[K comparable, V any, N operators.Number](src kio.Source, sink kio.Sink, codec AggregatorCodec[K, V, N], opts ...Option) (*App, error) {
	a, err := newApp(DefaultAggregatorConfig(), opts)
	if err != nil {
		return nil, err
	}

	combine, err := operators.CombineByName[N](a.cfg.Combine)
	if err != nil {
		return nil, err
	}

	const name = "aggregator"
	l, err := execution.NewLoop(execution.LoopConfig[K, V, operators.AggregateState[N]]{
		Name:       name,
		Topic:      a.cfg.InputTopic,
		Partition:  a.cfg.Partition,
		Source:     src,
		Sink:       sink,
		Start:      kio.StartPolicy(a.cfg.Start),
		Checkpoint: a.checkpoint(),
		Operator: traced(a.log, operators.NewAggregator(operators.AggregatorConfig[K, V, N]{
			Combine: combine,
			Extract: codec.Extract,
			Store:   stateStore[K, operators.AggregateState[N]](a, name),
		})),
		KeyDeserializer:      codec.Key.Deserializer,
		ValueDeserializer:    codec.Value,
		KeySerializer:        codec.Key.Serializer,
		ValueSerializer:      kserde.JSONSerializer[operators.AggregateState[N]](),
		ErrorHandler:         a.errorHandler,
		Metrics:              a.metrics.Operator(name),
		Log:                  a.log.WithGroup("loop"),
		RecordProcessTimeout: a.cfg.RecordProcessTimeout,
		FlushTimeout:         a.cfg.FlushTimeout,
		ShutdownTimeout:      a.cfg.ShutdownTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.loop = l
	return a, nil
}

func (a *App) checkpoint() *checkpoint.File {
	if a.cfg.CheckpointPath == "" {
		return nil
	}
	return checkpoint.NewFile(a.cfg.CheckpointPath)
}

// traced logs every decoded event at debug level before op sees it.
func traced[K, V, Vout any](log *slog.Logger, op kprocessor.OperatorBuilder[K, V, Vout]) kprocessor.OperatorBuilder[K, V, Vout] {
	return kprocessor.Then(kprocessor.Peek(func(k K, v V) {
		log.Debug("Event", "key", k, "value", v)
	}), op)
}

// stateStore returns nil, which selects the unbounded default, unless a
// state bound is configured.
func stateStore[K comparable, S any](a *App, operator string) kstate.StoreBuilder[K, S] {
	if a.cfg.StateBound == 0 {
		return nil
	}
	m := a.metrics.Operator(operator)
	return kstate.Bounded[K, S](a.cfg.StateBound, func(K, S) { m.Evicted() })
}

// Config returns the validated configuration.
func (a *App) Config() Config {
	return a.cfg
}

// Registry returns the registry metrics are registered with.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// MetricsAddr returns the address /metrics is served on once Run started
// it, or nil.
func (a *App) MetricsAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Run blocks until ctx is done, Close is called or the loop fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		defer cancel()
		return a.loop.Run(ctx)
	})

	if a.cfg.MetricsAddr != "" {
		lis, err := net.Listen("tcp", a.cfg.MetricsAddr)
		if err != nil {
			cancel()
			return errors.Join(fmt.Errorf("listen on metrics address: %w", err), grp.Wait())
		}
		a.mu.Lock()
		a.listener = lis
		a.mu.Unlock()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		grp.Go(func() error {
			if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		})
		grp.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		a.log.Info("Serving metrics", "addr", lis.Addr().String())
	}

	return grp.Wait()
}

// Close gracefully shuts down the application
func (a *App) Close() error {
	return a.loop.Close()
}
