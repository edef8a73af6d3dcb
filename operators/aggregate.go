package operators

import (
	"context"

	"github.com/birdayz/clickstream/kprocessor"
	"github.com/birdayz/clickstream/kstate"
)

// AggregateState is the per-key aggregation state: how many events were seen
// and the left fold of their values.
type AggregateState[N any] struct {
	Count   int64 `json:"count"`
	Reduced N     `json:"reduced"`
}

// KeyedAggregator holds the combine operator of one aggregation.
type KeyedAggregator[N any] struct {
	Combine Combine[N]
}

// Count increments the event count, starting from 0 when there is no prior
// state. Reduced is carried over unchanged.
func (KeyedAggregator[N]) Count(prior AggregateState[N], hasPrior bool) AggregateState[N] {
	if !hasPrior {
		prior = AggregateState[N]{}
	}
	prior.Count++
	return prior
}

// Reduce folds value into the prior reduction. The first value of a key
// becomes the reduction as-is. Count is carried over unchanged.
func (a KeyedAggregator[N]) Reduce(value N, prior AggregateState[N], hasPrior bool) AggregateState[N] {
	if !hasPrior {
		return AggregateState[N]{Count: prior.Count, Reduced: value}
	}
	prior.Reduced = a.Combine(prior.Reduced, value)
	return prior
}

// AggregatorConfig configures NewAggregator.
type AggregatorConfig[K comparable, V any, N any] struct {
	// Combine is required.
	Combine Combine[N]

	// Extract reads the value to fold from an event payload. An error marks
	// the event as malformed and leaves the state untouched. Required.
	Extract func(V) (N, error)

	// Store defaults to an unbounded in-memory store.
	Store kstate.StoreBuilder[K, AggregateState[N]]
}

// Identity is the Extract function for payloads that are the value itself.
func Identity[N any](v N) (N, error) { return v, nil }

// NewAggregator returns an operator maintaining a running count and a
// running reduction per key. After every event it emits the key's new state.
func NewAggregator[K comparable, V any, N any](cfg AggregatorConfig[K, V, N]) kprocessor.OperatorBuilder[K, V, AggregateState[N]] {
	return func() (kprocessor.Operator[K, V, AggregateState[N]], error) {
		if cfg.Combine == nil {
			return nil, &kprocessor.ConfigurationError{Field: "combine", Reason: "missing combine operator"}
		}
		if cfg.Extract == nil {
			return nil, &kprocessor.ConfigurationError{Field: "extract", Reason: "missing value extractor"}
		}
		build := cfg.Store
		if build == nil {
			build = kstate.InMemory[K, AggregateState[N]]()
		}
		store, err := build()
		if err != nil {
			return nil, err
		}
		return &Aggregator[K, V, N]{
			agg:     KeyedAggregator[N]{Combine: cfg.Combine},
			extract: cfg.Extract,
			store:   store,
		}, nil
	}
}

// Aggregator is the operator built by NewAggregator.
type Aggregator[K comparable, V any, N any] struct {
	agg     KeyedAggregator[N]
	extract func(V) (N, error)
	store   kstate.Store[K, AggregateState[N]]
}

func (a *Aggregator[K, V, N]) Process(ctx context.Context, r kprocessor.Record[K, V]) ([]kprocessor.Record[K, AggregateState[N]], error) {
	value, err := a.extract(r.Value)
	if err != nil {
		return nil, kprocessor.Malformed(r.Metadata.Offset, err)
	}

	prior, ok := a.store.Get(r.Key)
	next := a.agg.Reduce(value, a.agg.Count(prior, ok), ok)
	a.store.Put(r.Key, next)

	return []kprocessor.Record[K, AggregateState[N]]{kprocessor.WithValue(r, next)}, nil
}

// State returns the current aggregate of key.
func (a *Aggregator[K, V, N]) State(key K) (AggregateState[N], bool) {
	return a.store.Get(key)
}

func (a *Aggregator[K, V, N]) StateSize() int { return a.store.Len() }

func (a *Aggregator[K, V, N]) Close() error {
	a.store = nil
	return nil
}
