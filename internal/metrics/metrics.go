// Package metrics exposes stream loop counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clickstream"

// Metrics holds the collectors shared by all loops of a process. Each loop
// reports through its own Operator view.
type Metrics struct {
	processed  *prometheus.CounterVec
	malformed  *prometheus.CounterVec
	emitted    *prometheus.CounterVec
	transport  *prometheus.CounterVec
	evictions  *prometheus.CounterVec
	stateKeys  *prometheus.GaugeVec
	collectors []prometheus.Collector
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	labels := []string{"operator"}
	m := &Metrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Events handed to the operator and fully processed.",
		}, labels),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_malformed_total",
			Help:      "Events dropped because they could not be decoded or were rejected by the operator.",
		}, labels),
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Records sent to the output log.",
		}, labels),
		transport: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Failed reads from the input log and failed sends to the output log.",
		}, labels),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_evictions_total",
			Help:      "Keys evicted from a bounded state store.",
		}, labels),
		stateKeys: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state_keys",
			Help:      "Keys currently held in operator state.",
		}, labels),
	}
	m.collectors = []prometheus.Collector{m.processed, m.malformed, m.emitted, m.transport, m.evictions, m.stateKeys}

	if reg != nil {
		for _, c := range m.collectors {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Operator returns the view for one operator. A nil Metrics returns a view
// that discards everything.
func (m *Metrics) Operator(name string) *Operator {
	if m == nil {
		return nil
	}
	return &Operator{
		processed: m.processed.WithLabelValues(name),
		malformed: m.malformed.WithLabelValues(name),
		emitted:   m.emitted.WithLabelValues(name),
		transport: m.transport.WithLabelValues(name),
		evictions: m.evictions.WithLabelValues(name),
		stateKeys: m.stateKeys.WithLabelValues(name),
	}
}

// Operator reports for a single operator. All methods are no-ops on nil.
type Operator struct {
	processed prometheus.Counter
	malformed prometheus.Counter
	emitted   prometheus.Counter
	transport prometheus.Counter
	evictions prometheus.Counter
	stateKeys prometheus.Gauge
}

func (o *Operator) Processed() {
	if o != nil {
		o.processed.Inc()
	}
}

func (o *Operator) Malformed() {
	if o != nil {
		o.malformed.Inc()
	}
}

func (o *Operator) Emitted(n int) {
	if o != nil {
		o.emitted.Add(float64(n))
	}
}

func (o *Operator) TransportError() {
	if o != nil {
		o.transport.Inc()
	}
}

func (o *Operator) Evicted() {
	if o != nil {
		o.evictions.Inc()
	}
}

func (o *Operator) StateKeys(n int) {
	if o != nil {
		o.stateKeys.Set(float64(n))
	}
}
