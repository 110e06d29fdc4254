package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers tracker loading and queued-call handling.
type Metrics struct {
	LoadOutcome    *prometheus.CounterVec
	PendingDropped prometheus.Counter
	DrainFailures  prometheus.Counter
	Degraded       prometheus.Gauge
}

// NewMetrics registers tracker metrics on reg (default registry when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		LoadOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_tracker_load_total",
			Help: "Tracker load attempts by outcome (ok, error, panic)",
		}, []string{"outcome"}),
		PendingDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_tracker_pending_dropped_total",
			Help: "Calls dropped from the pending queue before the tracker loaded",
		}),
		DrainFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_tracker_drain_failures_total",
			Help: "Queued calls that failed when replayed into the loaded tracker",
		}),
		Degraded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_tracker_degraded",
			Help: "1 when the tracker failed to load and forwarding is disabled",
		}),
	}
}

func (m *Metrics) loadOutcome(outcome string) {
	if m != nil {
		m.LoadOutcome.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) incPendingDropped() {
	if m != nil {
		m.PendingDropped.Inc()
	}
}

func (m *Metrics) incDrainFailures() {
	if m != nil {
		m.DrainFailures.Inc()
	}
}

func (m *Metrics) setDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.Degraded.Set(1)
	} else {
		m.Degraded.Set(0)
	}
}
