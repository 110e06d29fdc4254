package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the façade.
type Metrics struct {
	Buffered         *prometheus.CounterVec
	Forwarded        *prometheus.CounterVec
	ForwardFailures  *prometheus.CounterVec
	Discarded        *prometheus.CounterVec
	Evicted          *prometheus.CounterVec
	ConsentDecisions *prometheus.CounterVec
	Activations      prometheus.Counter
}

// NewMetrics registers façade metrics on reg (default registry when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Buffered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_analytics_buffered_total",
			Help: "Records appended to the local buffer by type (pageview, event)",
		}, []string{"type"}),
		Forwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_analytics_forwarded_total",
			Help: "Records handed to the tracker by type",
		}, []string{"type"}),
		ForwardFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_analytics_forward_failures_total",
			Help: "Tracker calls that returned an error or panicked",
		}, []string{"type"}),
		Discarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_analytics_discarded_total",
			Help: "Records not forwarded because the tracker failed to load",
		}, []string{"type"}),
		Evicted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_analytics_buffer_evictions_total",
			Help: "Records evicted from a full buffer by type",
		}, []string{"type"}),
		ConsentDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_analytics_consent_decisions_total",
			Help: "Consent decisions recorded, by analytics outcome",
		}, []string{"analytics"}),
		Activations: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_analytics_activations_total",
			Help: "Façade transitions into the active state",
		}),
	}
}

func (m *Metrics) incBuffered(kind string) {
	if m != nil {
		m.Buffered.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) incForwarded(kind string) {
	if m != nil {
		m.Forwarded.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) incForwardFailures(kind string) {
	if m != nil {
		m.ForwardFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) incDiscarded(kind string) {
	if m != nil {
		m.Discarded.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) incEvicted(kind string) {
	if m != nil {
		m.Evicted.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) incConsentDecision(granted bool) {
	if m == nil {
		return
	}
	if granted {
		m.ConsentDecisions.WithLabelValues("granted").Inc()
	} else {
		m.ConsentDecisions.WithLabelValues("denied").Inc()
	}
}

func (m *Metrics) incActivations() {
	if m != nil {
		m.Activations.Inc()
	}
}
