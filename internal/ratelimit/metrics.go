package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts rate limit outcomes.
type Metrics struct {
	Rejected    *prometheus.CounterVec
	CheckErrors prometheus.Counter
}

// NewMetrics registers the rate limit metrics on reg (default registry when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_ratelimit_rejected_total",
			Help: "Requests rejected by the per-IP rate limit",
		}, []string{"class"}),
		CheckErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_ratelimit_check_errors_total",
			Help: "Rate limit checks that failed and let the request through",
		}),
	}
}

func (m *Metrics) incRejected(class Class) {
	if m != nil {
		m.Rejected.WithLabelValues(string(class)).Inc()
	}
}

func (m *Metrics) incCheckErrors() {
	if m != nil {
		m.CheckErrors.Inc()
	}
}
