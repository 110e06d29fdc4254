package kv

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"beacon/pkg/platform/circuit"
)

// Metrics counts storage fallbacks.
type Metrics struct {
	PrimaryFailures *prometheus.CounterVec
	FallbackServed  *prometheus.CounterVec
	CircuitOpen     prometheus.Gauge
}

// NewMetrics registers the storage metrics on reg (default registry when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		PrimaryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_storage_primary_failures_total",
			Help: "Primary storage operations that failed",
		}, []string{"op"}),
		FallbackServed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_storage_fallback_served_total",
			Help: "Storage operations served from the in-memory fallback",
		}, []string{"op"}),
		CircuitOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_storage_circuit_open",
			Help: "1 while the storage circuit breaker is open",
		}),
	}
}

func (m *Metrics) failure(op string) {
	if m != nil {
		m.PrimaryFailures.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) fallback(op string) {
	if m != nil {
		m.FallbackServed.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) circuit(change circuit.StateChange) {
	if m == nil {
		return
	}
	if change.Opened {
		m.CircuitOpen.Set(1)
	}
	if change.Closed {
		m.CircuitOpen.Set(0)
	}
}

// Resilient wraps a primary store with an in-memory fallback. Callers never see a
// storage error: failures are logged, counted and the operation is served from
// memory. Only ErrNotFound is returned.
type Resilient struct {
	primary  Store
	fallback *MemoryStore
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *Metrics
}

// ResilientOption configures a Resilient store.
type ResilientOption func(*Resilient)

func WithLogger(logger *slog.Logger) ResilientOption {
	return func(r *Resilient) {
		r.logger = logger
	}
}

func WithMetrics(m *Metrics) ResilientOption {
	return func(r *Resilient) {
		r.metrics = m
	}
}

// WithFallback replaces the default fallback store.
func WithFallback(fallback *MemoryStore) ResilientOption {
	return func(r *Resilient) {
		if fallback != nil {
			r.fallback = fallback
		}
	}
}

// NewResilient builds the wrapper. A nil breaker gets the default thresholds.
func NewResilient(primary Store, breaker *circuit.Breaker, opts ...ResilientOption) *Resilient {
	if breaker == nil {
		breaker = circuit.New("kv")
	}
	r := &Resilient{
		primary:  primary,
		fallback: NewMemoryStore(),
		breaker:  breaker,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Degraded reports whether the primary is currently bypassed.
func (r *Resilient) Degraded() bool {
	return r.breaker.IsOpen()
}

func (r *Resilient) Get(ctx context.Context, key string) (string, error) {
	if r.breaker.AllowProbe() {
		value, err := r.primary.Get(ctx, key)
		switch {
		case err == nil:
			r.succeeded()
			return value, nil
		case errors.Is(err, ErrNotFound):
			r.succeeded()
			// A value written during an outage only lives in the fallback.
			return r.fallback.Get(ctx, key)
		default:
			r.failed(ctx, "get", key, err)
		}
	}
	r.metrics.fallback("get")
	return r.fallback.Get(ctx, key)
}

func (r *Resilient) Set(ctx context.Context, key, value string) error {
	if r.breaker.AllowProbe() {
		err := r.primary.Set(ctx, key, value)
		if err == nil {
			r.succeeded()
			// The primary copy is authoritative again.
			_ = r.fallback.Delete(ctx, key)
			return nil
		}
		r.failed(ctx, "set", key, err)
	}
	r.metrics.fallback("set")
	return r.fallback.Set(ctx, key, value)
}

// Update applies fn on the primary when it is reachable and on the fallback
// otherwise. Errors returned by fn itself are passed through and do not count
// against the breaker.
func (r *Resilient) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if r.breaker.AllowProbe() {
		var fnErr error
		err := Update(ctx, r.primary, key, func(current string, found bool) (string, error) {
			if !found {
				if stranded, ferr := r.fallback.Get(ctx, key); ferr == nil {
					current, found = stranded, true
				}
			}
			next, err := fn(current, found)
			fnErr = err
			return next, err
		})
		switch {
		case err == nil:
			r.succeeded()
			_ = r.fallback.Delete(ctx, key)
			return nil
		case fnErr != nil:
			return fnErr
		default:
			r.failed(ctx, "update", key, err)
		}
	}
	r.metrics.fallback("update")
	return r.fallback.Update(ctx, key, fn)
}

func (r *Resilient) Delete(ctx context.Context, key string) error {
	_ = r.fallback.Delete(ctx, key)
	if !r.breaker.AllowProbe() {
		r.metrics.fallback("delete")
		return nil
	}
	if err := r.primary.Delete(ctx, key); err != nil {
		r.failed(ctx, "delete", key, err)
		return nil
	}
	r.succeeded()
	return nil
}

func (r *Resilient) succeeded() {
	_, change := r.breaker.RecordSuccess()
	r.metrics.circuit(change)
	if change.Closed {
		r.logger.Info("storage circuit closed, primary restored", "breaker", r.breaker.Name())
	}
}

func (r *Resilient) failed(ctx context.Context, op, key string, err error) {
	r.metrics.failure(op)
	_, change := r.breaker.RecordFailure()
	r.metrics.circuit(change)
	r.logger.WarnContext(ctx, "primary storage failed, using in-memory fallback",
		"op", op,
		"key", key,
		"error", err,
		"breaker", r.breaker.Name(),
	)
	if change.Opened {
		r.logger.ErrorContext(ctx, "storage circuit opened, running in-memory only",
			"breaker", r.breaker.Name(),
		)
	}
}
