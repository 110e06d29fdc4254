package kv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"beacon/internal/platform/logger"
	"beacon/pkg/platform/circuit"
)

var errBackendDown = errors.New("connection refused")

// flakyStore is a MemoryStore that can be switched into a failing mode.
type flakyStore struct {
	*MemoryStore
	mu    sync.Mutex
	down  bool
	calls int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: NewMemoryStore()}
}

func (f *flakyStore) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *flakyStore) check() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down {
		return errBackendDown
	}
	return nil
}

func (f *flakyStore) Get(ctx context.Context, key string) (string, error) {
	if err := f.check(); err != nil {
		return "", err
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key, value string) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.MemoryStore.Delete(ctx, key)
}

func (f *flakyStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.MemoryStore.Update(ctx, key, fn)
}

func (f *flakyStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type ResilientSuite struct {
	suite.Suite
	ctx     context.Context
	primary *flakyStore
	now     time.Time
	metrics *Metrics
	store   *Resilient
}

func TestResilientSuite(t *testing.T) {
	suite.Run(t, new(ResilientSuite))
}

func (s *ResilientSuite) SetupTest() {
	s.ctx = context.Background()
	s.primary = newFlakyStore()
	s.now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.metrics = NewMetrics(prometheus.NewRegistry())
	breaker := circuit.New("kv-test",
		circuit.WithFailureThreshold(2),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return s.now }),
	)
	s.store = NewResilient(s.primary, breaker,
		WithLogger(logger.Discard()),
		WithMetrics(s.metrics),
	)
}

func (s *ResilientSuite) TestHealthyPrimary() {
	s.Require().NoError(s.store.Set(s.ctx, "k", "v"))

	got, err := s.primary.MemoryStore.Get(s.ctx, "k")
	s.Require().NoError(err)
	s.Equal("v", got)

	got, err = s.store.Get(s.ctx, "k")
	s.Require().NoError(err)
	s.Equal("v", got)
	s.False(s.store.Degraded())
}

func (s *ResilientSuite) TestFailingPrimaryNeverSurfacesErrors() {
	s.primary.setDown(true)

	s.Run("set succeeds via fallback", func() {
		s.NoError(s.store.Set(s.ctx, "consent", "granted"))
	})

	s.Run("get reads the fallback copy", func() {
		got, err := s.store.Get(s.ctx, "consent")
		s.Require().NoError(err)
		s.Equal("granted", got)
	})

	s.Run("missing key is still not found", func() {
		_, err := s.store.Get(s.ctx, "missing")
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("delete swallows the failure", func() {
		s.NoError(s.store.Delete(s.ctx, "consent"))
		_, err := s.store.Get(s.ctx, "consent")
		s.ErrorIs(err, ErrNotFound)
	})

	s.True(s.store.Degraded())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CircuitOpen))
	s.GreaterOrEqual(testutil.ToFloat64(s.metrics.PrimaryFailures.WithLabelValues("set")), 1.0)
}

func (s *ResilientSuite) TestOpenCircuitSkipsPrimaryUntilCooldown() {
	s.primary.setDown(true)
	s.Require().NoError(s.store.Set(s.ctx, "a", "1"))
	s.Require().NoError(s.store.Set(s.ctx, "b", "2"))
	s.Require().True(s.store.Degraded())

	calls := s.primary.callCount()
	_, _ = s.store.Get(s.ctx, "a")
	s.Equal(calls, s.primary.callCount(), "primary must not be probed during cooldown")

	s.primary.setDown(false)
	s.now = s.now.Add(time.Minute)

	s.Require().NoError(s.store.Set(s.ctx, "c", "3"))
	s.False(s.store.Degraded())
	s.Equal(0.0, testutil.ToFloat64(s.metrics.CircuitOpen))

	s.Run("outage writes remain readable after recovery", func() {
		got, err := s.store.Get(s.ctx, "a")
		s.Require().NoError(err)
		s.Equal("1", got)
	})

	s.Run("primary write replaces fallback shadow", func() {
		s.Require().NoError(s.store.Set(s.ctx, "a", "fresh"))
		_, err := s.store.fallback.Get(s.ctx, "a")
		s.ErrorIs(err, ErrNotFound)
		got, err := s.store.Get(s.ctx, "a")
		s.Require().NoError(err)
		s.Equal("fresh", got)
	})
}

func (s *ResilientSuite) TestSingleFailureBelowThreshold() {
	s.primary.setDown(true)
	s.Require().NoError(s.store.Set(s.ctx, "k", "v"))
	s.False(s.store.Degraded())

	s.primary.setDown(false)
	got, err := s.store.Get(s.ctx, "k")
	s.Require().NoError(err)
	s.Equal("v", got, "fallback copy is found when primary reports not found")
}

func appendTo(suffix string) UpdateFunc {
	return func(current string, _ bool) (string, error) {
		return current + suffix, nil
	}
}

func (s *ResilientSuite) TestUpdate() {
	s.Run("applies on the primary", func() {
		s.Require().NoError(s.store.Update(s.ctx, "log", appendTo("a")))
		s.Require().NoError(s.store.Update(s.ctx, "log", appendTo("b")))
		got, err := s.primary.MemoryStore.Get(s.ctx, "log")
		s.Require().NoError(err)
		s.Equal("ab", got)
	})

	s.Run("falls back while the primary is down", func() {
		s.primary.setDown(true)
		s.Require().NoError(s.store.Update(s.ctx, "outage", appendTo("x")))
		got, err := s.store.fallback.Get(s.ctx, "outage")
		s.Require().NoError(err)
		s.Equal("x", got)
	})

	s.Run("outage value is carried over once the primary recovers", func() {
		s.primary.setDown(false)
		s.now = s.now.Add(time.Minute)
		s.Require().NoError(s.store.Update(s.ctx, "outage", appendTo("y")))
		got, err := s.primary.MemoryStore.Get(s.ctx, "outage")
		s.Require().NoError(err)
		s.Equal("xy", got)
		_, err = s.store.fallback.Get(s.ctx, "outage")
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("errors from the update function are not storage failures", func() {
		before := testutil.ToFloat64(s.metrics.PrimaryFailures.WithLabelValues("update"))
		boom := errors.New("encode failed")
		err := s.store.Update(s.ctx, "log", func(string, bool) (string, error) { return "", boom })
		s.ErrorIs(err, boom)
		s.Equal(before, testutil.ToFloat64(s.metrics.PrimaryFailures.WithLabelValues("update")))
	})
}
