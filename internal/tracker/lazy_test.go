package tracker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"beacon/internal/platform/logger"
	"beacon/internal/tracker"
	"beacon/internal/tracker/mocks"
)

type LazySuite struct {
	suite.Suite
	ctx     context.Context
	ctrl    *gomock.Controller
	mock    *mocks.MockTracker
	metrics *tracker.Metrics
}

func TestLazySuite(t *testing.T) {
	suite.Run(t, new(LazySuite))
}

func (s *LazySuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.mock = mocks.NewMockTracker(s.ctrl)
	s.metrics = tracker.NewMetrics(prometheus.NewRegistry())
}

func (s *LazySuite) newLazy(loader tracker.Loader, opts ...tracker.LazyOption) *tracker.Lazy {
	opts = append([]tracker.LazyOption{
		tracker.WithLogger(logger.Discard()),
		tracker.WithMetrics(s.metrics),
	}, opts...)
	return tracker.NewLazy(loader, opts...)
}

func (s *LazySuite) wait(l *tracker.Lazy) {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(l.Wait(ctx))
}

func (s *LazySuite) TestQueuedCallsDrainInOrder() {
	gomock.InOrder(
		s.mock.EXPECT().Configure(gomock.Any(), "G-TEST", gomock.Any()).Return(nil),
		s.mock.EXPECT().SendEvent(gomock.Any(), "first", gomock.Any()).Return(nil),
		s.mock.EXPECT().SendEvent(gomock.Any(), "second", gomock.Any()).Return(errors.New("rejected")),
		s.mock.EXPECT().SendEvent(gomock.Any(), "after_load", gomock.Any()).Return(nil),
	)

	release := make(chan struct{})
	lazy := s.newLazy(func(context.Context) (tracker.Tracker, error) {
		<-release
		return s.mock, nil
	})

	s.Equal(tracker.StateIdle, lazy.State())
	s.NoError(lazy.Configure(s.ctx, "G-TEST", tracker.Params{"page_title": "Home"}))
	s.NoError(lazy.SendEvent(s.ctx, "first", nil))
	lazy.Load(s.ctx)
	s.NoError(lazy.SendEvent(s.ctx, "second", nil))

	s.Equal(tracker.StateLoading, lazy.State())
	s.Equal(3, lazy.Pending())

	close(release)
	s.wait(lazy)

	s.Equal(tracker.StateReady, lazy.State())
	s.Equal(0, lazy.Pending())
	s.NoError(lazy.SendEvent(s.ctx, "after_load", nil))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.DrainFailures))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.LoadOutcome.WithLabelValues("ok")))
}

func (s *LazySuite) TestLoaderRunsOnce() {
	var calls atomic.Int32
	lazy := s.newLazy(func(context.Context) (tracker.Tracker, error) {
		calls.Add(1)
		return tracker.Noop{}, nil
	})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lazy.Load(s.ctx)
		}()
	}
	wg.Wait()
	s.wait(lazy)

	s.Equal(int32(1), calls.Load())
}

func (s *LazySuite) TestLoadDoesNotBlockCaller() {
	release := make(chan struct{})
	defer close(release)
	lazy := s.newLazy(func(context.Context) (tracker.Tracker, error) {
		<-release
		return tracker.Noop{}, nil
	})

	done := make(chan struct{})
	go func() {
		lazy.Load(s.ctx)
		_ = lazy.SendEvent(s.ctx, "page_view", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("Load blocked on the loader")
	}
}

func (s *LazySuite) TestLoaderErrorDegrades() {
	lazy := s.newLazy(func(context.Context) (tracker.Tracker, error) {
		return nil, errors.New("blocked by client")
	})
	s.NoError(lazy.SendEvent(s.ctx, "queued", nil))
	lazy.Load(s.ctx)
	s.wait(lazy)

	s.True(lazy.Degraded())
	s.Equal(0, lazy.Pending())
	// No expectations on the mock: nothing may be forwarded.
	s.NoError(lazy.SendEvent(s.ctx, "after_failure", nil))
	s.NoError(lazy.Configure(s.ctx, "G-TEST", nil))
	s.Equal(0, lazy.Pending())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Degraded))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.LoadOutcome.WithLabelValues("error")))
}

func (s *LazySuite) TestLoaderPanicDegrades() {
	lazy := s.newLazy(func(context.Context) (tracker.Tracker, error) {
		panic("script threw during injection")
	})
	lazy.Load(s.ctx)
	s.wait(lazy)

	s.True(lazy.Degraded())
	s.NoError(lazy.SendEvent(s.ctx, "x", nil))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.LoadOutcome.WithLabelValues("panic")))
}

func (s *LazySuite) TestNilTrackerDegrades() {
	lazy := s.newLazy(func(context.Context) (tracker.Tracker, error) { return nil, nil })
	lazy.Load(s.ctx)
	s.wait(lazy)
	s.True(lazy.Degraded())
}

func (s *LazySuite) TestPendingLimitDropsOldest() {
	gomock.InOrder(
		s.mock.EXPECT().SendEvent(gomock.Any(), "b", gomock.Any()).Return(nil),
		s.mock.EXPECT().SendEvent(gomock.Any(), "c", gomock.Any()).Return(nil),
	)
	lazy := s.newLazy(func(context.Context) (tracker.Tracker, error) { return s.mock, nil },
		tracker.WithPendingLimit(2))

	for _, name := range []string{"a", "b", "c"} {
		s.NoError(lazy.SendEvent(s.ctx, name, nil))
	}
	s.Equal(2, lazy.Pending())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.PendingDropped))

	lazy.Load(s.ctx)
	s.wait(lazy)
}

func (s *LazySuite) TestQueuedParamsAreCopied() {
	s.mock.EXPECT().SendEvent(gomock.Any(), "scroll_depth", tracker.Params{"value": 25}).Return(nil)
	lazy := s.newLazy(func(context.Context) (tracker.Tracker, error) { return s.mock, nil })

	params := tracker.Params{"value": 25}
	s.NoError(lazy.SendEvent(s.ctx, "scroll_depth", params))
	params["value"] = 50

	lazy.Load(s.ctx)
	s.wait(lazy)
}

func (s *LazySuite) TestCallerContextCancellationDoesNotAbortLoad() {
	ctx, cancel := context.WithCancel(s.ctx)
	lazy := s.newLazy(func(loadCtx context.Context) (tracker.Tracker, error) {
		cancel()
		if err := loadCtx.Err(); err != nil {
			return nil, err
		}
		return tracker.Noop{}, nil
	})
	lazy.Load(ctx)
	s.wait(lazy)
	s.Equal(tracker.StateReady, lazy.State())
}

func (s *LazySuite) TestCloseClosesLoadedTracker() {
	closer := mocks.NewMockCloser(s.ctrl)
	closer.EXPECT().Close(gomock.Any()).Return(nil)
	loaded := closableTracker{s.mock, closer}

	lazy := s.newLazy(func(context.Context) (tracker.Tracker, error) { return loaded, nil })
	s.NoError(lazy.Close(s.ctx), "closing before load is a no-op")

	lazy.Load(s.ctx)
	s.wait(lazy)
	s.NoError(lazy.Close(s.ctx))
}
