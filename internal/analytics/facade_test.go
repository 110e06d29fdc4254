package analytics_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"beacon/internal/analytics"
	"beacon/internal/consent"
	"beacon/internal/kv"
	"beacon/internal/platform/logger"
	"beacon/internal/tracker"
	"beacon/internal/tracker/mocks"
	"beacon/pkg/requestcontext"
)

// fakeLazy stands in for the process-wide lazy tracker: calls go straight to the
// mock, loads are counted.
type fakeLazy struct {
	*mocks.MockTracker
	loads    int
	degraded bool
}

func (f *fakeLazy) Load(context.Context) { f.loads++ }
func (f *fakeLazy) Degraded() bool       { return f.degraded }

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, error) { return "", errors.New("quota exceeded") }
func (brokenStore) Set(context.Context, string, string) error   { return errors.New("quota exceeded") }
func (brokenStore) Delete(context.Context, string) error        { return errors.New("quota exceeded") }

type FacadeSuite struct {
	suite.Suite
	ctx     context.Context
	ctrl    *gomock.Controller
	lazy    *fakeLazy
	backing *kv.MemoryStore
	profile kv.Store
	session kv.Store
	metrics *analytics.Metrics
}

func TestFacadeSuite(t *testing.T) {
	suite.Run(t, new(FacadeSuite))
}

func (s *FacadeSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	s.ctrl = gomock.NewController(s.T())
	s.lazy = &fakeLazy{MockTracker: mocks.NewMockTracker(s.ctrl)}
	s.backing = kv.NewMemoryStore()
	s.profile = kv.Scope(s.backing, "profile", "p1")
	s.session = kv.Scope(s.backing, "session", "s1")
	s.metrics = analytics.NewMetrics(prometheus.NewRegistry())
}

func (s *FacadeSuite) deps() analytics.Deps {
	return analytics.Deps{
		Profile:       s.profile,
		Session:       s.session,
		Tracker:       s.lazy,
		MeasurementID: "G-TEST",
		Page:          analytics.Page{Title: "Home", URL: "https://example.com/"},
		Logger:        logger.Discard(),
		Metrics:       s.metrics,
	}
}

func (s *FacadeSuite) newFacade() *analytics.Facade {
	f, err := analytics.New(s.ctx, s.deps())
	s.Require().NoError(err)
	return f
}

func (s *FacadeSuite) TestNewRequiresStoresAndTracker() {
	_, err := analytics.New(s.ctx, analytics.Deps{Tracker: s.lazy})
	s.Error(err)
	_, err = analytics.New(s.ctx, analytics.Deps{Profile: s.profile, Session: s.session})
	s.Error(err)
}

func (s *FacadeSuite) TestUndecidedVisitorOnlyBuffers() {
	f := s.newFacade()

	s.Equal(analytics.StateConsentPending, f.State())
	s.False(f.Consented())

	f.TrackEvent(s.ctx, "cta_click", tracker.Params{"event_category": "cta"})
	f.TrackPageView(s.ctx, analytics.PageView{Title: "Services"})

	s.Require().Len(f.Events(), 1)
	s.Equal("cta_click", f.Events()[0].EventName)
	s.Equal("cta", f.Events()[0].Category)
	s.Require().Len(f.PageViews(), 1)
	s.Equal(0, s.lazy.loads, "tracker must not be injected without consent")
	s.Equal(0.0, promtest.ToFloat64(s.metrics.Forwarded.WithLabelValues("event")))
}

func (s *FacadeSuite) TestStoredConsentStartsActive() {
	_, err := consent.NewStore(s.profile, logger.Discard()).Set(s.ctx, consent.AcceptAll())
	s.Require().NoError(err)

	configures := 0
	s.lazy.EXPECT().Configure(gomock.Any(), "G-TEST", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, params tracker.Params) error {
			configures++
			s.Equal("Home", params["page_title"])
			s.Equal("https://example.com/", params[tracker.ParamPageURL])
			return nil
		}).Times(1)

	f := s.newFacade()
	s.Equal(analytics.StateActive, f.State())
	s.True(f.Consented())
	s.Equal(1, s.lazy.loads)
	s.Zero(configures, "configuration waits for the first forwarded record")

	f.Initialize(s.ctx)
	f.Initialize(s.ctx)
	s.Equal(1, s.lazy.loads, "second initialize is a no-op")
	s.Equal(1, configures)
}

func (s *FacadeSuite) TestStoredConsentReadsSendNothing() {
	_, err := consent.NewStore(s.profile, logger.Discard()).Set(s.ctx, consent.AcceptAll())
	s.Require().NoError(err)

	// No tracker expectations: any call fails the test.
	for range 3 {
		f := s.newFacade()
		_, ok := f.Decision(s.ctx)
		s.True(ok)
		s.Empty(f.Events())
		s.Empty(f.PageViews())
		s.False(f.Degraded())
	}
	s.Zero(promtest.ToFloat64(s.metrics.Forwarded.WithLabelValues("event")))
}

func (s *FacadeSuite) TestStoredConsentConfiguresOnceBeforeFirstForward() {
	_, err := consent.NewStore(s.profile, logger.Discard()).Set(s.ctx, consent.AcceptAll())
	s.Require().NoError(err)

	gomock.InOrder(
		s.lazy.EXPECT().Configure(gomock.Any(), "G-TEST", gomock.Any()).Return(nil).Times(1),
		s.lazy.EXPECT().SendEvent(gomock.Any(), "first", gomock.Any()).Return(nil),
		s.lazy.EXPECT().SendEvent(gomock.Any(), "second", gomock.Any()).Return(nil),
	)

	f := s.newFacade()
	f.TrackEvent(s.ctx, "first", nil)
	f.TrackEvent(s.ctx, "second", nil)
	s.Equal(2.0, promtest.ToFloat64(s.metrics.Forwarded.WithLabelValues("event")))
}

func (s *FacadeSuite) TestConsentGrantForwardsExactlyOnce() {
	f := s.newFacade()

	gomock.InOrder(
		s.lazy.EXPECT().Configure(gomock.Any(), "G-TEST", gomock.Any()).Return(nil).Times(1),
		s.lazy.EXPECT().SendEvent(gomock.Any(), "x", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, params tracker.Params) error {
				s.Equal(f.VisitorID(), params[tracker.ParamVisitorID])
				s.Equal(f.SessionID(), params[tracker.ParamSessionID])
				return nil
			}).Times(1),
	)

	f.SetUserConsent(s.ctx, true)
	s.Equal(analytics.StateActive, f.State())
	f.TrackEvent(s.ctx, "x", tracker.Params{})

	s.Len(f.Events(), 1)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Forwarded.WithLabelValues("event")))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.ConsentDecisions.WithLabelValues("granted")))
}

func (s *FacadeSuite) TestConsentWithdrawalStopsForwarding() {
	s.lazy.EXPECT().Configure(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)
	f := s.newFacade()
	f.SetUserConsent(s.ctx, true)

	f.SetUserConsent(s.ctx, false)
	f.TrackEvent(s.ctx, "x", tracker.Params{})

	s.Equal(analytics.StateActive, f.State(), "withdrawal does not roll back to uninitialized")
	s.False(f.Consented())
	s.Len(f.Events(), 1)
	s.Equal(1, s.lazy.loads)

	rec, ok := f.Decision(s.ctx)
	s.Require().True(ok)
	s.False(rec.Analytics)
	s.True(rec.Necessary)
}

func (s *FacadeSuite) TestDeclineWhilePendingStaysPending() {
	f := s.newFacade()
	_, err := f.SetConsent(s.ctx, consent.DeclineAll())
	s.Require().NoError(err)

	s.Equal(analytics.StateConsentPending, f.State())
	s.Equal(0, s.lazy.loads)

	rec, ok := f.Decision(s.ctx)
	s.Require().True(ok)
	s.False(rec.Analytics)
}

func (s *FacadeSuite) TestMarketingOnlyDoesNotActivate() {
	f := s.newFacade()
	_, err := f.SetConsent(s.ctx, consent.Preferences{Marketing: true})
	s.Require().NoError(err)
	s.Equal(analytics.StateConsentPending, f.State())
}

func (s *FacadeSuite) TestEventBufferIsCapped() {
	f := s.newFacade()
	for i := range 250 {
		f.TrackEvent(s.ctx, fmt.Sprintf("e%d", i), nil)
		s.Require().LessOrEqual(len(f.Events()), analytics.DefaultEventCap)
	}
	events := f.Events()
	s.Len(events, analytics.DefaultEventCap)
	s.Equal("e50", events[0].EventName)
	s.Equal("e249", events[len(events)-1].EventName)
	s.Equal(50.0, promtest.ToFloat64(s.metrics.Evicted.WithLabelValues("event")))
}

func (s *FacadeSuite) TestPageViewBufferIsCapped() {
	f := s.newFacade()
	for i := range 130 {
		f.TrackPageView(s.ctx, analytics.PageView{URL: fmt.Sprintf("/p/%d", i)})
	}
	views := f.PageViews()
	s.Len(views, analytics.DefaultPageViewCap)
	s.Equal("/p/30", views[0].URL)
}

func (s *FacadeSuite) TestHistorySurvivesAcrossFacades() {
	first := s.newFacade()
	first.TrackEvent(s.ctx, "video_play", nil)

	second := s.newFacade()
	s.Require().Len(second.Events(), 1)
	s.Equal("video_play", second.Events()[0].EventName)
	s.Equal(first.VisitorID(), second.VisitorID())
}

func (s *FacadeSuite) TestForwardingFailureIsAbsorbed() {
	s.lazy.EXPECT().Configure(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("offline"))
	s.lazy.EXPECT().SendEvent(gomock.Any(), "boom", gomock.Any()).Return(errors.New("gtag threw"))
	s.lazy.EXPECT().SendEvent(gomock.Any(), "panic", gomock.Any()).DoAndReturn(
		func(context.Context, string, tracker.Params) error { panic("tracker exploded") })
	s.lazy.EXPECT().SendEvent(gomock.Any(), "fine", gomock.Any()).Return(nil)

	f := s.newFacade()
	f.SetUserConsent(s.ctx, true)

	s.NotPanics(func() {
		f.TrackEvent(s.ctx, "boom", nil)
		f.TrackEvent(s.ctx, "panic", nil)
		f.TrackEvent(s.ctx, "fine", nil)
	})
	s.Len(f.Events(), 3)
	s.Equal(2.0, promtest.ToFloat64(s.metrics.ForwardFailures.WithLabelValues("event")))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Forwarded.WithLabelValues("event")))
}

func (s *FacadeSuite) TestDegradedWhenTrackerFailedToLoad() {
	s.lazy.EXPECT().Configure(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	f := s.newFacade()
	s.lazy.degraded = true
	s.False(f.Degraded(), "pending façades are never degraded")

	f.SetUserConsent(s.ctx, true)
	s.True(f.Degraded())
}

func (s *FacadeSuite) TestDegradedTrackerForwardsNothing() {
	s.lazy.degraded = true
	f := s.newFacade()
	f.SetUserConsent(s.ctx, true)
	s.Require().True(f.Degraded())

	// No Configure or SendEvent expectations: the degraded tracker is never called.
	f.TrackEvent(s.ctx, "cta_click", nil)
	f.TrackPageView(s.ctx, analytics.PageView{URL: "/pricing"})

	s.Len(f.Events(), 1)
	s.Len(f.PageViews(), 1)
	s.Zero(promtest.ToFloat64(s.metrics.Forwarded.WithLabelValues("event")))
	s.Zero(promtest.ToFloat64(s.metrics.Forwarded.WithLabelValues("pageview")))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Discarded.WithLabelValues("event")))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Discarded.WithLabelValues("pageview")))
}

func (s *FacadeSuite) TestPageViewForwardingAndEnrichment() {
	iphone := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 " +
		"(KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	ctx := requestcontext.WithClientMetadata(s.ctx, "203.0.113.7", iphone)
	ctx = requestcontext.WithLanguage(ctx, "es-ES")

	s.lazy.EXPECT().Configure(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	s.lazy.EXPECT().SendEvent(gomock.Any(), "page_view", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, params tracker.Params) error {
			s.Equal("Home", params["page_title"])
			s.Equal("https://example.com/", params[tracker.ParamPageURL])
			s.Equal("https://google.com/", params["page_referrer"])
			return nil
		})

	f := s.newFacade()
	f.SetUserConsent(ctx, true)
	f.TrackPageView(ctx, analytics.PageView{Referrer: "https://google.com/", ScreenResolution: "390x844"})

	s.Require().Len(f.PageViews(), 1)
	pv := f.PageViews()[0]
	s.Equal("Home", pv.Title)
	s.Equal("es-ES", pv.Language)
	s.Equal("390x844", pv.ScreenResolution)
	s.Equal(iphone, pv.UserAgent)
	s.True(pv.Mobile)
	s.Equal("Safari", pv.Browser)
	s.Equal(f.VisitorID(), pv.VisitorID)
	s.Equal(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC), pv.Timestamp)
}

func (s *FacadeSuite) TestStorageUnavailableDegradesToMemory() {
	deps := s.deps()
	deps.Profile = brokenStore{}
	deps.Session = brokenStore{}
	s.lazy.EXPECT().Configure(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	s.lazy.EXPECT().SendEvent(gomock.Any(), "x", gomock.Any()).Return(nil)

	var f *analytics.Facade
	s.NotPanics(func() {
		var err error
		f, err = analytics.New(s.ctx, deps)
		s.Require().NoError(err)
		f.SetUserConsent(s.ctx, true)
		f.TrackEvent(s.ctx, "x", nil)
	})
	s.NotEmpty(f.VisitorID())
	s.NotEmpty(f.SessionID())
	s.True(f.Consented())
	s.Len(f.Events(), 1)
}

func (s *FacadeSuite) TestHelpersShapeParams() {
	f := s.newFacade()
	f.TrackScrollDepth(s.ctx, 75)
	f.TrackTimeOnPage(s.ctx, 42)
	f.TrackServiceView(s.ctx, "payroll")
	f.TrackContactForm(s.ctx, "quote")
	f.TrackPhoneCall(s.ctx, "+34 600 000 000")
	f.TrackWhatsAppClick(s.ctx)
	f.TrackVideoPlay(s.ctx, "Intro")
	f.TrackCTAClick(s.ctx, "book_call", "hero")
	f.TrackShare(s.ctx, "linkedin", "https://example.com/blog/1")

	events := f.Events()
	s.Require().Len(events, 9)

	s.Equal(analytics.EventScrollDepth, events[0].EventName)
	s.Equal("engagement", events[0].Category)
	s.Equal("75%", events[0].Label)
	s.Equal(75.0, events[0].Value)

	s.Equal(analytics.EventTimeOnPage, events[1].EventName)
	s.Equal(42.0, events[1].Value)
	s.Equal("https://example.com/", events[1].Label)

	s.Equal("services", events[2].Category)
	s.Equal("payroll", events[2].Label)
	s.Equal("lead", events[3].Category)
	s.Equal("contact", events[4].Category)
	s.Equal("whatsapp", events[5].Label)
	s.Equal("Intro", events[6].Label)
	s.Equal("hero", events[7].Params["cta_location"])
	s.Equal("social", events[8].Category)
	s.Equal("https://example.com/blog/1", events[8].Params["content_url"])
	for _, e := range events {
		s.Equal("https://example.com/", e.PageURL)
	}
}

func (s *FacadeSuite) TestResetConsent() {
	f := s.newFacade()
	_, err := f.SetConsent(s.ctx, consent.DeclineAll())
	s.Require().NoError(err)
	s.Require().NoError(f.ResetConsent(s.ctx))

	_, ok := f.Decision(s.ctx)
	s.False(ok)
}

// Real lazy tracker whose loader throws: consent must not raise and tracking keeps
// buffering.
func TestFacade_ScriptInjectionPanics(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemoryStore()
	lazy := tracker.NewLazy(func(context.Context) (tracker.Tracker, error) {
		panic("script injection threw")
	}, tracker.WithLogger(logger.Discard()))

	f, err := analytics.New(ctx, analytics.Deps{
		Profile: kv.Scope(backing, "profile", "p"),
		Session: kv.Scope(backing, "session", "s"),
		Tracker: lazy,
		Logger:  logger.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}

	f.SetUserConsent(ctx, true)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := lazy.Wait(waitCtx); err != nil {
		t.Fatal(err)
	}

	f.TrackEvent(ctx, "after_failure", nil)
	if got := len(f.Events()); got != 1 {
		t.Fatalf("expected 1 buffered event, got %d", got)
	}
	if !f.Degraded() {
		t.Fatal("expected degraded active state")
	}
	if f.State() != analytics.StateActive {
		t.Fatalf("expected active, got %s", f.State())
	}
}
