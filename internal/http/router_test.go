package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"beacon/internal/analytics"
	"beacon/internal/analytics/handler"
	"beacon/internal/analytics/service"
	jwttoken "beacon/internal/jwt_token"
	"beacon/internal/kv"
	"beacon/internal/platform/logger"
	"beacon/internal/platform/middleware"
	"beacon/internal/tracker"
	"beacon/pkg/testutil"
)

type loadedTracker struct{ tracker.Noop }

func (loadedTracker) Load(context.Context) {}
func (loadedTracker) Degraded() bool       { return false }

type RouterSuite struct {
	suite.Suite
	router http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	reg := prometheus.NewRegistry()
	log := logger.Discard()
	svc := service.New(kv.NewMemoryStore(), kv.NewMemoryStore(), loadedTracker{},
		service.Config{MeasurementID: "G-TEST"}, log, analytics.NewMetrics(reg))

	s.router = NewRouter(Deps{
		Logger:   log,
		Gatherer: reg,
		Tokens:   jwttoken.NewJWTService("router-test-signing-key", "beacon"),
		Scope:    middleware.ScopeOptions{ProfileTTL: time.Hour},
		Checks: map[string]HealthCheck{
			"storage": func(context.Context) error { return nil },
		},
		Scoped: []Registrar{handler.New(svc, log, nil, handler.Options{Debug: true})},
	})
}

func (s *RouterSuite) do(req *http.Request, cookies []*http.Cookie) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.WithCookies(req, cookies))
}

func (s *RouterSuite) TestScopeCookiesCarryTheVisitorAcrossRequests() {
	first := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/pageviews", map[string]any{"url": "https://example.com/"}), nil)
	s.Require().Equal(http.StatusAccepted, first.Code)

	cookies := first.Result().Cookies()
	s.Require().Len(cookies, 2)
	resp := testutil.DecodeBody[handler.AcceptedResponse](s.T(), first)
	s.Require().NotNil(resp.Status)
	visitor := resp.Status.VisitorID

	consentResp := s.do(testutil.NewJSONRequest(s.T(), http.MethodPut, "/v1/consent", map[string]any{"analytics": true}), cookies)
	s.Require().Equal(http.StatusOK, consentResp.Code)
	s.Empty(consentResp.Result().Cookies(), "valid scope cookies are not reissued")

	second := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/pageviews", map[string]any{"url": "https://example.com/about"}), cookies)
	resp = testutil.DecodeBody[handler.AcceptedResponse](s.T(), second)
	s.Equal(visitor, resp.Status.VisitorID)
	s.Equal("active", resp.Status.State)

	buf := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/v1/buffer"), cookies)
	s.Require().Equal(http.StatusOK, buf.Code)
	view := testutil.DecodeBody[handler.BufferResponse](s.T(), buf)
	s.Len(view.PageViews, 2)
}

func (s *RouterSuite) TestForgedCookieStartsAFreshVisitor() {
	first := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/pageviews", map[string]any{}), nil)
	resp := testutil.DecodeBody[handler.AcceptedResponse](s.T(), first)

	forged := []*http.Cookie{
		{Name: middleware.ProfileCookie, Value: "not-a-token"},
		{Name: middleware.SessionCookie, Value: "not-a-token"},
	}
	second := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/pageviews", map[string]any{}), forged)
	other := testutil.DecodeBody[handler.AcceptedResponse](s.T(), second)
	s.NotEqual(resp.Status.VisitorID, other.Status.VisitorID)
	s.Len(second.Result().Cookies(), 2)
}

func (s *RouterSuite) TestOperationalEndpoints() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/healthz"), nil)
	s.Equal(http.StatusOK, rr.Code)
	s.Empty(rr.Result().Cookies(), "operational endpoints do not mint scopes")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/metrics"), nil)
	s.Equal(http.StatusOK, rr.Code)
	s.NotEmpty(rr.Header().Get(middleware.RequestIDHeader))
}

func TestHealthHandlerReportsFailures(t *testing.T) {
	h := healthHandler(map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}, logger.Discard())

	rr := testutil.DoRequest(h, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "unavailable")
}
