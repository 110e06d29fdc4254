// Package service builds a façade for each incoming page interaction from the
// visitor's storage scopes and runs the requested operation on it.
package service

import (
	"context"
	"log/slog"

	"beacon/internal/analytics"
	"beacon/internal/consent"
	"beacon/internal/consentui"
	"beacon/internal/kv"
	dErrors "beacon/pkg/domain-errors"
	"beacon/pkg/requestcontext"
)

// Scope kinds used to namespace the backing stores.
const (
	ScopeProfile = "profile"
	ScopeSession = "session"
)

// Config carries the façade settings shared by every request.
type Config struct {
	MeasurementID string
	PageViewCap   int
	EventCap      int
}

// Service is process-wide; façades it builds are per request.
type Service struct {
	profiles kv.Store
	sessions kv.Store
	tracker  analytics.LazyTracker
	cfg      Config
	logger   *slog.Logger
	metrics  *analytics.Metrics
}

// New wires the service. profiles backs the durable scope and sessions the
// short-lived one; both are shared by all visitors and namespaced per request.
func New(
	profiles, sessions kv.Store,
	tracker analytics.LazyTracker,
	cfg Config,
	logger *slog.Logger,
	metrics *analytics.Metrics,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		profiles: profiles,
		sessions: sessions,
		tracker:  tracker,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// TrackPageView records a page view and forwards it when allowed.
func (s *Service) TrackPageView(ctx context.Context, page analytics.Page, pv analytics.PageView) (*Status, error) {
	f, err := s.facade(ctx, page)
	if err != nil {
		return nil, err
	}
	f.TrackPageView(ctx, pv)
	return statusOf(f), nil
}

// TrackEvent records a custom event or one of the typed helpers.
func (s *Service) TrackEvent(ctx context.Context, page analytics.Page, ev Event) (*Status, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	f, err := s.facade(ctx, page)
	if err != nil {
		return nil, err
	}
	ev.apply(ctx, f)
	return statusOf(f), nil
}

// Consent returns the stored decision, if any.
func (s *Service) Consent(ctx context.Context, page analytics.Page) (*ConsentStatus, error) {
	f, err := s.facade(ctx, page)
	if err != nil {
		return nil, err
	}
	rec, _ := f.Decision(ctx)
	return &ConsentStatus{Decision: rec, Status: *statusOf(f)}, nil
}

// SetConsent records a decision through the façade.
func (s *Service) SetConsent(ctx context.Context, page analytics.Page, prefs consent.Preferences) (*ConsentStatus, error) {
	f, err := s.facade(ctx, page)
	if err != nil {
		return nil, err
	}
	rec, err := f.SetConsent(ctx, prefs)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record consent")
	}
	return &ConsentStatus{Decision: rec, Status: *statusOf(f)}, nil
}

// ResetConsent forgets the decision so the banner shows again.
func (s *Service) ResetConsent(ctx context.Context, page analytics.Page) error {
	f, err := s.facade(ctx, page)
	if err != nil {
		return err
	}
	if err := f.ResetConsent(ctx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset consent")
	}
	if err := s.sessionStore(ctx).Delete(ctx, consentui.KeyView); err != nil {
		s.logger.WarnContext(ctx, "failed to clear consent view", "error", err)
	}
	return nil
}

// Banner renders the consent banner for the visitor.
func (s *Service) Banner(ctx context.Context, page analytics.Page) (*consentui.Snapshot, error) {
	f, err := s.facade(ctx, page)
	if err != nil {
		return nil, err
	}
	snap := consentui.New(f, s.sessionStore(ctx), s.logger).Snapshot(ctx)
	return &snap, nil
}

// BannerAction applies a banner button press.
func (s *Service) BannerAction(ctx context.Context, page analytics.Page, action consentui.Action, prefs consent.Preferences) (*consentui.Snapshot, error) {
	f, err := s.facade(ctx, page)
	if err != nil {
		return nil, err
	}
	snap, err := consentui.New(f, s.sessionStore(ctx), s.logger).Dispatch(ctx, action, prefs)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Buffer returns the locally retained history.
func (s *Service) Buffer(ctx context.Context, page analytics.Page) (*BufferView, error) {
	f, err := s.facade(ctx, page)
	if err != nil {
		return nil, err
	}
	return &BufferView{
		PageViews: f.PageViews(),
		Events:    f.Events(),
		Status:    *statusOf(f),
	}, nil
}

func (s *Service) facade(ctx context.Context, page analytics.Page) (*analytics.Facade, error) {
	if requestcontext.ProfileScope(ctx) == "" || requestcontext.SessionScope(ctx) == "" {
		return nil, dErrors.New(dErrors.CodeInternal, "storage scope missing from request")
	}
	f, err := analytics.New(ctx, analytics.Deps{
		Profile:       s.profileStore(ctx),
		Session:       s.sessionStore(ctx),
		Tracker:       s.tracker,
		MeasurementID: s.cfg.MeasurementID,
		Page:          page,
		PageViewCap:   s.cfg.PageViewCap,
		EventCap:      s.cfg.EventCap,
		Logger:        s.logger,
		Metrics:       s.metrics,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build analytics")
	}
	return f, nil
}

func (s *Service) profileStore(ctx context.Context) kv.Store {
	return kv.Scope(s.profiles, ScopeProfile, requestcontext.ProfileScope(ctx))
}

func (s *Service) sessionStore(ctx context.Context) kv.Store {
	return kv.Scope(s.sessions, ScopeSession, requestcontext.SessionScope(ctx))
}

func statusOf(f *analytics.Facade) *Status {
	return &Status{
		State:     f.State().String(),
		Consented: f.Consented(),
		Degraded:  f.Degraded(),
		VisitorID: f.VisitorID(),
		SessionID: f.SessionID(),
	}
}
