// Package analytics is the consent-gated façade in front of the tracker. Every
// page view and event is recorded locally; only while the façade is active and
// the visitor has granted analytics consent is it also forwarded.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mssola/useragent"

	"beacon/internal/buffer"
	"beacon/internal/consent"
	"beacon/internal/identity"
	"beacon/internal/kv"
	"beacon/internal/tracker"
	"beacon/pkg/requestcontext"
)

// LazyTracker is the process-wide tracker handle. Load starts loading it once;
// calls made meanwhile are queued by the implementation.
type LazyTracker interface {
	tracker.Tracker
	Load(ctx context.Context)
	Degraded() bool
}

// Deps wires a façade to one visitor's storage scopes and the shared tracker.
type Deps struct {
	Profile       kv.Store
	Session       kv.Store
	Tracker       LazyTracker
	MeasurementID string
	Page          Page
	PageViewCap   int
	EventCap      int
	Logger        *slog.Logger
	Metrics       *Metrics
}

// Facade is built per page interaction, the way a page builds its analytics
// object on load. It is safe for concurrent use.
type Facade struct {
	mu sync.Mutex

	tracker       LazyTracker
	measurementID string
	page          Page
	consent       *consent.Store
	pageViews     *buffer.Journal[PageViewRecord]
	events        *buffer.Journal[EventRecord]
	logger        *slog.Logger
	metrics       *Metrics

	visitorID   string
	sessionID   string
	state       State
	consented  bool
	loaded     bool
	configured bool
}

// New reads the stored decision and starts either pending or active. A façade
// activated from a stored decision configures the tracker only when it first
// forwards something, so read-only requests send nothing.
func New(ctx context.Context, deps Deps) (*Facade, error) {
	if deps.Profile == nil || deps.Session == nil {
		return nil, errors.New("analytics: profile and session stores are required")
	}
	if deps.Tracker == nil {
		return nil, errors.New("analytics: tracker is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.PageViewCap <= 0 {
		deps.PageViewCap = DefaultPageViewCap
	}
	if deps.EventCap <= 0 {
		deps.EventCap = DefaultEventCap
	}

	ids := identity.New(deps.Profile, deps.Session, logger)
	f := &Facade{
		tracker:       deps.Tracker,
		measurementID: deps.MeasurementID,
		page:          deps.Page,
		consent:       consent.NewStore(deps.Profile, logger),
		pageViews:     buffer.OpenJournal[PageViewRecord](ctx, deps.Profile, KeyPageViews, deps.PageViewCap, logger),
		events:        buffer.OpenJournal[EventRecord](ctx, deps.Profile, KeyEvents, deps.EventCap, logger),
		logger:        logger,
		metrics:       deps.Metrics,
		sessionID:     ids.SessionID(ctx),
		visitorID:     ids.VisitorID(ctx),
		state:         StateUninitialized,
	}

	rec, err := f.consent.Get(ctx)
	if err != nil && !errors.Is(err, consent.ErrAbsent) {
		logger.WarnContext(ctx, "failed to read consent, treating as undecided", "error", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if rec != nil && rec.Analytics {
		f.consented = true
		f.activateLocked(ctx)
	} else {
		f.state = StateConsentPending
	}
	return f, nil
}

// Initialize injects the tracker and configures it. Only the first call does
// anything.
func (f *Facade) Initialize(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadLocked(ctx)
	f.configureLocked(ctx)
}

func (f *Facade) loadLocked(ctx context.Context) {
	if f.loaded {
		return
	}
	f.loaded = true
	f.tracker.Load(ctx)
}

func (f *Facade) configureLocked(ctx context.Context) {
	if f.configured || f.tracker.Degraded() {
		return
	}
	f.configured = true
	params := f.identityParams()
	params["page_title"] = f.page.Title
	params[tracker.ParamPageURL] = f.page.URL
	f.call(ctx, "config", func() error {
		return f.tracker.Configure(ctx, f.measurementID, params)
	})
}

func (f *Facade) activateLocked(ctx context.Context) {
	if f.state == StateActive {
		return
	}
	f.state = StateActive
	f.metrics.incActivations()
	f.loadLocked(ctx)
}

// SetConsent records a full decision and performs the state transition. It is
// the only write path for the consent keys.
func (f *Facade) SetConsent(ctx context.Context, prefs consent.Preferences) (*consent.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.consent.Set(ctx, prefs)
	if err != nil {
		// The decision still applies to this page; it just won't be remembered.
		f.logger.WarnContext(ctx, "failed to persist consent decision", "error", err)
		r := consent.NewRecord(prefs, requestcontext.Now(ctx))
		rec = &r
	}
	f.metrics.incConsentDecision(prefs.Analytics)

	f.consented = prefs.Analytics
	if prefs.Analytics {
		f.activateLocked(ctx)
		f.configureLocked(ctx)
	}
	return rec, nil
}

// SetUserConsent is the single-switch form: analytics and marketing together.
func (f *Facade) SetUserConsent(ctx context.Context, granted bool) {
	_, _ = f.SetConsent(ctx, consent.Preferences{Analytics: granted, Marketing: granted})
}

// Decision returns the stored consent record, if any.
func (f *Facade) Decision(ctx context.Context) (*consent.Record, bool) {
	rec, err := f.consent.Get(ctx)
	if err != nil {
		return nil, false
	}
	return rec, true
}

// ResetConsent forgets the stored decision. It does not change the state of
// this façade; the next one built for the visitor starts pending.
func (f *Facade) ResetConsent(ctx context.Context) error {
	return f.consent.Reset(ctx)
}

// TrackPageView records a page view and forwards it when allowed.
func (f *Facade) TrackPageView(ctx context.Context, pv PageView) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec := f.newPageViewRecord(ctx, pv)
	if f.pageViews.Append(ctx, rec) {
		f.metrics.incEvicted("pageview")
	}
	f.metrics.incBuffered("pageview")

	if !f.forwarding() {
		return
	}
	params := f.identityParams()
	params["page_title"] = rec.Title
	params[tracker.ParamPageURL] = rec.URL
	params["page_referrer"] = rec.Referrer
	f.forward(ctx, "pageview", "page_view", params)
}

// TrackEvent records an event and forwards it when allowed. It never fails.
func (f *Facade) TrackEvent(ctx context.Context, name string, params tracker.Params) {
	f.mu.Lock()
	defer f.mu.Unlock()

	params = params.Clone()
	rec := EventRecord{
		EventName: name,
		Category:  stringParam(params, ParamCategory),
		Label:     stringParam(params, ParamLabel),
		Value:     numberParam(params, ParamValue),
		VisitorID: f.visitorID,
		SessionID: f.sessionID,
		Timestamp: requestcontext.Now(ctx).UTC(),
		PageURL:   f.pageURL(params),
		Params:    params,
	}
	if f.events.Append(ctx, rec) {
		f.metrics.incEvicted("event")
	}
	f.metrics.incBuffered("event")

	if !f.forwarding() {
		return
	}
	out := params.Clone()
	for k, v := range f.identityParams() {
		out[k] = v
	}
	if _, ok := out[tracker.ParamPageURL]; !ok && rec.PageURL != "" {
		out[tracker.ParamPageURL] = rec.PageURL
	}
	f.forward(ctx, "event", name, out)
}

// State returns the current state.
func (f *Facade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Consented reports whether analytics consent is currently granted.
func (f *Facade) Consented() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consented
}

// Degraded reports the degraded-active sub-state: active, but the tracker failed
// to load so nothing is actually forwarded.
func (f *Facade) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == StateActive && f.tracker.Degraded()
}

func (f *Facade) VisitorID() string { return f.visitorID }
func (f *Facade) SessionID() string { return f.sessionID }

// Events returns the buffered events, oldest first.
func (f *Facade) Events() []EventRecord {
	return f.events.Items()
}

// PageViews returns the buffered page views, oldest first.
func (f *Facade) PageViews() []PageViewRecord {
	return f.pageViews.Items()
}

func (f *Facade) forwarding() bool {
	return f.state == StateActive && f.consented
}

// forward hands a record to the tracker. A degraded tracker is skipped and the
// record counted as discarded.
func (f *Facade) forward(ctx context.Context, kind, name string, params tracker.Params) {
	if f.tracker.Degraded() {
		f.metrics.incDiscarded(kind)
		return
	}
	f.configureLocked(ctx)
	if f.call(ctx, name, func() error { return f.tracker.SendEvent(ctx, name, params) }) {
		f.metrics.incForwarded(kind)
	} else {
		f.metrics.incForwardFailures(kind)
	}
}

// call invokes the tracker, absorbing errors and panics. Reports success.
func (f *Facade) call(ctx context.Context, name string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.ErrorContext(ctx, "tracker call panicked",
				"name", name,
				"panic", fmt.Sprint(r),
				"request_id", requestcontext.RequestID(ctx),
			)
			ok = false
		}
	}()
	if err := fn(); err != nil {
		f.logger.WarnContext(ctx, "tracker call failed",
			"name", name,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return false
	}
	return true
}

func (f *Facade) identityParams() tracker.Params {
	return tracker.Params{
		tracker.ParamVisitorID: f.visitorID,
		tracker.ParamSessionID: f.sessionID,
	}
}

func (f *Facade) pageURL(params tracker.Params) string {
	if u := stringParam(params, tracker.ParamPageURL); u != "" {
		return u
	}
	return f.page.URL
}

func (f *Facade) newPageViewRecord(ctx context.Context, pv PageView) PageViewRecord {
	if pv.Title == "" {
		pv.Title = f.page.Title
	}
	if pv.URL == "" {
		pv.URL = f.page.URL
	}
	if pv.Language == "" {
		pv.Language = requestcontext.Language(ctx)
	}
	ua := requestcontext.UserAgent(ctx)
	rec := PageViewRecord{
		Title:            pv.Title,
		URL:              pv.URL,
		Referrer:         pv.Referrer,
		VisitorID:        f.visitorID,
		SessionID:        f.sessionID,
		Timestamp:        requestcontext.Now(ctx).UTC(),
		UserAgent:        ua,
		ScreenResolution: pv.ScreenResolution,
		Language:         pv.Language,
	}
	if ua != "" {
		parsed := useragent.New(ua)
		rec.Browser, _ = parsed.Browser()
		rec.OS = parsed.OS()
		rec.Mobile = parsed.Mobile()
	}
	return rec
}

func stringParam(params tracker.Params, key string) string {
	switch v := params[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

func numberParam(params tracker.Params, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	case uint:
		return float64(v)
	case uint64:
		return float64(v)
	default:
		return 0
	}
}
