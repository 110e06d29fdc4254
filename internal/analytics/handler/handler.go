package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"beacon/internal/analytics"
	"beacon/internal/analytics/service"
	"beacon/internal/consent"
	"beacon/internal/consentui"
	"beacon/internal/platform/metrics"
	"beacon/internal/platform/middleware"
	"beacon/internal/ratelimit"
	dErrors "beacon/pkg/domain-errors"
	"beacon/pkg/platform/httputil"
	"beacon/pkg/platform/middleware/admin"
)

// Service defines the operations the site frontend can call.
type Service interface {
	TrackPageView(ctx context.Context, page analytics.Page, pv analytics.PageView) (*service.Status, error)
	TrackEvent(ctx context.Context, page analytics.Page, ev service.Event) (*service.Status, error)
	Consent(ctx context.Context, page analytics.Page) (*service.ConsentStatus, error)
	SetConsent(ctx context.Context, page analytics.Page, prefs consent.Preferences) (*service.ConsentStatus, error)
	ResetConsent(ctx context.Context, page analytics.Page) error
	Banner(ctx context.Context, page analytics.Page) (*consentui.Snapshot, error)
	BannerAction(ctx context.Context, page analytics.Page, action consentui.Action, prefs consent.Preferences) (*consentui.Snapshot, error)
	Buffer(ctx context.Context, page analytics.Page) (*service.BufferView, error)
}

// Options toggles the operator endpoints.
type Options struct {
	// Debug mounts DELETE /v1/consent and GET /v1/buffer.
	Debug bool
	// AdminToken, when set, is required on the debug endpoints.
	AdminToken string
	Timeout    time.Duration
	// RateLimit throttles clients per IP; nil disables it.
	RateLimit *ratelimit.Middleware
}

// Handler serves the analytics API.
type Handler struct {
	service Service
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	opts    Options
}

// New creates a new analytics Handler.
func New(service Service, logger *slog.Logger, metrics *metrics.Metrics, opts Options) *Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Handler{
		service: service,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("beacon/internal/analytics/handler"),
		opts:    opts,
	}
}

// Register mounts the analytics routes. Scope resolution happens upstream.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Timeout(h.opts.Timeout))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.LatencyMiddleware(h.metrics))

	track := h.opts.RateLimit.Limit(ratelimit.ClassTrack)
	router.With(track).Post("/v1/pageviews", h.HandleTrackPageView)
	router.With(track).Post("/v1/events", h.HandleTrackEvent)

	consentLimit := h.opts.RateLimit.Limit(ratelimit.ClassConsent)
	router.With(consentLimit).Get("/v1/consent", h.HandleGetConsent)
	router.With(consentLimit).Put("/v1/consent", h.HandleSetConsent)
	router.With(consentLimit).Get("/v1/consent/banner", h.HandleGetBanner)
	router.With(consentLimit).Post("/v1/consent/banner/{action}", h.HandleBannerAction)

	if h.opts.Debug {
		router.Group(func(debug chi.Router) {
			if h.opts.AdminToken != "" {
				debug.Use(admin.RequireAdminToken(h.opts.AdminToken, h.logger))
			}
			debug.Delete("/v1/consent", h.HandleResetConsent)
			debug.Get("/v1/buffer", h.HandleGetBuffer)
		})
	}

	r.Mount("/", router)
}

// HandleTrackPageView handles POST /v1/pageviews. Tracking failures are logged
// and never reach the caller.
func (h *Handler) HandleTrackPageView(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "analytics.track_pageview")
	defer span.End()

	var req PageViewRequest
	if !h.decode(ctx, w, r, span, &req, false) {
		return
	}
	if err := req.Validate(); err != nil {
		h.reject(ctx, w, span, err)
		return
	}

	pv := req.toPageView()
	page := (&PageContext{Title: pv.Title, URL: pv.URL}).resolve(r)
	span.SetAttributes(attribute.String("beacon.page_url", page.URL))

	status, err := h.service.TrackPageView(ctx, page, pv)
	h.accepted(ctx, w, span, status, err)
}

// HandleTrackEvent handles POST /v1/events.
func (h *Handler) HandleTrackEvent(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "analytics.track_event")
	defer span.End()

	var req EventRequest
	if !h.decode(ctx, w, r, span, &req, false) {
		return
	}
	if err := req.Validate(); err != nil {
		h.reject(ctx, w, span, err)
		return
	}
	span.SetAttributes(
		attribute.String("beacon.event_name", req.Name),
		attribute.String("beacon.event_kind", req.Kind),
	)

	status, err := h.service.TrackEvent(ctx, req.Page.resolve(r), req.toEvent())
	if dErrors.Is(err, dErrors.CodeInvalidInput) {
		h.reject(ctx, w, span, err)
		return
	}
	h.accepted(ctx, w, span, status, err)
}

// HandleGetConsent handles GET /v1/consent.
func (h *Handler) HandleGetConsent(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "analytics.get_consent")
	defer span.End()

	cs, err := h.service.Consent(ctx, h.page(r))
	if err != nil {
		h.fail(ctx, w, span, "failed to read consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toConsentResponse(cs))
}

// HandleSetConsent handles PUT /v1/consent.
func (h *Handler) HandleSetConsent(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "analytics.set_consent")
	defer span.End()

	var req ConsentRequest
	if !h.decode(ctx, w, r, span, &req, false) {
		return
	}
	if err := req.Validate(); err != nil {
		h.reject(ctx, w, span, err)
		return
	}
	prefs := req.toPreferences()
	span.SetAttributes(
		attribute.Bool("beacon.consent.analytics", prefs.Analytics),
		attribute.Bool("beacon.consent.marketing", prefs.Marketing),
	)

	cs, err := h.service.SetConsent(ctx, h.page(r), prefs)
	if err != nil {
		h.fail(ctx, w, span, "failed to set consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toConsentResponse(cs))
}

// HandleResetConsent handles DELETE /v1/consent (debug only).
func (h *Handler) HandleResetConsent(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "analytics.reset_consent")
	defer span.End()

	if err := h.service.ResetConsent(ctx, h.page(r)); err != nil {
		h.fail(ctx, w, span, "failed to reset consent", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetBanner handles GET /v1/consent/banner.
func (h *Handler) HandleGetBanner(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "analytics.get_banner")
	defer span.End()

	snap, err := h.service.Banner(ctx, h.page(r))
	if err != nil {
		h.fail(ctx, w, span, "failed to render banner", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toBannerResponse(snap))
}

// HandleBannerAction handles POST /v1/consent/banner/{action}.
func (h *Handler) HandleBannerAction(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "analytics.banner_action")
	defer span.End()

	action := consentui.Action(chi.URLParam(r, "action"))
	span.SetAttributes(attribute.String("beacon.banner.action", string(action)))

	var req BannerActionRequest
	if !h.decode(ctx, w, r, span, &req, true) {
		return
	}

	snap, err := h.service.BannerAction(ctx, h.page(r), action, req.toPreferences())
	if err != nil {
		if dErrors.Is(err, dErrors.CodeBadRequest) || dErrors.Is(err, dErrors.CodeConflict) {
			h.reject(ctx, w, span, err)
			return
		}
		h.fail(ctx, w, span, "failed to apply banner action", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toBannerResponse(snap))
}

// HandleGetBuffer handles GET /v1/buffer (debug only).
func (h *Handler) HandleGetBuffer(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "analytics.get_buffer")
	defer span.End()

	buf, err := h.service.Buffer(ctx, h.page(r))
	if err != nil {
		h.fail(ctx, w, span, "failed to read buffer", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toBufferResponse(buf))
}

func (h *Handler) page(r *http.Request) analytics.Page {
	return (&PageContext{}).resolve(r)
}

// decode reads the JSON body into dst. With optional set an empty body is fine.
func (h *Handler) decode(ctx context.Context, w http.ResponseWriter, r *http.Request, span trace.Span, dst any, optional bool) bool {
	if optional && r.ContentLength == 0 {
		return true
	}
	err := httputil.DecodeJSON(r, dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	h.reject(ctx, w, span, err)
	return false
}

// reject answers a client error.
func (h *Handler) reject(ctx context.Context, w http.ResponseWriter, span trace.Span, err error) {
	h.logger.WarnContext(ctx, "rejected analytics request",
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	httputil.WriteError(w, err)
}

// fail answers a server error without leaking its cause.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, span trace.Span, msg string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, msg))
}

// accepted always answers 202; a failed call is only logged.
func (h *Handler) accepted(ctx context.Context, w http.ResponseWriter, span trace.Span, status *service.Status, err error) {
	resp := AcceptedResponse{Accepted: true}
	if err != nil {
		h.logger.ErrorContext(ctx, "tracking call failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		span.RecordError(err)
	} else if status != nil {
		s := toStatusResponse(*status)
		resp.Status = &s
	}
	httputil.WriteJSON(w, http.StatusAccepted, resp)
}
