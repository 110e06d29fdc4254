// Package consentui drives the cookie banner: which view the visitor sees and what
// each button does. Decisions are handed to the analytics façade; this package
// never writes consent itself.
package consentui

import (
	"context"
	"errors"
	"log/slog"

	"beacon/internal/consent"
	"beacon/internal/kv"
	dErrors "beacon/pkg/domain-errors"
)

// KeyView holds the banner's view in the session scope. It is UI state only.
const KeyView = "consent_ui_view"

// View is what the visitor currently sees.
type View string

const (
	ViewHidden  View = "hidden"
	ViewBanner  View = "banner"
	ViewDetails View = "details"
)

// Action is a button on the banner.
type Action string

const (
	ActionAcceptAll       Action = "accept_all"
	ActionDecline         Action = "decline"
	ActionCustomize       Action = "customize"
	ActionSavePreferences Action = "save_preferences"
	ActionDeclineAll      Action = "decline_all"
)

// Decider is the façade surface the banner needs.
type Decider interface {
	SetConsent(ctx context.Context, prefs consent.Preferences) (*consent.Record, error)
	Decision(ctx context.Context) (*consent.Record, bool)
}

// CategoryView describes one row of the details view.
type CategoryView struct {
	Category consent.Category `json:"category"`
	Enabled  bool             `json:"enabled"`
	// Locked categories are always on and not interactive.
	Locked bool `json:"locked"`
}

// Snapshot is the rendered state of the banner.
type Snapshot struct {
	View       View            `json:"view"`
	Visible    bool            `json:"visible"`
	Categories []CategoryView  `json:"categories"`
	Decision   *consent.Record `json:"decision,omitempty"`
}

// Controller runs the banner state machine for one visitor.
type Controller struct {
	decider Decider
	views   kv.Store
	logger  *slog.Logger
}

// New builds a controller. views is the visitor's session scope.
func New(decider Decider, views kv.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{decider: decider, views: views, logger: logger}
}

// Snapshot returns the current view. A recorded decision always hides the banner.
func (c *Controller) Snapshot(ctx context.Context) Snapshot {
	rec, decided := c.decider.Decision(ctx)
	if decided {
		return render(ViewHidden, rec)
	}
	return render(c.storedView(ctx), nil)
}

// Dispatch applies a button press. prefs is only read for save_preferences.
func (c *Controller) Dispatch(ctx context.Context, action Action, prefs consent.Preferences) (Snapshot, error) {
	current := c.Snapshot(ctx)

	switch {
	case current.View == ViewBanner && action == ActionAcceptAll:
		return c.decide(ctx, consent.AcceptAll())
	case current.View == ViewBanner && action == ActionDecline:
		return c.decide(ctx, consent.DeclineAll())
	case current.View == ViewBanner && action == ActionCustomize:
		c.storeView(ctx, ViewDetails)
		return render(ViewDetails, nil), nil
	case current.View == ViewDetails && action == ActionSavePreferences:
		return c.decide(ctx, prefs)
	case current.View == ViewDetails && action == ActionDeclineAll:
		return c.decide(ctx, consent.DeclineAll())
	}

	if !action.valid() {
		return current, dErrors.New(dErrors.CodeBadRequest, "unknown consent action")
	}
	return current, dErrors.New(dErrors.CodeConflict, "action not available in the "+string(current.View)+" view")
}

func (c *Controller) decide(ctx context.Context, prefs consent.Preferences) (Snapshot, error) {
	rec, err := c.decider.SetConsent(ctx, prefs)
	if err != nil {
		return Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record consent")
	}
	if err := c.views.Delete(ctx, KeyView); err != nil {
		c.logger.WarnContext(ctx, "failed to clear consent view", "error", err)
	}
	return render(ViewHidden, rec), nil
}

func (c *Controller) storedView(ctx context.Context) View {
	v, err := c.views.Get(ctx, KeyView)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.logger.WarnContext(ctx, "failed to read consent view", "error", err)
		}
		return ViewBanner
	}
	if View(v) == ViewDetails {
		return ViewDetails
	}
	return ViewBanner
}

func (c *Controller) storeView(ctx context.Context, v View) {
	if err := c.views.Set(ctx, KeyView, string(v)); err != nil {
		c.logger.WarnContext(ctx, "failed to store consent view", "error", err)
	}
}

func (a Action) valid() bool {
	switch a {
	case ActionAcceptAll, ActionDecline, ActionCustomize, ActionSavePreferences, ActionDeclineAll:
		return true
	}
	return false
}

func render(v View, rec *consent.Record) Snapshot {
	var prefs consent.Preferences
	if rec != nil {
		prefs = rec.Preferences()
	}
	return Snapshot{
		View:    v,
		Visible: v != ViewHidden,
		Categories: []CategoryView{
			{Category: consent.CategoryNecessary, Enabled: true, Locked: true},
			{Category: consent.CategoryAnalytics, Enabled: prefs.Analytics},
			{Category: consent.CategoryMarketing, Enabled: prefs.Marketing},
		},
		Decision: rec,
	}
}
