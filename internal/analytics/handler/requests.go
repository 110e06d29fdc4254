package handler

import (
	"net/http"
	"strings"

	"beacon/internal/analytics"
	"beacon/internal/analytics/service"
	"beacon/internal/consent"
	"beacon/internal/tracker"
	dErrors "beacon/pkg/domain-errors"
)

const (
	maxNameLen  = 100
	maxURLLen   = 2048
	maxTextLen  = 500
	maxParamLen = 50
)

// PageContext identifies the page a call is made from. When absent the Referer
// header stands in for the URL.
type PageContext struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (p *PageContext) resolve(r *http.Request) analytics.Page {
	page := analytics.Page{Title: strings.TrimSpace(p.Title), URL: strings.TrimSpace(p.URL)}
	if page.URL == "" {
		page.URL = r.Referer()
	}
	return page
}

// PageViewRequest is the body of POST /v1/pageviews.
type PageViewRequest struct {
	Title            string `json:"title"`
	URL              string `json:"url"`
	Referrer         string `json:"referrer"`
	ScreenResolution string `json:"screen_resolution"`
	Language         string `json:"language"`
}

// Validate bounds free-text fields.
func (r *PageViewRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Title) > maxTextLen {
		return dErrors.New(dErrors.CodeInvalidInput, "title is too long")
	}
	if len(r.URL) > maxURLLen || len(r.Referrer) > maxURLLen {
		return dErrors.New(dErrors.CodeInvalidInput, "url is too long")
	}
	if len(r.ScreenResolution) > 20 || len(r.Language) > 35 {
		return dErrors.New(dErrors.CodeInvalidInput, "client hints are too long")
	}
	return nil
}

func (r *PageViewRequest) toPageView() analytics.PageView {
	return analytics.PageView{
		Title:            strings.TrimSpace(r.Title),
		URL:              strings.TrimSpace(r.URL),
		Referrer:         strings.TrimSpace(r.Referrer),
		ScreenResolution: strings.TrimSpace(r.ScreenResolution),
		Language:         strings.TrimSpace(r.Language),
	}
}

// EventRequest is the body of POST /v1/events: either name with params or a
// typed helper kind with its arguments.
type EventRequest struct {
	Name     string         `json:"name"`
	Params   map[string]any `json:"params"`
	Kind     string         `json:"kind"`
	Target   string         `json:"target"`
	Location string         `json:"location"`
	Amount   int            `json:"amount"`
	Page     PageContext    `json:"page"`
}

// Validate bounds sizes; semantic checks happen in the service.
func (r *EventRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Name) > maxNameLen || len(r.Kind) > maxNameLen {
		return dErrors.New(dErrors.CodeInvalidInput, "name is too long")
	}
	if len(r.Params) > maxParamLen {
		return dErrors.New(dErrors.CodeInvalidInput, "too many params")
	}
	if len(r.Target) > maxTextLen || len(r.Location) > maxURLLen || len(r.Page.URL) > maxURLLen {
		return dErrors.New(dErrors.CodeInvalidInput, "argument is too long")
	}
	return nil
}

func (r *EventRequest) toEvent() service.Event {
	return service.Event{
		Name:     r.Name,
		Params:   tracker.Params(r.Params),
		Kind:     service.Kind(strings.TrimSpace(r.Kind)),
		Target:   strings.TrimSpace(r.Target),
		Location: strings.TrimSpace(r.Location),
		Amount:   r.Amount,
	}
}

// ConsentRequest is the body of PUT /v1/consent. Granted is the single-switch
// form and sets both categories.
type ConsentRequest struct {
	Analytics *bool `json:"analytics"`
	Marketing *bool `json:"marketing"`
	Granted   *bool `json:"granted"`
}

// Validate requires exactly one of the two forms.
func (r *ConsentRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	granular := r.Analytics != nil || r.Marketing != nil
	switch {
	case r.Granted != nil && granular:
		return dErrors.New(dErrors.CodeInvalidInput, "granted cannot be combined with analytics or marketing")
	case r.Granted == nil && !granular:
		return dErrors.New(dErrors.CodeInvalidInput, "analytics, marketing or granted is required")
	}
	return nil
}

func (r *ConsentRequest) toPreferences() consent.Preferences {
	if r.Granted != nil {
		return consent.Preferences{Analytics: *r.Granted, Marketing: *r.Granted}
	}
	var prefs consent.Preferences
	if r.Analytics != nil {
		prefs.Analytics = *r.Analytics
	}
	if r.Marketing != nil {
		prefs.Marketing = *r.Marketing
	}
	return prefs
}

// BannerActionRequest is the optional body of POST /v1/consent/banner/{action};
// only save_preferences reads it.
type BannerActionRequest struct {
	Analytics bool `json:"analytics"`
	Marketing bool `json:"marketing"`
}

func (r *BannerActionRequest) toPreferences() consent.Preferences {
	return consent.Preferences{Analytics: r.Analytics, Marketing: r.Marketing}
}
