package analytics

import (
	"time"

	"beacon/internal/tracker"
)

// Storage keys for the buffered history, both in the profile scope.
const (
	KeyPageViews = "analytics_pageviews"
	KeyEvents    = "analytics_events"
)

// Default buffer caps.
const (
	DefaultPageViewCap = 100
	DefaultEventCap    = 200
)

// Well-known event parameters.
const (
	ParamCategory = "event_category"
	ParamLabel    = "event_label"
	ParamValue    = "value"
)

// State of a façade.
type State int

const (
	StateUninitialized State = iota
	StateConsentPending
	StateActive
)

func (s State) String() string {
	switch s {
	case StateConsentPending:
		return "consent_pending"
	case StateActive:
		return "active"
	default:
		return "uninitialized"
	}
}

// Page identifies the page the visitor is on when the façade is built.
type Page struct {
	Title string
	URL   string
}

// PageView is the input to TrackPageView. Empty fields fall back to the façade's
// current page and the request's language.
type PageView struct {
	Title            string `json:"title"`
	URL              string `json:"url"`
	Referrer         string `json:"referrer"`
	ScreenResolution string `json:"screen_resolution"`
	Language         string `json:"language"`
}

// PageViewRecord is one buffered page view.
type PageViewRecord struct {
	Title            string    `json:"title"`
	URL              string    `json:"url"`
	Referrer         string    `json:"referrer"`
	VisitorID        string    `json:"visitorId"`
	SessionID        string    `json:"sessionId"`
	Timestamp        time.Time `json:"timestamp"`
	UserAgent        string    `json:"userAgent"`
	ScreenResolution string    `json:"screenResolution"`
	Language         string    `json:"language"`
	Browser          string    `json:"browser,omitempty"`
	OS               string    `json:"os,omitempty"`
	Mobile           bool      `json:"mobile"`
}

// EventRecord is one buffered custom event.
type EventRecord struct {
	EventName string         `json:"eventName"`
	Category  string         `json:"category"`
	Label     string         `json:"label"`
	Value     float64        `json:"value"`
	VisitorID string         `json:"visitorId"`
	SessionID string         `json:"sessionId"`
	Timestamp time.Time      `json:"timestamp"`
	PageURL   string         `json:"pageUrl"`
	Params    tracker.Params `json:"params,omitempty"`
}
