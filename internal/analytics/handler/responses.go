package handler

import (
	"time"

	"beacon/internal/analytics"
	"beacon/internal/analytics/service"
	"beacon/internal/consent"
	"beacon/internal/consentui"
)

// AcceptedResponse answers every tracking call. Status is omitted when the call
// was accepted but the façade could not be built.
type AcceptedResponse struct {
	Accepted bool            `json:"accepted"`
	Status   *StatusResponse `json:"status,omitempty"`
}

// StatusResponse describes the visitor's façade.
type StatusResponse struct {
	State     string `json:"state"`
	Consented bool   `json:"consented"`
	Degraded  bool   `json:"degraded"`
	VisitorID string `json:"visitor_id"`
	SessionID string `json:"session_id"`
}

// DecisionResponse is a stored consent record.
type DecisionResponse struct {
	Necessary bool      `json:"necessary"`
	Analytics bool      `json:"analytics"`
	Marketing bool      `json:"marketing"`
	Timestamp time.Time `json:"timestamp"`
}

// ConsentResponse answers GET and PUT /v1/consent.
type ConsentResponse struct {
	Decided  bool              `json:"decided"`
	Decision *DecisionResponse `json:"decision,omitempty"`
	Status   StatusResponse    `json:"status"`
}

// BannerResponse is the rendered consent banner.
type BannerResponse struct {
	View       consentui.View           `json:"view"`
	Visible    bool                     `json:"visible"`
	Categories []consentui.CategoryView `json:"categories"`
	Decision   *DecisionResponse        `json:"decision,omitempty"`
}

// BufferResponse is the debug view of the retained history.
type BufferResponse struct {
	PageViews []analytics.PageViewRecord `json:"pageviews"`
	Events    []analytics.EventRecord    `json:"events"`
	Status    StatusResponse             `json:"status"`
}

func toStatusResponse(s service.Status) StatusResponse {
	return StatusResponse{
		State:     s.State,
		Consented: s.Consented,
		Degraded:  s.Degraded,
		VisitorID: s.VisitorID,
		SessionID: s.SessionID,
	}
}

func toDecisionResponse(rec *consent.Record) *DecisionResponse {
	if rec == nil {
		return nil
	}
	return &DecisionResponse{
		Necessary: rec.Necessary,
		Analytics: rec.Analytics,
		Marketing: rec.Marketing,
		Timestamp: rec.Timestamp,
	}
}

func toConsentResponse(cs *service.ConsentStatus) ConsentResponse {
	return ConsentResponse{
		Decided:  cs.Decision != nil,
		Decision: toDecisionResponse(cs.Decision),
		Status:   toStatusResponse(cs.Status),
	}
}

func toBannerResponse(snap *consentui.Snapshot) BannerResponse {
	return BannerResponse{
		View:       snap.View,
		Visible:    snap.Visible,
		Categories: snap.Categories,
		Decision:   toDecisionResponse(snap.Decision),
	}
}

func toBufferResponse(b *service.BufferView) BufferResponse {
	resp := BufferResponse{
		PageViews: b.PageViews,
		Events:    b.Events,
		Status:    toStatusResponse(b.Status),
	}
	if resp.PageViews == nil {
		resp.PageViews = []analytics.PageViewRecord{}
	}
	if resp.Events == nil {
		resp.Events = []analytics.EventRecord{}
	}
	return resp
}
