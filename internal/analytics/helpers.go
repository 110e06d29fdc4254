package analytics

import (
	"context"
	"fmt"

	"beacon/internal/tracker"
)

// Event names used by the helpers.
const (
	EventServiceView   = "service_view"
	EventContactForm   = "form_submit"
	EventPhoneCall     = "phone_call"
	EventWhatsAppClick = "whatsapp_click"
	EventVideoPlay     = "video_play"
	EventScrollDepth   = "scroll_depth"
	EventTimeOnPage    = "time_on_page"
	EventCTAClick      = "cta_click"
	EventShare         = "share"
)

// The helpers below only fix category and label conventions; they go through
// TrackEvent like any other call.

func (f *Facade) TrackServiceView(ctx context.Context, service string) {
	f.TrackEvent(ctx, EventServiceView, tracker.Params{
		ParamCategory:  "services",
		ParamLabel:     service,
		"service_name": service,
	})
}

func (f *Facade) TrackContactForm(ctx context.Context, formType string) {
	f.TrackEvent(ctx, EventContactForm, tracker.Params{
		ParamCategory: "lead",
		ParamLabel:    formType,
		"form_type":   formType,
	})
}

func (f *Facade) TrackPhoneCall(ctx context.Context, phone string) {
	f.TrackEvent(ctx, EventPhoneCall, tracker.Params{
		ParamCategory:  "contact",
		ParamLabel:     phone,
		"phone_number": phone,
	})
}

func (f *Facade) TrackWhatsAppClick(ctx context.Context) {
	f.TrackEvent(ctx, EventWhatsAppClick, tracker.Params{
		ParamCategory: "contact",
		ParamLabel:    "whatsapp",
	})
}

func (f *Facade) TrackVideoPlay(ctx context.Context, title string) {
	f.TrackEvent(ctx, EventVideoPlay, tracker.Params{
		ParamCategory: "engagement",
		ParamLabel:    title,
		"video_title": title,
	})
}

// TrackScrollDepth records how far down the page the visitor got, in percent.
func (f *Facade) TrackScrollDepth(ctx context.Context, percent int) {
	f.TrackEvent(ctx, EventScrollDepth, tracker.Params{
		ParamCategory: "engagement",
		ParamLabel:    fmt.Sprintf("%d%%", percent),
		ParamValue:    percent,
	})
}

// TrackTimeOnPage records seconds spent on the current page.
func (f *Facade) TrackTimeOnPage(ctx context.Context, seconds int) {
	f.TrackEvent(ctx, EventTimeOnPage, tracker.Params{
		ParamCategory: "engagement",
		ParamLabel:    f.currentPageURL(),
		ParamValue:    seconds,
	})
}

func (f *Facade) TrackCTAClick(ctx context.Context, cta, location string) {
	f.TrackEvent(ctx, EventCTAClick, tracker.Params{
		ParamCategory:  "cta",
		ParamLabel:     cta,
		"cta_location": location,
	})
}

// TrackShare records an outbound share of content on a social platform.
func (f *Facade) TrackShare(ctx context.Context, platform, contentURL string) {
	f.TrackEvent(ctx, EventShare, tracker.Params{
		ParamCategory: "social",
		ParamLabel:    platform,
		"method":      platform,
		"content_url": contentURL,
	})
}

func (f *Facade) currentPageURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page.URL
}
