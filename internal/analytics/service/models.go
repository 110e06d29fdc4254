package service

import (
	"context"
	"strings"

	"beacon/internal/analytics"
	"beacon/internal/consent"
	"beacon/internal/tracker"
	dErrors "beacon/pkg/domain-errors"
)

// Kind selects one of the typed tracking helpers.
type Kind string

const (
	KindServiceView   Kind = "service_view"
	KindContactForm   Kind = "contact_form"
	KindPhoneCall     Kind = "phone_call"
	KindWhatsAppClick Kind = "whatsapp_click"
	KindVideoPlay     Kind = "video_play"
	KindScrollDepth   Kind = "scroll_depth"
	KindTimeOnPage    Kind = "time_on_page"
	KindCTAClick      Kind = "cta_click"
	KindShare         Kind = "share"
)

// Valid reports whether k names a known helper.
func (k Kind) Valid() bool {
	switch k {
	case KindServiceView, KindContactForm, KindPhoneCall, KindWhatsAppClick, KindVideoPlay,
		KindScrollDepth, KindTimeOnPage, KindCTAClick, KindShare:
		return true
	}
	return false
}

// Event is either a named custom event with free-form params or a typed helper
// call. Target, Location and Amount are the helper arguments:
//
//	service_view    Target = service name
//	contact_form    Target = form type
//	phone_call      Target = phone number
//	video_play      Target = video title
//	scroll_depth    Amount = percent
//	time_on_page    Amount = seconds
//	cta_click       Target = CTA name, Location = placement
//	share           Target = platform, Location = shared URL
type Event struct {
	Name     string
	Params   tracker.Params
	Kind     Kind
	Target   string
	Location string
	Amount   int
}

// Validate rejects events that are neither a custom event nor a known helper.
func (e *Event) Validate() error {
	e.Name = strings.TrimSpace(e.Name)
	switch {
	case e.Name == "" && e.Kind == "":
		return dErrors.New(dErrors.CodeInvalidInput, "name or kind is required")
	case e.Name != "" && e.Kind != "":
		return dErrors.New(dErrors.CodeInvalidInput, "name and kind are mutually exclusive")
	case e.Kind != "" && !e.Kind.Valid():
		return dErrors.New(dErrors.CodeInvalidInput, "unknown event kind "+string(e.Kind))
	case e.Amount < 0:
		return dErrors.New(dErrors.CodeInvalidInput, "amount must not be negative")
	}
	return nil
}

func (e Event) apply(ctx context.Context, f *analytics.Facade) {
	switch e.Kind {
	case KindServiceView:
		f.TrackServiceView(ctx, e.Target)
	case KindContactForm:
		f.TrackContactForm(ctx, e.Target)
	case KindPhoneCall:
		f.TrackPhoneCall(ctx, e.Target)
	case KindWhatsAppClick:
		f.TrackWhatsAppClick(ctx)
	case KindVideoPlay:
		f.TrackVideoPlay(ctx, e.Target)
	case KindScrollDepth:
		f.TrackScrollDepth(ctx, e.Amount)
	case KindTimeOnPage:
		f.TrackTimeOnPage(ctx, e.Amount)
	case KindCTAClick:
		f.TrackCTAClick(ctx, e.Target, e.Location)
	case KindShare:
		f.TrackShare(ctx, e.Target, e.Location)
	default:
		f.TrackEvent(ctx, e.Name, e.Params)
	}
}

// Status summarizes the façade after an operation.
type Status struct {
	State     string
	Consented bool
	Degraded  bool
	VisitorID string
	SessionID string
}

// ConsentStatus is the stored decision plus façade status.
type ConsentStatus struct {
	Decision *consent.Record
	Status
}

// BufferView is the locally retained history.
type BufferView struct {
	PageViews []analytics.PageViewRecord
	Events    []analytics.EventRecord
	Status
}
