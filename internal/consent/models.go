package consent

import "time"

// Storage keys in the profile scope. analytics_consent is the older flat flag,
// still written so readers that only know it keep working.
const (
	KeyRecord = "cookie_consent"
	KeyLegacy = "analytics_consent"
)

// Category is a consent category shown to the visitor.
type Category string

const (
	CategoryNecessary Category = "necessary"
	CategoryAnalytics Category = "analytics"
	CategoryMarketing Category = "marketing"
)

// Preferences are the categories a visitor can actually toggle.
type Preferences struct {
	Analytics bool `json:"analytics"`
	Marketing bool `json:"marketing"`
}

// AcceptAll grants every optional category.
func AcceptAll() Preferences {
	return Preferences{Analytics: true, Marketing: true}
}

// DeclineAll refuses every optional category.
func DeclineAll() Preferences {
	return Preferences{}
}

// Record is the stored consent decision. Necessary is always true: there is no
// way to construct a Record with it unset through this package.
type Record struct {
	Necessary bool      `json:"necessary"`
	Analytics bool      `json:"analytics"`
	Marketing bool      `json:"marketing"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRecord builds the full record for a decision made at now.
func NewRecord(p Preferences, now time.Time) Record {
	return Record{
		Necessary: true,
		Analytics: p.Analytics,
		Marketing: p.Marketing,
		Timestamp: now.UTC().Truncate(time.Millisecond),
	}
}

// Preferences returns the toggleable part of the record.
func (r Record) Preferences() Preferences {
	return Preferences{Analytics: r.Analytics, Marketing: r.Marketing}
}

// Granted reports whether the category is allowed by this record.
func (r Record) Granted(c Category) bool {
	switch c {
	case CategoryNecessary:
		return true
	case CategoryAnalytics:
		return r.Analytics
	case CategoryMarketing:
		return r.Marketing
	default:
		return false
	}
}
