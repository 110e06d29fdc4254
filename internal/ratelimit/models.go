// Package ratelimit throttles the public collection endpoints per client IP. The
// endpoints answer without authentication, so this is the only thing standing
// between a scripted client and unbounded buffer churn.
package ratelimit

import (
	"context"
	"time"
)

// Class groups endpoints that share a limit.
type Class string

const (
	// ClassTrack covers page views and events.
	ClassTrack Class = "track"
	// ClassConsent covers consent reads, writes and banner actions.
	ClassConsent Class = "consent"
)

// Limit is a sliding window allowance.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Result is the outcome of one check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only set when not allowed
}

// Store counts requests per key in a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// ExceededResponse is the body of a 429.
type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}
