// Package kv is the durable storage layer behind the profile and session scopes.
// It plays the part localStorage and sessionStorage play in a browser: flat string
// keys, string values, last writer wins.
package kv

import (
	"context"
	"time"

	"beacon/pkg/platform/sentinel"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = sentinel.ErrNotFound

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type options struct {
	ttl time.Duration
}

// Option configures a backend.
type Option func(*options)

// WithTTL expires entries the given duration after their last write. Used for the
// session scope so abandoned sessions age out.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
