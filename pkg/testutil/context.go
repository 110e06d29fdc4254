package testutil

import (
	"context"
	"net/http"
	"time"

	"beacon/pkg/requestcontext"
)

// WithScopes attaches storage scopes to the request context, as the scope
// cookie middleware does.
func WithScopes(req *http.Request, profile, session string) *http.Request {
	return req.WithContext(requestcontext.WithScopes(req.Context(), profile, session))
}

// WithClient attaches client metadata (IP and User-Agent).
func WithClient(req *http.Request, ip, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, userAgent))
}

// FixedTime returns a context pinned to t.
func FixedTime(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}
