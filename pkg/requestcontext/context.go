// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; the façade and stores read them without pulling in
// net/http.
//
// Usage in services (read values):
//
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithClientMetadata(ctx, "203.0.113.7", "Mozilla/5.0")
package requestcontext

import (
	"context"
	"time"
)

// Context key types (unexported for encapsulation).
type (
	profileScopeKey struct{}
	sessionScopeKey struct{}
	clientIPKey     struct{}
	userAgentKey    struct{}
	languageKey     struct{}
	requestIDKey    struct{}
	requestTimeKey  struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyProfileScope = profileScopeKey{}
	ContextKeySessionScope = sessionScopeKey{}
	ContextKeyClientIP     = clientIPKey{}
	ContextKeyUserAgent    = userAgentKey{}
	ContextKeyLanguage     = languageKey{}
	ContextKeyRequestID    = requestIDKey{}
	ContextKeyRequestTime  = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Storage scopes
// -----------------------------------------------------------------------------

// ProfileScope returns the durable storage scope id (one per browser profile).
func ProfileScope(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyProfileScope).(string); ok {
		return v
	}
	return ""
}

// SessionScope returns the session storage scope id (one per browser session).
func SessionScope(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeySessionScope).(string); ok {
		return v
	}
	return ""
}

// WithScopes injects both storage scope ids.
func WithScopes(ctx context.Context, profile, session string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyProfileScope, profile)
	return context.WithValue(ctx, ContextKeySessionScope, session)
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent, language)
// -----------------------------------------------------------------------------

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// Language retrieves the preferred language (first Accept-Language tag).
func Language(ctx context.Context) string {
	if lang, ok := ctx.Value(ContextKeyLanguage).(string); ok {
		return lang
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// WithLanguage injects the preferred language.
func WithLanguage(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, ContextKeyLanguage, lang)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for non-HTTP contexts like workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
