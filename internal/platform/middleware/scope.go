package middleware

import (
	"log/slog"
	"net/http"
	"time"

	jwttoken "beacon/internal/jwt_token"
	"beacon/pkg/requestcontext"
)

// Cookie names carrying the signed storage scope tokens.
const (
	ProfileCookie = "beacon_profile"
	SessionCookie = "beacon_session"
)

// ScopeTokens signs and validates scope cookies.
type ScopeTokens interface {
	GenerateScopeToken(kind jwttoken.ScopeKind, scopeID string, expiresIn time.Duration) (string, error)
	ValidateScopeToken(tokenString string, kind jwttoken.ScopeKind) (*jwttoken.Claims, error)
}

// ScopeOptions controls how scope cookies are issued.
type ScopeOptions struct {
	ProfileTTL time.Duration
	Secure     bool
}

// Scopes resolves the profile and session storage scopes from signed cookies.
// A missing, forged or expired cookie mints a fresh scope, just as a browser without
// storage starts with empty localStorage/sessionStorage.
func Scopes(tokens ScopeTokens, opts ScopeOptions, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			profile := resolveScope(w, r, tokens, jwttoken.ScopeProfile, ProfileCookie, opts.ProfileTTL, opts.Secure, logger)
			session := resolveScope(w, r, tokens, jwttoken.ScopeSession, SessionCookie, 0, opts.Secure, logger)
			ctx = requestcontext.WithScopes(ctx, profile, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveScope(
	w http.ResponseWriter,
	r *http.Request,
	tokens ScopeTokens,
	kind jwttoken.ScopeKind,
	cookieName string,
	ttl time.Duration,
	secure bool,
	logger *slog.Logger,
) string {
	ctx := r.Context()
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		claims, err := tokens.ValidateScopeToken(c.Value, kind)
		if err == nil {
			return claims.ScopeID
		}
		logger.WarnContext(ctx, "discarding invalid scope cookie",
			"cookie", cookieName,
			"error", err,
			"request_id", GetRequestID(ctx),
		)
	}

	scopeID := jwttoken.NewScopeID()
	token, err := tokens.GenerateScopeToken(kind, scopeID, ttl)
	if err != nil {
		// The scope still works for this request; it just won't be remembered.
		logger.ErrorContext(ctx, "failed to sign scope token",
			"cookie", cookieName,
			"error", err,
			"request_id", GetRequestID(ctx),
		)
		return scopeID
	}

	cookie := &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl > 0 {
		cookie.MaxAge = int(ttl.Seconds())
	}
	http.SetCookie(w, cookie)
	return scopeID
}
