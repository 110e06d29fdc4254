// Package admin guards operator-only routes such as the debug endpoints.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	dErrors "beacon/pkg/domain-errors"
	"beacon/pkg/platform/httputil"
	"beacon/pkg/requestcontext"
)

// TokenHeader carries the operator token.
const TokenHeader = "X-Admin-Token"

// RequireAdminToken rejects requests whose X-Admin-Token does not match. The
// expected token may be configured as a bcrypt hash so the plain token never
// sits in the environment. An empty expected token rejects everything.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	verify := tokenVerifier(expectedToken)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !verify(r.Header.Get(TokenHeader)) {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func tokenVerifier(expected string) func(token string) bool {
	switch {
	case expected == "":
		return func(string) bool { return false }
	case isBcryptHash(expected):
		hash := []byte(expected)
		return func(token string) bool {
			return token != "" && bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil
		}
	default:
		return func(token string) bool {
			return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
		}
	}
}

func isBcryptHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}
