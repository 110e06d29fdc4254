package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"beacon/pkg/platform/httputil"
	"beacon/pkg/requestcontext"
)

// Middleware applies per-IP limits by endpoint class.
type Middleware struct {
	store   Store
	limits  map[Class]Limit
	logger  *slog.Logger
	metrics *Metrics
}

// New builds the middleware. Classes without a limit are not throttled.
func New(store Store, limits map[Class]Limit, logger *slog.Logger, metrics *Metrics) *Middleware {
	return &Middleware{store: store, limits: limits, logger: logger, metrics: metrics}
}

// Limit throttles requests of the given class by client IP. A failing store lets
// the request through.
func (m *Middleware) Limit(class Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		limit, ok := m.limits[class]
		if !ok || limit.Requests <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			result, err := m.store.Allow(ctx, string(class)+":"+ip, limit)
			if err != nil {
				m.metrics.incCheckErrors()
				m.logger.ErrorContext(ctx, "failed to check rate limit",
					"error", err,
					"ip_prefix", anonymizeIP(ip),
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			addHeaders(w, result)
			if !result.Allowed {
				m.metrics.incRejected(class)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, &ExceededResponse{
					Error:      "rate_limit_exceeded",
					Message:    "Too many requests from this IP address. Please try again later.",
					RetryAfter: result.RetryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addHeaders(w http.ResponseWriter, result *Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// anonymizeIP keeps the network part only: /24 for IPv4 and /48 for IPv6.
func anonymizeIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return parsed.Mask(net.CIDRMask(48, 128)).String()
}
