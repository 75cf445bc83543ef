package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"aegis/internal/ratelimit/models"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/platform/privacy"
	"aegis/pkg/requestcontext"
)

type RateLimiter interface {
	CheckAction(ctx context.Context, action models.Action, identifier string) *models.Result
}

// KeyFunc picks the identifier a request is limited by.
type KeyFunc func(r *http.Request) string

// ByClientIP limits by the resolved client address.
func ByClientIP(r *http.Request) string {
	return requestcontext.ClientIP(r.Context())
}

type Middleware struct {
	limiter RateLimiter
	logger  *slog.Logger
}

func New(limiter RateLimiter, logger *slog.Logger) *Middleware {
	return &Middleware{
		limiter: limiter,
		logger:  logger,
	}
}

// RateLimit enforces action's limit keyed by client IP.
func (m *Middleware) RateLimit(action models.Action) func(http.Handler) http.Handler {
	return m.RateLimitBy(action, ByClientIP)
}

// RateLimitBy enforces action's limit keyed by key(r). Requests with an empty
// key share the "unknown" window.
func (m *Middleware) RateLimitBy(action models.Action, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identifier := key(r)
			if identifier == "" {
				identifier = "unknown"
			}

			result := m.limiter.CheckAction(ctx, action, identifier)
			addRateLimitHeaders(w, result)

			if !result.Allowed {
				m.logger.InfoContext(ctx, "rate limit exceeded",
					"action", string(action),
					"identifier", privacy.RedactIdentifier(identifier),
					"retry_after", result.RetryAfter,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteRateLimited(w, result.RetryAfter, "too many requests, retry after "+strconv.Itoa(result.RetryAfter)+"s")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	if result == nil {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
