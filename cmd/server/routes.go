package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aegis/internal/device"
	escalationmiddleware "aegis/internal/escalation/middleware"
	ratelimitmodels "aegis/internal/ratelimit/models"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/platform/middleware/admin"
	"aegis/pkg/platform/middleware/metadata"
	"aegis/pkg/platform/middleware/request"
	"aegis/pkg/platform/middleware/requesttime"
	"aegis/pkg/requestcontext"
)

// Router builds the HTTP surface. Middleware order matters: metadata must
// resolve the client address before anything keys on it.
func (a *app) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(request.RequestID)
	r.Use(request.Recovery(a.logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.New(
		metadata.WithTrustedProxies(metadata.ParseTrustedProxies(a.cfg.Server.TrustedProxies)...),
		metadata.WithFingerprint(func(r *http.Request) string { return device.FromRequest(r).Descriptor }),
	).Handler)
	r.Use(request.Logger(a.logger))
	r.Use(request.Latency(request.NewMetrics(a.registry)))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type",
			"X-Request-ID",
			device.HeaderTimezone,
			device.HeaderScreen,
			device.HeaderPlatform,
		},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))
	if a.cfg.Server.FloodLimit > 0 {
		r.Use(httprate.Limit(a.cfg.Server.FloodLimit, time.Minute,
			httprate.WithKeyFuncs(clientIPKey),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				httputil.WriteRateLimited(w, 60, "too many requests")
			}),
		))
	}
	r.Use(request.BodyLimit(a.cfg.Server.MaxBodyBytes))

	a.health.Register(r)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	// Violation intake stays reachable for blocked sources so their reports
	// keep counting.
	r.Group(func(r chi.Router) {
		r.Use(a.rateLimitGuard.RateLimit(ratelimitmodels.ActionCSPReport))
		a.escalationHandler.Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(escalationmiddleware.Guard(a.escalation, a.logger))

		r.Group(func(r chi.Router) {
			r.Use(a.rateLimitGuard.RateLimit(ratelimitmodels.ActionSignup))
			a.passwordHandler.Register(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(a.rateLimitGuard.RateLimit(ratelimitmodels.ActionSessionValidate))
			a.sessionHandler.Register(r)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(a.cfg.Server.AdminToken, a.logger))
		a.rateLimitHandler.RegisterAdmin(r)
		a.escalationHandler.RegisterAdmin(r)
	})

	return r
}

// clientIPKey keys the flood guard on the address resolved by the metadata
// middleware, falling back to the socket peer.
func clientIPKey(r *http.Request) (string, error) {
	if ip := requestcontext.ClientIP(r.Context()); ip != "" {
		return ip, nil
	}
	return httprate.KeyByIP(r)
}
