package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/botzfyi/botz/internal/auth"
	"github.com/botzfyi/botz/internal/config"
	"github.com/botzfyi/botz/internal/entitlement"
	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/logging"
	"github.com/botzfyi/botz/internal/metrics"
	"github.com/botzfyi/botz/internal/ratelimit"
	"github.com/botzfyi/botz/internal/respond"
)

// NewRouter creates the HTTP router
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	cfg := deps.Config

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With", "Authorization"},
		ExposedHeaders: []string{logging.RequestIDHeader, "Retry-After", "X-RateLimit-Remaining", entitlementCodeHeader},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.Error(w, errs.NotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respond.Error(w, errs.InvalidInput, "method not allowed")
	})

	authMiddleware := auth.NewMiddleware(deps.Auth)
	limit := func(action string, rule config.RateLimitRule, key ratelimit.KeyFunc) func(http.Handler) http.Handler {
		return deps.Limiter.Middleware(action, rule.Limit, rule.Window(), key)
	}
	byIP := ratelimit.IdentityKey(nil)
	byUser := ratelimit.IdentityKey(auth.UserID)

	h := &Handlers{Deps: deps}

	// ========== Public endpoints ==========

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// ========== Webhooks ==========
	r.Route("/webhooks", func(r chi.Router) {
		r.Use(limit("webhook", cfg.RateLimit.Webhook, byIP))

		r.Get("/whatsapp/{tenantID}", h.Webhooks.WhatsAppChallenge)
		r.Post("/whatsapp/{tenantID}", h.Webhooks.WhatsAppInbound)
		r.Post("/leads/{tenantID}", h.Webhooks.LeadWebhook)
		if h.Stripe != nil {
			r.Method(http.MethodPost, "/stripe", h.Stripe)
		}
	})

	// ========== API routes ==========
	r.Route("/api", func(r chi.Router) {
		r.Get("/version", h.GetVersion)
		r.With(limit("contact", cfg.RateLimit.Contact, byIP)).Post("/contact", h.Contact)
		r.Get("/integrations/google/callback", h.GoogleCallback)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Use(limit("api", cfg.RateLimit.API, byUser))

			r.Get("/entitlement", h.GetEntitlement)
			r.With(limit("credits", cfg.RateLimit.Credits, byUser)).Post("/credits/consume", h.ConsumeCredits)
			r.Get("/usage", h.GetUsage)

			r.Get("/leads", h.ListLeads)
			r.Get("/leads/{leadID}", h.GetLead)
			r.Get("/integrations", h.ListIntegrations)
			r.Post("/integrations/{id}/token", h.IntegrationToken)

			// Requires an active entitlement
			r.Group(func(r chi.Router) {
				r.Use(entitlement.RequireAccess(h.Gate, auth.UserID))
				r.Post("/leads", h.CreateLead)
				r.Get("/integrations/google/start", h.GoogleStart)
			})

			// Admin only
			r.Route("/admin", func(r chi.Router) {
				r.Use(authMiddleware.RequireAdmin)

				r.Get("/entitlements/{userID}", h.AdminGetEntitlement)
				r.Patch("/entitlements/{userID}", h.AdminUpdateEntitlement)

				r.Get("/settings", h.GetSettings)
				r.Get("/settings/email", h.GetEmailSettings)
				r.Put("/settings/email", h.UpdateEmailSettings)
				r.Post("/settings/email/test", h.TestEmailSettings)
				r.Get("/settings/geoip", h.GetGeoIPSettings)
				r.Put("/settings/geoip", h.UpdateGeoIPSettings)
				r.Get("/settings/geoip/status", h.GetGeoIPStatus)
				r.Post("/settings/geoip/download", h.DownloadGeoIPDatabase)
			})
		})
	})

	return r
}

// instrument records request latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
