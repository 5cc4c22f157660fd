package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/botzfyi/botz/internal/auth"
	"github.com/botzfyi/botz/internal/config"
	"github.com/botzfyi/botz/internal/database"
	"github.com/botzfyi/botz/internal/enrichment"
	"github.com/botzfyi/botz/internal/entitlement"
	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/integrations"
	"github.com/botzfyi/botz/internal/leads"
	"github.com/botzfyi/botz/internal/ratelimit"
	"github.com/botzfyi/botz/internal/respond"
	"github.com/botzfyi/botz/internal/settings"
	"github.com/botzfyi/botz/internal/usage"
	"github.com/botzfyi/botz/internal/webhook"
)

// Version is set from main.go at startup
var Version = "dev"

// maxJSONBody caps request bodies decoded by API handlers.
const maxJSONBody = 64 << 10

// MailTester checks outbound mail settings.
type MailTester interface {
	TestConnection(ctx context.Context) (string, error)
}

// Deps are the services the router wires into handlers. Redis, Stripe,
// Mailer and Enricher may be nil.
type Deps struct {
	Config       *config.Config
	DB           *database.DB
	Redis        redis.Cmdable
	Auth         *auth.Auth
	Gate         *entitlement.Gate
	Limiter      *ratelimit.Limiter
	Usage        *usage.Recorder
	Leads        *leads.Service
	Webhooks     *webhook.Handler
	Stripe       http.Handler
	Integrations integrations.Store
	Refresher    *integrations.Refresher
	Google       *integrations.Connector
	Settings     *settings.Service
	Mailer       MailTester
	Enricher     *enrichment.Enricher

	// GeoIPURL overrides the MaxMind download location.
	GeoIPURL string
}

type Handlers struct {
	Deps
}

// Health check
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports whether the database and, when configured, Redis answer.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	ready := true
	if err := h.DB.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		ready = false
	}
	if h.Redis != nil {
		checks["redis"] = "ok"
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			// The limiter falls back to memory without Redis.
			checks["redis"] = err.Error()
		}
	}

	if !ready {
		respond.Error(w, errs.Internal, "not ready")
		return
	}
	respond.JSON(w, http.StatusOK, checks)
}

// GetVersion returns the current version
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"version": Version})
}

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errs.Wrap(errs.InvalidInput, "invalid JSON body", err)
	}
	return nil
}

// tenantOf resolves the lead tenant of an authenticated request. Admins may
// act on another tenant with ?tenant_id=.
func (h *Handlers) tenantOf(r *http.Request) string {
	claims := auth.GetUserFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if q := r.URL.Query().Get("tenant_id"); q != "" && h.Auth.IsAdmin(claims) {
		return q
	}
	if claims.TenantID != "" {
		return claims.TenantID
	}
	return claims.UserID
}
