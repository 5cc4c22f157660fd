package api

import (
	"errors"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/botzfyi/botz/internal/auth"
	"github.com/botzfyi/botz/internal/database"
	"github.com/botzfyi/botz/internal/entitlement"
	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/logging"
	"github.com/botzfyi/botz/internal/respond"
	"github.com/botzfyi/botz/internal/usage"
)

type entitlementResponse struct {
	entitlement.Decision
	Limits *entitlement.PlanLimits `json:"limits,omitempty"`
}

func withLimits(d entitlement.Decision) entitlementResponse {
	resp := entitlementResponse{Decision: d}
	if d.Entitlement != nil {
		limits := d.Entitlement.Limits()
		resp.Limits = &limits
	}
	return resp
}

// GetEntitlement reports the caller's access decision. Denials are data
// here, not errors; only internal failures fail the request.
func (h *Handlers) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	d := h.Gate.CheckAccess(r.Context(), auth.UserID(r))
	if d.Code == entitlement.CodeInternal {
		respond.Err(w, r, d.Denial())
		return
	}
	respond.JSON(w, http.StatusOK, withLimits(d))
}

type consumeRequest struct {
	Delta    float64        `json:"delta"`
	Endpoint string         `json:"endpoint"`
	Action   string         `json:"action"`
	Metadata map[string]any `json:"metadata"`
}

type consumeResponse struct {
	entitlementResponse
	EventID string `json:"event_id,omitempty"`
}

// ConsumeCredits debits the caller and appends a usage event.
func (h *Handlers) ConsumeCredits(w http.ResponseWriter, r *http.Request) {
	var in consumeRequest
	if err := decodeJSON(w, r, &in); err != nil {
		respond.Err(w, r, err)
		return
	}
	if in.Delta < 0 {
		respond.Error(w, errs.InvalidInput, "delta must not be negative")
		return
	}
	if in.Delta >= math.MaxInt64 {
		respond.Error(w, errs.InvalidInput, "delta is too large")
		return
	}
	// Fractional deltas are floored to whole credits.
	delta := int64(math.Floor(in.Delta))

	userID := auth.UserID(r)
	d := h.Gate.ConsumeCredits(r.Context(), userID, delta)
	if !d.OK {
		respond.Err(w, r, d.Denial())
		return
	}

	resp := consumeResponse{entitlementResponse: withLimits(d)}
	if delta > 0 {
		ev, err := h.Usage.Record(r.Context(), usage.Input{
			UserID:       userID,
			ProductKey:   h.Gate.ProductKey(),
			Endpoint:     in.Endpoint,
			Action:       in.Action,
			CreditsDelta: delta,
			Metadata:     in.Metadata,
		})
		if err != nil {
			l := logging.FromContext(r.Context())
			l.Error().Err(err).Str("user_id", userID).Int64("delta", delta).Msg("Usage event lost")
		} else {
			resp.EventID = ev.ID
		}
	}
	respond.JSON(w, http.StatusOK, resp)
}

// GetUsage returns the caller's latest events and rolling totals.
func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r)
	limit := usage.ParseLimit(r.URL.Query().Get("limit"))

	events, err := h.Usage.List(r.Context(), userID, h.Gate.ProductKey(), limit)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	summary, err := h.Usage.Summary(r.Context(), userID, h.Gate.ProductKey())
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if events == nil {
		events = []*usage.Event{}
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"events":  events,
		"summary": summary,
		"limit":   limit,
	})
}

// AdminGetEntitlement returns any user's entitlement without creating one.
func (h *Handlers) AdminGetEntitlement(w http.ResponseWriter, r *http.Request) {
	e, err := h.Gate.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respond.Err(w, r, notFound(err, "entitlement not found"))
		return
	}
	respond.JSON(w, http.StatusOK, e)
}

// AdminUpdateEntitlement applies an admin edit, creating a trial first if
// the user has none.
func (h *Handlers) AdminUpdateEntitlement(w http.ResponseWriter, r *http.Request) {
	var patch entitlement.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		respond.Err(w, r, err)
		return
	}
	e, err := h.Gate.Update(r.Context(), chi.URLParam(r, "userID"), patch)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, e)
}

func notFound(err error, message string) error {
	if errors.Is(err, database.ErrNotFound) {
		return errs.Wrap(errs.NotFound, message, err)
	}
	return err
}
