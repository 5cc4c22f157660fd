package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/botzfyi/botz/internal/bot"
	"github.com/botzfyi/botz/internal/entitlement"
	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/leads"
	"github.com/botzfyi/botz/internal/logging"
	"github.com/botzfyi/botz/internal/metrics"
	"github.com/botzfyi/botz/internal/ratelimit"
	"github.com/botzfyi/botz/internal/respond"
)

// readPayload parses a form or JSON lead body.
func readPayload(w http.ResponseWriter, r *http.Request) (leads.Payload, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		return leads.Payload{}, errs.Wrap(errs.InvalidInput, "request body too large", err)
	}
	p, err := leads.ParsePayload(r.Header.Get("Content-Type"), body)
	if err != nil {
		return leads.Payload{}, errs.Wrap(errs.InvalidInput, "unreadable lead payload", err)
	}
	return p, nil
}

// entitlementCodeHeader carries a grace or overage code on allowed writes.
const entitlementCodeHeader = "X-Entitlement-Code"

func ingestStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

// CreateLead ingests a lead for the caller's tenant.
func (h *Handlers) CreateLead(w http.ResponseWriter, r *http.Request) {
	p, err := readPayload(w, r)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	lead, created, err := h.Leads.Ingest(r.Context(), h.tenantOf(r), p, leads.Request{DefaultSource: "api"})
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if d, ok := entitlement.DecisionFromContext(r.Context()); ok && d.Code != entitlement.CodeOK {
		w.Header().Set(entitlementCodeHeader, string(d.Code))
	}
	respond.JSON(w, ingestStatus(created), lead)
}

// ListLeads returns the tenant's most recently updated leads.
func (h *Handlers) ListLeads(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.Leads.List(r.Context(), h.tenantOf(r), limit)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if list == nil {
		list = []*leads.Lead{}
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *Handlers) GetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := h.Leads.Get(r.Context(), h.tenantOf(r), chi.URLParam(r, "leadID"))
	if err != nil {
		respond.Err(w, r, notFound(err, "lead not found"))
		return
	}
	respond.JSON(w, http.StatusOK, lead)
}

// Contact is the public website form. Submissions become leads of the
// contact tenant, enriched from the request, and trigger a notification.
// Submissions scored as automated are acknowledged but not stored.
func (h *Handlers) Contact(w http.ResponseWriter, r *http.Request) {
	p, err := readPayload(w, r)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if p.Name == "" || p.Email == "" {
		respond.Error(w, errs.InvalidInput, "name and email are required")
		return
	}

	score := bot.Score(bot.Submission{UserAgent: r.UserAgent(), Header: r.Header, Fields: p.Extra})
	if score.IsBot {
		l := logging.FromContext(r.Context())
		l.Info().Int("score", score.Score).Interface("signals", score.Signals).Msg("Contact submission dropped as automated")
		metrics.LeadsIngested.WithLabelValues("form", "rejected_bot").Inc()
		respond.JSON(w, http.StatusOK, map[string]any{"created": false})
		return
	}
	for _, f := range bot.HoneypotFields {
		delete(p.Extra, f)
	}
	if score.Category == bot.CategorySuspicious {
		if p.Extra == nil {
			p.Extra = map[string]string{}
		}
		p.Extra["bot_score"] = strconv.Itoa(score.Score)
	}

	lead, created, err := h.Leads.Ingest(r.Context(), h.Config.Leads.ContactTenantID, p, leads.Request{
		IP:            ratelimit.ClientIP(r),
		UserAgent:     r.UserAgent(),
		Referrer:      r.Referer(),
		DefaultSource: "form",
	})
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, ingestStatus(created), map[string]any{
		"lead_id": lead.LeadID,
		"created": created,
	})
}
