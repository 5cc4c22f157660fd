package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/leads"
	"github.com/botzfyi/botz/internal/metrics"
	"github.com/botzfyi/botz/internal/respond"
)

// MaxBodyBytes caps every webhook body.
const MaxBodyBytes = 1 << 20

// Ingester stores leads.
type Ingester interface {
	Ingest(ctx context.Context, tenantID string, p leads.Payload, req leads.Request) (*leads.Lead, bool, error)
}

type Options struct {
	// MetaSecret signs WhatsApp deliveries.
	MetaSecret string
	// VerifyToken answers the subscription challenge.
	VerifyToken string
	// LeadSecret signs generic lead webhooks.
	LeadSecret string
}

// Handler serves the WhatsApp and generic lead webhooks.
type Handler struct {
	meta        *Verifier
	lead        *Verifier
	verifyToken string
	leads       Ingester
	events      *EventLog
}

func NewHandler(opts Options, ingester Ingester, events *EventLog) *Handler {
	return &Handler{
		meta:        NewVerifier(opts.MetaSecret),
		lead:        NewVerifier(opts.LeadSecret),
		verifyToken: opts.VerifyToken,
		leads:       ingester,
		events:      events,
	}
}

// WhatsAppChallenge answers the GET subscription handshake.
func (h *Handler) WhatsAppChallenge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if h.verifyToken == "" || mode != "subscribe" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		metrics.WebhookRequests.WithLabelValues("whatsapp", "challenge_rejected").Inc()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "forbidden")
		return
	}

	metrics.WebhookRequests.WithLabelValues("whatsapp", "challenge_ok").Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// WhatsAppInbound verifies a delivery and ingests one lead per message.
func (h *Handler) WhatsAppInbound(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	body, ok := h.readVerified(w, r, "whatsapp", h.meta)
	if !ok {
		return
	}

	n, err := ParseNotification(body)
	if err != nil {
		metrics.WebhookRequests.WithLabelValues("whatsapp", "invalid").Inc()
		respond.Error(w, errs.InvalidInput, "invalid json body")
		return
	}

	ingested := 0
	for _, in := range n.Leads() {
		if in.MessageID != "" {
			seen, err := h.events.Processed(r.Context(), in.MessageID)
			if err != nil {
				metrics.WebhookRequests.WithLabelValues("whatsapp", "error").Inc()
				respond.Err(w, r, err)
				return
			}
			if seen {
				continue
			}
		}

		_, _, err := h.leads.Ingest(r.Context(), tenantID, in.Payload, leads.Request{DefaultSource: "whatsapp"})
		if err != nil {
			if errs.CodeOf(err) == errs.InvalidInput {
				log.Warn().Err(err).Str("tenant_id", tenantID).Str("message_id", in.MessageID).Msg("Skipping unusable WhatsApp message")
				continue
			}
			metrics.WebhookRequests.WithLabelValues("whatsapp", "error").Inc()
			respond.Err(w, r, err)
			return
		}
		ingested++

		if in.MessageID != "" {
			if err := h.events.MarkProcessed(r.Context(), in.MessageID, "whatsapp", "message"); err != nil {
				log.Warn().Err(err).Str("message_id", in.MessageID).Msg("Failed to mark WhatsApp message processed")
			}
		}
	}

	metrics.WebhookRequests.WithLabelValues("whatsapp", "ok").Inc()
	respond.JSON(w, http.StatusOK, map[string]int{"ingested": ingested})
}

// LeadWebhook ingests a signed form or JSON lead for the tenant in the URL.
func (h *Handler) LeadWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	body, ok := h.readVerified(w, r, "leads", h.lead)
	if !ok {
		return
	}

	p, err := leads.ParsePayload(r.Header.Get("Content-Type"), body)
	if err != nil {
		metrics.WebhookRequests.WithLabelValues("leads", "invalid").Inc()
		respond.Error(w, errs.InvalidInput, err.Error())
		return
	}

	lead, created, err := h.leads.Ingest(r.Context(), tenantID, p, leads.Request{DefaultSource: "webhook"})
	if err != nil {
		metrics.WebhookRequests.WithLabelValues("leads", "error").Inc()
		respond.Err(w, r, err)
		return
	}

	metrics.WebhookRequests.WithLabelValues("leads", "ok").Inc()
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respond.JSON(w, status, lead)
}

// readVerified reads at most MaxBodyBytes and checks the signature before
// anything parses the body. It writes the error response itself.
func (h *Handler) readVerified(w http.ResponseWriter, r *http.Request, provider string, v *Verifier) ([]byte, bool) {
	if chi.URLParam(r, "tenantID") == "" {
		respond.Error(w, errs.InvalidInput, "tenant id is required")
		return nil, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.WebhookRequests.WithLabelValues(provider, "invalid").Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(w, errs.InvalidInput, "request body too large")
			return nil, false
		}
		respond.Error(w, errs.InvalidInput, "failed to read request body")
		return nil, false
	}

	if !v.Verify(body, r.Header.Get(SignatureHeader)) {
		metrics.WebhookRequests.WithLabelValues(provider, "bad_signature").Inc()
		log.Warn().Str("provider", provider).Str("remote", r.RemoteAddr).Msg("Webhook signature rejected")
		respond.Error(w, errs.Unauthorized, "invalid signature")
		return nil, false
	}
	return body, true
}
