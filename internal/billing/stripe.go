// Package billing applies Stripe subscription events to entitlements.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/botzfyi/botz/internal/database"
	"github.com/botzfyi/botz/internal/entitlement"
	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/metrics"
	"github.com/botzfyi/botz/internal/respond"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// Entitlements is the part of the gate billing drives.
type Entitlements interface {
	Activate(ctx context.Context, userID, planKey string, refs entitlement.StripeRefs) (*entitlement.Entitlement, error)
	BlockSubscription(ctx context.Context, subscriptionID string) (*entitlement.Entitlement, error)
}

// EventLog deduplicates redelivered events.
type EventLog interface {
	Processed(ctx context.Context, id string) (bool, error)
	MarkProcessed(ctx context.Context, id, provider, eventType string) error
}

// WebhookHandler verifies and applies Stripe events.
type WebhookHandler struct {
	secret       string
	entitlements Entitlements
	events       EventLog
}

func NewWebhookHandler(secret string, entitlements Entitlements, events EventLog) *WebhookHandler {
	return &WebhookHandler{secret: secret, entitlements: entitlements, events: events}
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	outcome := "ok"
	defer func() {
		metrics.WebhookRequests.WithLabelValues("stripe", outcome).Inc()
	}()

	if strings.TrimSpace(h.secret) == "" {
		outcome = "unconfigured"
		respond.Error(w, errs.Internal, "webhook secret not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		outcome = "invalid"
		respond.Error(w, errs.InvalidInput, "failed to read request body")
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		outcome = "bad_signature"
		respond.Error(w, errs.InvalidInput, "missing Stripe signature")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		outcome = "bad_signature"
		respond.Error(w, errs.InvalidInput, "invalid Stripe signature")
		return
	}

	seen, err := h.events.Processed(r.Context(), event.ID)
	if err != nil {
		outcome = "error"
		respond.Err(w, r, err)
		return
	}
	if seen {
		outcome = "duplicate"
		respond.JSON(w, http.StatusOK, map[string]bool{"received": true, "duplicate": true})
		return
	}

	if err := h.handleEvent(r.Context(), &event); err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Stripe webhook processing failed")
		outcome = "error"
		respond.Error(w, errs.Internal, "processing failed")
		return
	}

	// Only successful events are recorded so failed ones are retried.
	if err := h.events.MarkProcessed(r.Context(), event.ID, "stripe", string(event.Type)); err != nil {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to record processed Stripe event")
	}
	respond.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) handleEvent(ctx context.Context, event *stripelib.Event) error {
	switch event.Type {
	case stripelib.EventTypeCheckoutSessionCompleted:
		var session stripelib.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return h.handleCheckout(ctx, &session)

	case stripelib.EventTypeCustomerSubscriptionUpdated:
		var sub stripelib.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		switch sub.Status {
		case stripelib.SubscriptionStatusCanceled, stripelib.SubscriptionStatusUnpaid:
			return h.block(ctx, sub.ID)
		}
		return nil

	case stripelib.EventTypeCustomerSubscriptionDeleted:
		var sub stripelib.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.block(ctx, sub.ID)

	default:
		log.Info().
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Stripe webhook ignored (unhandled type)")
		return nil
	}
}

func (h *WebhookHandler) handleCheckout(ctx context.Context, session *stripelib.CheckoutSession) error {
	md := session.Metadata
	userID := firstNonEmpty(md["userId"], md["user_id"], session.ClientReferenceID)
	if userID == "" {
		log.Error().Str("session_id", session.ID).Msg("Checkout session has no user id, skipping")
		return nil
	}
	planKey := strings.ToLower(firstNonEmpty(md["plan"], md["planKey"], md["plan_key"]))

	var refs entitlement.StripeRefs
	if session.Customer != nil {
		refs.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		refs.SubscriptionID = session.Subscription.ID
	}

	e, err := h.entitlements.Activate(ctx, userID, planKey, refs)
	if err != nil {
		return fmt.Errorf("activate %s: %w", userID, err)
	}
	log.Info().Str("user_id", userID).Str("plan", e.PlanKey).Str("session_id", session.ID).Msg("Checkout completed")
	return nil
}

func (h *WebhookHandler) block(ctx context.Context, subscriptionID string) error {
	_, err := h.entitlements.BlockSubscription(ctx, subscriptionID)
	if errors.Is(err, database.ErrNotFound) {
		log.Warn().Str("subscription_id", subscriptionID).Msg("Subscription not linked to any entitlement")
		return nil
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
