package billing

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/botzfyi/botz/internal/database"
	"github.com/botzfyi/botz/internal/entitlement"
	"github.com/botzfyi/botz/internal/webhook"
)

const secret = "whsec_test_secret"

func setup(t *testing.T) (*WebhookHandler, *entitlement.Gate) {
	t.Helper()
	db := database.OpenTest(t)
	gate := entitlement.NewGate(entitlement.NewSQLStore(db), entitlement.Options{TrialDays: 3, TrialCredits: 1000})
	return NewWebhookHandler(secret, gate, webhook.NewEventLog(db)), gate
}

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func checkoutEvent(id, userID, plan string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","customer":"cus_1","subscription":"sub_1","client_reference_id":"fallback-user","metadata":{"userId":%q,"plan":%q}}}}`, id, userID, plan)
}

func TestCheckoutActivatesEntitlement(t *testing.T) {
	h, gate := setup(t)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, secret, checkoutEvent("evt_1", "user-1", "Scale")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	e, err := gate.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusActive, e.Status)
	assert.Equal(t, entitlement.PlanScale, e.PlanKey)
	assert.Equal(t, int64(500000), e.CreditsLimit)
	assert.Equal(t, "cus_1", e.StripeCustomerID)
	assert.Equal(t, "sub_1", e.StripeSubscriptionID)
}

func TestCheckoutFallsBackToClientReference(t *testing.T) {
	h, gate := setup(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, secret, checkoutEvent("evt_2", "", "mystery")))
	require.Equal(t, http.StatusOK, rec.Code)

	e, err := gate.Get(context.Background(), "fallback-user")
	require.NoError(t, err)
	assert.Equal(t, entitlement.PlanPro, e.PlanKey, "unknown plans resolve to pro")
	assert.Equal(t, entitlement.StatusActive, e.Status)
}

func TestDuplicateEventIsNotReapplied(t *testing.T) {
	h, gate := setup(t)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, secret, checkoutEvent("evt_dup", "user-1", "pro")))
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := gate.Block(ctx, "user-1")
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, secret, checkoutEvent("evt_dup", "user-1", "pro")))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"duplicate":true`)

	e, err := gate.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusBlocked, e.Status)
}

func TestSubscriptionDeletedBlocks(t *testing.T) {
	h, gate := setup(t)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, secret, checkoutEvent("evt_a", "user-1", "pro")))
	require.Equal(t, http.StatusOK, rec.Code)

	deleted := `{"id":"evt_b","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","object":"subscription","customer":"cus_1","status":"canceled"}}}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, secret, deleted))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	d := gate.CheckAccess(ctx, "user-1")
	assert.False(t, d.OK)
	assert.Equal(t, entitlement.CodeBlocked, d.Code)

	unknown := `{"id":"evt_c","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_unknown","object":"subscription"}}}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, secret, unknown))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRejectsBadSignature(t *testing.T) {
	h, gate := setup(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, "whsec_other", checkoutEvent("evt_x", "user-1", "pro")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := gate.Get(context.Background(), "user-1")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestUnconfiguredSecret(t *testing.T) {
	db := database.OpenTest(t)
	h := NewWebhookHandler("", entitlement.NewGate(entitlement.NewSQLStore(db), entitlement.Options{}), webhook.NewEventLog(db))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, secret, checkoutEvent("evt_y", "u", "pro")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
