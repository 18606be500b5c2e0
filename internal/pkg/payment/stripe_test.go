package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test_secret"

func newTestStripe() *StripeGateway {
	return &StripeGateway{
		webhookSecret: testWebhookSecret,
		frontendBase:  "http://localhost:3000",
	}
}

// stripeSignature builds a valid Stripe-Signature header for the given
// payload, the same scheme ConstructEvent verifies.
func stripeSignature(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEventPayload(eventType, orderID, paymentStatus string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test_1",
		"api_version": %q,
		"type": %q,
		"data": {
			"object": {
				"id": "cs_test_1",
				"object": "checkout.session",
				"client_reference_id": %q,
				"payment_status": %q,
				"currency": "etb",
				"amount_total": 29999,
				"metadata": {"order_id": %q, "plan_id": "2"}
			}
		}
	}`, stripe.APIVersion, eventType, orderID, paymentStatus, orderID))
}

func TestVerifyWebhookAcceptsSignedEvent(t *testing.T) {
	gw := newTestStripe()
	payload := checkoutEventPayload("checkout.session.completed", "ORD-1", "paid")

	ev, err := gw.VerifyWebhook(payload, stripeSignature(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, "stripe", ev.Provider)
	assert.Equal(t, "evt_test_1", ev.EventID)
	assert.Equal(t, "ORD-1", ev.OrderID)
	assert.Equal(t, "2", ev.PlanID)
	assert.Equal(t, EventStatusSuccess, ev.Status)
	assert.Equal(t, "ETB", ev.Currency)
	assert.True(t, ev.Amount.Equal(decimal.NewFromFloat(299.99)))
	assert.True(t, ev.Actionable())
}

func TestVerifyWebhookRejectsWrongSecret(t *testing.T) {
	gw := newTestStripe()
	payload := checkoutEventPayload("checkout.session.completed", "ORD-1", "paid")

	_, err := gw.VerifyWebhook(payload, stripeSignature(payload, "whsec_other", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyWebhookRejectsTamperedBody(t *testing.T) {
	gw := newTestStripe()
	payload := checkoutEventPayload("checkout.session.completed", "ORD-1", "paid")
	header := stripeSignature(payload, testWebhookSecret, time.Now())

	tampered := checkoutEventPayload("checkout.session.completed", "ORD-2", "paid")
	_, err := gw.VerifyWebhook(tampered, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyWebhookRejectsStaleTimestamp(t *testing.T) {
	gw := newTestStripe()
	payload := checkoutEventPayload("checkout.session.completed", "ORD-1", "paid")

	_, err := gw.VerifyWebhook(payload, stripeSignature(payload, testWebhookSecret, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyWebhookRejectsWhenSecretUnconfigured(t *testing.T) {
	gw := &StripeGateway{}
	payload := checkoutEventPayload("checkout.session.completed", "ORD-1", "paid")

	_, err := gw.VerifyWebhook(payload, stripeSignature(payload, testWebhookSecret, time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyWebhookIgnoresUnrelatedEventTypes(t *testing.T) {
	gw := newTestStripe()
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_test_2",
		"api_version": %q,
		"type": "invoice.created",
		"data": {"object": {"id": "in_1"}}
	}`, stripe.APIVersion))

	ev, err := gw.VerifyWebhook(payload, stripeSignature(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, "invoice.created", ev.EventType)
	assert.False(t, ev.Actionable())
}

func TestVerifyWebhookExpiredSessionMapsToCancelled(t *testing.T) {
	gw := newTestStripe()
	payload := checkoutEventPayload("checkout.session.expired", "ORD-1", "unpaid")

	ev, err := gw.VerifyWebhook(payload, stripeSignature(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventStatusCancelled, ev.Status)
}

func TestVerifyWebhookAsyncFailureMapsToFailure(t *testing.T) {
	gw := newTestStripe()
	payload := checkoutEventPayload("checkout.session.async_payment_failed", "ORD-1", "unpaid")

	ev, err := gw.VerifyWebhook(payload, stripeSignature(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventStatusFailure, ev.Status)
}

func TestVerifyWebhookUnpaidCompletionMapsToFailure(t *testing.T) {
	gw := newTestStripe()
	payload := checkoutEventPayload("checkout.session.completed", "ORD-1", "unpaid")

	ev, err := gw.VerifyWebhook(payload, stripeSignature(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventStatusFailure, ev.Status)
}

func TestStripeOutcomeMapping(t *testing.T) {
	assert.Equal(t, EventStatusCancelled, stripeOutcome("checkout.session.expired", stripe.CheckoutSessionPaymentStatusUnpaid))
	assert.Equal(t, EventStatusFailure, stripeOutcome("checkout.session.async_payment_failed", stripe.CheckoutSessionPaymentStatusUnpaid))
	assert.Equal(t, EventStatusSuccess, stripeOutcome("checkout.session.completed", stripe.CheckoutSessionPaymentStatusPaid))
	assert.Equal(t, EventStatusFailure, stripeOutcome("checkout.session.completed", stripe.CheckoutSessionPaymentStatusUnpaid))
}
