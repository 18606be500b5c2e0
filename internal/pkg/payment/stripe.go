package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"
	session "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/lomitrack/lomitrack/app/models"
	"github.com/lomitrack/lomitrack/internal/pkg/env"
)

// StripeGateway is the card-checkout adapter. It creates hosted or
// embedded checkout sessions and verifies inbound webhooks against the
// deployment webhook secret.
type StripeGateway struct {
	webhookSecret string
	frontendBase  string
}

// NewStripeGatewayFromEnv configures the global stripe client and the
// adapter from the environment.
func NewStripeGatewayFromEnv() *StripeGateway {
	stripe.Key = env.GetEnv("STRIPE_SECRET_KEY", "")
	return &StripeGateway{
		webhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		frontendBase:  strings.TrimRight(env.GetEnv("FRONTEND_BASE_URL", "http://localhost:3000"), "/"),
	}
}

func (g *StripeGateway) Name() string {
	return models.GatewayStripe
}

// CreateCheckout opens a gateway-side checkout session for the order.
// No local state is mutated; the caller persists the session id.
func (g *StripeGateway) CreateCheckout(ctx context.Context, order *models.PaymentOrder, opts CheckoutOptions) (*CheckoutSession, error) {
	if !order.Amount.IsPositive() {
		return nil, fmt.Errorf("checkout amount must be positive, got %s", order.Amount)
	}

	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(order.OrderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(order.Currency)),
					UnitAmount: stripe.Int64(order.Amount.Mul(decimal.NewFromInt(100)).IntPart()),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(order.PlanName + " plan"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata("order_id", order.OrderID)
	params.AddMetadata("plan_id", fmt.Sprintf("%d", order.PlanID))
	if opts.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(opts.CustomerEmail)
	}

	if opts.Embedded {
		params.UIMode = stripe.String(string(stripe.CheckoutSessionUIModeEmbedded))
		params.ReturnURL = stripe.String(g.frontendBase + "/payment/return?order_id=" + order.OrderID)
	} else {
		params.SuccessURL = stripe.String(g.frontendBase + "/payment/success?order_id=" + order.OrderID)
		params.CancelURL = stripe.String(g.frontendBase + "/payment/cancel?order_id=" + order.OrderID)
	}

	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}

	out := &CheckoutSession{SessionID: s.ID}
	if opts.Embedded {
		out.ClientSecret = s.ClientSecret
	} else {
		out.CheckoutURL = s.URL
	}
	return out, nil
}

// VerifyWebhook authenticates the raw webhook body against the
// Stripe-Signature header and normalizes the event. Fails closed: any
// verification or parse error rejects the callback.
func (g *StripeGateway) VerifyWebhook(rawBody []byte, signatureHeader string) (*GatewayEvent, error) {
	if g.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEvent(rawBody, signatureHeader, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed", "checkout.session.expired":
	default:
		// Events without an order reference are acknowledged but not
		// reconciled.
		return &GatewayEvent{
			Provider:  models.GatewayStripe,
			EventID:   event.ID,
			EventType: string(event.Type),
			RawJSON:   string(rawBody),
		}, nil
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("parse checkout session payload: %w", err)
	}

	ev := &GatewayEvent{
		Provider:  models.GatewayStripe,
		EventID:   event.ID,
		EventType: string(event.Type),
		OrderID:   cs.ClientReferenceID,
		PlanID:    cs.Metadata["plan_id"],
		Currency:  strings.ToUpper(string(cs.Currency)),
		Amount:    decimal.NewFromInt(cs.AmountTotal).Div(decimal.NewFromInt(100)),
		RawJSON:   string(rawBody),
		Status:    stripeOutcome(event.Type, cs.PaymentStatus),
	}
	if cs.ClientReferenceID == "" {
		ev.OrderID = cs.Metadata["order_id"]
	}
	ev.ExternalRef = cs.ID
	if cs.PaymentIntent != nil {
		ev.ExternalRef = cs.PaymentIntent.ID
	}
	return ev, nil
}

func stripeOutcome(eventType stripe.EventType, paymentStatus stripe.CheckoutSessionPaymentStatus) string {
	switch eventType {
	case "checkout.session.expired":
		return EventStatusCancelled
	case "checkout.session.async_payment_failed":
		return EventStatusFailure
	}
	if paymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		return EventStatusSuccess
	}
	return EventStatusFailure
}
