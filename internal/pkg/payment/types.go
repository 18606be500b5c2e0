package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/lomitrack/lomitrack/app/models"
)

// Gateway payment outcome, normalized across providers.
const (
	EventStatusSuccess   = "success"
	EventStatusFailure   = "failure"
	EventStatusCancelled = "cancelled"
)

var (
	// ErrMissingOrderID marks a verified callback that carries no order
	// reference. Malformed, not retryable.
	ErrMissingOrderID = errors.New("callback carries no order identifier")
	// ErrOrderNotFound marks a callback for an order this deployment
	// never created. Orders are never created speculatively from
	// callbacks.
	ErrOrderNotFound = errors.New("order not found for callback")
	// ErrInvalidSignature marks a callback that failed authenticity
	// verification. The callback is dropped, never retried with
	// relaxed rules.
	ErrInvalidSignature = errors.New("invalid gateway signature")
	// ErrFreePlanCheckout is returned when a free plan is sent through
	// the paid-upgrade path. Free plans activate synchronously.
	ErrFreePlanCheckout = errors.New("free plans do not go through a payment gateway")
	// ErrPlanUnavailable is returned for unknown or deactivated plans.
	ErrPlanUnavailable = errors.New("plan does not exist or is not active")
	// ErrUnknownGateway is returned for an unrecognized gateway choice.
	ErrUnknownGateway = errors.New("unknown payment gateway")
)

// GatewayEvent is the provider-agnostic shape of a VERIFIED gateway
// callback. Adapters only produce one after signature verification
// succeeded.
type GatewayEvent struct {
	Provider    string
	EventID     string
	EventType   string
	OrderID     string
	ExternalRef string
	// PlanID is the plan identifier echoed back in gateway-side
	// metadata, when the gateway carries it. May be empty; the order's
	// own metadata is the fallback.
	PlanID   string
	Status   string
	Amount   decimal.Decimal
	Currency string
	RawJSON  string
}

// CheckoutOptions carries per-checkout settings into an adapter.
type CheckoutOptions struct {
	CustomerEmail string
	Description   string
	Embedded      bool
}

// CheckoutSession is what an adapter hands back for the client to
// finish payment out-of-band. Exactly one of CheckoutURL/ClientSecret
// is set depending on mode and provider.
type CheckoutSession struct {
	SessionID    string `json:"session_id"`
	CheckoutURL  string `json:"checkout_url,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// GatewayAdapter creates gateway-side checkout sessions for pending
// orders. Callback verification is provider-specific and lives on the
// concrete adapters.
type GatewayAdapter interface {
	Name() string
	CreateCheckout(ctx context.Context, order *models.PaymentOrder, opts CheckoutOptions) (*CheckoutSession, error)
}

// Actionable reports whether the event describes a payment outcome the
// reconciliation handler should process. Verified events of unrelated
// types are acknowledged without reconciliation.
func (e *GatewayEvent) Actionable() bool {
	return e.Status != ""
}

// CallbackResult reports what HandleGatewayCallback did.
type CallbackResult struct {
	Duplicate bool
	// OrderStatus is the order status after processing.
	OrderStatus string
	// SubscriptionActivated is true when the user's subscription row
	// was upgraded in the same transaction.
	SubscriptionActivated bool
	// ActivationDeferred is true when the payment completed but no plan
	// could be resolved; the order is flagged for operator follow-up.
	ActivationDeferred bool
}

// InitiateResult is returned to the client to continue checkout.
type InitiateResult struct {
	OrderID       string           `json:"order_id"`
	InvoiceNumber string           `json:"invoice_number"`
	Session       *CheckoutSession `json:"session"`
}
