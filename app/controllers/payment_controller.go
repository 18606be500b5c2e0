package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/lomitrack/lomitrack/internal/pkg/payment"
	"github.com/lomitrack/lomitrack/internal/pkg/usercontext"
)

var (
	paymentService  *payment.Service
	stripeGateway   *payment.StripeGateway
	telebirrGateway *payment.TelebirrGateway
)

// SetPaymentStack installs the payment service and gateway adapters
// (called once from main during startup).
func SetPaymentStack(svc *payment.Service, stripe *payment.StripeGateway, telebirr *payment.TelebirrGateway) {
	paymentService = svc
	stripeGateway = stripe
	telebirrGateway = telebirr
}

type payRequest struct {
	PlanID         uint   `json:"plan_id"`
	PaymentGateway string `json:"payment_gateway"`
	UseEmbedded    bool   `json:"use_embedded"`
}

// HandleInitiatePayment starts a checkout for a paid plan upgrade. Free
// plans activate immediately without a gateway round trip.
func HandleInitiatePayment(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)

	var req payRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if req.PlanID == 0 {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "plan_id is required")
	}

	user, err := repositoryUser(uc.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}

	result, err := paymentService.InitiatePayment(c.Context(), uc.UserID, req.PlanID, req.PaymentGateway, payment.CheckoutOptions{
		CustomerEmail: user.Email,
		Embedded:      req.UseEmbedded,
	})
	switch {
	case err == nil:
		return c.JSON(result)
	case errors.Is(err, payment.ErrPlanUnavailable):
		return jsonError(c, fiber.StatusNotFound, "not_found", "Plan does not exist or is not active")
	case errors.Is(err, payment.ErrFreePlanCheckout):
		sub, aerr := paymentService.ActivateFreePlan(c.Context(), uc.UserID, req.PlanID)
		if aerr != nil {
			log.Errorf("[Payment] Free plan activation for user %d: %v", uc.UserID, aerr)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to activate plan")
		}
		return c.JSON(fiber.Map{"subscription": sub})
	case errors.Is(err, payment.ErrUnknownGateway):
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Unknown payment gateway")
	default:
		log.Errorf("[Payment] Initiate payment for user %d plan %d: %v", uc.UserID, req.PlanID, err)
		return jsonError(c, fiber.StatusBadGateway, "gateway_error", "Payment provider is unavailable")
	}
}

// HandleStripeWebhook receives Stripe events. Signature verification
// runs against the raw request body before anything is parsed.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := c.BodyRaw()
	signature := c.Get("Stripe-Signature")

	event, err := stripeGateway.VerifyWebhook(rawBody, signature)
	if err != nil {
		paymentService.RecordRejectedCallback("stripe", "", "", string(rawBody), err.Error())
		log.Warnf("[Payment] Rejected Stripe webhook: %v", err)
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
	}

	if !event.Actionable() {
		return c.JSON(fiber.Map{"received": true, "ignored": true})
	}

	return finishCallback(c, *event)
}

// HandleTelebirrCallback receives Telebirr payment notifications. The
// notification parameters are signature-checked against the gateway's
// public key before the order is touched.
func HandleTelebirrCallback(c *fiber.Ctx) error {
	if telebirrGateway == nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "gateway_disabled", "Telebirr is not configured")
	}

	params, err := callbackParams(c)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid callback payload")
	}

	event, err := telebirrGateway.VerifyCallback(params)
	if err != nil {
		paymentService.RecordRejectedCallback("telebirr", params["transaction_id"], "payment.notify", string(c.BodyRaw()), err.Error())
		log.Warnf("[Payment] Rejected Telebirr callback: %v", err)
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "Callback signature verification failed")
	}

	return finishCallback(c, *event)
}

func finishCallback(c *fiber.Ctx, event payment.GatewayEvent) error {
	result, err := paymentService.HandleGatewayCallback(c.Context(), event)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{
			"received":               true,
			"duplicate":              result.Duplicate,
			"order_status":           result.OrderStatus,
			"subscription_activated": result.SubscriptionActivated,
		})
	case errors.Is(err, payment.ErrMissingOrderID):
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Callback carries no order identifier")
	case errors.Is(err, payment.ErrOrderNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "No order matches this callback")
	default:
		log.Errorf("[Payment] Callback %s/%s: %v", event.Provider, event.EventID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Callback processing failed")
	}
}

// callbackParams flattens the Telebirr notification into the flat
// string map the signature covers. JSON and form encodings are both
// accepted.
func callbackParams(c *fiber.Ctx) (map[string]string, error) {
	params := make(map[string]string)

	if c.Is("json") {
		var body map[string]interface{}
		if err := c.BodyParser(&body); err != nil {
			return nil, err
		}
		for k, v := range body {
			if s, ok := v.(string); ok {
				params[k] = s
			}
		}
		return params, nil
	}

	args := c.Request().PostArgs()
	args.VisitAll(func(key, value []byte) {
		params[string(key)] = string(value)
	})
	return params, nil
}
