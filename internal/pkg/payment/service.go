package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/lomitrack/lomitrack/app/models"
	"github.com/lomitrack/lomitrack/internal/pkg/notify"
)

// Service owns the payment-to-subscription reconciliation flow: it
// creates pending orders, hands off to a gateway adapter, and applies
// ledger + subscription transitions when a verified callback arrives.
type Service struct {
	repo     Repository
	notifier notify.Notifier
	gateways map[string]GatewayAdapter
	now      func() time.Time
}

// NewService creates a payment service from an injected repository.
func NewService(repo Repository, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		gateways: make(map[string]GatewayAdapter),
		now:      time.Now,
	}
}

// NewServiceFromDB creates a payment service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, notifier notify.Notifier) *Service {
	return NewService(NewRepository(db), notifier)
}

// RegisterGateway makes an adapter selectable by name.
func (s *Service) RegisterGateway(g GatewayAdapter) {
	s.gateways[g.Name()] = g
}

// InitiatePayment validates the upgrade request, creates a pending
// order with a monthly invoice number and opens a gateway checkout
// session. Free plans never take this path.
func (s *Service) InitiatePayment(ctx context.Context, userID uint, planID uint, gatewayName string, opts CheckoutOptions) (*InitiateResult, error) {
	plan, err := s.repo.GetPlanByID(planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanUnavailable
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrPlanUnavailable
	}
	if plan.IsFree() {
		return nil, ErrFreePlanCheckout
	}

	gateway, ok := s.gateways[strings.ToLower(strings.TrimSpace(gatewayName))]
	if !ok {
		return nil, ErrUnknownGateway
	}

	now := s.now()
	order := &models.PaymentOrder{
		OrderID:  models.NewOrderID(userID, now),
		UserID:   userID,
		PlanID:   plan.ID,
		PlanName: plan.Name,
		Amount:   plan.Price,
		Currency: plan.Currency,
		Status:   models.OrderStatusPending,
		Gateway:  gateway.Name(),
	}
	if err := s.repo.CreateOrder(order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	session, err := gateway.CreateCheckout(ctx, order, opts)
	if err != nil {
		// The order stays pending; the hourly sweep cancels stale ones.
		return nil, fmt.Errorf("open checkout session: %w", err)
	}

	order.SessionID = session.SessionID
	if err := s.repo.SaveOrder(order); err != nil {
		return nil, err
	}

	return &InitiateResult{
		OrderID:       order.OrderID,
		InvoiceNumber: order.InvoiceNumber,
		Session:       session,
	}, nil
}

// ActivateFreePlan switches a user to a free plan synchronously. No
// order row is created and no gateway is involved.
func (s *Service) ActivateFreePlan(ctx context.Context, userID uint, planID uint) (*models.Subscription, error) {
	plan, err := s.repo.GetPlanByID(planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanUnavailable
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrPlanUnavailable
	}
	if !plan.IsFree() {
		return nil, fmt.Errorf("plan %s is not free", plan.Code)
	}

	sub := &models.Subscription{
		UserID:  userID,
		PlanID:  plan.ID,
		Status:  models.SubscriptionStatusActive,
		EndDate: s.endDateFor(plan),
	}
	if err := s.repo.UpsertSubscription(sub); err != nil {
		return nil, err
	}

	s.publish(ctx, notify.Event{
		Type:   notify.EventSubscriptionUpdated,
		UserID: userID,
		Payload: map[string]interface{}{
			"plan":   plan.Code,
			"status": sub.Status,
		},
	})
	return sub, nil
}

// CancelSubscription marks the user's subscription cancelled. The
// ledger is untouched; re-upgrading later goes through a fresh payment.
func (s *Service) CancelSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByUserID(userID)
	if err != nil {
		return nil, err
	}
	sub.Status = models.SubscriptionStatusCancelled
	if err := s.repo.UpsertSubscription(sub); err != nil {
		return nil, err
	}

	s.publish(ctx, notify.Event{
		Type:    notify.EventSubscriptionUpdated,
		UserID:  userID,
		Payload: map[string]interface{}{"status": sub.Status},
	})
	return sub, nil
}

// HandleGatewayCallback is the single entry point for verified gateway
// callbacks. Gateways deliver at least once and possibly out of order;
// the terminal-state check makes reprocessing safe.
func (s *Service) HandleGatewayCallback(ctx context.Context, ev GatewayEvent) (*CallbackResult, error) {
	if strings.TrimSpace(ev.OrderID) == "" {
		return nil, ErrMissingOrderID
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		Provider:        ev.Provider,
		ProviderEventID: ev.EventID,
		EventType:       ev.EventType,
		PayloadJSON:     ev.RawJSON,
		SignatureValid:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("persist webhook event: %w", err)
	}
	if !created {
		return &CallbackResult{Duplicate: true}, nil
	}

	result, procErr := s.reconcile(ctx, ev)

	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
	} else if result.ActivationDeferred {
		errMsg = "payment completed but plan could not be resolved"
	}
	if markErr := s.repo.MarkWebhookProcessed(stored.ID, errMsg); markErr != nil {
		log.Errorf("mark webhook %d processed: %v", stored.ID, markErr)
	}
	return result, procErr
}

func (s *Service) reconcile(ctx context.Context, ev GatewayEvent) (*CallbackResult, error) {
	order, err := s.repo.GetOrderByOrderID(ev.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Most likely a callback for an order another environment
			// created. Never create one speculatively.
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	// Duplicate delivery: terminal orders are never re-opened and the
	// callback is acknowledged without side effects.
	if order.IsTerminal() {
		return &CallbackResult{Duplicate: true, OrderStatus: order.Status}, nil
	}

	order.ExternalRef = ev.ExternalRef
	switch ev.Status {
	case EventStatusSuccess:
		order.Status = models.OrderStatusCompleted
	case EventStatusCancelled:
		order.Status = models.OrderStatusCancelled
	default:
		order.Status = models.OrderStatusFailed
	}

	if order.Status != models.OrderStatusCompleted {
		if err := s.repo.FinalizeOrder(order); err != nil {
			return nil, err
		}
		s.publish(ctx, notify.Event{
			Type:    notify.EventPaymentFailed,
			UserID:  order.UserID,
			Payload: map[string]interface{}{"order_id": order.OrderID, "status": order.Status},
		})
		return &CallbackResult{OrderStatus: order.Status}, nil
	}

	// Resolve the plan to activate: the gateway's own metadata echo
	// wins, the order's stored metadata is the fallback.
	plan, resolveErr := s.resolvePlan(ev, order)
	if resolveErr != nil {
		// Payment truth is not rolled back. The order completes with
		// the gap recorded for operator follow-up.
		order.ActivationError = resolveErr.Error()
		if err := s.repo.FinalizeOrder(order); err != nil {
			return nil, err
		}
		log.Errorf("order %s completed but activation deferred: %v", order.OrderID, resolveErr)
		return &CallbackResult{OrderStatus: order.Status, ActivationDeferred: true}, nil
	}

	now := s.now()
	sub := &models.Subscription{
		UserID:  order.UserID,
		PlanID:  plan.ID,
		Status:  models.SubscriptionStatusActive,
		EndDate: s.endDateFor(plan),
	}
	order.ActivatedAt = &now
	order.ActivationError = ""
	if err := s.repo.CompleteOrderAndActivate(order, sub); err != nil {
		return nil, err
	}

	s.publish(ctx, notify.Event{
		Type:   notify.EventPaymentCompleted,
		UserID: order.UserID,
		Payload: map[string]interface{}{
			"order_id":       order.OrderID,
			"invoice_number": order.InvoiceNumber,
			"amount":         order.Amount.String(),
		},
	})
	s.publish(ctx, notify.Event{
		Type:   notify.EventSubscriptionUpdated,
		UserID: order.UserID,
		Payload: map[string]interface{}{
			"plan":     plan.Code,
			"status":   sub.Status,
			"end_date": sub.EndDate,
		},
	})
	return &CallbackResult{OrderStatus: order.Status, SubscriptionActivated: true}, nil
}

// ActivateManually lets an operator finish a deferred activation for a
// completed order (admin repair path).
func (s *Service) ActivateManually(ctx context.Context, orderID string) (*models.Subscription, error) {
	order, err := s.repo.GetOrderByOrderID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if order.Status != models.OrderStatusCompleted {
		return nil, fmt.Errorf("order %s is %s, only completed orders can be activated", orderID, order.Status)
	}
	if order.ActivatedAt != nil {
		return s.repo.GetSubscriptionByUserID(order.UserID)
	}

	plan, err := s.repo.GetPlanByID(order.PlanID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan %d: %w", order.PlanID, err)
	}

	now := s.now()
	sub := &models.Subscription{
		UserID:  order.UserID,
		PlanID:  plan.ID,
		Status:  models.SubscriptionStatusActive,
		EndDate: s.endDateFor(plan),
	}
	order.ActivatedAt = &now
	order.ActivationError = ""
	if err := s.repo.CompleteOrderAndActivate(order, sub); err != nil {
		return nil, err
	}

	s.publish(ctx, notify.Event{
		Type:    notify.EventSubscriptionUpdated,
		UserID:  order.UserID,
		Payload: map[string]interface{}{"plan": plan.Code, "status": sub.Status},
	})
	return sub, nil
}

// RecordRejectedCallback keeps a forensic trail of callbacks that
// failed signature verification. No order or subscription row is
// touched.
func (s *Service) RecordRejectedCallback(provider, eventID, eventType, payload, reason string) {
	_, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     payload,
		SignatureValid:  false,
	})
	if err != nil {
		log.Errorf("record rejected %s callback: %v", provider, err)
		return
	}
	if err := s.repo.MarkWebhookProcessed(stored.ID, reason); err != nil {
		log.Errorf("mark rejected %s callback: %v", provider, err)
	}
}

func (s *Service) resolvePlan(ev GatewayEvent, order *models.PaymentOrder) (*models.Plan, error) {
	planID := order.PlanID
	if raw := strings.TrimSpace(ev.PlanID); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err == nil {
			planID = uint(parsed)
		}
	}
	if planID == 0 {
		return nil, fmt.Errorf("no plan reference in gateway event or order %s", order.OrderID)
	}
	plan, err := s.repo.GetPlanByID(planID)
	if err != nil {
		return nil, fmt.Errorf("plan %d not found for order %s", planID, order.OrderID)
	}
	return plan, nil
}

// endDateFor computes the fresh end date: now + plan duration. An
// upgrade never stacks remaining time from a previous plan.
func (s *Service) endDateFor(plan *models.Plan) *time.Time {
	if plan.DurationDays <= 0 {
		return nil
	}
	end := s.now().AddDate(0, 0, plan.DurationDays)
	return &end
}

func (s *Service) publish(ctx context.Context, event notify.Event) {
	if err := s.notifier.Publish(ctx, event); err != nil {
		log.Warnf("publish %s event: %v", event.Type, err)
	}
}
