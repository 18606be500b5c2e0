package payment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lomitrack/lomitrack/app/models"
)

type fakeRepo struct {
	plans  map[uint]*models.Plan
	orders map[string]*models.PaymentOrder
	subs   map[uint]*models.Subscription
	events map[string]*models.WebhookEvent

	nextEventID     uint
	activationCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		plans:  make(map[uint]*models.Plan),
		orders: make(map[string]*models.PaymentOrder),
		subs:   make(map[uint]*models.Subscription),
		events: make(map[string]*models.WebhookEvent),
	}
}

func (f *fakeRepo) GetPlanByID(id uint) (*models.Plan, error) {
	plan, ok := f.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *plan
	return &cp, nil
}

func (f *fakeRepo) GetOrderByOrderID(orderID string) (*models.PaymentOrder, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *order
	return &cp, nil
}

func (f *fakeRepo) CreateOrder(order *models.PaymentOrder) error {
	order.ID = uint(len(f.orders) + 1)
	order.InvoiceNumber = models.FormatInvoiceNumber(time.Now(), int64(len(f.orders)+1))
	cp := *order
	f.orders[order.OrderID] = &cp
	return nil
}

func (f *fakeRepo) SaveOrder(order *models.PaymentOrder) error {
	cp := *order
	f.orders[order.OrderID] = &cp
	return nil
}

func (f *fakeRepo) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	sub, ok := f.subs[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeRepo) FinalizeOrder(order *models.PaymentOrder) error {
	return f.SaveOrder(order)
}

func (f *fakeRepo) CompleteOrderAndActivate(order *models.PaymentOrder, sub *models.Subscription) error {
	f.activationCalls++
	if err := f.SaveOrder(order); err != nil {
		return err
	}
	return f.UpsertSubscription(sub)
}

func (f *fakeRepo) UpsertSubscription(sub *models.Subscription) error {
	if existing, ok := f.subs[sub.UserID]; ok {
		sub.ID = existing.ID
	} else {
		sub.ID = uint(len(f.subs) + 1)
	}
	cp := *sub
	f.subs[sub.UserID] = &cp
	return nil
}

func (f *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if stored, ok := f.events[key]; ok {
		return false, stored, nil
	}
	f.nextEventID++
	event.ID = f.nextEventID
	cp := *event
	f.events[key] = &cp
	return true, &cp, nil
}

func (f *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	for _, ev := range f.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

type fakeGateway struct {
	name       string
	checkout   *CheckoutSession
	checkoutEr error
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreateCheckout(ctx context.Context, order *models.PaymentOrder, opts CheckoutOptions) (*CheckoutSession, error) {
	if g.checkoutEr != nil {
		return nil, g.checkoutEr
	}
	return g.checkout, nil
}

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestService(repo *fakeRepo) *Service {
	svc := NewService(repo, nil)
	svc.now = func() time.Time { return testNow }
	svc.RegisterGateway(&fakeGateway{
		name:     "stripe",
		checkout: &CheckoutSession{SessionID: "cs_test_1", CheckoutURL: "https://pay.example/cs_test_1"},
	})
	return svc
}

func seedPlans(repo *fakeRepo) {
	repo.plans[1] = &models.Plan{ID: 1, Code: models.PlanCodeFree, Name: "Free", DeviceLimit: 1, DurationDays: 0, Price: decimal.Zero, Currency: "ETB", IsActive: true}
	repo.plans[2] = &models.Plan{ID: 2, Code: models.PlanCodeBasic, Name: "Basic", DeviceLimit: 5, DurationDays: 30, Price: decimal.NewFromFloat(299.99), Currency: "ETB", IsActive: true}
	repo.plans[3] = &models.Plan{ID: 3, Code: models.PlanCodePro, Name: "Pro", DeviceLimit: models.UnlimitedDevices, DurationDays: 30, Price: decimal.NewFromFloat(999.99), Currency: "ETB", IsActive: false}
}

func seedPendingOrder(repo *fakeRepo, orderID string, userID, planID uint) {
	repo.orders[orderID] = &models.PaymentOrder{
		ID:            uint(len(repo.orders) + 1),
		OrderID:       orderID,
		InvoiceNumber: fmt.Sprintf("INV-202506-%04d", len(repo.orders)+1),
		UserID:        userID,
		PlanID:        planID,
		PlanName:      "Basic",
		Amount:        decimal.NewFromFloat(299.99),
		Currency:      "ETB",
		Status:        models.OrderStatusPending,
		Gateway:       "stripe",
	}
}

func successEvent(eventID, orderID string) GatewayEvent {
	return GatewayEvent{
		Provider:    "stripe",
		EventID:     eventID,
		EventType:   "checkout.session.completed",
		OrderID:     orderID,
		ExternalRef: "pi_123",
		Status:      EventStatusSuccess,
	}
}

func TestInitiatePaymentCreatesPendingOrder(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)

	result, err := svc.InitiatePayment(context.Background(), 7, 2, "stripe", CheckoutOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, result.OrderID)
	assert.NotEmpty(t, result.InvoiceNumber)
	assert.Equal(t, "cs_test_1", result.Session.SessionID)

	order := repo.orders[result.OrderID]
	require.NotNil(t, order)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, uint(2), order.PlanID)
	assert.Equal(t, "Basic", order.PlanName)
	assert.Equal(t, "cs_test_1", order.SessionID)
	assert.True(t, order.Amount.Equal(decimal.NewFromFloat(299.99)))
}

func TestInitiatePaymentRejectsFreePlan(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)

	_, err := svc.InitiatePayment(context.Background(), 7, 1, "stripe", CheckoutOptions{})
	assert.ErrorIs(t, err, ErrFreePlanCheckout)
	assert.Empty(t, repo.orders)
}

func TestInitiatePaymentRejectsInactivePlan(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)

	_, err := svc.InitiatePayment(context.Background(), 7, 3, "stripe", CheckoutOptions{})
	assert.ErrorIs(t, err, ErrPlanUnavailable)
}

func TestInitiatePaymentRejectsUnknownPlan(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)

	_, err := svc.InitiatePayment(context.Background(), 7, 99, "stripe", CheckoutOptions{})
	assert.ErrorIs(t, err, ErrPlanUnavailable)
}

func TestInitiatePaymentRejectsUnknownGateway(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)

	_, err := svc.InitiatePayment(context.Background(), 7, 2, "paypal", CheckoutOptions{})
	assert.ErrorIs(t, err, ErrUnknownGateway)
}

func TestCallbackSuccessActivatesSubscription(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)
	seedPendingOrder(repo, "ORD-1", 7, 2)

	result, err := svc.HandleGatewayCallback(context.Background(), successEvent("evt_1", "ORD-1"))
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	assert.True(t, result.SubscriptionActivated)
	assert.Equal(t, models.OrderStatusCompleted, result.OrderStatus)

	order := repo.orders["ORD-1"]
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.Equal(t, "pi_123", order.ExternalRef)
	require.NotNil(t, order.ActivatedAt)

	sub := repo.subs[7]
	require.NotNil(t, sub)
	assert.Equal(t, uint(2), sub.PlanID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.EndDate)
	assert.Equal(t, testNow.AddDate(0, 0, 30), *sub.EndDate)
}

func TestCallbackDuplicateEventIsAcknowledgedOnce(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)
	seedPendingOrder(repo, "ORD-1", 7, 2)

	first, err := svc.HandleGatewayCallback(context.Background(), successEvent("evt_1", "ORD-1"))
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := svc.HandleGatewayCallback(context.Background(), successEvent("evt_1", "ORD-1"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, repo.activationCalls)
}

func TestCallbackNeverReopensTerminalOrder(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)
	seedPendingOrder(repo, "ORD-1", 7, 2)
	repo.orders["ORD-1"].Status = models.OrderStatusFailed

	// A late success delivery with a fresh event ID must not flip a
	// terminal order.
	result, err := svc.HandleGatewayCallback(context.Background(), successEvent("evt_2", "ORD-1"))
	require.NoError(t, err)

	assert.True(t, result.Duplicate)
	assert.Equal(t, models.OrderStatusFailed, repo.orders["ORD-1"].Status)
	assert.Zero(t, repo.activationCalls)
}

func TestCallbackMissingOrderID(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	ev := successEvent("evt_1", "")
	_, err := svc.HandleGatewayCallback(context.Background(), ev)
	assert.ErrorIs(t, err, ErrMissingOrderID)
}

func TestCallbackUnknownOrderIsNeverCreated(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)

	_, err := svc.HandleGatewayCallback(context.Background(), successEvent("evt_1", "ORD-GHOST"))
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Empty(t, repo.orders)
	assert.Empty(t, repo.subs)
}

func TestCallbackFailureDoesNotTouchSubscription(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)
	seedPendingOrder(repo, "ORD-1", 7, 2)

	ev := successEvent("evt_1", "ORD-1")
	ev.Status = EventStatusFailure

	result, err := svc.HandleGatewayCallback(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusFailed, result.OrderStatus)
	assert.False(t, result.SubscriptionActivated)
	assert.Equal(t, models.OrderStatusFailed, repo.orders["ORD-1"].Status)
	assert.Empty(t, repo.subs)
}

func TestCallbackCancelledOutcome(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)
	seedPendingOrder(repo, "ORD-1", 7, 2)

	ev := successEvent("evt_1", "ORD-1")
	ev.Status = EventStatusCancelled

	result, err := svc.HandleGatewayCallback(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, result.OrderStatus)
	assert.Empty(t, repo.subs)
}

func TestCallbackGatewayPlanMetadataWins(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)
	seedPendingOrder(repo, "ORD-1", 7, 2)
	repo.plans[3].IsActive = true

	ev := successEvent("evt_1", "ORD-1")
	ev.PlanID = "3"

	result, err := svc.HandleGatewayCallback(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, result.SubscriptionActivated)
	assert.Equal(t, uint(3), repo.subs[7].PlanID)
}

func TestCallbackFallsBackToOrderPlan(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)
	seedPendingOrder(repo, "ORD-1", 7, 2)

	ev := successEvent("evt_1", "ORD-1")
	ev.PlanID = "not-a-number"

	result, err := svc.HandleGatewayCallback(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, result.SubscriptionActivated)
	assert.Equal(t, uint(2), repo.subs[7].PlanID)
}

func TestCallbackDefersActivationWhenPlanUnresolvable(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	seedPendingOrder(repo, "ORD-1", 7, 42)

	result, err := svc.HandleGatewayCallback(context.Background(), successEvent("evt_1", "ORD-1"))
	require.NoError(t, err)

	// Payment truth is kept: the order completes even though no
	// subscription could be activated.
	assert.True(t, result.ActivationDeferred)
	assert.False(t, result.SubscriptionActivated)
	assert.Equal(t, models.OrderStatusCompleted, repo.orders["ORD-1"].Status)
	assert.NotEmpty(t, repo.orders["ORD-1"].ActivationError)
	assert.Nil(t, repo.orders["ORD-1"].ActivatedAt)
	assert.Empty(t, repo.subs)
}

func TestUpgradeReplacesEndDateInsteadOfStacking(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)

	old := testNow.AddDate(0, 0, 12)
	repo.subs[7] = &models.Subscription{ID: 1, UserID: 7, PlanID: 2, Status: models.SubscriptionStatusActive, EndDate: &old}
	seedPendingOrder(repo, "ORD-2", 7, 2)

	_, err := svc.HandleGatewayCallback(context.Background(), successEvent("evt_9", "ORD-2"))
	require.NoError(t, err)

	require.NotNil(t, repo.subs[7].EndDate)
	assert.Equal(t, testNow.AddDate(0, 0, 30), *repo.subs[7].EndDate)
}

func TestActivateFreePlanSkipsLedger(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)

	sub, err := svc.ActivateFreePlan(context.Background(), 7, 1)
	require.NoError(t, err)

	assert.Equal(t, uint(1), sub.PlanID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.EndDate)
	assert.Empty(t, repo.orders)
}

func TestActivateFreePlanRejectsPaidPlan(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)

	_, err := svc.ActivateFreePlan(context.Background(), 7, 2)
	assert.Error(t, err)
}

func TestCancelSubscription(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)
	repo.subs[7] = &models.Subscription{ID: 1, UserID: 7, PlanID: 2, Status: models.SubscriptionStatusActive}

	sub, err := svc.CancelSubscription(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
	assert.Equal(t, models.SubscriptionStatusCancelled, repo.subs[7].Status)
}

func TestActivateManuallyRepairsDeferredOrder(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)
	seedPendingOrder(repo, "ORD-1", 7, 2)
	repo.orders["ORD-1"].Status = models.OrderStatusCompleted
	repo.orders["ORD-1"].ActivationError = "plan 42 not found for order ORD-1"

	sub, err := svc.ActivateManually(context.Background(), "ORD-1")
	require.NoError(t, err)

	assert.Equal(t, uint(2), sub.PlanID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Empty(t, repo.orders["ORD-1"].ActivationError)
	require.NotNil(t, repo.orders["ORD-1"].ActivatedAt)
}

func TestActivateManuallyRejectsNonCompletedOrder(t *testing.T) {
	repo := newFakeRepo()
	seedPlans(repo)
	svc := newTestService(repo)
	seedPendingOrder(repo, "ORD-1", 7, 2)

	_, err := svc.ActivateManually(context.Background(), "ORD-1")
	assert.Error(t, err)
}

func TestActivateManuallyUnknownOrder(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	_, err := svc.ActivateManually(context.Background(), "ORD-GHOST")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestRecordRejectedCallbackKeepsForensicTrail(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	svc.RecordRejectedCallback("telebirr", "txn_1", "payment.notify", `{"x":1}`, "invalid gateway signature")

	stored := repo.events["telebirr/txn_1"]
	require.NotNil(t, stored)
	assert.False(t, stored.SignatureValid)
	assert.Equal(t, "invalid gateway signature", stored.ProcessingError)
	require.NotNil(t, stored.ProcessedAt)
}
