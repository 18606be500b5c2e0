package payment

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lomitrack/lomitrack/app/models"
)

const invoiceRetryAttempts = 5

// Repository provides DB operations used by the payment service.
type Repository interface {
	GetPlanByID(id uint) (*models.Plan, error)
	GetOrderByOrderID(orderID string) (*models.PaymentOrder, error)
	// CreateOrder persists a new pending order, assigning the monthly
	// invoice number atomically.
	CreateOrder(order *models.PaymentOrder) error
	SaveOrder(order *models.PaymentOrder) error
	GetSubscriptionByUserID(userID uint) (*models.Subscription, error)
	// FinalizeOrder writes the order's terminal state. No subscription
	// change.
	FinalizeOrder(order *models.PaymentOrder) error
	// CompleteOrderAndActivate transitions the order to completed AND
	// upserts the user's subscription in one transaction, so "order
	// completed but subscription never updated" is never observable.
	CompleteOrderAndActivate(order *models.PaymentOrder, sub *models.Subscription) error
	// UpsertSubscription writes the single per-user subscription row
	// (free-plan activation, cancellation).
	UpsertSubscription(sub *models.Subscription) error
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payment repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetPlanByID(id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) GetOrderByOrderID(orderID string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := r.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrder assigns the next invoice number for the calendar month
// and inserts the row. The sequence is enforced by the unique index on
// invoice_number: a concurrent writer that takes the same number makes
// the insert fail, and we retry with the next one. This replaces a
// bare count+1 scheme that could hand two simultaneous checkouts the
// same invoice number.
func (r *gormRepository) CreateOrder(order *models.PaymentOrder) error {
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var count int64
	if err := r.db.Model(&models.PaymentOrder{}).
		Where("created_at >= ?", monthStart).Count(&count).Error; err != nil {
		return err
	}

	for attempt := 0; attempt < invoiceRetryAttempts; attempt++ {
		order.InvoiceNumber = models.FormatInvoiceNumber(now, count+1+int64(attempt))
		err := r.db.Create(order).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		order.ID = 0
	}
	return fmt.Errorf("could not allocate invoice number after %d attempts", invoiceRetryAttempts)
}

func (r *gormRepository) SaveOrder(order *models.PaymentOrder) error {
	return r.db.Save(order).Error
}

func (r *gormRepository) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Preload("Plan").Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FinalizeOrder(order *models.PaymentOrder) error {
	return r.db.Save(order).Error
}

func (r *gormRepository) CompleteOrderAndActivate(order *models.PaymentOrder, sub *models.Subscription) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(order).Error; err != nil {
			return err
		}
		return upsertSubscription(tx, sub)
	})
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	return upsertSubscription(r.db, sub)
}

func upsertSubscription(tx *gorm.DB, sub *models.Subscription) error {
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_id",
			"status",
			"end_date",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return tx.Where("user_id = ?", sub.UserID).First(sub).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
