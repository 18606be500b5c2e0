package repository

import (
	"github.com/lomitrack/lomitrack/app/models"
	"gorm.io/gorm"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) GetByOrderID(orderID string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	err := r.db.Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) ListByUserID(userID uint, offset, limit int) ([]models.PaymentOrder, error) {
	var orders []models.PaymentOrder
	err := r.db.Where("user_id = ?", userID).Offset(offset).Limit(limit).Order("created_at DESC").Find(&orders).Error
	return orders, err
}

func (r *orderRepository) List(offset, limit int) ([]models.PaymentOrder, error) {
	var orders []models.PaymentOrder
	err := r.db.Offset(offset).Limit(limit).Order("created_at DESC").Find(&orders).Error
	return orders, err
}

// ListUnreconciled returns completed orders whose subscription
// activation could not proceed automatically. These need operator
// follow-up.
func (r *orderRepository) ListUnreconciled() ([]models.PaymentOrder, error) {
	var orders []models.PaymentOrder
	err := r.db.
		Where("status = ? AND activation_error <> '' AND activated_at IS NULL", models.OrderStatusCompleted).
		Order("created_at DESC").Find(&orders).Error
	return orders, err
}
