package repository

import (
	"github.com/lomitrack/lomitrack/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// PlanRepository defines the interface for plan catalog operations
type PlanRepository interface {
	GetByID(id uint) (*models.Plan, error)
	GetByCode(code string) (*models.Plan, error)
	ListActive() ([]models.Plan, error)
	List() ([]models.Plan, error)
	Save(plan *models.Plan) error
}

// SubscriptionRepository defines the interface for subscription operations
type SubscriptionRepository interface {
	GetByUserID(userID uint) (*models.Subscription, error)
	GetOrCreateForUser(userID uint, freePlanID uint) (*models.Subscription, error)
	Save(sub *models.Subscription) error
	List(offset, limit int) ([]models.Subscription, error)
}

// OrderRepository defines the interface for the payment ledger
type OrderRepository interface {
	GetByOrderID(orderID string) (*models.PaymentOrder, error)
	ListByUserID(userID uint, offset, limit int) ([]models.PaymentOrder, error)
	List(offset, limit int) ([]models.PaymentOrder, error)
	ListUnreconciled() ([]models.PaymentOrder, error)
}

// DeviceRepository defines the interface for device registry operations
type DeviceRepository interface {
	Create(device *models.Device) error
	GetByID(id uint) (*models.Device, error)
	GetByIMEI(imei string) (*models.Device, error)
	ListByUserID(userID uint) ([]models.Device, error)
	List(offset, limit int) ([]models.Device, error)
	CountActiveByUserID(userID uint) (int64, error)
	SoftDelete(id uint) error
	TouchLastSeen(externalID string) error
}
