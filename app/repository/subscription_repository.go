package repository

import (
	"errors"

	"github.com/lomitrack/lomitrack/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) GetByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Preload("Plan").Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetOrCreateForUser returns the user's single subscription row,
// creating it on the free plan if it does not exist yet. The unique
// index on user_id keeps concurrent creations down to one row.
func (r *subscriptionRepository) GetOrCreateForUser(userID uint, freePlanID uint) (*models.Subscription, error) {
	sub, err := r.GetByUserID(userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	created := &models.Subscription{
		UserID: userID,
		PlanID: freePlanID,
		Status: models.SubscriptionStatusActive,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(created).Error; err != nil {
		return nil, err
	}
	return r.GetByUserID(userID)
}

func (r *subscriptionRepository) Save(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *subscriptionRepository) List(offset, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Preload("Plan").Offset(offset).Limit(limit).Order("updated_at DESC").Find(&subs).Error
	return subs, err
}
