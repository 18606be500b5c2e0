package models

import "time"

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
)

// Subscription is the single per-user subscription row. A user always
// has exactly one; it is created on registration and upgraded in place.
type Subscription struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	PlanID    uint       `gorm:"not null;index" json:"plan_id"`
	Plan      Plan       `gorm:"foreignKey:PlanID" json:"plan"`
	Status    string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	EndDate   *time.Time `gorm:"type:timestamp;default:null;index" json:"end_date,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpired reports whether the subscription end date has passed.
// A nil end date never expires (free tier).
func (s *Subscription) IsExpired(now time.Time) bool {
	return s.EndDate != nil && s.EndDate.Before(now)
}

// IsUsable reports whether the subscription currently entitles the user.
func (s *Subscription) IsUsable(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && !s.IsExpired(now)
}
