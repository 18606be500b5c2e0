package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	PlanCodeFree  = "free"
	PlanCodeBasic = "basic"
	PlanCodePro   = "pro"
)

// UnlimitedDevices is the device-limit sentinel for plans without a cap.
const UnlimitedDevices = -1

// Plan is a subscription tier. Plans are never deleted, only deactivated.
type Plan struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Code         string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"code"`
	Name         string          `gorm:"type:varchar(100);not null" json:"name"`
	DeviceLimit  int             `gorm:"not null;default:1" json:"device_limit"`
	DurationDays int             `gorm:"not null;default:30" json:"duration_days"`
	Price        decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"price"`
	Currency     string          `gorm:"type:varchar(10);not null;default:'ETB'" json:"currency"`
	IsActive     bool            `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsFree reports whether the plan has a zero price and never goes
// through a payment gateway.
func (p *Plan) IsFree() bool {
	return p.Price.IsZero()
}

// AllowsDeviceCount reports whether count devices fit within the plan limit.
func (p *Plan) AllowsDeviceCount(count int64) bool {
	if p.DeviceLimit == UnlimitedDevices {
		return true
	}
	return count < int64(p.DeviceLimit)
}

// SeedDefaultPlans creates the default tiers if the plan table is empty.
func SeedDefaultPlans(db *gorm.DB) {
	var count int64
	if err := db.Model(&Plan{}).Count(&count).Error; err != nil || count > 0 {
		return
	}

	plans := []Plan{
		{Code: PlanCodeFree, Name: "Free", DeviceLimit: 1, DurationDays: 0, Price: decimal.Zero, Currency: "ETB"},
		{Code: PlanCodeBasic, Name: "Basic", DeviceLimit: 5, DurationDays: 30, Price: decimal.NewFromFloat(299.99), Currency: "ETB"},
		{Code: PlanCodePro, Name: "Pro", DeviceLimit: UnlimitedDevices, DurationDays: 30, Price: decimal.NewFromFloat(999.99), Currency: "ETB"},
	}
	db.Create(&plans)
}
