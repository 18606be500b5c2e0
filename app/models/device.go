package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Device is a GPS tracker registered by a user. The row mirrors an
// entity on the external tracking service (ExternalID); creation
// requires the remote side to exist first, deletion is soft and
// tolerates the remote call failing.
type Device struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	UserID     uint           `gorm:"not null;index" json:"user_id"`
	Name       string         `gorm:"type:varchar(100);not null" json:"name" validate:"required,min=2,max=100"`
	IMEI       string         `gorm:"type:varchar(20);uniqueIndex;not null" json:"imei" validate:"required,numeric,min=10,max=20"`
	ExternalID string         `gorm:"type:varchar(100);index" json:"external_id,omitempty"`
	LastSeenAt *time.Time     `gorm:"type:timestamp;default:null" json:"last_seen_at,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

func (d *Device) Validate() error {
	v := validator.New()

	return v.Struct(d)
}
