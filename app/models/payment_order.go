package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusFailed    = "failed"
	OrderStatusCancelled = "cancelled"
)

const (
	GatewayStripe   = "stripe"
	GatewayTelebirr = "telebirr"
)

// PaymentOrder is one row per payment attempt and the unit of
// idempotency for gateway callbacks. Orders move from pending to
// exactly one terminal state and are never re-opened.
//
// PlanID/PlanName are stored on the order itself because by the time
// the gateway callback arrives, the order must self-describe which
// plan to activate.
type PaymentOrder struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	OrderID         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_id"`
	InvoiceNumber   string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"invoice_number"`
	UserID          uint            `gorm:"not null;index" json:"user_id"`
	PlanID          uint            `gorm:"not null" json:"plan_id"`
	PlanName        string          `gorm:"type:varchar(100)" json:"plan_name"`
	Amount          decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency        string          `gorm:"type:varchar(10);not null" json:"currency"`
	Status          string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Gateway         string          `gorm:"type:varchar(20);not null;index" json:"gateway"`
	SessionID       string          `gorm:"type:varchar(191);default:null" json:"session_id,omitempty"`
	ExternalRef     string          `gorm:"type:varchar(191);default:null" json:"external_ref,omitempty"`
	ActivationError string          `gorm:"type:text;default:null" json:"activation_error,omitempty"`
	ActivatedAt     *time.Time      `gorm:"type:timestamp;default:null" json:"activated_at,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the order has reached a final state.
func (o *PaymentOrder) IsTerminal() bool {
	switch o.Status {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// NewOrderID builds a human-diagnosable unique order identifier:
// timestamp, owning user, random suffix. Gateways echo this back on
// callbacks, so it carries a secondary unique index.
func NewOrderID(userID uint, now time.Time) string {
	return fmt.Sprintf("ORD-%s-%d-%s", now.Format("20060102150405"), userID, uuid.NewString()[:8])
}

// FormatInvoiceNumber renders the monthly-scoped invoice number.
func FormatInvoiceNumber(month time.Time, seq int64) string {
	return fmt.Sprintf("INV-%s-%04d", month.Format("200601"), seq)
}
