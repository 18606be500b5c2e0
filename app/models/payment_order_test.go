package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewOrderIDFormat(t *testing.T) {
	now := time.Date(2025, 6, 15, 9, 30, 45, 0, time.UTC)
	id := NewOrderID(42, now)

	assert.Regexp(t, `^ORD-20250615093045-42-[0-9a-f]{8}$`, id)
}

func TestNewOrderIDIsUnique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewOrderID(1, now)
		assert.False(t, seen[id], "duplicate order id %s", id)
		seen[id] = true
	}
}

func TestFormatInvoiceNumber(t *testing.T) {
	month := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "INV-202506-0001", FormatInvoiceNumber(month, 1))
	assert.Equal(t, "INV-202506-0042", FormatInvoiceNumber(month, 42))
	assert.Equal(t, "INV-202506-12345", FormatInvoiceNumber(month, 12345))
}

func TestOrderIsTerminal(t *testing.T) {
	assert.False(t, (&PaymentOrder{Status: OrderStatusPending}).IsTerminal())
	assert.True(t, (&PaymentOrder{Status: OrderStatusCompleted}).IsTerminal())
	assert.True(t, (&PaymentOrder{Status: OrderStatusFailed}).IsTerminal())
	assert.True(t, (&PaymentOrder{Status: OrderStatusCancelled}).IsTerminal())
}
