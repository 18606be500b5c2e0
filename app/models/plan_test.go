package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPlanIsFree(t *testing.T) {
	free := &Plan{Price: decimal.Zero}
	paid := &Plan{Price: decimal.NewFromFloat(299.99)}

	assert.True(t, free.IsFree())
	assert.False(t, paid.IsFree())
}

func TestPlanAllowsDeviceCount(t *testing.T) {
	plan := &Plan{DeviceLimit: 5}

	assert.True(t, plan.AllowsDeviceCount(0))
	assert.True(t, plan.AllowsDeviceCount(4))
	assert.False(t, plan.AllowsDeviceCount(5))
	assert.False(t, plan.AllowsDeviceCount(6))
}

func TestPlanAllowsDeviceCountUnlimited(t *testing.T) {
	plan := &Plan{DeviceLimit: UnlimitedDevices}

	assert.True(t, plan.AllowsDeviceCount(0))
	assert.True(t, plan.AllowsDeviceCount(1<<20))
}
