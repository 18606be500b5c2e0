package entitlements

import (
	"time"

	"github.com/lomitrack/lomitrack/app/models"
)

// DeviceUsage summarizes a user's device allowance against their plan.
type DeviceUsage struct {
	Used      int64 `json:"used"`
	Limit     int   `json:"limit"`
	Unlimited bool  `json:"unlimited"`
}

// CanRegisterDevice reports whether a user with the given subscription
// may register one more device. An expired or cancelled subscription
// entitles nothing. The count-vs-limit check is best effort (no row
// lock); device creation is low-frequency and user-scoped.
func CanRegisterDevice(sub *models.Subscription, activeDevices int64, now time.Time) bool {
	if sub == nil || !sub.IsUsable(now) {
		return false
	}
	return sub.Plan.AllowsDeviceCount(activeDevices)
}

// UsageFor computes the device usage view for a subscription.
func UsageFor(sub *models.Subscription, activeDevices int64) DeviceUsage {
	u := DeviceUsage{Used: activeDevices}
	if sub == nil {
		return u
	}
	u.Limit = sub.Plan.DeviceLimit
	u.Unlimited = sub.Plan.DeviceLimit == models.UnlimitedDevices
	return u
}
