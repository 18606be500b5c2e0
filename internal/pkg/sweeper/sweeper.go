package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/lomitrack/lomitrack/app/models"
	"github.com/lomitrack/lomitrack/internal/pkg/mail"
	"github.com/lomitrack/lomitrack/internal/pkg/notify"
)

const (
	expirySchedule   = "0 0 * * *" // daily expiry flip
	reminderSchedule = "0 9 * * *" // daily reminder mails
	cleanupSchedule  = "0 * * * *" // hourly stale-order cleanup
)

// stalePendingAge is how long a pending order may sit before the
// checkout is considered abandoned.
const stalePendingAge = 24 * time.Hour

// reminderWindow is how far ahead expiry reminder mails look.
const reminderWindow = 3 * 24 * time.Hour

// Sweeper runs the periodic maintenance jobs: flipping expired
// subscriptions, cancelling abandoned pending orders and sending
// expiry reminder emails.
type Sweeper struct {
	db       *gorm.DB
	notifier notify.Notifier
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

// New creates a sweeper bound to the given DB handle.
func New(db *gorm.DB, notifier notify.Notifier) *Sweeper {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Sweeper{
		db:       db,
		notifier: notifier,
		cron:     cron.New(),
	}
}

// Start registers and launches the cron jobs.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	s.cron.AddFunc(expirySchedule, func() { s.ExpireDueSubscriptions(time.Now()) })
	s.cron.AddFunc(reminderSchedule, func() { s.SendExpiryReminders(time.Now()) })
	s.cron.AddFunc(cleanupSchedule, func() { s.CancelStaleOrders(time.Now()) })
	s.cron.Start()
	log.Info("[Sweeper] Started background maintenance jobs")
}

// Stop halts the cron scheduler and waits for running jobs.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false

	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("[Sweeper] Stopped background maintenance jobs")
}

// ExpireDueSubscriptions flips active subscriptions whose end date has
// passed to expired and notifies the affected users.
func (s *Sweeper) ExpireDueSubscriptions(now time.Time) {
	var due []models.Subscription
	err := s.db.Where("status = ? AND end_date IS NOT NULL AND end_date < ?",
		models.SubscriptionStatusActive, now).Find(&due).Error
	if err != nil {
		log.Errorf("[Sweeper] Query due subscriptions: %v", err)
		return
	}

	for _, sub := range due {
		if err := s.db.Model(&models.Subscription{}).
			Where("id = ? AND status = ?", sub.ID, models.SubscriptionStatusActive).
			Update("status", models.SubscriptionStatusExpired).Error; err != nil {
			log.Errorf("[Sweeper] Expire subscription %d: %v", sub.ID, err)
			continue
		}
		_ = s.notifier.Publish(context.Background(), notify.Event{
			Type:    notify.EventSubscriptionUpdated,
			UserID:  sub.UserID,
			Payload: map[string]interface{}{"status": models.SubscriptionStatusExpired},
		})
	}
	if len(due) > 0 {
		log.Infof("[Sweeper] Expired %d subscription(s)", len(due))
	}
}

// CancelStaleOrders cancels pending orders whose checkout was
// abandoned. Terminal orders are never touched.
func (s *Sweeper) CancelStaleOrders(now time.Time) {
	cutoff := now.Add(-stalePendingAge)
	res := s.db.Model(&models.PaymentOrder{}).
		Where("status = ? AND created_at < ?", models.OrderStatusPending, cutoff).
		Update("status", models.OrderStatusCancelled)
	if res.Error != nil {
		log.Errorf("[Sweeper] Cancel stale orders: %v", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		log.Infof("[Sweeper] Cancelled %d stale pending order(s)", res.RowsAffected)
	}
}

// SendExpiryReminders mails users whose subscription ends within the
// reminder window.
func (s *Sweeper) SendExpiryReminders(now time.Time) {
	var expiring []models.Subscription
	err := s.db.Preload("Plan").
		Where("status = ? AND end_date IS NOT NULL AND end_date BETWEEN ? AND ?",
			models.SubscriptionStatusActive, now, now.Add(reminderWindow)).
		Find(&expiring).Error
	if err != nil {
		log.Errorf("[Sweeper] Query expiring subscriptions: %v", err)
		return
	}

	for _, sub := range expiring {
		var user models.User
		if err := s.db.First(&user, sub.UserID).Error; err != nil {
			continue
		}
		subject := fmt.Sprintf("Your %s plan expires on %s", sub.Plan.Name, sub.EndDate.Format("2006-01-02"))
		body := fmt.Sprintf(
			"<p>Hello %s,</p><p>Your <b>%s</b> plan expires on <b>%s</b>. Renew now to keep tracking your devices without interruption.</p>",
			user.Name, sub.Plan.Name, sub.EndDate.Format("January 2, 2006"),
		)
		if err := mail.SendMail(user.Email, subject, body); err != nil {
			log.Warnf("[Sweeper] Reminder mail to %s failed: %v", user.Email, err)
		}
	}
}
