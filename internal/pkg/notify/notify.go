package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event types published by the core. Subscribers (socket fan-out,
// dashboards) consume these; the core never depends on a transport.
const (
	EventSubscriptionUpdated = "subscription.updated"
	EventPaymentCompleted    = "payment.completed"
	EventPaymentFailed       = "payment.failed"
	EventDevicePosition      = "device.position"
)

// Event is a typed state-change notification. ID lets subscribers
// deduplicate redeliveries.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	UserID    uint        `json:"user_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Notifier publishes events to connected clients. Implementations must
// be safe for concurrent use.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

// redisNotifier fans events out over a redis pub/sub channel.
type redisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier creates a notifier publishing to the given channel.
func NewRedisNotifier(client *redis.Client, channel string) Notifier {
	if channel == "" {
		channel = "lomitrack:events"
	}
	return &redisNotifier{client: client, channel: channel}
}

func (n *redisNotifier) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		// Fan-out is best effort; reconciliation state is already
		// committed when we get here.
		log.Warnf("notify publish failed for %s: %v", event.Type, err)
		return err
	}
	return nil
}

// NopNotifier discards events. Used in tests and when no broker is
// configured.
type NopNotifier struct{}

func (NopNotifier) Publish(ctx context.Context, event Event) error { return nil }
