package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/utils"
)

const (
	PendingNotificationsKey = "Notifications:pending"
	pendingNotificationsMax = 500
)

// PendingNotification is a click-to-chat link waiting for the admin to open it.
type PendingNotification struct {
	OutboxId      int       `json:"outbox_id"`
	OrderId       int       `json:"order_id"`
	Event         string    `json:"event"`
	Recipient     string    `json:"recipient"`
	Link          string    `json:"link"`
	CorrelationId string    `json:"correlation_id"`
	QueuedAt      time.Time `json:"queued_at"`
}

// Notifier opens a chat with the recipient prefilled with text. Delivery never affects the order.
type Notifier interface {
	ComposeAndOpen(ctx context.Context, msg config.NotificationMessage) (string, error)
}

// WhatsAppNotifier turns a message into a wa.me link, queues it in Redis for the admin UI and logs it.
type WhatsAppNotifier struct {
	Logger *logrus.Logger
	// Queue defaults to config.PushRedisList
	Queue func(key string, value string, maxLen int64) error
	Now   func() time.Time
}

func NewWhatsAppNotifier(logger *logrus.Logger) *WhatsAppNotifier {
	return &WhatsAppNotifier{Logger: logger, Queue: config.PushRedisList, Now: time.Now}
}

func (n *WhatsAppNotifier) ComposeAndOpen(ctx context.Context, msg config.NotificationMessage) (string, error) {
	link := utils.BuildWhatsAppLink(msg.Recipient, msg.Message)
	fields := logrus.Fields{
		"field":          "WhatsAppNotifier",
		"outbox_id":      msg.ID,
		"order_id":       msg.OrderId,
		"event":          msg.Event,
		"correlation_id": msg.CorrelationId,
	}
	if msg.Recipient == "" && n.Logger != nil {
		n.Logger.WithFields(fields).Warn("notification has no recipient; link opens contact picker")
	}

	pending := PendingNotification{
		OutboxId:      msg.ID,
		OrderId:       msg.OrderId,
		Event:         msg.Event,
		Recipient:     msg.Recipient,
		Link:          link,
		CorrelationId: msg.CorrelationId,
		QueuedAt:      n.Now().UTC(),
	}
	b, err := json.Marshal(pending)
	if err != nil {
		return link, err
	}
	if err := n.Queue(PendingNotificationsKey, string(b), pendingNotificationsMax); err != nil {
		return link, err
	}
	if n.Logger != nil {
		n.Logger.WithFields(fields).WithField("link", link).Info("notification ready")
	}
	return link, nil
}

// ListPendingNotifications returns the newest queued links first.
func ListPendingNotifications(limit int64) ([]PendingNotification, error) {
	if limit <= 0 || limit > pendingNotificationsMax {
		limit = 50
	}
	raw, err := config.GetRedisList(PendingNotificationsKey, limit)
	if err != nil {
		return nil, err
	}
	out := make([]PendingNotification, 0, len(raw))
	for _, r := range raw {
		var p PendingNotification
		if err := json.Unmarshal([]byte(r), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
