package models

import (
	"context"
	"errors"
	"time"

	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/utils"
	"gorm.io/gorm"
)

// NotificationOutbox is written in the same transaction as the order change it announces.
// The dispatcher publishes it after commit.
type NotificationOutbox struct {
	ID               int               `gorm:"primary_key;index:idx_notification_dispatch,priority:3" json:"id"`
	OrderId          int               `gorm:"not null;index" json:"order_id"`
	Event            NotificationEvent `gorm:"size:30;not null" json:"event"`
	Recipient        string            `gorm:"size:20" json:"recipient"`
	Message          string            `gorm:"type:text;not null" json:"message"`
	PublishStatus    string            `gorm:"size:20;index;not null;default:'PENDING';index:idx_notification_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time        `gorm:"index" json:"published_at"`
	PubSubMessageId  *string           `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int               `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time        `gorm:"index;index:idx_notification_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time        `gorm:"index" json:"locked_at"`
	LockedBy         *string           `gorm:"size:100" json:"locked_by"`
	LastPublishError *string           `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string            `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (n NotificationOutbox) ToMessage() config.NotificationMessage {
	return config.NotificationMessage{
		ID:            n.ID,
		OrderId:       n.OrderId,
		Event:         string(n.Event),
		Recipient:     n.Recipient,
		Message:       n.Message,
		CreatedAt:     n.CreatedAt,
		CorrelationId: n.CorrelationId,
	}
}

func createNotificationOutbox(tx *gorm.DB, orderId int, event NotificationEvent, recipient string, message string) (*NotificationOutbox, error) {
	correlationId, _ := utils.GetCorrelationIdFromContext(tx.Statement.Context)
	row := NotificationOutbox{
		OrderId:       orderId,
		Event:         event,
		Recipient:     recipient,
		Message:       message,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationId,
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, utils.WrapStorageFault("write notification outbox", err)
	}
	return &row, nil
}

func ListNotificationOutbox(ctx context.Context, orderId int) ([]*NotificationOutbox, error) {
	var rows []*NotificationOutbox
	if err := config.GetDB().WithContext(ctx).Where("order_id = ?", orderId).Order("id").Find(&rows).Error; err != nil {
		return nil, utils.WrapStorageFault("list notification outbox", err)
	}
	return rows, nil
}

// ReplayNotificationOutbox puts a DEAD or FAILED row back in the dispatch queue.
func ReplayNotificationOutbox(ctx context.Context, id int) (*NotificationOutbox, error) {
	db := config.GetDB()
	res := db.WithContext(ctx).
		Model(&NotificationOutbox{}).
		Where("id = ? AND publish_status IN ?", id, []string{OutboxPublishStatusDead, OutboxPublishStatusFailed}).
		Updates(map[string]interface{}{
			"publish_status":   OutboxPublishStatusPending,
			"publish_attempts": 0,
			"next_attempt_at":  nil,
			"locked_at":        nil,
			"locked_by":        nil,
		})
	if res.Error != nil {
		return nil, utils.WrapStorageFault("replay notification outbox", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, utils.ErrorRecordNotFound
	}

	var row NotificationOutbox
	if err := db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, utils.WrapStorageFault("replay notification outbox", err)
	}
	return &row, nil
}

// ReplayDeadNotifications requeues every DEAD row, returning how many were moved.
func ReplayDeadNotifications(ctx context.Context) (int64, error) {
	res := config.GetDB().WithContext(ctx).
		Model(&NotificationOutbox{}).
		Where("publish_status = ?", OutboxPublishStatusDead).
		Updates(map[string]interface{}{
			"publish_status":   OutboxPublishStatusPending,
			"publish_attempts": 0,
			"next_attempt_at":  nil,
			"locked_at":        nil,
			"locked_by":        nil,
		})
	if res.Error != nil {
		return 0, utils.WrapStorageFault("replay dead notifications", res.Error)
	}
	return res.RowsAffected, nil
}
