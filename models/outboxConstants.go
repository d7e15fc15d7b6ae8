package models

// Outbox publish statuses for NotificationOutbox.PublishStatus (DB values).
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

type NotificationEvent string

const (
	NotificationEventOrderPlaced    NotificationEvent = "order-placed"
	NotificationEventOrderConfirmed NotificationEvent = "order-confirmed"
	NotificationEventOrderDeclined  NotificationEvent = "order-declined"
	NotificationEventOrderDelivered NotificationEvent = "order-delivered"
)

func statusNotificationEvent(status OrderStatus) NotificationEvent {
	return NotificationEvent("order-" + string(status))
}
