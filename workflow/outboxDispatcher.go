package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Publisher hands a claimed outbox row to its transport and returns the transport's message id.
type Publisher interface {
	Publish(ctx context.Context, msg config.NotificationMessage) (string, error)
}

type PublisherFunc func(ctx context.Context, msg config.NotificationMessage) (string, error)

func (f PublisherFunc) Publish(ctx context.Context, msg config.NotificationMessage) (string, error) {
	return f(ctx, msg)
}

// PubSubPublisher sends rows to the notification topic; the push endpoint delivers them.
var PubSubPublisher = PublisherFunc(config.PublishNotificationWithResult)

// DirectPublisher delivers in-process when Pub/Sub is not configured.
func DirectPublisher(n Notifier) Publisher {
	return PublisherFunc(func(ctx context.Context, msg config.NotificationMessage) (string, error) {
		if _, err := n.ComposeAndOpen(ctx, msg); err != nil {
			return "", err
		}
		return fmt.Sprintf("direct-%d", msg.ID), nil
	})
}

// PublisherForDelivery picks the transport named by NOTIFICATION_DELIVERY.
func PublisherForDelivery(mode string, n Notifier) Publisher {
	if mode == config.NotificationDeliveryPubSub {
		return PubSubPublisher
	}
	return DirectPublisher(n)
}

type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Publisher    Publisher
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger, publisher Publisher) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		Publisher:      publisher,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   time.Second,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    10,
		InitialBackoff: 5 * time.Second,
	}
}

// Run polls until ctx is done. A full batch is followed immediately by the next one.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		wait := d.PollInterval
		if sent := d.DispatchOnce(ctx); d.BatchSize > 0 && sent >= d.BatchSize {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// DispatchOnce claims one batch and publishes it. It returns how many rows were sent.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) int {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)
	db := d.DB
	if db == nil || d.Publisher == nil {
		return 0
	}

	var claimed []models.NotificationOutbox
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// PENDING / FAILED rows that are due, plus PROCESSING rows whose dispatcher died mid-batch
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now, models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PublishStatus = models.OutboxPublishStatusDead
				if err := tx.Model(&models.NotificationOutbox{}).Where("id = ?", claimed[i].ID).Updates(deadColumns(msg)).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].PublishStatus = models.OutboxPublishStatusProcessing
			claimed[i].PublishAttempts++
			if err := tx.Model(&models.NotificationOutbox{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusProcessing,
				"locked_at":          &now,
				"locked_by":          &d.DispatcherID,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		config.LogError(d.Logger, "workflow", "OutboxDispatcher.DispatchOnce", "claim batch", d.DispatcherID, err)
		return 0
	}

	sent := 0
	for _, rec := range claimed {
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		pubID, pubErr := d.Publisher.Publish(ctx, rec.ToMessage())
		if pubErr != nil {
			d.markPublishFailed(ctx, rec, pubErr)
			continue
		}
		d.markPublishSent(ctx, rec.ID, pubID)
		sent++
	}
	return sent
}

func (d *OutboxDispatcher) markPublishSent(ctx context.Context, recordID int, pubsubMsgID string) {
	now := time.Now().UTC()
	err := d.DB.WithContext(ctx).Model(&models.NotificationOutbox{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusSent,
			"published_at":       &now,
			"pub_sub_message_id": &pubsubMsgID,
			"locked_at":          nil,
			"locked_by":          nil,
			"next_attempt_at":    nil,
		}).Error
	if err != nil {
		config.LogError(d.Logger, "workflow", "OutboxDispatcher.markPublishSent", "update outbox", recordID, err)
	}
}

// deadColumns parks a row for manual replay.
func deadColumns(reason string) map[string]interface{} {
	return map[string]interface{}{
		"publish_status":     models.OutboxPublishStatusDead,
		"last_publish_error": &reason,
		"next_attempt_at":    nil,
		"locked_at":          nil,
		"locked_by":          nil,
	}
}

// notificationBackoff doubles from initial per attempt, capped at ten minutes.
func notificationBackoff(initial time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return backoff
}

func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, rec models.NotificationOutbox, err error) {
	db := d.DB.WithContext(ctx)
	msg := err.Error()
	fields := logrus.Fields{
		"field":     "OutboxDispatcher",
		"record_id": rec.ID,
		"order_id":  rec.OrderId,
		"event":     rec.Event,
		"attempt":   rec.PublishAttempts,
	}

	if d.MaxAttempts > 0 && rec.PublishAttempts >= d.MaxAttempts {
		_ = db.Model(&models.NotificationOutbox{}).Where("id = ?", rec.ID).Updates(deadColumns(msg)).Error
		if d.Logger != nil {
			d.Logger.WithFields(fields).Error("notification moved to DEAD after max attempts: " + msg)
		}
		return
	}

	next := time.Now().UTC().Add(notificationBackoff(d.InitialBackoff, rec.PublishAttempts))
	_ = db.Model(&models.NotificationOutbox{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusFailed,
			"last_publish_error": &msg,
			"next_attempt_at":    &next,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
	if d.Logger != nil {
		d.Logger.WithFields(fields).WithField("next_attempt_at", next.Format(time.RFC3339Nano)).Error("notification publish failed: " + msg)
	}
}
