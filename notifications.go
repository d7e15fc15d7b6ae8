package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/utils"
	"github.com/vastramandir/storefront_backend/workflow"
)

const notificationPushHandlerName = "notification-push"

type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// decodePush returns ok=false for payloads that can never succeed; those are acked so Pub/Sub stops retrying.
func decodePush(body []byte) (*PubSubMessage, *config.NotificationMessage, error) {
	var push PubSubMessage
	if err := json.Unmarshal(body, &push); err != nil {
		return nil, nil, fmt.Errorf("unmarshal push body: %w", err)
	}
	var msg config.NotificationMessage
	if err := json.Unmarshal(push.Message.Data, &msg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	if msg.ID <= 0 || msg.OrderId <= 0 || msg.Message == "" {
		return nil, nil, errors.New("id, order_id and message are required")
	}
	return &push, &msg, nil
}

// notificationPushHandler receives notifications published by the outbox dispatcher.
// Non-2xx tells Pub/Sub to redeliver.
func notificationPushHandler(notifier workflow.Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "notifications.go", "notificationPushHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		push, msg, err := decodePush(body)
		if err != nil {
			config.LogError(logger, "notifications.go", "notificationPushHandler", "decode push", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}

		correlationId := msg.CorrelationId
		if correlationId == "" {
			correlationId = push.Message.ID
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		fields := logrus.Fields{
			"field":          "notificationPushHandler",
			"outbox_id":      msg.ID,
			"order_id":       msg.OrderId,
			"message_id":     push.Message.ID,
			"correlation_id": correlationId,
		}

		// keyed on the outbox row so a republished row is not opened twice
		idemKey := fmt.Sprintf("outbox:%d", msg.ID)
		db := config.GetDB().WithContext(ctx)
		done, err := workflow.BeginIdempotency(db, notificationPushHandlerName, idemKey)
		if err != nil {
			logger.WithFields(fields).Warn("notification idempotency not acquired: " + err.Error())
			c.Status(http.StatusInternalServerError)
			return
		}
		if done != nil {
			logger.WithFields(fields).Info("notification already delivered")
			c.Status(http.StatusNoContent)
			return
		}

		if _, err := notifier.ComposeAndOpen(ctx, *msg); err != nil {
			if markErr := workflow.MarkIdempotencyFailed(db, notificationPushHandlerName, idemKey, err); markErr != nil {
				config.LogError(logger, "notifications.go", "notificationPushHandler", "MarkIdempotencyFailed", idemKey, markErr)
			}
			logger.WithFields(fields).Error("notification delivery failed: " + err.Error())
			c.Status(http.StatusInternalServerError)
			return
		}
		if err := workflow.MarkIdempotencySucceeded(db, notificationPushHandlerName, idemKey, push.Message.ID); err != nil {
			config.LogError(logger, "notifications.go", "notificationPushHandler", "MarkIdempotencySucceeded", idemKey, err)
		}
		c.Status(http.StatusNoContent)
	}
}
