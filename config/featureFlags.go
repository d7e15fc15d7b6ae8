package config

import (
	"os"
	"strings"
)

const (
	NotificationDeliveryPubSub = "pubsub"
	NotificationDeliveryDirect = "direct"
)

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// NotificationDelivery selects how outbox rows leave the service.
//
// Set via env:
// - NOTIFICATION_DELIVERY=pubsub  publish to NOTIFICATION_TOPIC, handled by the push endpoint
// - NOTIFICATION_DELIVERY=direct  hand off in-process (local/dev, no Pub/Sub)
//
// Defaults to direct when no Pub/Sub project is configured.
func NotificationDelivery() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("NOTIFICATION_DELIVERY")))
	switch v {
	case NotificationDeliveryPubSub, NotificationDeliveryDirect:
		return v
	}
	if getPubSubProjectID() == "" {
		return NotificationDeliveryDirect
	}
	return NotificationDeliveryPubSub
}

// SkipMigrations disables AutoMigrate on startup (SKIP_MIGRATIONS=true).
func SkipMigrations() bool {
	return boolFromEnv("SKIP_MIGRATIONS")
}

// RateLimitEnabled turns on the per-IP Redis rate limiter (RATE_LIMIT_ENABLED=true).
func RateLimitEnabled() bool {
	return boolFromEnv("RATE_LIMIT_ENABLED")
}

func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
}
