package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// NotificationMessage is the Pub/Sub payload for one outbound customer/merchant message.
type NotificationMessage struct {
	ID            int       `json:"id"`
	OrderId       int       `json:"order_id"`
	Event         string    `json:"event"`
	Recipient     string    `json:"recipient"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
	CorrelationId string    `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubTopic    *pubsub.Topic
	pubsubClientMu sync.Mutex
)

func getPubSubProjectID() string {
	for _, key := range []string{"PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCP_PROJECT"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// NotificationTopic is the topic the outbox dispatcher publishes to.
func NotificationTopic() string {
	if v := os.Getenv("NOTIFICATION_TOPIC"); v != "" {
		return v
	}
	return "storefront-notifications"
}

// GetClient returns the shared Pub/Sub client, creating it with retries until ctx ends.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	var opts []option.ClientOption
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}

	for attempt := 1; ; attempt++ {
		c, err := pubsub.NewClient(ctx, projectID, opts...)
		if err == nil {
			pubsubClient = c
			log.Printf("pubsub client ready (project_id=%s attempt=%d)", projectID, attempt)
			return c, nil
		}

		sleep := RetryBackoff(attempt)
		log.Printf("failed to init pubsub client (project_id=%s attempt=%d): %v; retrying in %s", projectID, attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// notificationTopic reuses one Topic so its publish bundler is not rebuilt per message.
func notificationTopic(ctx context.Context) (*pubsub.Topic, error) {
	client, err := GetClient(ctx)
	if err != nil {
		return nil, err
	}
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubTopic == nil {
		pubsubTopic = client.Topic(NotificationTopic())
		pubsubTopic.EnableMessageOrdering = true
	}
	return pubsubTopic, nil
}

// ClosePubSub flushes pending publishes and closes the client.
func ClosePubSub() {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubTopic != nil {
		pubsubTopic.Stop()
		pubsubTopic = nil
	}
	if pubsubClient != nil {
		_ = pubsubClient.Close()
		pubsubClient = nil
	}
}

func CreateTopicIfNotExists(ctx context.Context, c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

// CreatePushSubscriptionIfNotExists wires the topic to the server's push endpoint.
func CreatePushSubscriptionIfNotExists(ctx context.Context, client *pubsub.Client, name string, topic *pubsub.Topic, endpoint string) (*pubsub.Subscription, error) {
	if client == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if name == "" {
		return nil, errors.New("subscription name is required")
	}
	if topic == nil {
		return nil, errors.New("topic is required")
	}

	sub := client.Subscription(name)
	subExists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription exists: %w", err)
	}
	if !subExists {
		cfg := pubsub.SubscriptionConfig{
			Topic:                 topic,
			AckDeadline:           20 * time.Second,
			EnableMessageOrdering: true,
		}
		if endpoint != "" {
			cfg.PushConfig = pubsub.PushConfig{Endpoint: endpoint}
		}
		sub, err = client.CreateSubscription(ctx, name, cfg)
		if err != nil {
			return nil, fmt.Errorf("create subscription %q: %w", name, err)
		}
	}
	return sub, nil
}

// PublishNotificationWithResult publishes and returns the Pub/Sub server-assigned message ID.
// Messages of one order share an ordering key so placed/confirmed/delivered arrive in order.
func PublishNotificationWithResult(ctx context.Context, msg NotificationMessage) (string, error) {
	t, err := notificationTopic(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("order-%d", msg.OrderId)
	id, err := t.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: key,
		Attributes: map[string]string{
			"event":          msg.Event,
			"correlation_id": msg.CorrelationId,
		},
	}).Get(ctx)
	if err != nil {
		// a failed publish pauses the key until resumed
		t.ResumePublish(key)
		return "", err
	}
	return id, nil
}
