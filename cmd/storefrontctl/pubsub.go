package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vastramandir/storefront_backend/config"
)

var (
	pushEndpoint     string
	subscriptionName string
)

var pubsubCmd = &cobra.Command{
	Use:   "pubsub",
	Short: "Provision Pub/Sub for notification delivery",
}

var pubsubSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the notification topic and its push subscription",
	Long: `Creates NOTIFICATION_TOPIC if missing and a push subscription that delivers
to <endpoint>/pubsub/notifications. Both steps are no-ops when they already exist.`,
	RunE: setupPubSub,
}

func init() {
	rootCmd.AddCommand(pubsubCmd)
	pubsubCmd.AddCommand(pubsubSetupCmd)

	pubsubSetupCmd.Flags().StringVar(&pushEndpoint, "endpoint", "", "public base URL of the storefront service")
	pubsubSetupCmd.Flags().StringVar(&subscriptionName, "subscription", "storefront-notifications-push", "push subscription name")
	_ = pubsubSetupCmd.MarkFlagRequired("endpoint")
}

func setupPubSub(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client, err := config.GetClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create pubsub client: %w", err)
	}
	defer config.ClosePubSub()

	topic, err := config.CreateTopicIfNotExists(ctx, client, config.NotificationTopic())
	if err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}
	endpoint := strings.TrimRight(pushEndpoint, "/") + "/pubsub/notifications"
	sub, err := config.CreatePushSubscriptionIfNotExists(ctx, client, subscriptionName, topic, endpoint)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	fmt.Printf("topic %s -> subscription %s -> %s\n", topic.ID(), sub.ID(), endpoint)
	return nil
}
