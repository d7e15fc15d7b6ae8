package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vastramandir/storefront_backend/models"
)

var replayRecordId int

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Manage the notification outbox",
}

var outboxReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Requeue DEAD notifications (all of them, or one with --id)",
	RunE:  replayOutbox,
}

func init() {
	rootCmd.AddCommand(outboxCmd)
	outboxCmd.AddCommand(outboxReplayCmd)

	outboxReplayCmd.Flags().IntVar(&replayRecordId, "id", 0, "outbox row id (DEAD or FAILED)")
}

func replayOutbox(cmd *cobra.Command, args []string) error {
	if err := connectDB(); err != nil {
		return err
	}
	ctx := context.Background()
	if replayRecordId > 0 {
		row, err := models.ReplayNotificationOutbox(ctx, replayRecordId)
		if err != nil {
			return fmt.Errorf("failed to replay outbox row %d: %w", replayRecordId, err)
		}
		fmt.Printf("outbox row %d requeued (order %d, %s)\n", row.ID, row.OrderId, row.Event)
		return nil
	}
	count, err := models.ReplayDeadNotifications(ctx)
	if err != nil {
		return fmt.Errorf("failed to replay dead notifications: %w", err)
	}
	fmt.Printf("%d dead notifications requeued\n", count)
	return nil
}
