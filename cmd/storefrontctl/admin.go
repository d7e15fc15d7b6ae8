package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/models"
	"github.com/vastramandir/storefront_backend/utils"
)

var (
	adminUsername string
	adminName     string
	adminPassword string
)

var seedAdminCmd = &cobra.Command{
	Use:   "seed-admin",
	Short: "Create or update an admin console user",
	Long: `Creates the admin user or, if it exists, resets its name and password.
Existing sessions of that user are logged out.`,
	RunE: seedAdmin,
}

func init() {
	rootCmd.AddCommand(seedAdminCmd)

	seedAdminCmd.Flags().StringVar(&adminUsername, "username", "", "admin username")
	seedAdminCmd.Flags().StringVar(&adminName, "name", "", "display name (defaults to username)")
	seedAdminCmd.Flags().StringVar(&adminPassword, "password", "", "password")
	_ = seedAdminCmd.MarkFlagRequired("username")
	_ = seedAdminCmd.MarkFlagRequired("password")
}

func seedAdmin(cmd *cobra.Command, args []string) error {
	if !utils.IsStrongEnoughPassword(adminPassword) {
		return fmt.Errorf("password is too short")
	}
	if adminName == "" {
		adminName = adminUsername
	}
	if err := connectDB(); err != nil {
		return err
	}
	// needed to log out existing sessions
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	user, err := models.UpsertAdminUser(context.Background(), adminUsername, adminName, adminPassword)
	if err != nil {
		return fmt.Errorf("failed to seed admin: %w", err)
	}
	fmt.Printf("Admin user ready: username=%q name=%q\n", user.Username, user.Name)
	return nil
}
