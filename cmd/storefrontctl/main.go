// storefrontctl runs one-off operator tasks against the storefront database.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/storefrontctl seed-admin --username owner --password '...'
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vastramandir/storefront_backend/config"
)

var rootCmd = &cobra.Command{
	Use:   "storefrontctl",
	Short: "Operator tooling for the storefront backend",
	Long: `storefrontctl seeds admin users, corrects variant stock, requeues dead
notifications and provisions the Pub/Sub topic used for order notifications.`,
	SilenceUsage: true,
}

// connectDB opens the database the same way the server does.
func connectDB() error {
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		return fmt.Errorf("database not initialized; set DB_* env vars")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
