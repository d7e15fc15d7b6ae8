package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/models"
)

var (
	stockProductId int
	stockColor     string
	stockSize      string
	stockQuantity  int
	stockExpected  int
)

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Inspect and correct variant stock",
}

var stockSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Overwrite the stock of one (product, color, size)",
	Long: `Sets the absolute quantity after a stock count. The size row is created
when the color exists but the size does not. Without --expected the current
quantity is read first; a sale landing in between fails the write.`,
	RunE: setStock,
}

var stockShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the sizes of one product color",
	RunE:  showStock,
}

func init() {
	rootCmd.AddCommand(stockCmd)
	stockCmd.AddCommand(stockSetCmd, stockShowCmd)

	stockCmd.PersistentFlags().IntVar(&stockProductId, "product", 0, "product id")
	stockCmd.PersistentFlags().StringVar(&stockColor, "color", "", "variant color")
	_ = stockCmd.MarkPersistentFlagRequired("product")
	_ = stockCmd.MarkPersistentFlagRequired("color")

	stockSetCmd.Flags().StringVar(&stockSize, "size", "", "size label")
	stockSetCmd.Flags().IntVar(&stockQuantity, "quantity", 0, "absolute quantity")
	stockSetCmd.Flags().IntVar(&stockExpected, "expected", 0, "quantity the count started from")
	_ = stockSetCmd.MarkFlagRequired("size")
	_ = stockSetCmd.MarkFlagRequired("quantity")
}

func setStock(cmd *cobra.Command, args []string) error {
	if err := connectDB(); err != nil {
		return err
	}
	ctx := context.Background()
	ledger := models.NewStockLedger(config.GetDB())
	var expected *int
	if cmd.Flags().Changed("expected") {
		expected = &stockExpected
	} else {
		sizes, err := ledger.GetAvailableSizes(ctx, stockProductId, stockColor)
		if err != nil {
			return fmt.Errorf("failed to read stock: %w", err)
		}
		for _, s := range sizes {
			if s.Size == stockSize {
				current := s.Quantity
				expected = &current
				break
			}
		}
	}
	if err := ledger.SetStock(ctx, stockProductId, stockColor, stockSize, stockQuantity, expected); err != nil {
		return fmt.Errorf("failed to set stock: %w", err)
	}
	fmt.Printf("product %d %s/%s set to %d\n", stockProductId, stockColor, stockSize, stockQuantity)
	return nil
}

func showStock(cmd *cobra.Command, args []string) error {
	if err := connectDB(); err != nil {
		return err
	}
	sizes, err := models.NewStockLedger(config.GetDB()).GetAvailableSizes(context.Background(), stockProductId, stockColor)
	if err != nil {
		return err
	}
	for _, s := range sizes {
		fmt.Printf("%-8s %d\n", s.Size, s.Quantity)
	}
	return nil
}
