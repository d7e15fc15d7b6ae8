package reports

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/models"
	"github.com/vastramandir/storefront_backend/utils"
)

type DashboardResponse struct {
	Counts           map[string]int64 `json:"counts"`
	PendingTotal     decimal.Decimal  `json:"pending_total"`
	UnverifiedOnline int64            `json:"unverified_online"`
	ProductCount     int64            `json:"product_count"`
	SoldOutCount     int64            `json:"sold_out_count"`
	LowStockVariants int64            `json:"low_stock_variants"`
}

type statusCount struct {
	Status models.OrderStatus
	Count  int64
	Total  decimal.Decimal
}

// fold collapses per-status rows into admin groups and the pending item_price total.
func fold(rows []statusCount) (map[string]int64, decimal.Decimal) {
	counts := make(map[string]int64, len(models.OrderGroups))
	for _, g := range models.OrderGroups {
		counts[g] = 0
	}
	pending := decimal.Zero
	for _, r := range rows {
		for _, g := range models.OrderGroups {
			statuses, _ := models.StatusGroup(g)
			for _, s := range statuses {
				if s != r.Status {
					continue
				}
				counts[g] += r.Count
				if g == models.OrderGroupPending {
					pending = pending.Add(r.Total)
				}
			}
		}
	}
	return counts, pending
}

func GetDashboard(ctx context.Context) (*DashboardResponse, error) {
	var cached DashboardResponse
	if ok, err := cacheGet(dashboardCacheKey, &cached); err == nil && ok {
		return &cached, nil
	}
	started := time.Now()
	defer logSlowReport(ctx, "dashboard", started, nil)

	db := config.GetDB()
	if db == nil {
		return nil, utils.WrapStorageFault("dashboard", errors.New("database not ready"))
	}

	sql := `
SELECT
    status,
    COUNT(*) AS count,
    COALESCE(SUM(item_price), 0) AS total
FROM
    orders
GROUP BY
    status;
`
	var rows []statusCount
	if err := db.WithContext(ctx).Raw(sql).Scan(&rows).Error; err != nil {
		return nil, utils.WrapStorageFault("dashboard", err)
	}
	counts, pending := fold(rows)
	resp := DashboardResponse{Counts: counts, PendingTotal: pending}

	if err := db.WithContext(ctx).Model(&models.Order{}).
		Where("payment_mode = ? AND payment_verified_at IS NULL AND status <> ?", models.PaymentModeOnline, models.OrderStatusDeclined).
		Count(&resp.UnverifiedOnline).Error; err != nil {
		return nil, utils.WrapStorageFault("dashboard", err)
	}
	if err := db.WithContext(ctx).Model(&models.Product{}).Where("is_deleted = ?", false).Count(&resp.ProductCount).Error; err != nil {
		return nil, utils.WrapStorageFault("dashboard", err)
	}
	if err := db.WithContext(ctx).Model(&models.Product{}).Where("is_deleted = ? AND is_sold_out = ?", false, true).Count(&resp.SoldOutCount).Error; err != nil {
		return nil, utils.WrapStorageFault("dashboard", err)
	}
	threshold := config.GetStoreConfig().LowStockThreshold
	if err := db.WithContext(ctx).Model(&models.VariantStock{}).
		Joins("JOIN products ON products.id = variant_stocks.product_id AND products.is_deleted = ?", false).
		Where("variant_stocks.quantity > 0 AND variant_stocks.quantity < ?", threshold).
		Count(&resp.LowStockVariants).Error; err != nil {
		return nil, utils.WrapStorageFault("dashboard", err)
	}
	cacheSet(dashboardCacheKey, resp)
	return &resp, nil
}
