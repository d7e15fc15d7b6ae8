package models

import (
	"context"
	"time"

	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/utils"
	"gorm.io/gorm"
)

type ProductVariant struct {
	ID        int            `gorm:"primary_key" json:"id"`
	ProductId int            `gorm:"not null;index:uniq_product_color,unique" json:"product_id"`
	Color     string         `gorm:"size:100;not null;index:uniq_product_color,unique" json:"color"`
	Images    StringList     `gorm:"type:json" json:"images"`
	Position  int            `gorm:"not null;default:0" json:"position"`
	Stocks    []VariantStock `gorm:"-" json:"stocks"`
}

// VariantStock is one ledger key. A missing row means the size was never offered;
// quantity 0 means depleted.
type VariantStock struct {
	ID        int       `gorm:"primary_key" json:"id"`
	ProductId int       `gorm:"not null;index:uniq_variant_stock,unique" json:"product_id"`
	Color     string    `gorm:"size:100;not null;index:uniq_variant_stock,unique" json:"color"`
	Size      string    `gorm:"size:50;not null;index:uniq_variant_stock,unique" json:"size"`
	Quantity  int       `gorm:"not null;default:0;check:chk_variant_stock_quantity,quantity >= 0" json:"quantity"`
	Position  int       `gorm:"not null;default:0" json:"position"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (v ProductVariant) TotalStock() int {
	total := 0
	for _, s := range v.Stocks {
		total += s.Quantity
	}
	return total
}

func (v ProductVariant) Stock(size string) (int, bool) {
	for _, s := range v.Stocks {
		if s.Size == size {
			return s.Quantity, true
		}
	}
	return 0, false
}

// StockLedger owns per-(product, color, size) quantities. Every call runs under its own timeout.
type StockLedger struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewStockLedger(db *gorm.DB) *StockLedger {
	return &StockLedger{db: db, timeout: config.GetStoreConfig().LedgerCallTimeout}
}

func (l *StockLedger) WithTimeout(timeout time.Duration) *StockLedger {
	return &StockLedger{db: l.db, timeout: timeout}
}

func (l *StockLedger) begin(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if l.timeout <= 0 {
		ctx, cancel := context.WithCancel(ctx)
		return l.db.WithContext(ctx), cancel
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	return l.db.WithContext(ctx), cancel
}

// GetAvailableSizes lists every size row of the variant, depleted ones included, in display order.
func (l *StockLedger) GetAvailableSizes(ctx context.Context, productId int, color string) ([]VariantStock, error) {
	db, cancel := l.begin(ctx)
	defer cancel()

	exists, err := variantExists(db, productId, color)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &utils.StockError{Line: -1, ProductId: productId, Color: color, Err: utils.ErrVariantNotFound}
	}
	var sizes []VariantStock
	if err := db.Where("product_id = ? AND color = ?", productId, color).Order("position, id").Find(&sizes).Error; err != nil {
		return nil, utils.WrapStorageFault("get available sizes", err)
	}
	return sizes, nil
}

// GetStock is 0 for a size that was never offered.
func (l *StockLedger) GetStock(ctx context.Context, productId int, color string, size string) (int, error) {
	db, cancel := l.begin(ctx)
	defer cancel()

	exists, err := variantExists(db, productId, color)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, &utils.StockError{Line: -1, ProductId: productId, Color: color, Size: size, Err: utils.ErrVariantNotFound}
	}
	var quantities []int
	if err := db.Model(&VariantStock{}).
		Where("product_id = ? AND color = ? AND size = ?", productId, color, size).
		Limit(1).Pluck("quantity", &quantities).Error; err != nil {
		return 0, utils.WrapStorageFault("get stock", err)
	}
	if len(quantities) == 0 {
		return 0, nil
	}
	return quantities[0], nil
}

func (l *StockLedger) Reserve(ctx context.Context, productId int, color string, size string, quantity int) error {
	db, cancel := l.begin(ctx)
	defer cancel()

	if err := reserveVariantStock(db, productId, color, size, quantity); err != nil {
		return err
	}
	invalidateProductCache(productId)
	return nil
}

func (l *StockLedger) Release(ctx context.Context, productId int, color string, size string, quantity int) error {
	db, cancel := l.begin(ctx)
	defer cancel()

	if err := releaseVariantStock(db, productId, color, size, quantity); err != nil {
		return err
	}
	invalidateProductCache(productId)
	return nil
}

// SetStock is the admin absolute write; it creates the size row when needed.
// An existing size only changes when expected still matches the stored quantity,
// so a unit sold after the admin read the stock is never put back.
func (l *StockLedger) SetStock(ctx context.Context, productId int, color string, size string, quantity int, expected *int) error {
	db, cancel := l.begin(ctx)
	defer cancel()

	err := db.Transaction(func(tx *gorm.DB) error {
		exists, err := variantExists(tx, productId, color)
		if err != nil {
			return err
		}
		if !exists {
			return &utils.StockError{Line: -1, ProductId: productId, Color: color, Size: size, Err: utils.ErrVariantNotFound}
		}
		var position int64
		if err := tx.Model(&VariantStock{}).Where("product_id = ? AND color = ?", productId, color).Count(&position).Error; err != nil {
			return utils.WrapStorageFault("set stock", err)
		}
		// a new size goes last; an existing one keeps its place
		if err := writeVariantStock(tx, stockWrite{
			ProductId:       productId,
			Color:           color,
			Size:            size,
			Quantity:        quantity,
			Expected:        expected,
			RequireExpected: true,
			Position:        int(position),
		}); err != nil {
			return err
		}
		return createAdminActionLog(tx, ActionKindInventoryEdited, map[string]interface{}{
			"product_id": productId,
			"color":      color,
			"size":       size,
			"quantity":   quantity,
			"expected":   expected,
		})
	})
	if err != nil {
		return err
	}
	invalidateProductCache(productId)
	return nil
}

// reserveVariantStock decrements in one conditional UPDATE so concurrent reservations
// on the same key cannot both pass the check.
func reserveVariantStock(tx *gorm.DB, productId int, color string, size string, quantity int) error {
	if quantity < 1 {
		return utils.NewSelectionError(-1, "quantity must be at least 1")
	}
	res := tx.Model(&VariantStock{}).
		Where("product_id = ? AND color = ? AND size = ? AND quantity >= ?", productId, color, size, quantity).
		UpdateColumn("quantity", gorm.Expr("quantity - ?", quantity))
	if res.Error != nil {
		return utils.WrapStorageFault("reserve stock", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	exists, err := variantExists(tx, productId, color)
	if err != nil {
		return err
	}
	stockErr := &utils.StockError{Line: -1, ProductId: productId, Color: color, Size: size, Err: utils.ErrInsufficientStock}
	if !exists {
		stockErr.Err = utils.ErrVariantNotFound
	}
	return stockErr
}

func releaseVariantStock(tx *gorm.DB, productId int, color string, size string, quantity int) error {
	if quantity < 1 {
		return utils.NewSelectionError(-1, "quantity must be at least 1")
	}
	res := tx.Model(&VariantStock{}).
		Where("product_id = ? AND color = ? AND size = ?", productId, color, size).
		UpdateColumn("quantity", gorm.Expr("quantity + ?", quantity))
	if res.Error != nil {
		return utils.WrapStorageFault("release stock", res.Error)
	}
	if res.RowsAffected == 0 {
		return &utils.StockError{Line: -1, ProductId: productId, Color: color, Size: size, Err: utils.ErrVariantNotFound}
	}
	return nil
}

type stockWrite struct {
	ProductId int
	Color     string
	Size      string
	Quantity  int
	// Expected is the quantity the writer last read. nil leaves an existing quantity alone.
	Expected        *int
	RequireExpected bool
	Position        int
	UpdatePosition  bool
}

// writeVariantStock creates a missing size row, or compares-and-sets an existing one.
func writeVariantStock(tx *gorm.DB, w stockWrite) error {
	if w.Quantity < 0 {
		return utils.NewSelectionError(-1, "%s/%s: quantity must not be negative", w.Color, w.Size)
	}
	var current VariantStock
	if err := tx.Where("product_id = ? AND color = ? AND size = ?", w.ProductId, w.Color, w.Size).
		Limit(1).Find(&current).Error; err != nil {
		return utils.WrapStorageFault("set stock", err)
	}
	if current.ID == 0 {
		row := VariantStock{ProductId: w.ProductId, Color: w.Color, Size: w.Size, Quantity: w.Quantity, Position: w.Position}
		if err := tx.Create(&row).Error; err != nil {
			return utils.WrapStorageFault("set stock", err)
		}
		return nil
	}
	if w.Expected == nil && w.RequireExpected {
		return utils.NewSelectionError(-1, "%s/%s: expected_quantity is required to change an existing size", w.Color, w.Size)
	}

	changing := w.Expected != nil && *w.Expected != w.Quantity
	if !changing && !w.UpdatePosition {
		return nil
	}
	updates := map[string]interface{}{"updated_at": time.Now()}
	q := tx.Model(&VariantStock{}).Where("id = ?", current.ID)
	if changing {
		updates["quantity"] = w.Quantity
		q = q.Where("quantity = ?", *w.Expected)
	}
	if w.UpdatePosition {
		updates["position"] = w.Position
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return utils.WrapStorageFault("set stock", res.Error)
	}
	if changing && res.RowsAffected == 0 {
		return &utils.StockError{Line: -1, ProductId: w.ProductId, Color: w.Color, Size: w.Size, Err: utils.ErrStockConflict}
	}
	return nil
}

func variantExists(tx *gorm.DB, productId int, color string) (bool, error) {
	var count int64
	if err := tx.Model(&ProductVariant{}).Where("product_id = ? AND color = ?", productId, color).Count(&count).Error; err != nil {
		return false, utils.WrapStorageFault("find variant", err)
	}
	return count > 0, nil
}
