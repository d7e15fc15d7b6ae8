package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/utils"
	"gorm.io/gorm"
)

const legacyAttributeNA = "NA"

type Product struct {
	ID          int              `gorm:"primary_key" json:"id"`
	Title       string           `gorm:"size:255;not null" json:"title"`
	Description string           `gorm:"type:text" json:"description"`
	Price       decimal.Decimal  `gorm:"type:decimal(20,2);not null" json:"price"`
	Mrp         *decimal.Decimal `gorm:"type:decimal(20,2)" json:"mrp"`
	Category    *string          `gorm:"size:100;index" json:"category"`
	Images      StringList       `gorm:"type:json" json:"images"`
	LegacySize  string           `gorm:"size:50;not null;default:NA" json:"legacy_size"`
	LegacyColor string           `gorm:"size:50;not null;default:NA" json:"legacy_color"`
	IsSoldOut   bool             `gorm:"not null;default:false" json:"is_sold_out"`
	IsDeleted   bool             `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt   time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	Variants    []ProductVariant `gorm:"foreignKey:ProductId" json:"variants"`
}

type NewVariantSize struct {
	Size     string `json:"size" binding:"required"`
	Quantity int    `json:"quantity"`
	// ExpectedQuantity is the stock the admin's form was loaded with. Without it an
	// existing size keeps its current quantity.
	ExpectedQuantity *int `json:"expected_quantity"`
}

type NewVariant struct {
	Color  string           `json:"color" binding:"required"`
	Images []string         `json:"images"`
	Sizes  []NewVariantSize `json:"sizes"`
}

type NewProduct struct {
	Title       string           `json:"title" binding:"required"`
	Description string           `json:"description"`
	Price       decimal.Decimal  `json:"price"`
	Mrp         *decimal.Decimal `json:"mrp"`
	Category    *string          `json:"category"`
	Images      []string         `json:"images"`
	// nil keeps the current variants on update; an empty list removes them all
	Variants []NewVariant `json:"variants"`
}

type ProductFilter struct {
	AvailableOnly  bool
	Category       string
	IncludeDeleted bool
}

// HasVariants reports whether size/stock come from the ledger.
func (p *Product) HasVariants() bool {
	return len(p.Variants) > 0
}

func (p *Product) Variant(color string) *ProductVariant {
	for i := range p.Variants {
		if p.Variants[i].Color == color {
			return &p.Variants[i]
		}
	}
	return nil
}

// DisplayImage is the first variant image, else the first product image.
func (p *Product) DisplayImage(color string) string {
	if v := p.Variant(color); v != nil && len(v.Images) > 0 {
		return v.Images[0]
	}
	return p.Images.First()
}

func (input *NewProduct) validate() error {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return utils.NewSelectionError(-1, "title is required")
	}
	if input.Price.IsNegative() {
		return utils.NewSelectionError(-1, "price must not be negative")
	}
	if input.Mrp != nil && input.Mrp.IsNegative() {
		return utils.NewSelectionError(-1, "mrp must not be negative")
	}
	maxImages := config.GetStoreConfig().MaxUploadImages
	if len(input.Images) > maxImages {
		return utils.NewSelectionError(-1, "at most %d images are allowed", maxImages)
	}

	colors := make(map[string]bool)
	for i := range input.Variants {
		v := &input.Variants[i]
		v.Color = strings.TrimSpace(v.Color)
		if v.Color == "" {
			return utils.NewSelectionError(-1, "variant %d: color is required", i)
		}
		if colors[strings.ToLower(v.Color)] {
			return utils.NewSelectionError(-1, "duplicate color %q", v.Color)
		}
		colors[strings.ToLower(v.Color)] = true

		sizes := make(map[string]bool)
		for j := range v.Sizes {
			s := &v.Sizes[j]
			s.Size = strings.TrimSpace(s.Size)
			if s.Size == "" {
				return utils.NewSelectionError(-1, "%s: size is required", v.Color)
			}
			if sizes[s.Size] {
				return utils.NewSelectionError(-1, "%s: duplicate size %q", v.Color, s.Size)
			}
			sizes[s.Size] = true
			if s.Quantity < 0 {
				return utils.NewSelectionError(-1, "%s/%s: quantity must not be negative", v.Color, s.Size)
			}
		}
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	product := Product{
		Title:       input.Title,
		Description: input.Description,
		Price:       input.Price,
		Mrp:         input.Mrp,
		Category:    normalizeCategory(input.Category),
		Images:      StringList(input.Images),
		LegacySize:  legacyAttributeNA,
		LegacyColor: legacyAttributeNA,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Variants").Create(&product).Error; err != nil {
			return utils.WrapStorageFault("create product", err)
		}
		if err := syncVariants(tx, product.ID, input.Variants); err != nil {
			return err
		}
		return createAdminActionLog(tx, ActionKindProductUploaded, map[string]interface{}{
			"product_id": product.ID,
			"title":      product.Title,
			"variants":   len(input.Variants),
		})
	})
	if err != nil {
		return nil, err
	}
	return GetProduct(ctx, product.ID)
}

func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	existing, err := utils.FetchSingleModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.IsDeleted {
		return nil, utils.ErrorRecordNotFound
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Product{}).Where("id = ?", id).Updates(map[string]interface{}{
			"title":       input.Title,
			"description": input.Description,
			"price":       input.Price,
			"mrp":         input.Mrp,
			"category":    normalizeCategory(input.Category),
			"images":      StringList(input.Images),
		}).Error; err != nil {
			return utils.WrapStorageFault("update product", err)
		}
		if input.Variants != nil {
			if err := syncVariants(tx, id, input.Variants); err != nil {
				return err
			}
		}
		return createAdminActionLog(tx, ActionKindInventoryEdited, map[string]interface{}{
			"product_id": id,
			"title":      input.Title,
			"before":     existing.Title,
			"variants":   input.Variants,
		})
	})
	if err != nil {
		return nil, err
	}
	invalidateProductCache(id)
	return GetProduct(ctx, id)
}

// syncVariants makes the variant/size rows of productId match variants.
// Existing rows are updated in place so ids and unaffected keys stay stable.
// Quantities of existing sizes change only through a matching ExpectedQuantity.
func syncVariants(tx *gorm.DB, productId int, variants []NewVariant) error {
	var current []ProductVariant
	if err := tx.Where("product_id = ?", productId).Find(&current).Error; err != nil {
		return utils.WrapStorageFault("load variants", err)
	}
	keep := make(map[string]bool, len(variants))

	for pos, nv := range variants {
		keep[nv.Color] = true
		variant := ProductVariant{ProductId: productId, Color: nv.Color, Images: StringList(nv.Images), Position: pos}
		found := false
		for _, cv := range current {
			if cv.Color == nv.Color {
				variant.ID = cv.ID
				found = true
				break
			}
		}
		if found {
			if err := tx.Model(&ProductVariant{}).Where("id = ?", variant.ID).Updates(map[string]interface{}{
				"images":   variant.Images,
				"position": pos,
			}).Error; err != nil {
				return utils.WrapStorageFault("update variant", err)
			}
		} else if err := tx.Create(&variant).Error; err != nil {
			return utils.WrapStorageFault("create variant", err)
		}

		sizes := make([]string, 0, len(nv.Sizes))
		for sizePos, s := range nv.Sizes {
			sizes = append(sizes, s.Size)
			if err := writeVariantStock(tx, stockWrite{
				ProductId:      productId,
				Color:          nv.Color,
				Size:           s.Size,
				Quantity:       s.Quantity,
				Expected:       s.ExpectedQuantity,
				Position:       sizePos,
				UpdatePosition: true,
			}); err != nil {
				return err
			}
		}
		removed := tx.Where("product_id = ? AND color = ?", productId, nv.Color)
		if len(sizes) > 0 {
			removed = removed.Where("size NOT IN ?", sizes)
		}
		if err := removed.Delete(&VariantStock{}).Error; err != nil {
			return utils.WrapStorageFault("remove sizes", err)
		}
	}

	for _, cv := range current {
		if keep[cv.Color] {
			continue
		}
		if err := tx.Where("product_id = ? AND color = ?", productId, cv.Color).Delete(&VariantStock{}).Error; err != nil {
			return utils.WrapStorageFault("remove variant stock", err)
		}
		if err := tx.Delete(&ProductVariant{}, cv.ID).Error; err != nil {
			return utils.WrapStorageFault("remove variant", err)
		}
	}
	return nil
}

func SetProductSoldOut(ctx context.Context, id int, isSoldOut bool) (*Product, error) {
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Product{}).Where("id = ? AND is_deleted = ?", id, false).Update("is_sold_out", isSoldOut)
		if res.Error != nil {
			return utils.WrapStorageFault("toggle sold out", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&Product{}).Where("id = ? AND is_deleted = ?", id, false).Count(&count).Error; err != nil {
				return utils.WrapStorageFault("toggle sold out", err)
			}
			if count == 0 {
				return utils.ErrorRecordNotFound
			}
			// already in the requested state
			return nil
		}
		return createAdminActionLog(tx, ActionKindInventoryEdited, map[string]interface{}{
			"product_id":  id,
			"is_sold_out": isSoldOut,
		})
	})
	if err != nil {
		return nil, err
	}
	invalidateProductCache(id)
	return GetProduct(ctx, id)
}

// DeleteProduct is a soft delete; orders keep their snapshots.
func DeleteProduct(ctx context.Context, id int) (*Product, error) {
	product, err := utils.FetchSingleModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}
	if product.IsDeleted {
		return nil, utils.ErrorRecordNotFound
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Product{}).Where("id = ?", id).Update("is_deleted", true).Error; err != nil {
			return utils.WrapStorageFault("delete product", err)
		}
		return createAdminActionLog(tx, ActionKindProductDeleted, map[string]interface{}{
			"product_id": id,
			"title":      product.Title,
		})
	})
	if err != nil {
		return nil, err
	}
	invalidateProductCache(id)
	product.IsDeleted = true
	return product, nil
}

// GetProduct returns the product with variants and stock, deleted ones included.
func GetProduct(ctx context.Context, id int) (*Product, error) {
	cached, err := utils.RetrieveRedis[Product](id)
	if err != nil {
		config.LogError(config.GetLogger(), "models", "GetProduct", "RetrieveRedis", id, err)
	}
	if cached != nil {
		return cached, nil
	}

	product, err := utils.FetchSingleModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}
	products := []*Product{product}
	if err := loadVariants(config.GetDB().WithContext(ctx), products); err != nil {
		return nil, err
	}
	if err := utils.StoreRedis(product, id); err != nil {
		config.LogError(config.GetLogger(), "models", "GetProduct", "StoreRedis", id, err)
	}
	return product, nil
}

func ListProducts(ctx context.Context, filter ProductFilter) ([]*Product, error) {
	db := config.GetDB()
	if db == nil {
		return nil, utils.WrapStorageFault("list products", errors.New("database not ready"))
	}
	dbCtx := db.WithContext(ctx).Model(&Product{})
	if !filter.IncludeDeleted {
		dbCtx = dbCtx.Where("is_deleted = ?", false)
	}
	if filter.AvailableOnly {
		dbCtx = dbCtx.Where("is_sold_out = ?", false)
	}
	if c := strings.TrimSpace(filter.Category); c != "" {
		dbCtx = dbCtx.Where("category = ?", c)
	}

	var products []*Product
	if err := dbCtx.Order("created_at DESC, id DESC").Find(&products).Error; err != nil {
		return nil, utils.WrapStorageFault("list products", err)
	}
	if err := loadVariants(db.WithContext(ctx), products); err != nil {
		return nil, err
	}
	return products, nil
}

func ListCategories(ctx context.Context) ([]string, error) {
	var categories []string
	err := config.GetDB().WithContext(ctx).Model(&Product{}).
		Where("is_deleted = ? AND category IS NOT NULL AND category <> ''", false).
		Distinct().Order("category").Pluck("category", &categories).Error
	if err != nil {
		return nil, utils.WrapStorageFault("list categories", err)
	}
	return categories, nil
}

// loadVariants fills Variants (and their Stocks) for products with two queries.
func loadVariants(db *gorm.DB, products []*Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]int, 0, len(products))
	byId := make(map[int]*Product, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
		byId[p.ID] = p
		p.Variants = []ProductVariant{}
	}

	var variants []ProductVariant
	if err := db.Where("product_id IN ?", ids).Order("product_id, position, id").Find(&variants).Error; err != nil {
		return utils.WrapStorageFault("load variants", err)
	}
	var stocks []VariantStock
	if err := db.Where("product_id IN ?", ids).Order("product_id, color, position, id").Find(&stocks).Error; err != nil {
		return utils.WrapStorageFault("load variant stock", err)
	}

	stockByKey := make(map[string][]VariantStock)
	for _, s := range stocks {
		key := fmt.Sprintf("%d|%s", s.ProductId, s.Color)
		stockByKey[key] = append(stockByKey[key], s)
	}
	for _, v := range variants {
		v.Stocks = stockByKey[fmt.Sprintf("%d|%s", v.ProductId, v.Color)]
		if v.Stocks == nil {
			v.Stocks = []VariantStock{}
		}
		p := byId[v.ProductId]
		p.Variants = append(p.Variants, v)
	}
	return nil
}

func normalizeCategory(category *string) *string {
	if category == nil {
		return nil
	}
	c := strings.TrimSpace(*category)
	if c == "" {
		return nil
	}
	return &c
}

func invalidateProductCache(ids ...int) {
	for _, id := range utils.UniqueSlice(ids) {
		if err := utils.RemoveRedisItem[Product](id); err != nil {
			config.LogError(config.GetLogger(), "models", "invalidateProductCache", "RemoveRedisItem", id, err)
		}
	}
}
