package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/models"
	"github.com/vastramandir/storefront_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const checkoutHandlerName = "checkout"

type StockReserver interface {
	Reserve(ctx context.Context, productId int, color string, size string, quantity int) error
	Release(ctx context.Context, productId int, color string, size string, quantity int) error
}

type OrderRecorder interface {
	Create(ctx context.Context, draft *models.OrderDraft) (*models.Order, error)
	Get(ctx context.Context, id int) (*models.Order, error)
}

type ProductCatalog interface {
	GetProduct(ctx context.Context, id int) (*models.Product, error)
}

type CatalogFunc func(ctx context.Context, id int) (*models.Product, error)

func (f CatalogFunc) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	return f(ctx, id)
}

type CartSource interface {
	Get(ctx context.Context, cartId string) (*models.Cart, error)
	Clear(ctx context.Context, cartId string) error
}

type SettingSource interface {
	GetSetting(ctx context.Context, key string) (*models.Setting, error)
}

type SettingFunc func(ctx context.Context, key string) (*models.Setting, error)

func (f SettingFunc) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	return f(ctx, key)
}

// IdempotencyStore remembers which order a checkout key produced.
type IdempotencyStore interface {
	// Begin returns the order id of an earlier successful run, or 0 when this run should proceed.
	Begin(ctx context.Context, key string) (int, error)
	Succeed(ctx context.Context, key string, orderId int) error
	Fail(ctx context.Context, key string, cause error) error
}

type CheckoutLine struct {
	ProductId int    `json:"product_id"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

type CheckoutRequest struct {
	CustomerName     string             `json:"customer_name" validate:"required"`
	Phone            string             `json:"phone" validate:"required"`
	Address          string             `json:"address" validate:"required"`
	Pincode          string             `json:"pincode" validate:"required"`
	PaymentMode      models.PaymentMode `json:"payment_mode" validate:"required"`
	PaymentReference *string            `json:"payment_reference"`
	IsUrgent         bool               `json:"is_urgent"`
	// empty means check out the caller's cart
	Items []CheckoutLine `json:"items"`

	CartId         string `json:"-"`
	IdempotencyKey string `json:"-"`
}

type CheckoutResult struct {
	Order    *models.Order `json:"order"`
	UpiURI   string        `json:"upi_uri,omitempty"`
	Replayed bool          `json:"replayed"`
}

type Checkout struct {
	Ledger      StockReserver
	Orders      OrderRecorder
	Catalog     ProductCatalog
	Carts       CartSource
	Settings    SettingSource
	Idempotency IdempotencyStore
	Store       *config.StoreConfig
	Logger      *logrus.Logger
	Tracer      trace.Tracer
}

// NewCheckout wires the orchestrator to MySQL and Redis.
func NewCheckout(db *gorm.DB, logger *logrus.Logger) *Checkout {
	return &Checkout{
		Ledger:      models.NewStockLedger(db),
		Orders:      models.NewOrderStore(db),
		Catalog:     CatalogFunc(models.GetProduct),
		Carts:       models.NewCartStore(),
		Settings:    SettingFunc(models.GetSetting),
		Idempotency: &DBIdempotencyStore{DB: db},
		Store:       config.GetStoreConfig(),
		Logger:      logger,
		Tracer:      otel.Tracer("storefront/workflow"),
	}
}

var checkoutValidator = validator.New()

func (c *Checkout) tracer() trace.Tracer {
	if c.Tracer == nil {
		return otel.Tracer("storefront/workflow")
	}
	return c.Tracer
}

func (c *Checkout) store() *config.StoreConfig {
	if c.Store == nil {
		return config.DefaultStoreConfig()
	}
	return c.Store
}

// PlaceOrder runs a checkout. With an idempotency key, a retry of a finished checkout
// returns the first order instead of placing another.
func (c *Checkout) PlaceOrder(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := c.tracer().Start(ctx, "checkout.PlaceOrder")
	defer span.End()

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" && c.Idempotency != nil {
		orderId, err := c.Idempotency.Begin(ctx, key)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if orderId > 0 {
			order, err := c.Orders.Get(ctx, orderId)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(attribute.Int("order.id", order.ID), attribute.Bool("checkout.replayed", true))
			return &CheckoutResult{Order: order, UpiURI: c.upiURI(ctx, order), Replayed: true}, nil
		}
	}

	result, err := c.placeOrder(ctx, req)
	if key != "" && c.Idempotency != nil {
		var markErr error
		if err != nil {
			markErr = c.Idempotency.Fail(ctx, key, err)
		} else {
			markErr = c.Idempotency.Succeed(ctx, key, result.Order.ID)
		}
		config.LogError(c.Logger, "workflow", "Checkout.PlaceOrder", "mark idempotency", key, markErr)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("order.id", result.Order.ID))
	return result, nil
}

type reservation struct {
	productId int
	color     string
	size      string
	quantity  int
}

func (c *Checkout) placeOrder(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	lines := req.Items
	fromCart := len(lines) == 0 && req.CartId != "" && c.Carts != nil
	if fromCart {
		cart, err := c.Carts.Get(ctx, req.CartId)
		if err != nil {
			return nil, err
		}
		for _, item := range cart.Items {
			lines = append(lines, CheckoutLine{ProductId: item.ProductId, Color: item.Color, Size: item.Size, Quantity: item.Quantity})
		}
	}
	if len(lines) == 0 {
		return nil, utils.NewSelectionError(-1, "cart is empty")
	}
	if err := c.validateCustomer(req); err != nil {
		return nil, err
	}

	items, err := c.resolveLines(ctx, lines)
	if err != nil {
		return nil, err
	}

	reserved, err := c.reserve(ctx, items)
	if err != nil {
		return nil, err
	}

	store := c.store()
	itemTotal := decimal.Zero
	for _, item := range items {
		itemTotal = itemTotal.Add(item.LineTotal())
	}
	deliveryCharge := decimal.Zero
	if req.IsUrgent {
		deliveryCharge = store.ExpediteSurcharge
	}

	draft := &models.OrderDraft{
		CustomerName:     strings.TrimSpace(req.CustomerName),
		Phone:            strings.TrimSpace(req.Phone),
		Address:          strings.TrimSpace(req.Address),
		Pincode:          strings.TrimSpace(req.Pincode),
		PaymentMode:      req.PaymentMode,
		PaymentReference: paymentReference(req),
		IsUrgent:         req.IsUrgent,
		DeliveryCharge:   deliveryCharge,
		ItemPrice:        itemTotal.Add(deliveryCharge),
		Items:            items,
	}
	order, err := c.Orders.Create(ctx, draft)
	if err != nil {
		c.releaseAll(ctx, reserved)
		config.LogError(c.Logger, "workflow", "Checkout.placeOrder", "create order", draft.CustomerName, err)
		return nil, fmt.Errorf("%w: %w", utils.ErrOrderPersistenceFailed, err)
	}

	// a buy-now order leaves the shopper's cart alone
	if fromCart {
		if err := c.Carts.Clear(ctx, req.CartId); err != nil {
			config.LogError(c.Logger, "workflow", "Checkout.placeOrder", "clear cart", req.CartId, err)
		}
	}
	if c.Logger != nil {
		c.Logger.WithFields(logrus.Fields{
			"field":        "Checkout",
			"order_id":     order.ID,
			"payment_mode": order.PaymentMode,
			"total":        order.ItemPrice.String(),
		}).Info("order placed")
	}
	return &CheckoutResult{Order: order, UpiURI: c.upiURI(ctx, order)}, nil
}

func paymentReference(req *CheckoutRequest) *string {
	if req.PaymentMode != models.PaymentModeOnline || req.PaymentReference == nil {
		return nil
	}
	ref := strings.TrimSpace(*req.PaymentReference)
	if ref == "" {
		return nil
	}
	return &ref
}

func (c *Checkout) validateCustomer(req *CheckoutRequest) error {
	if err := checkoutValidator.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrInvalidSelection, err)
	}
	if req.PaymentMode != models.PaymentModeOnline && req.PaymentMode != models.PaymentModeCod {
		return utils.NewSelectionError(-1, "invalid payment mode %q", req.PaymentMode)
	}
	for _, field := range []string{req.CustomerName, req.Address} {
		if strings.TrimSpace(field) == "" {
			return utils.NewSelectionError(-1, "name and address are required")
		}
	}
	if err := utils.ValidatePhoneNumber(strings.TrimSpace(req.Phone), c.store().PhoneRegion); err != nil {
		return utils.NewSelectionError(-1, "invalid phone number: %v", err)
	}
	if !utils.IsValidPincode(req.Pincode) {
		return utils.NewSelectionError(-1, "pincode must be 6 digits")
	}
	return nil
}

// resolveLines checks every line against the catalog and snapshots it as an order item.
func (c *Checkout) resolveLines(ctx context.Context, lines []CheckoutLine) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(lines))
	for i, line := range lines {
		color, size := strings.TrimSpace(line.Color), strings.TrimSpace(line.Size)
		if line.Quantity < 1 {
			return nil, utils.NewSelectionError(i, "quantity must be at least 1")
		}
		product, err := c.Catalog.GetProduct(ctx, line.ProductId)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, &utils.StockError{Line: i, ProductId: line.ProductId, Color: color, Size: size, Err: utils.ErrVariantNotFound}
		}
		if err != nil {
			return nil, err
		}
		if product.IsDeleted {
			return nil, &utils.StockError{Line: i, ProductId: line.ProductId, Color: color, Size: size, Err: utils.ErrVariantNotFound}
		}
		if product.IsSoldOut {
			return nil, &utils.StockError{Line: i, ProductId: line.ProductId, Color: color, Size: size, Err: utils.ErrInsufficientStock}
		}

		item := models.OrderItem{
			ProductId: product.ID,
			Title:     product.Title,
			Price:     product.Price,
			Image:     product.DisplayImage(color),
			Quantity:  line.Quantity,
		}
		if product.HasVariants() {
			if color == "" || size == "" {
				return nil, utils.NewSelectionError(i, "please select a color and size for %s", product.Title)
			}
			item.Color = color
			item.Size = size
		}
		items = append(items, item)
	}
	return items, nil
}

// reserve takes stock for every tracked item. On failure nothing stays reserved.
func (c *Checkout) reserve(ctx context.Context, items []models.OrderItem) ([]reservation, error) {
	ctx, span := c.tracer().Start(ctx, "checkout.reserve")
	defer span.End()

	reserved := make([]reservation, 0, len(items))
	for i, item := range items {
		if !item.IsStockTracked() {
			continue
		}
		err := c.Ledger.Reserve(ctx, item.ProductId, item.Color, item.Size, item.Quantity)
		if err != nil {
			c.releaseAll(ctx, reserved)
			var stockErr *utils.StockError
			if errors.As(err, &stockErr) {
				return nil, &utils.StockError{Line: i, ProductId: item.ProductId, Color: item.Color, Size: item.Size, Err: stockErr.Err}
			}
			return nil, err
		}
		reserved = append(reserved, reservation{productId: item.ProductId, color: item.Color, size: item.Size, quantity: item.Quantity})
	}
	span.SetAttributes(attribute.Int("checkout.reserved_lines", len(reserved)))
	return reserved, nil
}

// releaseAll undoes reservations newest first. Failures are logged; the caller's error wins.
func (c *Checkout) releaseAll(ctx context.Context, reserved []reservation) {
	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		if err := c.Ledger.Release(context.WithoutCancel(ctx), r.productId, r.color, r.size, r.quantity); err != nil {
			config.LogError(c.Logger, "workflow", "Checkout.releaseAll", "release reservation", r.productId, err)
		}
	}
}

func (c *Checkout) upiURI(ctx context.Context, order *models.Order) string {
	if order.PaymentMode != models.PaymentModeOnline || c.Settings == nil {
		return ""
	}
	setting, err := c.Settings.GetSetting(ctx, models.SettingKeyUpiId)
	if err != nil {
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			config.LogError(c.Logger, "workflow", "Checkout.upiURI", "GetSetting", models.SettingKeyUpiId, err)
		}
		return ""
	}
	return utils.BuildUPIURI(setting.Value, c.store().ShopName, order.ItemPrice)
}

// DBIdempotencyStore keeps checkout keys in the idempotency_keys table.
type DBIdempotencyStore struct {
	DB *gorm.DB
}

func (s *DBIdempotencyStore) Begin(ctx context.Context, key string) (int, error) {
	existing, err := BeginIdempotency(s.DB.WithContext(ctx), checkoutHandlerName, key)
	if err != nil {
		return 0, err
	}
	if existing == nil || existing.ResultRef == nil {
		return 0, nil
	}
	orderId, err := strconv.Atoi(*existing.ResultRef)
	if err != nil {
		return 0, fmt.Errorf("idempotency key %q has unreadable result %q", key, *existing.ResultRef)
	}
	return orderId, nil
}

func (s *DBIdempotencyStore) Succeed(ctx context.Context, key string, orderId int) error {
	return MarkIdempotencySucceeded(s.DB.WithContext(ctx), checkoutHandlerName, key, strconv.Itoa(orderId))
}

func (s *DBIdempotencyStore) Fail(ctx context.Context, key string, cause error) error {
	return MarkIdempotencyFailed(s.DB.WithContext(ctx), checkoutHandlerName, key, cause)
}
