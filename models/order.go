package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/utils"
	"gorm.io/gorm"
)

type Order struct {
	ID                int             `gorm:"primary_key" json:"id"`
	CustomerName      string          `gorm:"size:255;not null" json:"customer_name"`
	Phone             string          `gorm:"size:20;not null;index" json:"phone"`
	Address           string          `gorm:"type:text;not null" json:"address"`
	Pincode           string          `gorm:"size:10;not null" json:"pincode"`
	PaymentMode       PaymentMode     `gorm:"size:10;not null" json:"payment_mode"`
	Status            OrderStatus     `gorm:"size:20;not null;index:idx_order_status_created,priority:1" json:"status"`
	IsUrgent          bool            `gorm:"not null;default:false" json:"is_urgent"`
	DeliveryCharge    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"delivery_charge"`
	ItemPrice         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"item_price"`
	PaymentReference  *string         `gorm:"size:100" json:"payment_reference"`
	PaymentVerifiedAt *time.Time      `json:"payment_verified_at"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index:idx_order_status_created,priority:2" json:"created_at"`
	Items             []OrderItem     `gorm:"foreignKey:OrderId" json:"items"`
	PaymentState      PaymentState    `gorm:"-" json:"payment_state"`
}

// OrderItem is a snapshot taken at checkout; later catalog edits never change it.
type OrderItem struct {
	ID        int             `gorm:"primary_key" json:"id"`
	OrderId   int             `gorm:"not null;index" json:"order_id"`
	ProductId int             `gorm:"not null;index" json:"product_id"`
	Title     string          `gorm:"size:255;not null" json:"title"`
	Price     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"price"`
	Image     string          `gorm:"type:text" json:"image"`
	Color     string          `gorm:"size:100" json:"color"`
	Size      string          `gorm:"size:50" json:"size"`
	Quantity  int             `gorm:"not null" json:"quantity"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// IsStockTracked is true for items bought from a variant, whose stock lives in the ledger.
func (i OrderItem) IsStockTracked() bool {
	return i.Color != "" && i.Size != ""
}

func (o *Order) AfterFind(tx *gorm.DB) error {
	o.PaymentState = o.paymentState()
	return nil
}

// paid_online only means the shopper claims to have paid.
func (o *Order) paymentState() PaymentState {
	if o.PaymentMode != PaymentModeOnline {
		return PaymentStateCod
	}
	if o.PaymentVerifiedAt != nil {
		return PaymentStateVerified
	}
	return PaymentStateClaimed
}

type OrderDraft struct {
	CustomerName     string
	Phone            string
	Address          string
	Pincode          string
	PaymentMode      PaymentMode
	PaymentReference *string
	IsUrgent         bool
	DeliveryCharge   decimal.Decimal
	ItemPrice        decimal.Decimal
	Items            []OrderItem
}

type TransitionResult struct {
	Order        *Order              `json:"order"`
	Notification *NotificationOutbox `json:"notification"`
}

type OrderStore struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db, timeout: config.GetStoreConfig().LedgerCallTimeout}
}

func (s *OrderStore) begin(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if s.timeout <= 0 {
		ctx, cancel := context.WithCancel(ctx)
		return s.db.WithContext(ctx), cancel
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(ctx), cancel
}

// Create persists the order, its items and the merchant notification atomically.
func (s *OrderStore) Create(ctx context.Context, draft *OrderDraft) (*Order, error) {
	if draft == nil || len(draft.Items) == 0 {
		return nil, utils.NewSelectionError(-1, "order has no items")
	}
	db, cancel := s.begin(ctx)
	defer cancel()

	order := Order{
		CustomerName:     draft.CustomerName,
		Phone:            draft.Phone,
		Address:          draft.Address,
		Pincode:          draft.Pincode,
		PaymentMode:      draft.PaymentMode,
		Status:           draft.PaymentMode.InitialStatus(),
		IsUrgent:         draft.IsUrgent,
		DeliveryCharge:   draft.DeliveryCharge,
		ItemPrice:        draft.ItemPrice,
		PaymentReference: draft.PaymentReference,
		Items:            append([]OrderItem(nil), draft.Items...),
	}
	for i := range order.Items {
		order.Items[i].ID = 0
		order.Items[i].OrderId = 0
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return utils.WrapStorageFault("create order", err)
		}
		store := config.GetStoreConfig()
		_, err := createNotificationOutbox(tx, order.ID, NotificationEventOrderPlaced,
			customerRecipient(store.MerchantWhatsApp, store.PhoneRegion), ComposeOrderPlacedMessage(&order))
		return err
	})
	if err != nil {
		return nil, err
	}
	order.PaymentState = order.paymentState()
	return &order, nil
}

func (s *OrderStore) Get(ctx context.Context, id int) (*Order, error) {
	db, cancel := s.begin(ctx)
	defer cancel()
	return fetchOrder(db, id)
}

func fetchOrder(db *gorm.DB, id int) (*Order, error) {
	var order Order
	err := db.Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("id") }).First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, utils.WrapStorageFault("get order", err)
	}
	return &order, nil
}

// ListByStatus returns newest first.
func (s *OrderStore) ListByStatus(ctx context.Context, statuses []OrderStatus, limit int) ([]*Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	db, cancel := s.begin(ctx)
	defer cancel()

	var orders []*Order
	err := db.Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("id") }).
		Where("status IN ?", statuses).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, utils.WrapStorageFault("list orders", err)
	}
	return orders, nil
}

// Transition moves the order to `to` if the state machine allows it from its current status.
// The update is conditional on the source status, so of two racing admins only one wins.
func (s *OrderStore) Transition(ctx context.Context, id int, to OrderStatus) (*TransitionResult, error) {
	if len(allowedSources[to]) == 0 {
		return nil, &TransitionError{To: to}
	}

	logger := config.GetLogger()
	release, err := utils.ObtainLock(ctx, "lock:order", strconv.Itoa(id), 15*time.Second, "models", "OrderStore.Transition")
	if errors.Is(err, utils.ErrLockNotObtained) {
		return nil, fmt.Errorf("%w: order %d is being updated", utils.ErrLockNotObtained, id)
	}
	defer release()

	db, cancel := s.begin(ctx)
	defer cancel()

	var result TransitionResult
	var touchedProducts []int
	err = db.Transaction(func(tx *gorm.DB) error {
		order, err := fetchOrder(tx, id)
		if err != nil {
			return err
		}
		if !CanTransition(order.Status, to) {
			return &TransitionError{From: order.Status, To: to}
		}

		res := tx.Model(&Order{}).
			Where("id = ? AND status IN ?", id, allowedSources[to]).
			Update("status", to)
		if res.Error != nil {
			return utils.WrapStorageFault("transition order", res.Error)
		}
		if res.RowsAffected == 0 {
			var current Order
			if err := tx.Select("status").First(&current, id).Error; err != nil {
				return utils.WrapStorageFault("transition order", err)
			}
			return &TransitionError{From: current.Status, To: to}
		}
		from := order.Status
		order.Status = to

		if to == OrderStatusDeclined {
			for _, item := range order.Items {
				if !item.IsStockTracked() {
					continue
				}
				err := releaseVariantStock(tx, item.ProductId, item.Color, item.Size, item.Quantity)
				if errors.Is(err, utils.ErrVariantNotFound) {
					// variant was removed after the order; nothing to give back
					config.LogError(logger, "models", "OrderStore.Transition", "release declined stock", item, err)
					continue
				}
				if err != nil {
					return err
				}
				touchedProducts = append(touchedProducts, item.ProductId)
			}
		}

		if err := createAdminActionLog(tx, statusActionKind(to), map[string]interface{}{
			"order_id": id,
			"from":     from,
			"to":       to,
			"customer": order.CustomerName,
			"items":    order.ItemSummary(),
		}); err != nil {
			return err
		}

		store := config.GetStoreConfig()
		notification, err := createNotificationOutbox(tx, id, statusNotificationEvent(to),
			customerRecipient(order.Phone, store.PhoneRegion), ComposeStatusMessage(order, to, store.ShopName))
		if err != nil {
			return err
		}
		result.Order = order
		result.Notification = notification
		return nil
	})
	if err != nil {
		return nil, err
	}
	invalidateProductCache(touchedProducts...)
	return &result, nil
}

// VerifyPayment marks an online order's claimed payment as seen by the merchant.
func (s *OrderStore) VerifyPayment(ctx context.Context, id int) (*Order, error) {
	db, cancel := s.begin(ctx)
	defer cancel()

	var order *Order
	err := db.Transaction(func(tx *gorm.DB) error {
		current, err := fetchOrder(tx, id)
		if err != nil {
			return err
		}
		if current.PaymentMode != PaymentModeOnline || current.PaymentVerifiedAt != nil || current.Status == OrderStatusDeclined {
			return fmt.Errorf("%w: payment of order %d (%s, %s) cannot be verified", utils.ErrInvalidTransition, id, current.PaymentMode, current.PaymentState)
		}

		now := time.Now().UTC()
		res := tx.Model(&Order{}).
			Where("id = ? AND payment_mode = ? AND payment_verified_at IS NULL AND status <> ?", id, PaymentModeOnline, OrderStatusDeclined).
			Update("payment_verified_at", now)
		if res.Error != nil {
			return utils.WrapStorageFault("verify payment", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: payment of order %d was already verified", utils.ErrInvalidTransition, id)
		}
		current.PaymentVerifiedAt = &now
		current.PaymentState = PaymentStateVerified

		if err := createAdminActionLog(tx, ActionKindPaymentVerified, map[string]interface{}{
			"order_id":          id,
			"payment_reference": utils.DereferencePtr(current.PaymentReference),
			"amount":            current.ItemPrice,
		}); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}
