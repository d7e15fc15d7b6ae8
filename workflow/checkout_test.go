package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/models"
	"github.com/vastramandir/storefront_backend/utils"
)

type fakeLedger struct {
	mu       sync.Mutex
	stock    map[string]int
	variants map[string]bool
	reserves int
}

func stockKey(productId int, color, size string) string {
	return fmt.Sprintf("%d|%s|%s", productId, color, size)
}

func (l *fakeLedger) Reserve(_ context.Context, productId int, color, size string, quantity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserves++
	if !l.variants[fmt.Sprintf("%d|%s", productId, color)] {
		return &utils.StockError{Line: -1, ProductId: productId, Color: color, Size: size, Err: utils.ErrVariantNotFound}
	}
	k := stockKey(productId, color, size)
	if l.stock[k] < quantity {
		return &utils.StockError{Line: -1, ProductId: productId, Color: color, Size: size, Err: utils.ErrInsufficientStock}
	}
	l.stock[k] -= quantity
	return nil
}

func (l *fakeLedger) Release(_ context.Context, productId int, color, size string, quantity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := stockKey(productId, color, size)
	if _, ok := l.stock[k]; !ok {
		return &utils.StockError{Line: -1, ProductId: productId, Color: color, Size: size, Err: utils.ErrVariantNotFound}
	}
	l.stock[k] += quantity
	return nil
}

func (l *fakeLedger) get(productId int, color, size string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stock[stockKey(productId, color, size)]
}

type fakeOrders struct {
	mu      sync.Mutex
	orders  map[int]*models.Order
	nextId  int
	creates int
	failErr error
}

func (o *fakeOrders) Create(_ context.Context, draft *models.OrderDraft) (*models.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.creates++
	if o.failErr != nil {
		return nil, o.failErr
	}
	o.nextId++
	order := &models.Order{
		ID:               o.nextId,
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
		Items:            draft.Items,
	}
	o.orders[order.ID] = order
	return order, nil
}

func (o *fakeOrders) Get(_ context.Context, id int) (*models.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return order, nil
}

type fakeCarts struct {
	carts   map[string]*models.Cart
	cleared []string
}

func (c *fakeCarts) Get(_ context.Context, id string) (*models.Cart, error) {
	if cart, ok := c.carts[id]; ok {
		return cart, nil
	}
	return &models.Cart{Id: id, Items: []models.CartItem{}}, nil
}

func (c *fakeCarts) Clear(_ context.Context, id string) error {
	c.cleared = append(c.cleared, id)
	delete(c.carts, id)
	return nil
}

type memIdempotency struct {
	mu      sync.Mutex
	results map[string]int
	started map[string]bool
}

func (m *memIdempotency) Begin(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.results[key]; ok {
		return id, nil
	}
	if m.started[key] {
		return 0, ErrIdempotencyInProgress
	}
	m.started[key] = true
	return 0, nil
}

func (m *memIdempotency) Succeed(_ context.Context, key string, orderId int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.started, key)
	m.results[key] = orderId
	return nil
}

func (m *memIdempotency) Fail(_ context.Context, key string, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.started, key)
	return nil
}

const (
	sareeId = 1
	stoleId = 2
	kurtaId = 3
)

type checkoutFixture struct {
	checkout *Checkout
	ledger   *fakeLedger
	orders   *fakeOrders
	carts    *fakeCarts
	products map[int]*models.Product
}

func newCheckoutFixture() *checkoutFixture {
	products := map[int]*models.Product{
		sareeId: {
			ID:     sareeId,
			Title:  "Silk Saree",
			Price:  decimal.NewFromInt(999),
			Images: models.StringList{"saree.jpg"},
			Variants: []models.ProductVariant{{
				ProductId: sareeId,
				Color:     "Red",
				Images:    models.StringList{"saree-red.jpg"},
				Stocks: []models.VariantStock{
					{ProductId: sareeId, Color: "Red", Size: "M", Quantity: 2},
					{ProductId: sareeId, Color: "Red", Size: "L", Quantity: 0},
				},
			}},
		},
		stoleId: {ID: stoleId, Title: "Cotton Stole", Price: decimal.NewFromInt(250)},
		kurtaId: {
			ID:    kurtaId,
			Title: "Linen Kurta",
			Price: decimal.NewFromInt(1200),
			Variants: []models.ProductVariant{{
				ProductId: kurtaId,
				Color:     "Blue",
				Stocks:    []models.VariantStock{{ProductId: kurtaId, Color: "Blue", Size: "S", Quantity: 1}},
			}},
		},
	}
	f := &checkoutFixture{
		ledger: &fakeLedger{
			stock: map[string]int{
				stockKey(sareeId, "Red", "M"):  2,
				stockKey(sareeId, "Red", "L"):  0,
				stockKey(kurtaId, "Blue", "S"): 1,
			},
			variants: map[string]bool{
				fmt.Sprintf("%d|Red", sareeId):  true,
				fmt.Sprintf("%d|Blue", kurtaId): true,
			},
		},
		orders:   &fakeOrders{orders: map[int]*models.Order{}},
		carts:    &fakeCarts{carts: map[string]*models.Cart{}},
		products: products,
	}
	store := config.DefaultStoreConfig()
	store.ShopName = "Vastra Mandir"
	store.ExpediteSurcharge = decimal.NewFromInt(50)
	store.PhoneRegion = "IN"
	f.checkout = &Checkout{
		Ledger:  f.ledger,
		Orders:  f.orders,
		Catalog: CatalogFunc(f.getProduct),
		Carts:   f.carts,
		Settings: SettingFunc(func(_ context.Context, key string) (*models.Setting, error) {
			if key == models.SettingKeyUpiId {
				return &models.Setting{Key: key, Value: "vastra@upi", UpdatedAt: time.Now()}, nil
			}
			return nil, utils.ErrorRecordNotFound
		}),
		Idempotency: &memIdempotency{results: map[string]int{}, started: map[string]bool{}},
		Store:       store,
	}
	return f
}

func (f *checkoutFixture) getProduct(_ context.Context, id int) (*models.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return p, nil
}

func customerRequest(lines ...CheckoutLine) *CheckoutRequest {
	return &CheckoutRequest{
		CustomerName: "Asha Rao",
		Phone:        "98765 43210",
		Address:      "12 MG Road, Bengaluru",
		Pincode:      "560001",
		PaymentMode:  models.PaymentModeCod,
		Items:        lines,
	}
}

func TestPlaceOrder_ReservesAndTotals(t *testing.T) {
	f := newCheckoutFixture()
	req := customerRequest(CheckoutLine{ProductId: sareeId, Color: "Red", Size: "M", Quantity: 1})
	req.IsUrgent = true

	result, err := f.checkout.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.Order.ItemPrice.Equal(decimal.NewFromInt(1049)), result.Order.ItemPrice.String())
	assert.True(t, result.Order.DeliveryCharge.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, models.OrderStatusCodPending, result.Order.Status)
	assert.Equal(t, 1, f.ledger.get(sareeId, "Red", "M"))
	require.Len(t, result.Order.Items, 1)
	assert.Equal(t, "saree-red.jpg", result.Order.Items[0].Image)
	assert.Empty(t, result.UpiURI)
}

func TestPlaceOrder_PriceComesFromCatalog(t *testing.T) {
	f := newCheckoutFixture()
	result, err := f.checkout.PlaceOrder(context.Background(),
		customerRequest(CheckoutLine{ProductId: stoleId, Quantity: 3}))
	require.NoError(t, err)
	assert.True(t, result.Order.ItemPrice.Equal(decimal.NewFromInt(750)))
	assert.False(t, result.Order.Items[0].IsStockTracked())
	assert.Equal(t, 0, f.ledger.reserves)
}

func TestPlaceOrder_InsufficientStockLeavesStockUnchanged(t *testing.T) {
	f := newCheckoutFixture()
	_, err := f.checkout.PlaceOrder(context.Background(),
		customerRequest(CheckoutLine{ProductId: kurtaId, Color: "Blue", Size: "S", Quantity: 2}))
	require.ErrorIs(t, err, utils.ErrInsufficientStock)

	var stockErr *utils.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 0, stockErr.Line)
	assert.Equal(t, 1, f.ledger.get(kurtaId, "Blue", "S"))
	assert.Equal(t, 0, f.orders.creates)
}

func TestPlaceOrder_FailedLineReleasesEarlierReservations(t *testing.T) {
	f := newCheckoutFixture()
	_, err := f.checkout.PlaceOrder(context.Background(), customerRequest(
		CheckoutLine{ProductId: sareeId, Color: "Red", Size: "M", Quantity: 2},
		CheckoutLine{ProductId: stoleId, Quantity: 1},
		CheckoutLine{ProductId: sareeId, Color: "Red", Size: "L", Quantity: 1},
	))
	require.ErrorIs(t, err, utils.ErrInsufficientStock)

	var stockErr *utils.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 2, stockErr.Line)
	assert.Equal(t, "L", stockErr.Size)
	assert.Equal(t, 2, f.ledger.get(sareeId, "Red", "M"))
	assert.Equal(t, 0, f.orders.creates)
}

func TestPlaceOrder_UnknownColorIsVariantNotFound(t *testing.T) {
	f := newCheckoutFixture()
	_, err := f.checkout.PlaceOrder(context.Background(),
		customerRequest(CheckoutLine{ProductId: sareeId, Color: "Green", Size: "M", Quantity: 1}))
	require.ErrorIs(t, err, utils.ErrVariantNotFound)
}

func TestPlaceOrder_InvalidSelections(t *testing.T) {
	tests := []struct {
		name string
		edit func(r *CheckoutRequest)
	}{
		{"missing size", func(r *CheckoutRequest) { r.Items[0].Size = "" }},
		{"missing color", func(r *CheckoutRequest) { r.Items[0].Color = " " }},
		{"zero quantity", func(r *CheckoutRequest) { r.Items[0].Quantity = 0 }},
		{"no items", func(r *CheckoutRequest) { r.Items = nil }},
		{"missing name", func(r *CheckoutRequest) { r.CustomerName = "" }},
		{"bad phone", func(r *CheckoutRequest) { r.Phone = "12345" }},
		{"bad pincode", func(r *CheckoutRequest) { r.Pincode = "5600" }},
		{"bad payment mode", func(r *CheckoutRequest) { r.PaymentMode = "card" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCheckoutFixture()
			req := customerRequest(CheckoutLine{ProductId: sareeId, Color: "Red", Size: "M", Quantity: 1})
			tt.edit(req)
			_, err := f.checkout.PlaceOrder(context.Background(), req)
			require.ErrorIs(t, err, utils.ErrInvalidSelection)
			assert.Equal(t, 0, f.ledger.reserves)
			assert.Equal(t, 2, f.ledger.get(sareeId, "Red", "M"))
		})
	}
}

func TestPlaceOrder_SoldOutAndDeletedProducts(t *testing.T) {
	f := newCheckoutFixture()
	f.products[stoleId].IsSoldOut = true
	_, err := f.checkout.PlaceOrder(context.Background(), customerRequest(CheckoutLine{ProductId: stoleId, Quantity: 1}))
	require.ErrorIs(t, err, utils.ErrInsufficientStock)

	f.products[stoleId].IsDeleted = true
	_, err = f.checkout.PlaceOrder(context.Background(), customerRequest(CheckoutLine{ProductId: stoleId, Quantity: 1}))
	require.ErrorIs(t, err, utils.ErrVariantNotFound)

	_, err = f.checkout.PlaceOrder(context.Background(), customerRequest(CheckoutLine{ProductId: 404, Quantity: 1}))
	require.ErrorIs(t, err, utils.ErrVariantNotFound)
}

func TestPlaceOrder_PersistenceFailureReleasesStock(t *testing.T) {
	f := newCheckoutFixture()
	f.orders.failErr = utils.WrapStorageFault("create order", errors.New("connection reset"))
	f.carts.carts["cart-1"] = &models.Cart{Id: "cart-1"}

	req := customerRequest(CheckoutLine{ProductId: sareeId, Color: "Red", Size: "M", Quantity: 2})
	req.CartId = "cart-1"
	_, err := f.checkout.PlaceOrder(context.Background(), req)
	require.ErrorIs(t, err, utils.ErrOrderPersistenceFailed)
	assert.Equal(t, 2, f.ledger.get(sareeId, "Red", "M"))
	assert.Empty(t, f.carts.cleared)
}

func TestPlaceOrder_ChecksOutCartAndClearsIt(t *testing.T) {
	f := newCheckoutFixture()
	cart := &models.Cart{Id: "cart-9"}
	cart.Add(models.CartItem{ProductId: sareeId, Color: "Red", Size: "M", Quantity: 1, Price: decimal.NewFromInt(1)})
	cart.Add(models.CartItem{ProductId: sareeId, Color: "Red", Size: "M", Quantity: 1, Price: decimal.NewFromInt(1)})
	f.carts.carts["cart-9"] = cart

	req := customerRequest()
	req.CartId = "cart-9"
	result, err := f.checkout.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.Order.ItemPrice.Equal(decimal.NewFromInt(1998)))
	assert.Equal(t, 0, f.ledger.get(sareeId, "Red", "M"))
	assert.Equal(t, []string{"cart-9"}, f.carts.cleared)
}

func TestPlaceOrder_ExplicitItemsKeepTheCart(t *testing.T) {
	f := newCheckoutFixture()
	cart := &models.Cart{Id: "cart-4"}
	cart.Add(models.CartItem{ProductId: kurtaId, Color: "Blue", Size: "S", Quantity: 1, Price: decimal.NewFromInt(1)})
	f.carts.carts["cart-4"] = cart

	req := customerRequest(CheckoutLine{ProductId: sareeId, Color: "Red", Size: "M", Quantity: 1})
	req.CartId = "cart-4"
	_, err := f.checkout.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, f.carts.cleared)
	require.Contains(t, f.carts.carts, "cart-4")
	assert.Len(t, f.carts.carts["cart-4"].Items, 1)
	assert.Equal(t, 1, f.ledger.get(kurtaId, "Blue", "S"), "cart lines are not reserved")
}

func TestPlaceOrder_OnlinePaymentCarriesUpiURI(t *testing.T) {
	f := newCheckoutFixture()
	ref := " UTR99 "
	req := customerRequest(CheckoutLine{ProductId: sareeId, Color: "Red", Size: "M", Quantity: 1})
	req.PaymentMode = models.PaymentModeOnline
	req.PaymentReference = &ref

	result, err := f.checkout.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaidOnline, result.Order.Status)
	assert.Equal(t, "UTR99", utils.DereferencePtr(result.Order.PaymentReference))

	require.True(t, strings.HasPrefix(result.UpiURI, "upi://pay?"))
	q, err := url.ParseQuery(strings.TrimPrefix(result.UpiURI, "upi://pay?"))
	require.NoError(t, err)
	assert.Equal(t, "vastra@upi", q.Get("pa"))
	assert.Equal(t, "999.00", q.Get("am"))
}

func TestPlaceOrder_IdempotencyKeyReplaysFirstOrder(t *testing.T) {
	f := newCheckoutFixture()
	newReq := func() *CheckoutRequest {
		req := customerRequest(CheckoutLine{ProductId: sareeId, Color: "Red", Size: "M", Quantity: 1})
		req.IdempotencyKey = "key-1"
		return req
	}

	first, err := f.checkout.PlaceOrder(context.Background(), newReq())
	require.NoError(t, err)
	second, err := f.checkout.PlaceOrder(context.Background(), newReq())
	require.NoError(t, err)

	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.True(t, second.Replayed)
	assert.Equal(t, 1, f.orders.creates)
	assert.Equal(t, 1, f.ledger.get(sareeId, "Red", "M"))
}

func TestPlaceOrder_FailedAttemptCanBeRetriedWithSameKey(t *testing.T) {
	f := newCheckoutFixture()
	f.orders.failErr = errors.New("db down")
	req := customerRequest(CheckoutLine{ProductId: sareeId, Color: "Red", Size: "M", Quantity: 1})
	req.IdempotencyKey = "key-2"
	_, err := f.checkout.PlaceOrder(context.Background(), req)
	require.ErrorIs(t, err, utils.ErrOrderPersistenceFailed)

	f.orders.failErr = nil
	result, err := f.checkout.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, 1, f.ledger.get(sareeId, "Red", "M"))
}

func TestPlaceOrder_ConcurrentCheckoutsOfLastUnit(t *testing.T) {
	f := newCheckoutFixture()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.checkout.PlaceOrder(context.Background(),
				customerRequest(CheckoutLine{ProductId: kurtaId, Color: "Blue", Size: "S", Quantity: 1}))
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, utils.ErrInsufficientStock)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, 0, f.ledger.get(kurtaId, "Blue", "S"))
}
