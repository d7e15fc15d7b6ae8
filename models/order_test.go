package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vastramandir/storefront_backend/utils"
)

func TestCanTransition(t *testing.T) {
	allowed := map[OrderStatus][]OrderStatus{
		OrderStatusPending:    {OrderStatusConfirmed, OrderStatusDeclined},
		OrderStatusPaidOnline: {OrderStatusConfirmed, OrderStatusDeclined},
		OrderStatusCodPending: {OrderStatusConfirmed, OrderStatusDeclined},
		OrderStatusConfirmed:  {OrderStatusDelivered},
	}
	all := []OrderStatus{OrderStatusPending, OrderStatusPaidOnline, OrderStatusCodPending,
		OrderStatusConfirmed, OrderStatusDeclined, OrderStatusDelivered}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransitionErrorIsInvalidTransition(t *testing.T) {
	err := error(&TransitionError{From: OrderStatusDelivered, To: OrderStatusConfirmed})
	assert.True(t, errors.Is(err, utils.ErrInvalidTransition))
	assert.Equal(t, "cannot move order from delivered to confirmed", err.Error())
}

func TestStatusGroup(t *testing.T) {
	pending, err := StatusGroup("")
	require.NoError(t, err)
	assert.ElementsMatch(t, []OrderStatus{OrderStatusPending, OrderStatusPaidOnline, OrderStatusCodPending}, pending)

	confirmed, err := StatusGroup(" Confirmed ")
	require.NoError(t, err)
	assert.Equal(t, []OrderStatus{OrderStatusConfirmed}, confirmed)

	_, err = StatusGroup("archived")
	assert.ErrorIs(t, err, utils.ErrInvalidSelection)
}

func TestPaymentModeUnmarshal(t *testing.T) {
	var m PaymentMode
	require.NoError(t, json.Unmarshal([]byte(`"UPI"`), &m))
	assert.Equal(t, PaymentModeOnline, m)
	require.NoError(t, json.Unmarshal([]byte(`" cod "`), &m))
	assert.Equal(t, PaymentModeCod, m)
	assert.Error(t, json.Unmarshal([]byte(`"card"`), &m))
	assert.Error(t, json.Unmarshal([]byte(`3`), &m))

	assert.Equal(t, OrderStatusPaidOnline, PaymentModeOnline.InitialStatus())
	assert.Equal(t, OrderStatusCodPending, PaymentModeCod.InitialStatus())
}

func TestPaymentState(t *testing.T) {
	now := time.Now()
	cod := &Order{PaymentMode: PaymentModeCod}
	claimed := &Order{PaymentMode: PaymentModeOnline}
	verified := &Order{PaymentMode: PaymentModeOnline, PaymentVerifiedAt: &now}

	assert.Equal(t, PaymentStateCod, cod.paymentState())
	assert.Equal(t, PaymentStateClaimed, claimed.paymentState())
	assert.Equal(t, PaymentStateVerified, verified.paymentState())
}

func TestOrderItemStockTracking(t *testing.T) {
	assert.True(t, OrderItem{Color: "Red", Size: "M"}.IsStockTracked())
	assert.False(t, OrderItem{}.IsStockTracked())

	line := OrderItem{Price: decimal.RequireFromString("249.50"), Quantity: 2}
	assert.True(t, decimal.RequireFromString("499").Equal(line.LineTotal()))
}

func TestStringListScan(t *testing.T) {
	var l StringList
	require.NoError(t, l.Scan([]byte(`["a.jpg","b.jpg"]`)))
	assert.Equal(t, StringList{"a.jpg", "b.jpg"}, l)
	assert.Equal(t, "a.jpg", l.First())

	require.NoError(t, l.Scan(nil))
	assert.Empty(t, l)
	assert.Equal(t, "", l.First())

	v, err := StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
	assert.Error(t, l.Scan(42))
}

func sampleOrder() *Order {
	ref := "UPI1234"
	return &Order{
		ID:               12,
		CustomerName:     "Meera",
		Phone:            "9876543210",
		Address:          "12 Temple Rd",
		Pincode:          "560001",
		PaymentMode:      PaymentModeOnline,
		PaymentReference: &ref,
		IsUrgent:         true,
		DeliveryCharge:   decimal.NewFromInt(50),
		ItemPrice:        decimal.NewFromInt(1049),
		Items: []OrderItem{
			{Title: "Silk Saree", Color: "Red", Size: "M", Price: decimal.NewFromInt(999), Quantity: 1},
			{Title: "Silk Saree", Color: "Red", Size: "L", Price: decimal.NewFromInt(999), Quantity: 1},
			{Title: "Cotton Stole", Price: decimal.NewFromInt(250), Quantity: 1},
		},
	}
}

func TestComposeOrderPlacedMessage(t *testing.T) {
	msg := ComposeOrderPlacedMessage(sampleOrder())

	assert.True(t, strings.HasPrefix(msg, "*New Order Placed* #12\n"))
	assert.Contains(t, msg, "1. Silk Saree (Red / M) x1 = ₹999\n")
	assert.Contains(t, msg, "3. Cotton Stole x1 = ₹250\n")
	assert.Contains(t, msg, "*Delivery*: Express (+₹50)")
	assert.Contains(t, msg, "*Total*: ₹1049")
	assert.Contains(t, msg, "Address: 12 Temple Rd, 560001")
	assert.Contains(t, msg, "Payment Claimed (Manual Verification Pending)")
	assert.Contains(t, msg, "UPI Ref: UPI1234")

	cod := sampleOrder()
	cod.PaymentMode = PaymentModeCod
	cod.IsUrgent = false
	msg = ComposeOrderPlacedMessage(cod)
	assert.Contains(t, msg, "*Status*: Cash on Delivery")
	assert.NotContains(t, msg, "Express")
}

func TestComposeStatusMessage(t *testing.T) {
	o := sampleOrder()

	confirmed := ComposeStatusMessage(o, OrderStatusConfirmed, "Vastra Mandir")
	assert.Contains(t, confirmed, "Hello Meera!")
	assert.Contains(t, confirmed, "*Silk Saree, Cotton Stole*")
	assert.Contains(t, confirmed, "*CONFIRMED*")

	assert.Contains(t, ComposeStatusMessage(o, OrderStatusDeclined, "Vastra Mandir"), "cannot fulfill")
	assert.Contains(t, ComposeStatusMessage(o, OrderStatusDelivered, "Vastra Mandir"), "*DELIVERED*")
	assert.Empty(t, ComposeStatusMessage(o, OrderStatusPaidOnline, "Vastra Mandir"))
}

func TestCustomerRecipient(t *testing.T) {
	assert.Equal(t, "919876543210", customerRecipient("98765 43210", "IN"))
	// unparseable numbers keep their digits
	assert.Equal(t, "12345", customerRecipient("12-345", "IN"))
}
