package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartAddMergesSameLine(t *testing.T) {
	var cart Cart
	cart.Add(CartItem{ProductId: 1, Color: "Red", Size: "M", Price: decimal.NewFromInt(999), Quantity: 1})
	cart.Add(CartItem{ProductId: 1, Color: "Red", Size: "M", Price: decimal.NewFromInt(999), Quantity: 2})
	cart.Add(CartItem{ProductId: 1, Color: "Red", Size: "L", Price: decimal.NewFromInt(999)})
	cart.Add(CartItem{ProductId: 2, Price: decimal.NewFromInt(250), Quantity: 1})

	require.Len(t, cart.Items, 3)
	assert.Equal(t, "1-Red-M", cart.Items[0].LineId)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.Equal(t, 1, cart.Items[1].Quantity, "quantity defaults to 1")
	assert.Equal(t, "2--", cart.Items[2].LineId)
	assert.Equal(t, 5, cart.Count())
	assert.True(t, decimal.NewFromInt(999*4+250).Equal(cart.Total()))
}

func TestCartUpdateAndRemove(t *testing.T) {
	var cart Cart
	cart.Add(CartItem{ProductId: 1, Color: "Red", Size: "M", Price: decimal.NewFromInt(999), Quantity: 1})
	cart.Add(CartItem{ProductId: 2, Price: decimal.NewFromInt(250), Quantity: 1})

	assert.True(t, cart.UpdateQuantity("1-Red-M", 4))
	assert.Equal(t, 4, cart.Items[0].Quantity)
	assert.False(t, cart.UpdateQuantity("9-x-y", 1))

	// zero drops the line
	assert.True(t, cart.UpdateQuantity("2--", 0))
	require.Len(t, cart.Items, 1)

	assert.True(t, cart.Remove("1-Red-M"))
	assert.False(t, cart.Remove("1-Red-M"))
	assert.Empty(t, cart.Items)
	assert.True(t, cart.Total().IsZero())
}

func TestProductVariantStock(t *testing.T) {
	v := ProductVariant{Color: "Red", Stocks: []VariantStock{
		{Size: "S", Quantity: 2},
		{Size: "M", Quantity: 0},
	}}
	q, ok := v.Stock("S")
	assert.True(t, ok)
	assert.Equal(t, 2, q)
	q, ok = v.Stock("M")
	assert.True(t, ok)
	assert.Zero(t, q)
	_, ok = v.Stock("XL")
	assert.False(t, ok)
	assert.Equal(t, 2, v.TotalStock())
}
