package utils

import (
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentOff(t *testing.T) {
	mrp := decimal.NewFromInt(1999)
	assert.Equal(t, 50, PercentOff(decimal.NewFromInt(999), &mrp))

	same := decimal.NewFromInt(999)
	assert.Equal(t, 0, PercentOff(decimal.NewFromInt(999), &same))
	assert.Equal(t, 0, PercentOff(decimal.NewFromInt(999), nil))

	lower := decimal.NewFromInt(500)
	assert.Equal(t, 0, PercentOff(decimal.NewFromInt(999), &lower))
}

func TestIsLowStock(t *testing.T) {
	cases := map[int]bool{0: false, 1: true, 4: true, 5: false, 12: false}
	for qty, expected := range cases {
		if got := IsLowStock(qty, 5); got != expected {
			t.Fatalf("IsLowStock(%d) expected %v, got %v", qty, expected, got)
		}
	}
}

func TestFormatRupees(t *testing.T) {
	assert.Equal(t, "₹1049", FormatRupees(decimal.NewFromInt(1049)))
	assert.Equal(t, "₹99.50", FormatRupees(decimal.RequireFromString("99.5")))
}

func TestBuildUPIURI(t *testing.T) {
	uri := BuildUPIURI("vastra@upi", "Vastra Mandir", decimal.NewFromInt(1049))
	require.True(t, strings.HasPrefix(uri, "upi://pay?"))

	q, err := url.ParseQuery(strings.TrimPrefix(uri, "upi://pay?"))
	require.NoError(t, err)
	assert.Equal(t, "vastra@upi", q.Get("pa"))
	assert.Equal(t, "Vastra Mandir", q.Get("pn"))
	assert.Equal(t, "1049.00", q.Get("am"))
	assert.Equal(t, "INR", q.Get("cu"))

	assert.Empty(t, BuildUPIURI("  ", "Vastra Mandir", decimal.NewFromInt(10)))
}

func TestBuildWhatsAppLink_EncodesSpacesAsPercent20(t *testing.T) {
	link := BuildWhatsAppLink("919876543210", "Hello Asha & co + 1")
	assert.Equal(t, "https://wa.me/919876543210?text=Hello%20Asha%20%26%20co%20%2B%201", link)
}
