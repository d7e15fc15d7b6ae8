package utils

import (
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PercentOff is round((mrp-price)/mrp*100), or 0 when there is no discount.
func PercentOff(price decimal.Decimal, mrp *decimal.Decimal) int {
	if mrp == nil || !mrp.IsPositive() || !mrp.GreaterThan(price) {
		return 0
	}
	return int(mrp.Sub(price).Div(*mrp).Mul(hundred).Round(0).IntPart())
}

// IsLowStock flags the last few units; zero is out of stock, not low.
func IsLowStock(quantity int, threshold int) bool {
	if threshold <= 0 {
		threshold = 5
	}
	return quantity > 0 && quantity < threshold
}

func FormatRupees(amount decimal.Decimal) string {
	if amount.Equal(amount.Truncate(0)) {
		return "₹" + amount.StringFixed(0)
	}
	return "₹" + amount.StringFixed(2)
}

// BuildUPIURI returns the upi://pay deep link for the shopper's payment app.
func BuildUPIURI(upiId string, payeeName string, amount decimal.Decimal) string {
	upiId = strings.TrimSpace(upiId)
	if upiId == "" {
		return ""
	}
	q := url.Values{}
	q.Set("pa", upiId)
	q.Set("pn", payeeName)
	q.Set("am", amount.StringFixed(2))
	q.Set("cu", "INR")
	return "upi://pay?" + q.Encode()
}

// BuildWhatsAppLink is the click-to-chat link for digits and text.
func BuildWhatsAppLink(digits string, text string) string {
	return "https://wa.me/" + digits + "?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}
