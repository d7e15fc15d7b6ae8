package models

import (
	"fmt"
	"strings"

	"github.com/vastramandir/storefront_backend/utils"
)

// ItemSummary joins item titles for customer messages ("Silk Saree, Cotton Kurta").
func (o *Order) ItemSummary() string {
	titles := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		titles = append(titles, item.Title)
	}
	return strings.Join(utils.UniqueSlice(titles), ", ")
}

func describeItem(item OrderItem) string {
	var attrs []string
	if item.Color != "" {
		attrs = append(attrs, item.Color)
	}
	if item.Size != "" {
		attrs = append(attrs, item.Size)
	}
	label := item.Title
	if len(attrs) > 0 {
		label += " (" + strings.Join(attrs, " / ") + ")"
	}
	return fmt.Sprintf("%s x%d = %s", label, item.Quantity, utils.FormatRupees(item.LineTotal()))
}

// ComposeOrderPlacedMessage is the merchant alert for a new order.
func ComposeOrderPlacedMessage(o *Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*New Order Placed* #%d\n\n", o.ID)
	b.WriteString("*Items*:\n")
	for i, item := range o.Items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, describeItem(item))
	}
	if o.IsUrgent {
		fmt.Fprintf(&b, "*Delivery*: Express (+%s)\n", utils.FormatRupees(o.DeliveryCharge))
	}
	fmt.Fprintf(&b, "*Total*: %s\n\n", utils.FormatRupees(o.ItemPrice))

	b.WriteString("*Customer Details*:\n")
	fmt.Fprintf(&b, "Name: %s\n", o.CustomerName)
	fmt.Fprintf(&b, "Phone: %s\n", o.Phone)
	fmt.Fprintf(&b, "Address: %s, %s\n\n", o.Address, o.Pincode)

	if o.PaymentMode == PaymentModeOnline {
		b.WriteString("*Status*: Payment Claimed (Manual Verification Pending)")
		if ref := utils.DereferencePtr(o.PaymentReference); ref != "" {
			fmt.Fprintf(&b, "\nUPI Ref: %s", ref)
		}
	} else {
		b.WriteString("*Status*: Cash on Delivery")
	}
	return b.String()
}

// ComposeStatusMessage is the customer message for a status change; "" for statuses that send none.
func ComposeStatusMessage(o *Order, status OrderStatus, shopName string) string {
	switch status {
	case OrderStatusConfirmed:
		return fmt.Sprintf("Hello %s! 🌸\n\nYour order for *%s* from %s has been *CONFIRMED* ✅.\n\nWe will pack and ship it shortly. Thank you for shopping with us!",
			o.CustomerName, o.ItemSummary(), shopName)
	case OrderStatusDeclined:
		return fmt.Sprintf("Hello %s.\n\nRegarding your order for *%s* at %s.\n\nUnfortunately, we cannot fulfill this order at this time ❌.\n\nPlease contact us for more details or a refund if applicable.",
			o.CustomerName, o.ItemSummary(), shopName)
	case OrderStatusDelivered:
		return fmt.Sprintf("Hello %s! 🎉\n\nYour order from %s has been *DELIVERED* successfully! ✅\n\nThank you for shopping with us. We hope you love your purchase!",
			o.CustomerName, shopName)
	}
	return ""
}

// customerRecipient is the order phone as wa.me digits, falling back to the raw digits.
func customerRecipient(phone string, region string) string {
	if digits, err := utils.PhoneDigits(phone, region); err == nil {
		return digits
	}
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
