package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type PaymentMode string

const (
	PaymentModeOnline PaymentMode = "online"
	PaymentModeCod    PaymentMode = "cod"
)

func (t *PaymentMode) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("payment mode must be string")
	}
	switch strings.ToLower(strings.TrimSpace(str)) {
	case "online", "upi":
		*t = PaymentModeOnline
	case "cod":
		*t = PaymentModeCod
	default:
		return errors.New("invalid payment mode")
	}
	return nil
}

// InitialStatus is the status an order is created with.
func (t PaymentMode) InitialStatus() OrderStatus {
	if t == PaymentModeOnline {
		return OrderStatusPaidOnline
	}
	return OrderStatusCodPending
}

type OrderStatus string

const (
	// legacy rows only; new orders start as paid_online or cod_pending
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaidOnline OrderStatus = "paid_online"
	OrderStatusCodPending OrderStatus = "cod_pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusDeclined   OrderStatus = "declined"
	OrderStatusDelivered  OrderStatus = "delivered"
)

func (t *OrderStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("order status must be string")
	}
	switch s := OrderStatus(strings.ToLower(strings.TrimSpace(str))); s {
	case OrderStatusPending, OrderStatusPaidOnline, OrderStatusCodPending,
		OrderStatusConfirmed, OrderStatusDeclined, OrderStatusDelivered:
		*t = s
	default:
		return fmt.Errorf("invalid order status %q", str)
	}
	return nil
}

func (t OrderStatus) IsTerminal() bool {
	return t == OrderStatusDeclined || t == OrderStatusDelivered
}

type PaymentState string

const (
	PaymentStateCod        PaymentState = "cod"
	PaymentStateClaimed    PaymentState = "claimed"
	PaymentStateVerified   PaymentState = "verified"
	PaymentStateNotClaimed PaymentState = "not_claimed"
)

type ActionKind string

const (
	ActionKindStatusConfirmed ActionKind = "status-confirmed"
	ActionKindStatusDeclined  ActionKind = "status-declined"
	ActionKindStatusDelivered ActionKind = "status-delivered"
	ActionKindInventoryEdited ActionKind = "inventory-edited"
	ActionKindProductDeleted  ActionKind = "product-deleted"
	ActionKindProductUploaded ActionKind = "product-uploaded"
	ActionKindSettingUpdated  ActionKind = "setting-updated"
	ActionKindLogin           ActionKind = "login"
	ActionKindPaymentVerified ActionKind = "payment-verified"
)

func statusActionKind(status OrderStatus) ActionKind {
	return ActionKind("status-" + string(status))
}

// StringList is an ordered list stored as a JSON column (image URLs).
type StringList []string

// Value implements the driver.Valuer interface
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot convert %T to StringList", value)
	}
	if len(raw) == 0 {
		*l = StringList{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*l = StringList(out)
	return nil
}

func (l StringList) First() string {
	if len(l) == 0 {
		return ""
	}
	return l[0]
}
