package models

import (
	"fmt"
	"strings"

	"github.com/vastramandir/storefront_backend/utils"
)

// allowedSources maps a target status to the statuses it may be reached from.
var allowedSources = map[OrderStatus][]OrderStatus{
	OrderStatusConfirmed: {OrderStatusPending, OrderStatusPaidOnline, OrderStatusCodPending},
	OrderStatusDeclined:  {OrderStatusPending, OrderStatusPaidOnline, OrderStatusCodPending},
	OrderStatusDelivered: {OrderStatusConfirmed},
}

func CanTransition(from OrderStatus, to OrderStatus) bool {
	if from.IsTerminal() {
		return false
	}
	for _, s := range allowedSources[to] {
		if s == from {
			return true
		}
	}
	return false
}

type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return utils.ErrInvalidTransition }

const (
	OrderGroupPending   = "pending"
	OrderGroupConfirmed = "confirmed"
	OrderGroupDelivered = "delivered"
	OrderGroupDeclined  = "declined"
)

var OrderGroups = []string{OrderGroupPending, OrderGroupConfirmed, OrderGroupDelivered, OrderGroupDeclined}

// StatusGroup resolves an admin tab to its statuses.
func StatusGroup(group string) ([]OrderStatus, error) {
	switch strings.ToLower(strings.TrimSpace(group)) {
	case "", OrderGroupPending:
		return []OrderStatus{OrderStatusPending, OrderStatusPaidOnline, OrderStatusCodPending}, nil
	case OrderGroupConfirmed:
		return []OrderStatus{OrderStatusConfirmed}, nil
	case OrderGroupDelivered:
		return []OrderStatus{OrderStatusDelivered}, nil
	case OrderGroupDeclined:
		return []OrderStatus{OrderStatusDeclined}, nil
	}
	return nil, utils.NewSelectionError(-1, "unknown order group %q", group)
}
