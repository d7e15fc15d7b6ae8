package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidSelection       = errors.New("invalid selection")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrVariantNotFound        = errors.New("variant not found")
	ErrStockConflict          = errors.New("stock changed since it was read")
	ErrOrderPersistenceFailed = errors.New("order persistence failed")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrStorageFault           = errors.New("storage fault")
)

// StockError identifies the cart line that failed to reserve.
// Line is -1 when the error did not come from a checkout.
type StockError struct {
	Line      int
	ProductId int
	Color     string
	Size      string
	Err       error
}

func (e *StockError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("line %d (product %d, %s/%s): %v", e.Line, e.ProductId, e.Color, e.Size, e.Err)
	}
	return fmt.Sprintf("product %d (%s/%s): %v", e.ProductId, e.Color, e.Size, e.Err)
}

func (e *StockError) Unwrap() error { return e.Err }

// SelectionError carries the field that made a line invalid.
type SelectionError struct {
	Line   int
	Reason string
}

func (e *SelectionError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return e.Reason
}

func (e *SelectionError) Unwrap() error { return ErrInvalidSelection }

func NewSelectionError(line int, format string, args ...any) error {
	return &SelectionError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

// WrapStorageFault tags err as a storage fault while keeping the cause inspectable.
func WrapStorageFault(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageFault) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageFault, err)
}
