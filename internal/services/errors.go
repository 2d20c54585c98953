package services

import (
	"errors"
	"fmt"

	domain "github.com/maisonverte/api/internal/domain"
)

var (
	// ErrInsufficientStock indicates a requested quantity exceeds the variant's stock.
	ErrInsufficientStock = errors.New("order: insufficient stock")
	// ErrInvalidTransition indicates the order's current status forbids the requested move.
	ErrInvalidTransition = errors.New("order: invalid status transition")
)

// InsufficientStockError reports which variant blocked an order creation and
// how much stock was actually available. It is raised before anything is
// persisted.
type InsufficientStockError struct {
	VariantID string
	Requested int
	Available int
	Err       error
}

// Error implements the error interface.
func (e *InsufficientStockError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("order: insufficient stock for variant %s: requested %d, available %d", e.VariantID, e.Requested, e.Available)
}

// Unwrap allows errors.Is checks against ErrInsufficientStock.
func (e *InsufficientStockError) Unwrap() error {
	if e == nil || e.Err == nil {
		return ErrInsufficientStock
	}
	return e.Err
}

// Is reports whether target matches the insufficient stock sentinel.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InvalidTransitionError carries the refused state pair.
type InvalidTransitionError struct {
	OrderID   string
	Current   domain.OrderStatus
	Requested domain.OrderStatus
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("order %s: cannot transition from %s to %s", e.OrderID, e.Current, e.Requested)
}

// Is reports whether target matches the invalid transition sentinel.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
