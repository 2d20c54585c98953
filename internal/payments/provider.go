package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CheckoutStatus enumerates the normalised checkout states shared across gateways.
type CheckoutStatus string

const (
	// CheckoutStatusPending indicates the checkout awaits customer action.
	CheckoutStatusPending CheckoutStatus = "pending"
	// CheckoutStatusPaid indicates the gateway reports the payment as captured.
	CheckoutStatusPaid CheckoutStatus = "paid"
	// CheckoutStatusExpired indicates the checkout lapsed without payment.
	CheckoutStatusExpired CheckoutStatus = "expired"
	// CheckoutStatusFailed indicates the gateway reports a terminal failure.
	CheckoutStatusFailed CheckoutStatus = "failed"
)

// ErrCheckoutNotFound is returned when no checkout matches the lookup.
var ErrCheckoutNotFound = errors.New("payments: checkout not found")

// GatewayError wraps a gateway call failure. Timeout is set when the bounded
// call deadline elapsed before the gateway answered.
type GatewayError struct {
	Provider string
	Op       string
	Timeout  bool
	Err      error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	if e.Timeout {
		return fmt.Sprintf("%s: %s: gateway timeout: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CheckoutRequest captures the payload required to open a hosted checkout.
// Reference is the merchant-side key (the order number); creating two
// checkouts with the same reference yields the same session.
type CheckoutRequest struct {
	Amount      int64
	Currency    string
	Reference   string
	Description string
	ReturnURL   string
	CancelURL   string
	Metadata    map[string]string
}

// Checkout is the gateway session handed back to the caller.
type Checkout struct {
	ID        string
	Reference string
	Status    CheckoutStatus
	URL       string
	ExpiresAt time.Time
}

// Gateway defines the contract payment adapters implement. All calls are
// bounded by the adapter's configured timeout.
type Gateway interface {
	// CreateCheckout opens a hosted checkout for the given amount. When the
	// gateway already holds a live checkout for the reference, that session is
	// returned instead of a new one.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	// GetCheckout fetches the current state of a checkout by gateway ID.
	GetCheckout(ctx context.Context, checkoutID string) (Checkout, error)
	// FindCheckoutByReference resolves a checkout through the merchant
	// reference, returning ErrCheckoutNotFound when none exists.
	FindCheckoutByReference(ctx context.Context, reference string) (Checkout, error)
}
