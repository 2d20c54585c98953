package domain

import (
	"strings"
	"time"
)

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPendingValidation is the initial state after a customer submits a cart.
	OrderStatusPendingValidation OrderStatus = "pending_validation"
	// OrderStatusAwaitingPayment means an admin approved the order and the payment window is open.
	OrderStatusAwaitingPayment OrderStatus = "validated_awaiting_payment"
	// OrderStatusPaid means the payment gateway or an admin confirmed payment.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusPreparing means the shipment is being prepared.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusShipped means the parcel left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered is terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal and reachable from every non-delivered state.
	OrderStatusCancelled OrderStatus = "cancelled"

	// OrderStatusLegacyPending is written by the previous system. It is accepted
	// as an alias of validated_awaiting_payment in payment and cancellation
	// guards and is never written by this service.
	OrderStatusLegacyPending OrderStatus = "pending"
	// OrderStatusLegacyReserved is another status written by the previous
	// system, accepted only in cancellation guards and never written here.
	OrderStatusLegacyReserved OrderStatus = "reserved"
)

// VariantStatus enumerates the sellability states of a variant.
type VariantStatus string

const (
	VariantStatusAvailable VariantStatus = "available"
	VariantStatusSold      VariantStatus = "sold"
	VariantStatusReserved  VariantStatus = "reserved"
)

// NotificationType enumerates in-app notification categories.
type NotificationType string

const (
	NotificationNewOrder        NotificationType = "new_order"
	NotificationPaymentReceived NotificationType = "payment_received"
	NotificationOrderCancelled  NotificationType = "order_cancelled"

	// NotificationOrderValidated only triggers the customer payment-link
	// email; no in-app record is stored for it.
	NotificationOrderValidated NotificationType = "order_validated"
)

// MetadataKeyCancellationReason stores the reason recorded when an order is
// cancelled or refused.
const MetadataKeyCancellationReason = "cancellationReason"

// Variant is the inventory unit: a purchasable SKU under a product with its
// own stock count. Status is a cached projection of stock kept in lockstep by
// every mutation; StatusForced pins it independently of the count.
type Variant struct {
	ID           string
	ProductID    string
	Name         string
	Stock        int
	Status       VariantStatus
	StatusForced bool
	UpdatedAt    time.Time
}

// DeriveVariantStatus is the single stock-to-status derivation used by every
// mutator. Forced statuses win over the stock projection.
func DeriveVariantStatus(stock int, forced bool, current VariantStatus) VariantStatus {
	if forced {
		return current
	}
	if stock > 0 {
		return VariantStatusAvailable
	}
	return VariantStatusSold
}

// Product carries the catalog attributes the order engine snapshots at
// purchase time. Catalog management itself lives elsewhere.
type Product struct {
	ID    string
	Name  string
	Price int64
}

// Address is the shipping snapshot embedded in an order.
type Address struct {
	FullName   string
	Line1      string
	Line2      string
	PostalCode string
	City       string
	Country    string
	Phone      string
}

// OrderLineItem is an immutable purchase snapshot referencing one product and
// one variant. UnitPrice is in minor units and independent of later catalog
// price changes.
type OrderLineItem struct {
	ID          string
	ProductID   string
	VariantID   string
	ProductName string
	VariantName string
	UnitPrice   int64
	Quantity    int
}

// Subtotal returns the line contribution to the order total in minor units.
func (l OrderLineItem) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Order is the aggregate owning monetary totals, shipping data, status and
// timestamps. Orders are never hard-deleted; cancellation is a status.
type Order struct {
	ID     string
	Number string
	Status OrderStatus

	CustomerEmail string
	CustomerName  string

	PaymentMethod     string
	CheckoutID        string
	CheckoutReference string
	PaymentReference  string

	// TotalAmount always equals the sum of line subtotals plus ShippingCost
	// once set. Minor units.
	TotalAmount  int64
	ShippingCost *int64

	Lines           []OrderLineItem
	ShippingAddress *Address
	InternalNotes   string
	Metadata        map[string]any

	ValidatedAt          *time.Time
	PaymentLinkExpiresAt *time.Time
	PaidAt               *time.Time
	ShippedAt            *time.Time
	DeliveredAt          *time.Time
	CancelledAt          *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LinesSubtotal sums price x quantity over every line in minor units.
func (o Order) LinesSubtotal() int64 {
	var subtotal int64
	for _, line := range o.Lines {
		subtotal += line.Subtotal()
	}
	return subtotal
}

// IsTerminal reports whether no further transition may leave the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// NormalizeOrderStatus folds the legacy alias into the canonical awaiting
// payment state for guard evaluation.
func NormalizeOrderStatus(s OrderStatus) OrderStatus {
	if s == OrderStatusLegacyPending {
		return OrderStatusAwaitingPayment
	}
	return s
}

// ParseOrderStatus validates a client supplied status string.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.TrimSpace(strings.ToLower(raw)))
	switch status {
	case OrderStatusPendingValidation, OrderStatusAwaitingPayment, OrderStatusPaid,
		OrderStatusPreparing, OrderStatusShipped, OrderStatusDelivered,
		OrderStatusCancelled, OrderStatusLegacyPending:
		return status, true
	}
	return "", false
}

// ParseVariantStatus validates an admin supplied variant status override.
func ParseVariantStatus(raw string) (VariantStatus, bool) {
	status := VariantStatus(strings.TrimSpace(strings.ToLower(raw)))
	switch status {
	case VariantStatusAvailable, VariantStatusSold, VariantStatusReserved:
		return status, true
	}
	return "", false
}

// Notification is an in-app record produced as a side effect of a workflow
// transition. Exactly one is produced per triggering event.
type Notification struct {
	ID        string
	Type      NotificationType
	OrderID   string
	Title     string
	Message   string
	Read      bool
	CreatedAt time.Time
}

// Pagination carries cursor-based list parameters.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a result slice with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
