package services

import (
	"context"
	"time"

	domain "github.com/maisonverte/api/internal/domain"
	"github.com/maisonverte/api/internal/repositories"
)

// InventoryService centralizes the stock ledger: availability checks and the
// reserve/release/override operations that keep the cached variant status in
// lockstep with the count.
type InventoryService interface {
	CheckAvailability(ctx context.Context, variantID string, quantity int) (StockAvailability, error)
	Reserve(ctx context.Context, cmd StockAdjustmentCommand) (domain.Variant, error)
	Release(ctx context.Context, cmd StockAdjustmentCommand) (domain.Variant, error)
	ForceStatus(ctx context.Context, cmd ForceVariantStatusCommand) (domain.Variant, error)
}

// StockAvailability reports whether a requested quantity can be served.
type StockAvailability struct {
	VariantID    string
	Requested    int
	Available    bool
	CurrentStock int
}

// StockAdjustmentCommand reserves or releases a quantity on one variant.
type StockAdjustmentCommand struct {
	VariantID string
	Quantity  int
	ActorID   string
}

// ForceVariantStatusCommand overrides the cached status of a variant. Forced
// overrides survive later stock mutations; clearing Forced re-derives the
// status from the count.
type ForceVariantStatusCommand struct {
	VariantID string
	Status    domain.VariantStatus
	Forced    bool
	ActorID   string
}

// OrderService drives the order lifecycle: creation with all-or-nothing stock
// reservation, the admin decisions, payment confirmation, and cancellation.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	Validate(ctx context.Context, cmd ValidateOrderCommand) (domain.Order, error)
	Refuse(ctx context.Context, cmd RefuseOrderCommand) (domain.Order, error)
	MarkPaid(ctx context.Context, cmd MarkOrderPaidCommand) (domain.Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	UpdateStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (domain.Order, error)
}

// OrderListFilter narrows admin order listings.
type OrderListFilter = repositories.OrderListFilter

// CreateOrderLine requests a quantity of one variant.
type CreateOrderLine struct {
	ProductID string
	VariantID string
	Quantity  int
}

// CreateOrderCommand submits a cart for validation.
type CreateOrderCommand struct {
	CustomerEmail   string
	CustomerName    string
	Lines           []CreateOrderLine
	ShippingAddress *domain.Address
	PaymentMethod   string
	Metadata        map[string]any
}

// ValidateOrderCommand approves a pending order and opens the payment window.
type ValidateOrderCommand struct {
	OrderID      string
	ShippingCost int64
	ActorID      string
}

// RefuseOrderCommand rejects a pending order and releases its stock.
type RefuseOrderCommand struct {
	OrderID string
	Reason  string
	ActorID string
}

// MarkOrderPaidCommand confirms payment, from the gateway or an admin.
type MarkOrderPaidCommand struct {
	OrderID          string
	PaymentReference string
	ActorID          string
}

// CancelOrderCommand cancels an order and releases its stock.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
	ActorID string
}

// OrderStatusTransitionCommand moves a paid order along the fulfilment path.
type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus domain.OrderStatus
	ActorID      string
}

// CheckoutService bridges orders to the payment gateway.
type CheckoutService interface {
	CreateCheckout(ctx context.Context, cmd CreateCheckoutCommand) (OrderCheckout, error)
	VerifyPayment(ctx context.Context, orderID string) (domain.Order, error)
	HandlePaymentWebhook(ctx context.Context, cmd PaymentWebhookCommand) error
}

// CreateCheckoutCommand opens a hosted checkout for an order awaiting payment.
type CreateCheckoutCommand struct {
	OrderID string
	ActorID string
}

// OrderCheckout pairs the order with its gateway session.
type OrderCheckout struct {
	Order       domain.Order
	CheckoutID  string
	CheckoutURL string
	ExpiresAt   time.Time
}

// PaymentWebhookCommand carries the gateway callback payload.
type PaymentWebhookCommand struct {
	Status            string
	CheckoutReference string
}

// ExpirationService cancels orders whose payment window has elapsed.
type ExpirationService interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

// SweepResult summarises one reconciliation pass.
type SweepResult struct {
	Scanned   int
	Cancelled int
	Skipped   int
	Failed    int
}

// NotificationService records in-app notifications and dispatches the
// outbound emails triggered by workflow transitions. It doubles as the
// workflow's OrderNotifier.
type NotificationService interface {
	OrderNotifier
	Record(ctx context.Context, cmd RecordNotificationCommand) (domain.Notification, error)
	MarkRead(ctx context.Context, notificationID string) error
	List(ctx context.Context, filter NotificationListFilter) (domain.CursorPage[domain.Notification], error)
}

// NotificationListFilter narrows notification listings.
type NotificationListFilter = repositories.NotificationListFilter

// RecordNotificationCommand creates one in-app notification.
type RecordNotificationCommand struct {
	Type    domain.NotificationType
	OrderID string
	Title   string
	Message string
}

// OrderNotifier receives workflow transition events. Implementations must not
// block the transition; the workflow logs failures and moves on.
type OrderNotifier interface {
	NotifyOrderEvent(ctx context.Context, event OrderNotification) error
}

// OrderNotification describes one workflow transition side effect. Exactly one
// is emitted per triggering transition.
type OrderNotification struct {
	Type       domain.NotificationType
	Order      domain.Order
	Reason     string
	OccurredAt time.Time
	// EmailTemplate picks the customer-facing wording when one notification
	// type covers several triggers (refusal vs. cancellation). Empty means
	// the type's default template.
	EmailTemplate EmailKind
}
