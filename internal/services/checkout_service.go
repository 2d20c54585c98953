package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/maisonverte/api/internal/domain"
	"github.com/maisonverte/api/internal/payments"
	"github.com/maisonverte/api/internal/repositories"
)

const webhookStatusPaid = "PAID"

var (
	// ErrCheckoutUnavailable indicates the order is not in a state that allows
	// opening a payment session.
	ErrCheckoutUnavailable = errors.New("checkout: order not awaiting payment")
	// ErrPaymentWindowClosed indicates the payment link has expired.
	ErrPaymentWindowClosed = errors.New("checkout: payment window closed")
	// ErrCheckoutGateway wraps failures talking to the payment gateway.
	ErrCheckoutGateway = errors.New("checkout: gateway failure")
)

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Orders    repositories.OrderRepository
	Workflow  OrderService
	Gateway   payments.Gateway
	ReturnURL string
	CancelURL string
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders    repositories.OrderRepository
	workflow  OrderService
	gateway   payments.Gateway
	returnURL string
	cancelURL string
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Workflow == nil {
		return nil, errors.New("checkout service: order workflow is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		orders:    deps.Orders,
		workflow:  deps.Workflow,
		gateway:   deps.Gateway,
		returnURL: strings.TrimSpace(deps.ReturnURL),
		cancelURL: strings.TrimSpace(deps.CancelURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckout opens a gateway session for an order awaiting payment. An
// order that already carries a checkout gets the existing session back
// unchanged; the gateway's reference dedup covers the race where two calls
// arrive before the first persists.
func (s *checkoutService) CreateCheckout(ctx context.Context, cmd CreateCheckoutCommand) (OrderCheckout, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderCheckout{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.workflow.GetOrder(ctx, orderID)
	if err != nil {
		return OrderCheckout{}, err
	}

	if domain.NormalizeOrderStatus(order.Status) != domain.OrderStatusAwaitingPayment {
		return OrderCheckout{}, fmt.Errorf("%w: order %s is %s", ErrCheckoutUnavailable, order.ID, order.Status)
	}
	now := s.clock()
	if order.PaymentLinkExpiresAt == nil || !order.PaymentLinkExpiresAt.After(now) {
		return OrderCheckout{}, fmt.Errorf("%w: order %s", ErrPaymentWindowClosed, order.ID)
	}

	if order.CheckoutID != "" {
		existing, err := s.gateway.GetCheckout(ctx, order.CheckoutID)
		if err != nil {
			return OrderCheckout{}, s.wrapGatewayError(err)
		}
		return OrderCheckout{
			Order:       order,
			CheckoutID:  existing.ID,
			CheckoutURL: existing.URL,
			ExpiresAt:   existing.ExpiresAt,
		}, nil
	}

	checkout, err := s.gateway.CreateCheckout(ctx, payments.CheckoutRequest{
		Amount:      order.TotalAmount,
		Reference:   order.Number,
		Description: "Order " + order.Number,
		ReturnURL:   s.returnURL,
		CancelURL:   s.cancelURL,
		Metadata: map[string]string{
			"orderId": order.ID,
		},
	})
	if err != nil {
		return OrderCheckout{}, s.wrapGatewayError(err)
	}

	order.CheckoutID = checkout.ID
	order.CheckoutReference = checkout.Reference
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return OrderCheckout{}, fmt.Errorf("checkout: persist session: %w", err)
	}

	s.logger(ctx, "checkout.created", map[string]any{
		"order":    order.ID,
		"number":   order.Number,
		"checkout": checkout.ID,
	})

	return OrderCheckout{
		Order:       order,
		CheckoutID:  checkout.ID,
		CheckoutURL: checkout.URL,
		ExpiresAt:   checkout.ExpiresAt,
	}, nil
}

// VerifyPayment polls the gateway for the order's checkout and drives the paid
// transition when the gateway reports payment. Safe to call repeatedly.
func (s *checkoutService) VerifyPayment(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.workflow.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.CheckoutID == "" {
		return order, nil
	}

	checkout, err := s.gateway.GetCheckout(ctx, order.CheckoutID)
	if err != nil {
		return domain.Order{}, s.wrapGatewayError(err)
	}
	if checkout.Status != payments.CheckoutStatusPaid {
		return order, nil
	}

	return s.workflow.MarkPaid(ctx, MarkOrderPaidCommand{
		OrderID:          order.ID,
		PaymentReference: checkout.ID,
	})
}

// HandlePaymentWebhook maps a gateway callback onto the paid transition. Only
// PAID callbacks act; everything else is logged and dropped. The transition is
// idempotent, so webhook retries and a concurrent poll cannot double-fire.
func (s *checkoutService) HandlePaymentWebhook(ctx context.Context, cmd PaymentWebhookCommand) error {
	reference := strings.TrimSpace(cmd.CheckoutReference)
	if reference == "" {
		return fmt.Errorf("%w: checkout reference is required", ErrOrderInvalidInput)
	}

	if !strings.EqualFold(strings.TrimSpace(cmd.Status), webhookStatusPaid) {
		s.logger(ctx, "checkout.webhook.ignored", map[string]any{
			"reference": reference,
			"status":    cmd.Status,
		})
		return nil
	}

	order, err := s.findOrderByReference(ctx, reference)
	if err != nil {
		return err
	}

	if _, err := s.workflow.MarkPaid(ctx, MarkOrderPaidCommand{
		OrderID:          order.ID,
		PaymentReference: order.CheckoutID,
	}); err != nil {
		return err
	}

	s.logger(ctx, "checkout.webhook.paid", map[string]any{
		"order":     order.ID,
		"number":    order.Number,
		"reference": reference,
	})
	return nil
}

// findOrderByReference resolves the webhook reference against the stored
// checkout reference, falling back to the order number the reference was
// derived from.
func (s *checkoutService) findOrderByReference(ctx context.Context, reference string) (domain.Order, error) {
	order, err := s.orders.FindByCheckoutReference(ctx, reference)
	if err == nil {
		return order, nil
	}

	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		return domain.Order{}, fmt.Errorf("checkout: resolve webhook reference: %w", err)
	}
	return domain.Order{}, fmt.Errorf("%w: no order for checkout reference %s", ErrOrderNotFound, reference)
}

func (s *checkoutService) wrapGatewayError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrCheckoutGateway, err)
}
