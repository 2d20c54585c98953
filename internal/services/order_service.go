package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/maisonverte/api/internal/domain"
	"github.com/maisonverte/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	orderCounterPrefix = "order_numbers_"

	defaultPaymentWindow = 48 * time.Hour
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPendingValidation: {domain.OrderStatusAwaitingPayment, domain.OrderStatusCancelled},
	domain.OrderStatusAwaitingPayment:   {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:              {domain.OrderStatusPreparing, domain.OrderStatusCancelled},
	domain.OrderStatusPreparing:         {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:           {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

// cancellableStatuses lists the states in which cancellation still releases
// reserved stock. Later states keep their variants pinned to sold.
var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPendingValidation,
	domain.OrderStatusAwaitingPayment,
	domain.OrderStatusLegacyPending,
	domain.OrderStatusLegacyReserved,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Variants   repositories.VariantRepository
	Products   repositories.ProductRepository
	Counters   repositories.CounterRepository
	UnitOfWork repositories.UnitOfWork
	Notifier   OrderNotifier
	// PaymentWindow is how long a validated order may remain unpaid. Zero
	// keeps the default of 48h.
	PaymentWindow time.Duration
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	variants      repositories.VariantRepository
	products      repositories.ProductRepository
	counters      repositories.CounterRepository
	unitOfWork    repositories.UnitOfWork
	notifier      OrderNotifier
	paymentWindow time.Duration
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Variants == nil {
		return nil, errors.New("order service: variant repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	window := deps.PaymentWindow
	if window <= 0 {
		window = defaultPaymentWindow
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:        deps.Orders,
		variants:      deps.Variants,
		products:      deps.Products,
		counters:      deps.Counters,
		unitOfWork:    unit,
		notifier:      deps.Notifier,
		paymentWindow: window,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	email := strings.TrimSpace(cmd.CustomerEmail)
	if email == "" {
		return domain.Order{}, fmt.Errorf("%w: customer email is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order must contain at least one line", ErrOrderInvalidInput)
	}
	for _, line := range cmd.Lines {
		if strings.TrimSpace(line.VariantID) == "" {
			return domain.Order{}, fmt.Errorf("%w: line variant id is required", ErrOrderInvalidInput)
		}
		if line.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("%w: line quantity must be positive, got %d", ErrOrderInvalidInput, line.Quantity)
		}
	}

	now := s.now()

	lines, err := s.buildLineItems(ctx, cmd.Lines)
	if err != nil {
		return domain.Order{}, err
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:              s.nextOrderID(),
		Number:          number,
		Status:          domain.OrderStatusPendingValidation,
		CustomerEmail:   email,
		CustomerName:    strings.TrimSpace(cmd.CustomerName),
		PaymentMethod:   strings.TrimSpace(cmd.PaymentMethod),
		Lines:           lines,
		ShippingAddress: cloneAddress(cmd.ShippingAddress),
		Metadata:        cloneMap(cmd.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.TotalAmount = order.LinesSubtotal()

	adjustments := make([]repositories.VariantStockAdjustment, 0, len(lines))
	for _, line := range lines {
		adjustments = append(adjustments, repositories.VariantStockAdjustment{
			VariantID:         line.VariantID,
			Delta:             -line.Quantity,
			GuardAvailability: true,
			Now:               now,
		})
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.variants.AdjustStockBatch(txCtx, adjustments); err != nil {
			return s.mapStockError(err, cmd.Lines)
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.notify(ctx, OrderNotification{
		Type:       domain.NotificationNewOrder,
		Order:      order,
		OccurredAt: now,
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// Validate approves a pending order: the shipping cost joins the total and the
// payment window opens. Approving an order twice, even with the same shipping
// cost, is refused.
func (s *orderService) Validate(ctx context.Context, cmd ValidateOrderCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.ShippingCost < 0 {
		return domain.Order{}, fmt.Errorf("%w: shipping cost cannot be negative", ErrOrderInvalidInput)
	}

	now := s.now()

	var order domain.Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		// The read joins the transaction, so a retry re-evaluates the guard
		// against the committed state.
		found, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if found.Status != domain.OrderStatusPendingValidation {
			return &InvalidTransitionError{OrderID: found.ID, Current: found.Status, Requested: domain.OrderStatusAwaitingPayment}
		}

		shipping := cmd.ShippingCost
		expiry := now.Add(s.paymentWindow)

		found.Status = domain.OrderStatusAwaitingPayment
		found.ShippingCost = &shipping
		found.TotalAmount = found.LinesSubtotal() + shipping
		found.ValidatedAt = &now
		found.PaymentLinkExpiresAt = &expiry
		found.UpdatedAt = now

		if err := s.orders.Update(txCtx, found); err != nil {
			return s.mapRepositoryError(err)
		}
		order = found
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.notify(ctx, OrderNotification{
		Type:       domain.NotificationOrderValidated,
		Order:      order,
		OccurredAt: now,
	})

	return order, nil
}

// Refuse rejects a pending order, releasing its stock and recording the reason.
func (s *orderService) Refuse(ctx context.Context, cmd RefuseOrderCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	return s.releaseAndTerminate(ctx, orderID, strings.TrimSpace(cmd.Reason), EmailKindOrderRefused, func(order domain.Order) error {
		if order.Status != domain.OrderStatusPendingValidation {
			return &InvalidTransitionError{OrderID: order.ID, Current: order.Status, Requested: domain.OrderStatusCancelled}
		}
		return nil
	})
}

// MarkPaid confirms payment on an order awaiting it. The transition is
// idempotent: confirming an already paid order is a no-op and emits nothing.
func (s *orderService) MarkPaid(ctx context.Context, cmd MarkOrderPaidCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()

	var order domain.Order
	alreadyPaid := false
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		found, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if found.Status == domain.OrderStatusPaid {
			order = found
			alreadyPaid = true
			return nil
		}
		alreadyPaid = false
		if domain.NormalizeOrderStatus(found.Status) != domain.OrderStatusAwaitingPayment {
			return &InvalidTransitionError{OrderID: found.ID, Current: found.Status, Requested: domain.OrderStatusPaid}
		}

		found.Status = domain.OrderStatusPaid
		found.PaidAt = &now
		found.UpdatedAt = now
		if ref := strings.TrimSpace(cmd.PaymentReference); ref != "" {
			found.PaymentReference = ref
		}

		variantIDs := make([]string, 0, len(found.Lines))
		for _, line := range found.Lines {
			variantIDs = append(variantIDs, line.VariantID)
		}

		if err := s.variants.ForceStatuses(txCtx, variantIDs, domain.VariantStatusSold, now); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.Update(txCtx, found); err != nil {
			return s.mapRepositoryError(err)
		}
		order = found
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	if alreadyPaid {
		return order, nil
	}

	s.notify(ctx, OrderNotification{
		Type:       domain.NotificationPaymentReceived,
		Order:      order,
		OccurredAt: now,
	})

	return order, nil
}

// Cancel terminates an order that has not been paid, releasing its stock
// exactly once. A second attempt fails with ErrInvalidTransition and leaves
// stock untouched.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	return s.releaseAndTerminate(ctx, orderID, strings.TrimSpace(cmd.Reason), EmailKindOrderCancelled, func(order domain.Order) error {
		if !slices.Contains(cancellableStatuses, order.Status) {
			return &InvalidTransitionError{OrderID: order.ID, Current: order.Status, Requested: domain.OrderStatusCancelled}
		}
		return nil
	})
}

// releaseAndTerminate is the shared tail of refusal and cancellation: release
// every line's stock, record the reason, and mark the order cancelled. The
// template selects the customer-facing wording. The guard runs on the order
// read inside the transaction, so a concurrently committed transition (a
// payment landing between sweep and cancel) fails the guard instead of being
// overwritten.
func (s *orderService) releaseAndTerminate(ctx context.Context, orderID, reason string, template EmailKind, guard func(domain.Order) error) (domain.Order, error) {
	now := s.now()

	var order domain.Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		found, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := guard(found); err != nil {
			return err
		}

		found.Status = domain.OrderStatusCancelled
		found.CancelledAt = &now
		found.UpdatedAt = now
		if reason != "" {
			found.Metadata = ensureMap(found.Metadata)
			found.Metadata[domain.MetadataKeyCancellationReason] = reason
		}

		releases := make([]repositories.VariantStockAdjustment, 0, len(found.Lines))
		for _, line := range found.Lines {
			releases = append(releases, repositories.VariantStockAdjustment{
				VariantID: line.VariantID,
				Delta:     line.Quantity,
				Now:       now,
			})
		}

		if _, err := s.variants.AdjustStockBatch(txCtx, releases); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.Update(txCtx, found); err != nil {
			return s.mapRepositoryError(err)
		}
		order = found
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.notify(ctx, OrderNotification{
		Type:          domain.NotificationOrderCancelled,
		Order:         order,
		Reason:        reason,
		EmailTemplate: template,
		OccurredAt:    now,
	})

	return order, nil
}

// UpdateStatus moves a paid order along the fulfilment path. Cancellation is
// not reachable from here; callers use Cancel so stock release happens exactly
// once.
func (s *orderService) UpdateStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(string(cmd.TargetStatus))
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}
	if target == domain.OrderStatusCancelled {
		return domain.Order{}, fmt.Errorf("%w: cancellation goes through the cancel operation", ErrOrderInvalidInput)
	}

	now := s.now()

	var order domain.Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		found, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if _, err := s.applyStatusTransition(&found, target, now); err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, found); err != nil {
			return s.mapRepositoryError(err)
		}
		order = found
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "order.status.updated", map[string]any{
		"order":  order.ID,
		"number": order.Number,
		"status": string(order.Status),
	})

	return order, nil
}

func (s *orderService) buildLineItems(ctx context.Context, requested []CreateOrderLine) ([]domain.OrderLineItem, error) {
	lines := make([]domain.OrderLineItem, 0, len(requested))
	for _, req := range requested {
		variantID := strings.TrimSpace(req.VariantID)

		variant, err := s.variants.FindByID(ctx, variantID)
		if err != nil {
			return nil, s.mapStockError(err, requested)
		}
		if variant.Status != domain.VariantStatusAvailable || variant.Stock < req.Quantity {
			return nil, &InsufficientStockError{
				VariantID: variantID,
				Requested: req.Quantity,
				Available: variant.Stock,
			}
		}

		productID := strings.TrimSpace(req.ProductID)
		if productID == "" {
			productID = variant.ProductID
		}
		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			return nil, s.mapRepositoryError(err)
		}

		lines = append(lines, domain.OrderLineItem{
			ID:          s.newID(),
			ProductID:   product.ID,
			VariantID:   variantID,
			ProductName: product.Name,
			VariantName: variant.Name,
			UnitPrice:   product.Price,
			Quantity:    req.Quantity,
		})
	}
	return lines, nil
}

func (s *orderService) applyStatusTransition(order *domain.Order, target domain.OrderStatus, now time.Time) (domain.OrderStatus, error) {
	current := order.Status
	if current == target {
		order.UpdatedAt = now
		return current, nil
	}

	if !canTransition(current, target) {
		return "", &InvalidTransitionError{OrderID: order.ID, Current: current, Requested: target}
	}

	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusPaid:
		order.PaidAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}

	return current, nil
}

func (s *orderService) mapStockError(err error, requested []CreateOrderLine) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			stockErr := &InsufficientStockError{
				VariantID: invErr.VariantID,
				Available: invErr.Available,
				Err:       err,
			}
			for _, line := range requested {
				if strings.TrimSpace(line.VariantID) == invErr.VariantID {
					stockErr.Requested = line.Quantity
					break
				}
			}
			return stockErr
		case repositories.InventoryErrorVariantNotFound:
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		}
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

// generateOrderNumber allocates the next value of the per-year sequence. The
// counter increments in its own transaction, so a creation that later fails
// leaves a gap in the sequence but never a duplicate.
func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, fmt.Sprintf("%s%d", orderCounterPrefix, now.Year()), 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%d-%04d", now.Year(), seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

// notify dispatches the transition side effect. Failures are logged and never
// surface to the caller; the durable state change has already committed.
func (s *orderService) notify(ctx context.Context, event OrderNotification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.notification.failed", map[string]any{
			"type":   string(event.Type),
			"order":  event.Order.ID,
			"number": event.Order.Number,
			"error":  err.Error(),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[domain.NormalizeOrderStatus(current)]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func cloneAddress(addr *domain.Address) *domain.Address {
	if addr == nil {
		return nil
	}
	cloned := *addr
	return &cloned
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func ensureMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}
