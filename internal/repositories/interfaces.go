package repositories

import (
	"context"
	"time"

	domain "github.com/maisonverte/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations into one transactional boundary.
// Repository methods invoked with the context produced by RunInTx join the
// surrounding transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates including their line items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByCheckoutReference(ctx context.Context, reference string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListExpiredAwaitingPayment(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// VariantStockAdjustment mutates a variant's stock by Delta inside a
// serialized read-modify-write. Negative results clamp to zero. When
// GuardAvailability is set the adjustment fails with an insufficient stock
// error instead of clamping.
type VariantStockAdjustment struct {
	VariantID         string
	Delta             int
	GuardAvailability bool
	Now               time.Time
}

// VariantRepository owns variant stock counts and the cached status projection.
// AdjustStockBatch and ForceStatuses perform all document reads before any
// write, so they compose with other writes inside one transaction.
type VariantRepository interface {
	FindByID(ctx context.Context, variantID string) (domain.Variant, error)
	AdjustStock(ctx context.Context, adj VariantStockAdjustment) (domain.Variant, error)
	AdjustStockBatch(ctx context.Context, adjs []VariantStockAdjustment) ([]domain.Variant, error)
	SetStatus(ctx context.Context, variantID string, status domain.VariantStatus, forced bool, now time.Time) (domain.Variant, error)
	ForceStatuses(ctx context.Context, variantIDs []string, status domain.VariantStatus, now time.Time) error
}

// ProductRepository resolves catalog snapshots referenced by order lines.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// NotificationRepository stores in-app notifications.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
	MarkRead(ctx context.Context, notificationID string, readAt time.Time) error
	List(ctx context.Context, filter NotificationListFilter) (domain.CursorPage[domain.Notification], error)
}

// NotificationListFilter narrows notification listings.
type NotificationListFilter struct {
	UnreadOnly bool
	Pagination domain.Pagination
}

// CounterRepository hands out monotonically increasing sequence values.
// Allocation commits on its own, so an aborted caller leaves a gap in the
// sequence but never a duplicate.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
