package services

import (
	"context"
	"errors"
	"time"

	"github.com/maisonverte/api/internal/repositories"
)

const expirationCancelReason = "payment link expired"

// ExpirationServiceDeps bundles collaborators required to construct the expiration service.
type ExpirationServiceDeps struct {
	Orders   repositories.OrderRepository
	Workflow OrderService
	// BatchSize caps how many expired orders one sweep handles. Zero keeps
	// the default of 200.
	BatchSize int
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type expirationService struct {
	orders    repositories.OrderRepository
	workflow  OrderService
	batchSize int
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewExpirationService wires dependencies into a concrete ExpirationService implementation.
func NewExpirationService(deps ExpirationServiceDeps) (ExpirationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("expiration service: order repository is required")
	}
	if deps.Workflow == nil {
		return nil, errors.New("expiration service: order workflow is required")
	}

	batch := deps.BatchSize
	if batch <= 0 {
		batch = 200
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &expirationService{
		orders:    deps.Orders,
		workflow:  deps.Workflow,
		batchSize: batch,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Sweep cancels orders whose payment window elapsed. Each order goes through
// the same serialized cancellation path as a manual cancel, which re-reads the
// order: one paid between the query and the attempt fails the transition guard
// and is counted as skipped, not failed. One bad order never aborts the rest.
func (s *expirationService) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.clock()

	expired, err := s.orders.ListExpiredAwaitingPayment(ctx, now, s.batchSize)
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Scanned: len(expired)}
	for _, order := range expired {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		_, err := s.workflow.Cancel(ctx, CancelOrderCommand{
			OrderID: order.ID,
			Reason:  expirationCancelReason,
		})
		switch {
		case err == nil:
			result.Cancelled++
			s.logger(ctx, "expiration.order.cancelled", map[string]any{
				"order":  order.ID,
				"number": order.Number,
			})
		case errors.Is(err, ErrInvalidTransition):
			result.Skipped++
			s.logger(ctx, "expiration.order.skipped", map[string]any{
				"order":  order.ID,
				"number": order.Number,
				"error":  err.Error(),
			})
		default:
			result.Failed++
			s.logger(ctx, "expiration.order.failed", map[string]any{
				"order":  order.ID,
				"number": order.Number,
				"error":  err.Error(),
			})
		}
	}

	s.logger(ctx, "expiration.sweep.completed", map[string]any{
		"scanned":   result.Scanned,
		"cancelled": result.Cancelled,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	})
	return result, nil
}
