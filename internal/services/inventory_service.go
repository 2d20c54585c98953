package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/maisonverte/api/internal/domain"
	"github.com/maisonverte/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid data.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrVariantNotFound indicates the variant has no stock record.
	ErrVariantNotFound = errors.New("inventory: variant not found")
)

// InventoryServiceDeps bundles collaborators required to construct the inventory service.
type InventoryServiceDeps struct {
	Variants repositories.VariantRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	variants repositories.VariantRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Variants == nil {
		return nil, errors.New("inventory service: variant repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		variants: deps.Variants,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CheckAvailability reports whether the requested quantity can be served. It
// never mutates state; inside a unit of work the read joins the transaction.
func (s *inventoryService) CheckAvailability(ctx context.Context, variantID string, quantity int) (StockAvailability, error) {
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return StockAvailability{}, fmt.Errorf("%w: variant id is required", ErrInventoryInvalidInput)
	}
	if quantity <= 0 {
		return StockAvailability{}, fmt.Errorf("%w: quantity must be positive, got %d", ErrInventoryInvalidInput, quantity)
	}

	variant, err := s.variants.FindByID(ctx, variantID)
	if err != nil {
		return StockAvailability{}, s.mapRepositoryError(err)
	}

	return StockAvailability{
		VariantID:    variantID,
		Requested:    quantity,
		Available:    variant.Status == domain.VariantStatusAvailable && variant.Stock >= quantity,
		CurrentStock: variant.Stock,
	}, nil
}

// Reserve decrements stock by the requested quantity, flooring at zero, and
// recomputes the status projection.
func (s *inventoryService) Reserve(ctx context.Context, cmd StockAdjustmentCommand) (domain.Variant, error) {
	return s.adjust(ctx, cmd, -1, "inventory.reserved")
}

// Release returns a previously reserved quantity to stock and recomputes the
// status projection.
func (s *inventoryService) Release(ctx context.Context, cmd StockAdjustmentCommand) (domain.Variant, error) {
	return s.adjust(ctx, cmd, 1, "inventory.released")
}

func (s *inventoryService) adjust(ctx context.Context, cmd StockAdjustmentCommand, sign int, event string) (domain.Variant, error) {
	variantID := strings.TrimSpace(cmd.VariantID)
	if variantID == "" {
		return domain.Variant{}, fmt.Errorf("%w: variant id is required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return domain.Variant{}, fmt.Errorf("%w: quantity must be positive, got %d", ErrInventoryInvalidInput, cmd.Quantity)
	}

	variant, err := s.variants.AdjustStock(ctx, repositories.VariantStockAdjustment{
		VariantID: variantID,
		Delta:     sign * cmd.Quantity,
		Now:       s.clock(),
	})
	if err != nil {
		return domain.Variant{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, event, map[string]any{
		"variant":  variantID,
		"quantity": cmd.Quantity,
		"stock":    variant.Stock,
		"status":   string(variant.Status),
	})
	return variant, nil
}

// ForceStatus applies an admin override to the cached status.
func (s *inventoryService) ForceStatus(ctx context.Context, cmd ForceVariantStatusCommand) (domain.Variant, error) {
	variantID := strings.TrimSpace(cmd.VariantID)
	if variantID == "" {
		return domain.Variant{}, fmt.Errorf("%w: variant id is required", ErrInventoryInvalidInput)
	}
	if cmd.Forced {
		if _, ok := domain.ParseVariantStatus(string(cmd.Status)); !ok {
			return domain.Variant{}, fmt.Errorf("%w: unknown variant status %q", ErrInventoryInvalidInput, cmd.Status)
		}
	}

	variant, err := s.variants.SetStatus(ctx, variantID, cmd.Status, cmd.Forced, s.clock())
	if err != nil {
		return domain.Variant{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "inventory.status.forced", map[string]any{
		"variant": variantID,
		"status":  string(variant.Status),
		"forced":  variant.StatusForced,
	})
	return variant, nil
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorVariantNotFound:
			return fmt.Errorf("%w: %v", ErrVariantNotFound, err)
		case repositories.InventoryErrorInsufficientStock:
			return &InsufficientStockError{
				VariantID: invErr.VariantID,
				Available: invErr.Available,
				Err:       err,
			}
		}
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrVariantNotFound, err)
	}
	return err
}
