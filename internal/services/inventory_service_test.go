package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/maisonverte/api/internal/domain"
	"github.com/maisonverte/api/internal/repositories"
)

func newTestInventoryService(t *testing.T, variants repositories.VariantRepository) InventoryService {
	t.Helper()
	svc, err := NewInventoryService(InventoryServiceDeps{
		Variants: variants,
		Clock:    fixedClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}
	return svc
}

func TestCheckAvailabilityDoesNotMutate(t *testing.T) {
	finds := 0
	variants := &stubVariantRepo{
		findFn: func(_ context.Context, variantID string) (domain.Variant, error) {
			finds++
			return availableVariant(variantID, 3), nil
		},
	}

	svc := newTestInventoryService(t, variants)

	availability, err := svc.CheckAvailability(context.Background(), "var-1", 2)
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if !availability.Available {
		t.Fatal("expected quantity 2 of stock 3 to be available")
	}
	if availability.CurrentStock != 3 {
		t.Fatalf("expected current stock 3, got %d", availability.CurrentStock)
	}
	if finds != 1 {
		t.Fatalf("expected a single read, got %d", finds)
	}

	availability, err = svc.CheckAvailability(context.Background(), "var-1", 4)
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if availability.Available {
		t.Fatal("expected quantity 4 of stock 3 to be unavailable")
	}
}

func TestCheckAvailabilityRespectsForcedStatus(t *testing.T) {
	variants := &stubVariantRepo{
		findFn: func(_ context.Context, variantID string) (domain.Variant, error) {
			v := availableVariant(variantID, 5)
			v.Status = domain.VariantStatusSold
			v.StatusForced = true
			return v, nil
		},
	}

	svc := newTestInventoryService(t, variants)

	availability, err := svc.CheckAvailability(context.Background(), "var-1", 1)
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if availability.Available {
		t.Fatal("expected forced sold variant to be unavailable despite positive stock")
	}
}

func TestReserveDecrementsStock(t *testing.T) {
	var applied repositories.VariantStockAdjustment
	variants := &stubVariantRepo{
		adjustFn: func(_ context.Context, adj repositories.VariantStockAdjustment) (domain.Variant, error) {
			applied = adj
			return availableVariant(adj.VariantID, 1), nil
		},
	}

	svc := newTestInventoryService(t, variants)

	variant, err := svc.Reserve(context.Background(), StockAdjustmentCommand{VariantID: "var-1", Quantity: 2})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if applied.Delta != -2 {
		t.Fatalf("expected delta -2, got %d", applied.Delta)
	}
	if applied.GuardAvailability {
		t.Fatal("plain reserve floors at zero instead of guarding")
	}
	if variant.Stock != 1 {
		t.Fatalf("expected stock 1, got %d", variant.Stock)
	}
}

func TestReleaseIncrementsStock(t *testing.T) {
	var applied repositories.VariantStockAdjustment
	variants := &stubVariantRepo{
		adjustFn: func(_ context.Context, adj repositories.VariantStockAdjustment) (domain.Variant, error) {
			applied = adj
			return availableVariant(adj.VariantID, 3), nil
		},
	}

	svc := newTestInventoryService(t, variants)

	if _, err := svc.Release(context.Background(), StockAdjustmentCommand{VariantID: "var-1", Quantity: 3}); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if applied.Delta != 3 {
		t.Fatalf("expected delta 3, got %d", applied.Delta)
	}
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	svc := newTestInventoryService(t, &stubVariantRepo{})

	_, err := svc.Reserve(context.Background(), StockAdjustmentCommand{VariantID: "var-1", Quantity: 0})
	if !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestReserveMapsVariantNotFound(t *testing.T) {
	variants := &stubVariantRepo{
		adjustFn: func(_ context.Context, adj repositories.VariantStockAdjustment) (domain.Variant, error) {
			return domain.Variant{}, &repositories.InventoryError{
				Code:      repositories.InventoryErrorVariantNotFound,
				Message:   "variant missing",
				VariantID: adj.VariantID,
			}
		},
	}

	svc := newTestInventoryService(t, variants)

	_, err := svc.Reserve(context.Background(), StockAdjustmentCommand{VariantID: "var-9", Quantity: 1})
	if !errors.Is(err, ErrVariantNotFound) {
		t.Fatalf("expected variant not found, got %v", err)
	}
}

func TestForceStatusValidatesTarget(t *testing.T) {
	svc := newTestInventoryService(t, &stubVariantRepo{})

	_, err := svc.ForceStatus(context.Background(), ForceVariantStatusCommand{
		VariantID: "var-1",
		Status:    "discontinued",
		Forced:    true,
	})
	if !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for unknown status, got %v", err)
	}
}

func TestForceStatusAppliesOverride(t *testing.T) {
	variants := &stubVariantRepo{
		setStatusFn: func(_ context.Context, variantID string, status domain.VariantStatus, forced bool, _ time.Time) (domain.Variant, error) {
			v := availableVariant(variantID, 5)
			v.Status = status
			v.StatusForced = forced
			return v, nil
		},
	}

	svc := newTestInventoryService(t, variants)

	variant, err := svc.ForceStatus(context.Background(), ForceVariantStatusCommand{
		VariantID: "var-1",
		Status:    domain.VariantStatusSold,
		Forced:    true,
	})
	if err != nil {
		t.Fatalf("ForceStatus: %v", err)
	}
	if variant.Status != domain.VariantStatusSold || !variant.StatusForced {
		t.Fatalf("expected forced sold, got %+v", variant)
	}
}

func TestClearForcedStatusRederives(t *testing.T) {
	variants := &stubVariantRepo{
		setStatusFn: func(_ context.Context, variantID string, status domain.VariantStatus, forced bool, now time.Time) (domain.Variant, error) {
			v := availableVariant(variantID, 0)
			v.StatusForced = forced
			v.Status = domain.DeriveVariantStatus(v.Stock, forced, status)
			return v, nil
		},
	}

	svc := newTestInventoryService(t, variants)

	variant, err := svc.ForceStatus(context.Background(), ForceVariantStatusCommand{
		VariantID: "var-1",
		Forced:    false,
	})
	if err != nil {
		t.Fatalf("ForceStatus: %v", err)
	}
	if variant.Status != domain.VariantStatusSold {
		t.Fatalf("expected status re-derived to sold at zero stock, got %s", variant.Status)
	}
	if variant.StatusForced {
		t.Fatal("expected override cleared")
	}
}
