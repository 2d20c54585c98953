package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/maisonverte/api/internal/domain"
	"github.com/maisonverte/api/internal/services"
)

func newAdminOrderRouter(orders services.OrderService) chi.Router {
	r := chi.NewRouter()
	NewAdminOrderHandlers(orders).Routes(r)
	return r
}

func TestAdminListOrdersFiltersByStatus(t *testing.T) {
	var captured services.OrderListFilter
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			captured = filter
			return domain.CursorPage[domain.Order]{
				Items:         []domain.Order{sampleOrder()},
				NextPageToken: "cursor-2",
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/?status=pending_validation,paid&pageSize=2", nil)
	rr := httptest.NewRecorder()

	newAdminOrderRouter(orders).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusPendingValidation || captured.Status[1] != domain.OrderStatusPaid {
		t.Fatalf("unexpected status filter %+v", captured.Status)
	}
	if captured.Pagination.PageSize != 2 {
		t.Fatalf("expected page size 2, got %d", captured.Pagination.PageSize)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Number != "ORD-2025-0007" {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
	if resp.NextPageToken != "cursor-2" {
		t.Fatalf("expected next page token, got %q", resp.NextPageToken)
	}
}

func TestAdminListOrdersRejectsUnknownStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?status=draft", nil)
	rr := httptest.NewRecorder()

	newAdminOrderRouter(&stubOrderService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminListOrdersRejectsInvalidPageSize(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?pageSize=-3", nil)
	rr := httptest.NewRecorder()

	newAdminOrderRouter(&stubOrderService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminValidateRequiresShippingCost(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/ord_1/validate", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	newAdminOrderRouter(&stubOrderService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminValidatePassesShippingCost(t *testing.T) {
	var captured services.ValidateOrderCommand
	orders := &stubOrderService{
		validateFn: func(_ context.Context, cmd services.ValidateOrderCommand) (domain.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusAwaitingPayment
			return order, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/ord_1/validate", bytes.NewBufferString(`{"shipping_cost":500,"actor_id":"admin-1"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	newAdminOrderRouter(orders).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.ShippingCost != 500 || captured.ActorID != "admin-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestAdminValidateAcceptsFreeShipping(t *testing.T) {
	var captured services.ValidateOrderCommand
	orders := &stubOrderService{
		validateFn: func(_ context.Context, cmd services.ValidateOrderCommand) (domain.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/ord_1/validate", bytes.NewBufferString(`{"shipping_cost":0}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	newAdminOrderRouter(orders).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ShippingCost != 0 {
		t.Fatalf("expected zero shipping cost, got %d", captured.ShippingCost)
	}
}

func TestAdminRefusePassesReason(t *testing.T) {
	var captured services.RefuseOrderCommand
	orders := &stubOrderService{
		refuseFn: func(_ context.Context, cmd services.RefuseOrderCommand) (domain.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/ord_1/refuse", bytes.NewBufferString(`{"reason":"out of season"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	newAdminOrderRouter(orders).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Reason != "out of season" {
		t.Fatalf("unexpected reason %q", captured.Reason)
	}
}

func TestAdminMarkPaidMapsInvalidTransition(t *testing.T) {
	orders := &stubOrderService{
		markPaidFn: func(context.Context, services.MarkOrderPaidCommand) (domain.Order, error) {
			return domain.Order{}, &services.InvalidTransitionError{
				OrderID:   "ord_1",
				Current:   domain.OrderStatusPendingValidation,
				Requested: domain.OrderStatusPaid,
			}
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/ord_1/paid", bytes.NewBufferString(`{"payment_reference":"wire-42"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	newAdminOrderRouter(orders).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "invalid_transition")
}

func TestAdminMarkPaidPassesReference(t *testing.T) {
	var captured services.MarkOrderPaidCommand
	orders := &stubOrderService{
		markPaidFn: func(_ context.Context, cmd services.MarkOrderPaidCommand) (domain.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusPaid
			return order, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/ord_1/paid", bytes.NewBufferString(`{"payment_reference":"wire-42","actor_id":"admin-1"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	newAdminOrderRouter(orders).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.PaymentReference != "wire-42" || captured.ActorID != "admin-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestAdminUpdateStatusRejectsUnknownStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/ord_1/status", bytes.NewBufferString(`{"status":"archived"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	newAdminOrderRouter(&stubOrderService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminUpdateStatusPassesTarget(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	orders := &stubOrderService{
		updateStatusFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (domain.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusPreparing
			return order, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/ord_1/status", bytes.NewBufferString(`{"status":"preparing"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	newAdminOrderRouter(orders).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.TargetStatus != domain.OrderStatusPreparing {
		t.Fatalf("unexpected target status %q", captured.TargetStatus)
	}
}

func TestAdminCancelReturnsCancelledOrder(t *testing.T) {
	orders := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
			if cmd.OrderID != "ord_1" {
				t.Fatalf("unexpected order id %q", cmd.OrderID)
			}
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/ord_1/cancel", bytes.NewBufferString(`{"reason":"customer request"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	newAdminOrderRouter(orders).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusCancelled) {
		t.Fatalf("expected cancelled status, got %q", resp.Order.Status)
	}
}
