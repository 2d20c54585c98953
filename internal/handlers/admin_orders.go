package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/maisonverte/api/internal/domain"
	"github.com/maisonverte/api/internal/platform/httpx"
	"github.com/maisonverte/api/internal/services"
)

const maxAdminOrderBodySize = 8 * 1024

// AdminOrderHandlers exposes the back-office order workflow endpoints.
type AdminOrderHandlers struct {
	orders services.OrderService
}

// NewAdminOrderHandlers constructs a new AdminOrderHandlers instance.
func NewAdminOrderHandlers(orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{orders: orders}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/validate", h.validateOrder)
	r.Post("/{orderID}/refuse", h.refuseOrder)
	r.Post("/{orderID}/paid", h.markPaid)
	r.Post("/{orderID}/status", h.updateStatus)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type validateOrderRequest struct {
	ShippingCost *int64 `json:"shipping_cost"`
	ActorID      string `json:"actor_id"`
}

type refuseOrderRequest struct {
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

type markPaidRequest struct {
	PaymentReference string `json:"payment_reference"`
	ActorID          string `json:"actor_id"`
}

type updateStatusRequest struct {
	Status  string `json:"status"`
	ActorID string `json:"actor_id"`
}

type adminCancelOrderRequest struct {
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	page, ok := parsePaginationParams(ctx, w, r)
	if !ok {
		return
	}

	var statuses []domain.OrderStatus
	for _, raw := range r.URL.Query()["status"] {
		for _, value := range strings.Split(raw, ",") {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			status, valid := domain.ParseOrderStatus(value)
			if !valid {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
				return
			}
			statuses = append(statuses, status)
		}
	}

	result, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		Status:     statuses,
		Pagination: page,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(result.Items))
	for _, order := range result.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(result.NextPageToken),
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) validateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	var req validateOrderRequest
	if !decodeJSONBody(ctx, w, r, maxAdminOrderBodySize, &req) {
		return
	}
	if req.ShippingCost == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipping_cost is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Validate(ctx, services.ValidateOrderCommand{
		OrderID:      orderID,
		ShippingCost: *req.ShippingCost,
		ActorID:      strings.TrimSpace(req.ActorID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) refuseOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	var req refuseOrderRequest
	if !decodeJSONBody(ctx, w, r, maxAdminOrderBodySize, &req) {
		return
	}

	order, err := h.orders.Refuse(ctx, services.RefuseOrderCommand{
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
		ActorID: strings.TrimSpace(req.ActorID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) markPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	var req markPaidRequest
	if !decodeJSONBody(ctx, w, r, maxAdminOrderBodySize, &req) {
		return
	}

	order, err := h.orders.MarkPaid(ctx, services.MarkOrderPaidCommand{
		OrderID:          orderID,
		PaymentReference: strings.TrimSpace(req.PaymentReference),
		ActorID:          strings.TrimSpace(req.ActorID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if !decodeJSONBody(ctx, w, r, maxAdminOrderBodySize, &req) {
		return
	}

	status, valid := domain.ParseOrderStatus(req.Status)
	if !valid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: status,
		ActorID:      strings.TrimSpace(req.ActorID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	var req adminCancelOrderRequest
	if !decodeJSONBody(ctx, w, r, maxAdminOrderBodySize, &req) {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
		ActorID: strings.TrimSpace(req.ActorID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
