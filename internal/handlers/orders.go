package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maisonverte/api/internal/platform/httpx"
	"github.com/maisonverte/api/internal/services"
)

const (
	maxOrderBodySize       = 64 * 1024
	maxOrderCancelBodySize = 4 * 1024
)

// OrderHandlers exposes the customer-facing order endpoints.
type OrderHandlers struct {
	orders       services.OrderService
	checkout     services.CheckoutService
	createGuards []func(http.Handler) http.Handler
}

// OrderOption customises the order handlers.
type OrderOption func(*OrderHandlers)

// WithCreateOrderMiddleware wraps the order creation route only. Used for the
// idempotency guard, which the other routes do not need because their
// transitions are idempotent in the service layer.
func WithCreateOrderMiddleware(mw ...func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) {
		h.createGuards = append(h.createGuards, mw...)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, checkout services.CheckoutService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		orders:   orders,
		checkout: checkout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(h.createGuards...).Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Post("/{orderID}/checkout", h.createCheckout)
	r.Post("/{orderID}/verify-payment", h.verifyPayment)
}

type createOrderLineRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	CustomerEmail   string                   `json:"customer_email"`
	CustomerName    string                   `json:"customer_name"`
	Lines           []createOrderLineRequest `json:"lines"`
	ShippingAddress *addressPayload          `json:"shipping_address"`
	PaymentMethod   string                   `json:"payment_method"`
	Metadata        map[string]any           `json:"metadata"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type checkoutResponse struct {
	Order       orderPayload `json:"order"`
	CheckoutID  string       `json:"checkout_id"`
	CheckoutURL string       `json:"checkout_url"`
	ExpiresAt   string       `json:"expires_at,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	lines := make([]services.CreateOrderLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.CreateOrderLine{
			ProductID: strings.TrimSpace(line.ProductID),
			VariantID: strings.TrimSpace(line.VariantID),
			Quantity:  line.Quantity,
		})
	}

	cmd := services.CreateOrderCommand{
		CustomerEmail:   strings.TrimSpace(req.CustomerEmail),
		CustomerName:    strings.TrimSpace(req.CustomerName),
		Lines:           lines,
		ShippingAddress: addressFromPayload(req.ShippingAddress),
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		Metadata:        cloneMap(req.Metadata),
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderCancelBodySize, &req) {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	checkout, err := h.checkout.CreateCheckout(ctx, services.CreateCheckoutCommand{OrderID: orderID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutResponse{
		Order:       buildOrderPayload(checkout.Order),
		CheckoutID:  checkout.CheckoutID,
		CheckoutURL: checkout.CheckoutURL,
		ExpiresAt:   formatTime(checkout.ExpiresAt),
	})
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	order, err := h.checkout.VerifyPayment(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func requireOrderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}
