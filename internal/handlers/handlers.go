package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/maisonverte/api/internal/domain"
	"github.com/maisonverte/api/internal/platform/httpx"
	"github.com/maisonverte/api/internal/platform/pagination"
	"github.com/maisonverte/api/internal/services"
)

var errBodyTooLarge = errors.New("request body too large")

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer func() { _ = r.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		}
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func parsePaginationParams(ctx context.Context, w http.ResponseWriter, r *http.Request) (domain.Pagination, bool) {
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return domain.Pagination{}, false
	}
	return domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}, true
}

// writeServiceError maps service sentinels onto the shared HTTP error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var insufficient *services.InsufficientStockError
	if errors.As(err, &insufficient) {
		httpErr := httpx.NewError("insufficient_stock", insufficient.Error(), http.StatusConflict)
		httpErr = httpErr.WithDetails(map[string]any{
			"variant_id": insufficient.VariantID,
			"requested":  insufficient.Requested,
			"available":  insufficient.Available,
		})
		httpx.WriteError(ctx, w, httpErr)
		return
	}

	var transition *services.InvalidTransitionError
	if errors.As(err, &transition) {
		httpErr := httpx.NewError("invalid_transition", transition.Error(), http.StatusConflict)
		httpErr = httpErr.WithDetails(map[string]any{
			"order_id":  transition.OrderID,
			"current":   string(transition.Current),
			"requested": string(transition.Requested),
		})
		httpx.WriteError(ctx, w, httpErr)
		return
	}

	switch {
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", "variant not found", http.StatusNotFound))
	case errors.Is(err, services.ErrNotificationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("notification_not_found", "notification not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentWindowClosed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_window_closed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment gateway unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}

type addressPayload struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	PostalCode string `json:"postal_code"`
	City       string `json:"city"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		FullName:   strings.TrimSpace(addr.FullName),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      strings.TrimSpace(addr.Line2),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		City:       strings.TrimSpace(addr.City),
		Country:    strings.TrimSpace(addr.Country),
		Phone:      strings.TrimSpace(addr.Phone),
	}
}

func addressFromPayload(payload *addressPayload) *domain.Address {
	if payload == nil {
		return nil
	}
	return &domain.Address{
		FullName:   strings.TrimSpace(payload.FullName),
		Line1:      strings.TrimSpace(payload.Line1),
		Line2:      strings.TrimSpace(payload.Line2),
		PostalCode: strings.TrimSpace(payload.PostalCode),
		City:       strings.TrimSpace(payload.City),
		Country:    strings.TrimSpace(payload.Country),
		Phone:      strings.TrimSpace(payload.Phone),
	}
}

type orderLinePayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	VariantID   string `json:"variant_id"`
	ProductName string `json:"product_name"`
	VariantName string `json:"variant_name,omitempty"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	Subtotal    int64  `json:"subtotal"`
}

type orderPayload struct {
	ID                   string             `json:"id"`
	Number               string             `json:"number"`
	Status               string             `json:"status"`
	CustomerEmail        string             `json:"customer_email"`
	CustomerName         string             `json:"customer_name,omitempty"`
	PaymentMethod        string             `json:"payment_method,omitempty"`
	CheckoutID           string             `json:"checkout_id,omitempty"`
	PaymentReference     string             `json:"payment_reference,omitempty"`
	TotalAmount          int64              `json:"total_amount"`
	ShippingCost         *int64             `json:"shipping_cost"`
	Lines                []orderLinePayload `json:"lines"`
	ShippingAddress      *addressPayload    `json:"shipping_address,omitempty"`
	Metadata             map[string]any     `json:"metadata,omitempty"`
	ValidatedAt          string             `json:"validated_at,omitempty"`
	PaymentLinkExpiresAt string             `json:"payment_link_expires_at,omitempty"`
	PaidAt               string             `json:"paid_at,omitempty"`
	ShippedAt            string             `json:"shipped_at,omitempty"`
	DeliveredAt          string             `json:"delivered_at,omitempty"`
	CancelledAt          string             `json:"cancelled_at,omitempty"`
	CreatedAt            string             `json:"created_at"`
	UpdatedAt            string             `json:"updated_at,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:                   strings.TrimSpace(order.ID),
		Number:               strings.TrimSpace(order.Number),
		Status:               string(order.Status),
		CustomerEmail:        strings.TrimSpace(order.CustomerEmail),
		CustomerName:         strings.TrimSpace(order.CustomerName),
		PaymentMethod:        strings.TrimSpace(order.PaymentMethod),
		CheckoutID:           strings.TrimSpace(order.CheckoutID),
		PaymentReference:     strings.TrimSpace(order.PaymentReference),
		TotalAmount:          order.TotalAmount,
		ShippingCost:         order.ShippingCost,
		Lines:                make([]orderLinePayload, 0, len(order.Lines)),
		Metadata:             cloneMap(order.Metadata),
		ValidatedAt:          formatTime(pointerTime(order.ValidatedAt)),
		PaymentLinkExpiresAt: formatTime(pointerTime(order.PaymentLinkExpiresAt)),
		PaidAt:               formatTime(pointerTime(order.PaidAt)),
		ShippedAt:            formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:          formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:          formatTime(pointerTime(order.CancelledAt)),
		CreatedAt:            formatTime(order.CreatedAt),
		UpdatedAt:            formatTime(order.UpdatedAt),
	}

	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ID:          strings.TrimSpace(line.ID),
			ProductID:   strings.TrimSpace(line.ProductID),
			VariantID:   strings.TrimSpace(line.VariantID),
			ProductName: strings.TrimSpace(line.ProductName),
			VariantName: strings.TrimSpace(line.VariantName),
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
			Subtotal:    line.Subtotal(),
		})
	}

	if order.ShippingAddress != nil {
		addr := buildAddressPayload(*order.ShippingAddress)
		payload.ShippingAddress = &addr
	}

	return payload
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	Number        string `json:"number"`
	Status        string `json:"status"`
	CustomerEmail string `json:"customer_email"`
	TotalAmount   int64  `json:"total_amount"`
	CreatedAt     string `json:"created_at"`
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		Number:        strings.TrimSpace(order.Number),
		Status:        string(order.Status),
		CustomerEmail: strings.TrimSpace(order.CustomerEmail),
		TotalAmount:   order.TotalAmount,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}
