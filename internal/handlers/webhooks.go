package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maisonverte/api/internal/platform/httpx"
	"github.com/maisonverte/api/internal/services"
)

const maxWebhookBodySize = 16 * 1024

// WebhookHandlers receives payment gateway callbacks.
type WebhookHandlers struct {
	checkout services.CheckoutService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(checkout services.CheckoutService) *WebhookHandlers {
	return &WebhookHandlers{checkout: checkout}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment", h.paymentWebhook)
}

type paymentWebhookRequest struct {
	Status            string `json:"status"`
	CheckoutReference string `json:"checkout_reference"`
}

func (h *WebhookHandlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req paymentWebhookRequest
	if !decodeJSONBody(ctx, w, r, maxWebhookBodySize, &req) {
		return
	}

	err := h.checkout.HandlePaymentWebhook(ctx, services.PaymentWebhookCommand{
		Status:            strings.TrimSpace(req.Status),
		CheckoutReference: strings.TrimSpace(req.CheckoutReference),
	})
	if err != nil {
		// Unknown references return 404 so the gateway stops retrying a
		// callback this service can never apply.
		if errors.Is(err, services.ErrOrderNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "no order for checkout reference", http.StatusNotFound))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}
