package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maisonverte/api/internal/platform/httpx"
	"github.com/maisonverte/api/internal/services"
)

// AdminExpirationHandlers exposes a manual trigger for the payment-window
// sweep, alongside the ticker in main.
type AdminExpirationHandlers struct {
	expiration services.ExpirationService
}

// NewAdminExpirationHandlers constructs a new AdminExpirationHandlers instance.
func NewAdminExpirationHandlers(expiration services.ExpirationService) *AdminExpirationHandlers {
	return &AdminExpirationHandlers{expiration: expiration}
}

// Routes registers the /admin/expiration endpoints.
func (h *AdminExpirationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sweep", h.sweep)
}

type sweepResponse struct {
	Scanned   int `json:"scanned"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (h *AdminExpirationHandlers) sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.expiration == nil {
		httpx.WriteError(ctx, w, httpx.NewError("expiration_service_unavailable", "expiration service unavailable", http.StatusServiceUnavailable))
		return
	}

	result, err := h.expiration.Sweep(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, sweepResponse{
		Scanned:   result.Scanned,
		Cancelled: result.Cancelled,
		Skipped:   result.Skipped,
		Failed:    result.Failed,
	})
}
