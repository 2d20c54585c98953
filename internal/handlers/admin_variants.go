package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/maisonverte/api/internal/domain"
	"github.com/maisonverte/api/internal/platform/httpx"
	"github.com/maisonverte/api/internal/services"
)

const maxVariantBodySize = 4 * 1024

// AdminVariantHandlers exposes the inventory override endpoints.
type AdminVariantHandlers struct {
	inventory services.InventoryService
}

// NewAdminVariantHandlers constructs a new AdminVariantHandlers instance.
func NewAdminVariantHandlers(inventory services.InventoryService) *AdminVariantHandlers {
	return &AdminVariantHandlers{inventory: inventory}
}

// Routes registers the /admin/variants endpoints.
func (h *AdminVariantHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{variantID}/availability", h.checkAvailability)
	r.Post("/{variantID}/status", h.forceStatus)
}

type forceStatusRequest struct {
	Status  string `json:"status"`
	Forced  *bool  `json:"forced"`
	ActorID string `json:"actor_id"`
}

type variantPayload struct {
	ID           string `json:"id"`
	ProductID    string `json:"product_id"`
	Name         string `json:"name,omitempty"`
	Stock        int    `json:"stock"`
	Status       string `json:"status"`
	StatusForced bool   `json:"status_forced"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

type variantResponse struct {
	Variant variantPayload `json:"variant"`
}

type availabilityResponse struct {
	VariantID    string `json:"variant_id"`
	Requested    int    `json:"requested"`
	Available    bool   `json:"available"`
	CurrentStock int    `json:"current_stock"`
}

func buildVariantPayload(variant domain.Variant) variantPayload {
	return variantPayload{
		ID:           strings.TrimSpace(variant.ID),
		ProductID:    strings.TrimSpace(variant.ProductID),
		Name:         strings.TrimSpace(variant.Name),
		Stock:        variant.Stock,
		Status:       string(variant.Status),
		StatusForced: variant.StatusForced,
		UpdatedAt:    formatTime(variant.UpdatedAt),
	}
}

func (h *AdminVariantHandlers) checkAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	variantID, ok := requireVariantID(w, r)
	if !ok {
		return
	}

	quantity := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("quantity")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity must be a positive integer", http.StatusBadRequest))
			return
		}
		quantity = parsed
	}

	availability, err := h.inventory.CheckAvailability(ctx, variantID, quantity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, availabilityResponse{
		VariantID:    availability.VariantID,
		Requested:    availability.Requested,
		Available:    availability.Available,
		CurrentStock: availability.CurrentStock,
	})
}

func (h *AdminVariantHandlers) forceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	variantID, ok := requireVariantID(w, r)
	if !ok {
		return
	}

	var req forceStatusRequest
	if !decodeJSONBody(ctx, w, r, maxVariantBodySize, &req) {
		return
	}

	status, valid := domain.ParseVariantStatus(req.Status)
	if !valid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid variant status", http.StatusBadRequest))
		return
	}

	forced := true
	if req.Forced != nil {
		forced = *req.Forced
	}

	variant, err := h.inventory.ForceStatus(ctx, services.ForceVariantStatusCommand{
		VariantID: variantID,
		Status:    status,
		Forced:    forced,
		ActorID:   strings.TrimSpace(req.ActorID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, variantResponse{Variant: buildVariantPayload(variant)})
}

func requireVariantID(w http.ResponseWriter, r *http.Request) (string, bool) {
	variantID := strings.TrimSpace(chi.URLParam(r, "variantID"))
	if variantID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "variant id is required", http.StatusBadRequest))
		return "", false
	}
	return variantID, true
}
