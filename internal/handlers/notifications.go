package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/maisonverte/api/internal/domain"
	"github.com/maisonverte/api/internal/platform/httpx"
	"github.com/maisonverte/api/internal/services"
)

// NotificationHandlers exposes the back-office notification inbox.
type NotificationHandlers struct {
	notifications services.NotificationService
}

// NewNotificationHandlers constructs a new NotificationHandlers instance.
func NewNotificationHandlers(notifications services.NotificationService) *NotificationHandlers {
	return &NotificationHandlers{notifications: notifications}
}

// Routes registers the /admin/notifications endpoints.
func (h *NotificationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listNotifications)
	r.Post("/{notificationID}/read", h.markRead)
}

type notificationPayload struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	OrderID   string `json:"order_id,omitempty"`
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

type notificationListResponse struct {
	Items         []notificationPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

func buildNotificationPayload(notification domain.Notification) notificationPayload {
	return notificationPayload{
		ID:        strings.TrimSpace(notification.ID),
		Type:      string(notification.Type),
		OrderID:   strings.TrimSpace(notification.OrderID),
		Title:     strings.TrimSpace(notification.Title),
		Message:   strings.TrimSpace(notification.Message),
		Read:      notification.Read,
		CreatedAt: formatTime(notification.CreatedAt),
	}
}

func (h *NotificationHandlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("notification_service_unavailable", "notification service unavailable", http.StatusServiceUnavailable))
		return
	}

	page, ok := parsePaginationParams(ctx, w, r)
	if !ok {
		return
	}

	unreadOnly := false
	if raw := strings.TrimSpace(r.URL.Query().Get("unread")); raw != "" {
		switch strings.ToLower(raw) {
		case "true", "1":
			unreadOnly = true
		case "false", "0":
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unread must be a boolean", http.StatusBadRequest))
			return
		}
	}

	result, err := h.notifications.List(ctx, services.NotificationListFilter{
		UnreadOnly: unreadOnly,
		Pagination: page,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]notificationPayload, 0, len(result.Items))
	for _, notification := range result.Items {
		items = append(items, buildNotificationPayload(notification))
	}

	writeJSONResponse(w, http.StatusOK, notificationListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(result.NextPageToken),
	})
}

func (h *NotificationHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("notification_service_unavailable", "notification service unavailable", http.StatusServiceUnavailable))
		return
	}

	notificationID := strings.TrimSpace(chi.URLParam(r, "notificationID"))
	if notificationID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "notification id is required", http.StatusBadRequest))
		return
	}

	if err := h.notifications.MarkRead(ctx, notificationID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
