package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/maisonverte/api/internal/domain"
	"github.com/maisonverte/api/internal/services"
)

type stubNotificationService struct {
	notifyFn   func(ctx context.Context, event services.OrderNotification) error
	recordFn   func(ctx context.Context, cmd services.RecordNotificationCommand) (domain.Notification, error)
	markReadFn func(ctx context.Context, notificationID string) error
	listFn     func(ctx context.Context, filter services.NotificationListFilter) (domain.CursorPage[domain.Notification], error)
}

func (s *stubNotificationService) NotifyOrderEvent(ctx context.Context, event services.OrderNotification) error {
	if s.notifyFn == nil {
		return errors.New("unexpected NotifyOrderEvent call")
	}
	return s.notifyFn(ctx, event)
}

func (s *stubNotificationService) Record(ctx context.Context, cmd services.RecordNotificationCommand) (domain.Notification, error) {
	if s.recordFn == nil {
		return domain.Notification{}, errors.New("unexpected Record call")
	}
	return s.recordFn(ctx, cmd)
}

func (s *stubNotificationService) MarkRead(ctx context.Context, notificationID string) error {
	if s.markReadFn == nil {
		return errors.New("unexpected MarkRead call")
	}
	return s.markReadFn(ctx, notificationID)
}

func (s *stubNotificationService) List(ctx context.Context, filter services.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.Notification]{}, errors.New("unexpected List call")
	}
	return s.listFn(ctx, filter)
}

func newNotificationRouter(notifications services.NotificationService) chi.Router {
	r := chi.NewRouter()
	NewNotificationHandlers(notifications).Routes(r)
	return r
}

func TestListNotificationsAppliesUnreadFilter(t *testing.T) {
	var captured services.NotificationListFilter
	notifications := &stubNotificationService{
		listFn: func(_ context.Context, filter services.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
			captured = filter
			return domain.CursorPage[domain.Notification]{
				Items: []domain.Notification{
					{
						ID:        "ntf_1",
						Type:      domain.NotificationNewOrder,
						OrderID:   "ord_1",
						Title:     "New order ORD-2025-0007",
						CreatedAt: time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC),
					},
				},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/?unread=true&pageSize=10", nil)
	rr := httptest.NewRecorder()

	newNotificationRouter(notifications).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !captured.UnreadOnly {
		t.Fatalf("expected unread filter to be applied")
	}
	if captured.Pagination.PageSize != 10 {
		t.Fatalf("expected page size 10, got %d", captured.Pagination.PageSize)
	}

	var resp notificationListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Type != string(domain.NotificationNewOrder) {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
}

func TestListNotificationsRejectsBadUnreadFlag(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?unread=maybe", nil)
	rr := httptest.NewRecorder()

	newNotificationRouter(&stubNotificationService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestMarkReadReturnsNoContent(t *testing.T) {
	var captured string
	notifications := &stubNotificationService{
		markReadFn: func(_ context.Context, notificationID string) error {
			captured = notificationID
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/ntf_1/read", nil)
	rr := httptest.NewRecorder()

	newNotificationRouter(notifications).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if captured != "ntf_1" {
		t.Fatalf("unexpected notification id %q", captured)
	}
}

func TestMarkReadMapsNotFound(t *testing.T) {
	notifications := &stubNotificationService{
		markReadFn: func(context.Context, string) error {
			return services.ErrNotificationNotFound
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/ntf_missing/read", nil)
	rr := httptest.NewRecorder()

	newNotificationRouter(notifications).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "notification_not_found")
}
