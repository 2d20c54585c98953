package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/maisonverte/api/internal/domain"
	"github.com/maisonverte/api/internal/repositories"
)

type stubNotificationRepo struct {
	insertFn   func(ctx context.Context, notification domain.Notification) error
	markReadFn func(ctx context.Context, notificationID string, readAt time.Time) error
	listFn     func(ctx context.Context, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error)
}

func (s *stubNotificationRepo) Insert(ctx context.Context, notification domain.Notification) error {
	if s.insertFn == nil {
		return errors.New("unexpected Insert call")
	}
	return s.insertFn(ctx, notification)
}

func (s *stubNotificationRepo) MarkRead(ctx context.Context, notificationID string, readAt time.Time) error {
	if s.markReadFn == nil {
		return errors.New("unexpected MarkRead call")
	}
	return s.markReadFn(ctx, notificationID, readAt)
}

func (s *stubNotificationRepo) List(ctx context.Context, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.Notification]{}, errors.New("unexpected List call")
	}
	return s.listFn(ctx, filter)
}

type captureEmailPublisher struct {
	messages []EmailMessage
	err      error
}

func (c *captureEmailPublisher) PublishEmail(_ context.Context, message EmailMessage) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.messages = append(c.messages, message)
	return "msg-1", nil
}

func sampleOrder() domain.Order {
	return domain.Order{
		ID:            "ord_1",
		Number:        "ORD-2025-0007",
		CustomerEmail: "claire@example.com",
	}
}

func newTestNotificationService(t *testing.T, deps NotificationServiceDeps) NotificationService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = fixedClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = sequentialIDs("ntf-")
	}
	if deps.AdminEmail == "" {
		deps.AdminEmail = "admin@maisonverte.example"
	}
	svc, err := NewNotificationService(deps)
	if err != nil {
		t.Fatalf("NewNotificationService: %v", err)
	}
	return svc
}

func TestNotifyNewOrderRecordsAndEmails(t *testing.T) {
	var stored []domain.Notification
	repo := &stubNotificationRepo{
		insertFn: func(_ context.Context, n domain.Notification) error {
			stored = append(stored, n)
			return nil
		},
	}
	emails := &captureEmailPublisher{}

	svc := newTestNotificationService(t, NotificationServiceDeps{
		Notifications: repo,
		Emails:        emails,
	})

	err := svc.NotifyOrderEvent(context.Background(), OrderNotification{
		Type:  domain.NotificationNewOrder,
		Order: sampleOrder(),
	})
	if err != nil {
		t.Fatalf("NotifyOrderEvent: %v", err)
	}

	if len(stored) != 1 {
		t.Fatalf("expected one in-app record, got %d", len(stored))
	}
	if stored[0].Type != domain.NotificationNewOrder {
		t.Fatalf("expected new_order record, got %s", stored[0].Type)
	}
	if len(emails.messages) != 2 {
		t.Fatalf("expected customer and admin emails, got %d", len(emails.messages))
	}
	if emails.messages[0].Kind != EmailKindOrderReceived || emails.messages[0].Recipient != "claire@example.com" {
		t.Fatalf("unexpected customer email %+v", emails.messages[0])
	}
	if emails.messages[1].Kind != EmailKindOrderToValidate || emails.messages[1].Recipient != "admin@maisonverte.example" {
		t.Fatalf("unexpected admin email %+v", emails.messages[1])
	}
}

func TestNotifyOrderValidatedSendsPaymentLinkWithoutRecord(t *testing.T) {
	repo := &stubNotificationRepo{} // Insert would fail the test
	emails := &captureEmailPublisher{}

	svc := newTestNotificationService(t, NotificationServiceDeps{
		Notifications: repo,
		Emails:        emails,
	})

	err := svc.NotifyOrderEvent(context.Background(), OrderNotification{
		Type:  domain.NotificationOrderValidated,
		Order: sampleOrder(),
	})
	if err != nil {
		t.Fatalf("NotifyOrderEvent: %v", err)
	}
	if len(emails.messages) != 1 || emails.messages[0].Kind != EmailKindPaymentLink {
		t.Fatalf("expected one payment link email, got %+v", emails.messages)
	}
}

func TestNotifyOrderCancelledIncludesReason(t *testing.T) {
	var stored []domain.Notification
	repo := &stubNotificationRepo{
		insertFn: func(_ context.Context, n domain.Notification) error {
			stored = append(stored, n)
			return nil
		},
	}
	emails := &captureEmailPublisher{}

	svc := newTestNotificationService(t, NotificationServiceDeps{
		Notifications: repo,
		Emails:        emails,
	})

	err := svc.NotifyOrderEvent(context.Background(), OrderNotification{
		Type:   domain.NotificationOrderCancelled,
		Order:  sampleOrder(),
		Reason: "payment link expired",
	})
	if err != nil {
		t.Fatalf("NotifyOrderEvent: %v", err)
	}

	if len(stored) != 1 {
		t.Fatalf("expected one record, got %d", len(stored))
	}
	if !strings.Contains(stored[0].Message, "payment link expired") {
		t.Fatalf("expected reason in record message, got %q", stored[0].Message)
	}
	if len(emails.messages) != 1 || !strings.Contains(emails.messages[0].Body, "payment link expired") {
		t.Fatalf("expected reason in email body, got %+v", emails.messages)
	}
}

func TestNotifyOrderRefusedUsesRefusalTemplate(t *testing.T) {
	var stored []domain.Notification
	repo := &stubNotificationRepo{
		insertFn: func(_ context.Context, n domain.Notification) error {
			stored = append(stored, n)
			return nil
		},
	}
	emails := &captureEmailPublisher{}

	svc := newTestNotificationService(t, NotificationServiceDeps{
		Notifications: repo,
		Emails:        emails,
	})

	err := svc.NotifyOrderEvent(context.Background(), OrderNotification{
		Type:          domain.NotificationOrderCancelled,
		Order:         sampleOrder(),
		Reason:        "out of season",
		EmailTemplate: EmailKindOrderRefused,
	})
	if err != nil {
		t.Fatalf("NotifyOrderEvent: %v", err)
	}

	if len(emails.messages) != 1 || emails.messages[0].Kind != EmailKindOrderRefused {
		t.Fatalf("expected one order_refused email, got %+v", emails.messages)
	}
	if strings.Contains(emails.messages[0].Subject, "cancelled") {
		t.Fatalf("refusal must not reuse the cancellation wording, got %q", emails.messages[0].Subject)
	}
	if len(stored) != 1 || !strings.Contains(stored[0].Title, "refused") {
		t.Fatalf("expected refused in-app record, got %+v", stored)
	}
	if !strings.Contains(stored[0].Message, "out of season") {
		t.Fatalf("expected reason in record message, got %q", stored[0].Message)
	}
}

func TestEmailFailureNeverPropagates(t *testing.T) {
	var stored []domain.Notification
	repo := &stubNotificationRepo{
		insertFn: func(_ context.Context, n domain.Notification) error {
			stored = append(stored, n)
			return nil
		},
	}
	emails := &captureEmailPublisher{err: errors.New("pubsub unavailable")}
	var logged []string

	svc := newTestNotificationService(t, NotificationServiceDeps{
		Notifications: repo,
		Emails:        emails,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})

	err := svc.NotifyOrderEvent(context.Background(), OrderNotification{
		Type:  domain.NotificationPaymentReceived,
		Order: sampleOrder(),
	})
	if err != nil {
		t.Fatalf("expected email failure swallowed, got %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected in-app record despite email failure, got %d", len(stored))
	}

	failures := 0
	for _, event := range logged {
		if event == "notification.email.failed" {
			failures++
		}
	}
	if failures != 2 {
		t.Fatalf("expected both email failures logged, got %d", failures)
	}
}

func TestNotifyUnknownEventRejected(t *testing.T) {
	svc := newTestNotificationService(t, NotificationServiceDeps{
		Notifications: &stubNotificationRepo{},
	})

	err := svc.NotifyOrderEvent(context.Background(), OrderNotification{
		Type:  domain.NotificationType("order_archived"),
		Order: sampleOrder(),
	})
	if err == nil {
		t.Fatal("expected unknown event type to be rejected")
	}
}

func TestRecordRequiresTitle(t *testing.T) {
	svc := newTestNotificationService(t, NotificationServiceDeps{
		Notifications: &stubNotificationRepo{},
	})

	_, err := svc.Record(context.Background(), RecordNotificationCommand{
		Type:    domain.NotificationNewOrder,
		OrderID: "ord_1",
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestMarkReadMapsNotFound(t *testing.T) {
	repo := &stubNotificationRepo{
		markReadFn: func(context.Context, string, time.Time) error {
			return notFoundRepositoryError{}
		},
	}

	svc := newTestNotificationService(t, NotificationServiceDeps{Notifications: repo})

	if err := svc.MarkRead(context.Background(), "ntf_missing"); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("expected notification not found, got %v", err)
	}
}
