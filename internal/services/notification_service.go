package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/maisonverte/api/internal/domain"
	"github.com/maisonverte/api/internal/repositories"
)

const notificationIDPrefix = "ntf_"

// ErrNotificationNotFound indicates the notification could not be located.
var ErrNotificationNotFound = errors.New("notification: not found")

// EmailKind selects the outbound message template.
type EmailKind string

const (
	EmailKindOrderReceived   EmailKind = "order_received"
	EmailKindOrderToValidate EmailKind = "order_to_validate"
	EmailKindPaymentLink     EmailKind = "payment_link"
	EmailKindPaymentReceived EmailKind = "payment_received"
	EmailKindPrepareShipment EmailKind = "prepare_shipment"
	EmailKindOrderCancelled  EmailKind = "order_cancelled"
	EmailKindOrderRefused    EmailKind = "order_refused"
)

// EmailMessage is the structured payload handed to the email transport.
type EmailMessage struct {
	Kind        EmailKind `json:"kind"`
	Recipient   string    `json:"recipient"`
	Sender      string    `json:"sender,omitempty"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
}

// EmailPublisher hands messages to the outbound email transport. Delivery is
// asynchronous; the publisher only acknowledges the enqueue.
type EmailPublisher interface {
	PublishEmail(ctx context.Context, message EmailMessage) (string, error)
}

// NotificationServiceDeps bundles collaborators required to construct the notification service.
type NotificationServiceDeps struct {
	Notifications repositories.NotificationRepository
	Emails        EmailPublisher
	AdminEmail    string
	SenderEmail   string
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	notifications repositories.NotificationRepository
	emails        EmailPublisher
	adminEmail    string
	senderEmail   string
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewNotificationService wires dependencies into a concrete NotificationService
// implementation. The returned service also satisfies OrderNotifier.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Notifications == nil {
		return nil, errors.New("notification service: notification repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationService{
		notifications: deps.Notifications,
		emails:        deps.Emails,
		adminEmail:    strings.TrimSpace(deps.AdminEmail),
		senderEmail:   strings.TrimSpace(deps.SenderEmail),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Record stores one in-app notification.
func (s *notificationService) Record(ctx context.Context, cmd RecordNotificationCommand) (domain.Notification, error) {
	title := strings.TrimSpace(cmd.Title)
	if title == "" {
		return domain.Notification{}, fmt.Errorf("%w: notification title is required", ErrOrderInvalidInput)
	}

	notification := domain.Notification{
		ID:        notificationIDPrefix + s.newID(),
		Type:      cmd.Type,
		OrderID:   strings.TrimSpace(cmd.OrderID),
		Title:     title,
		Message:   strings.TrimSpace(cmd.Message),
		CreatedAt: s.clock(),
	}

	if err := s.notifications.Insert(ctx, notification); err != nil {
		return domain.Notification{}, s.mapRepositoryError(err)
	}
	return notification, nil
}

// MarkRead flags a notification as read.
func (s *notificationService) MarkRead(ctx context.Context, notificationID string) error {
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return fmt.Errorf("%w: notification id is required", ErrOrderInvalidInput)
	}
	if err := s.notifications.MarkRead(ctx, notificationID, s.clock()); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// List returns notifications newest first.
func (s *notificationService) List(ctx context.Context, filter NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
	page, err := s.notifications.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// NotifyOrderEvent translates one workflow transition into its in-app record
// and outbound emails. At most one record per event; email enqueue failures
// are logged and never returned, so a slow transport cannot be mistaken for a
// transition failure.
func (s *notificationService) NotifyOrderEvent(ctx context.Context, event OrderNotification) error {
	order := event.Order

	switch event.Type {
	case domain.NotificationNewOrder:
		s.sendEmail(ctx, EmailKindOrderReceived, order.CustomerEmail, order,
			"We received your order "+order.Number,
			"Your order is awaiting review. We will confirm it shortly.")
		s.sendEmail(ctx, EmailKindOrderToValidate, s.adminEmail, order,
			"New order "+order.Number+" to validate",
			fmt.Sprintf("Order %s from %s awaits validation.", order.Number, order.CustomerEmail))
		_, err := s.Record(ctx, RecordNotificationCommand{
			Type:    event.Type,
			OrderID: order.ID,
			Title:   "New order " + order.Number,
			Message: fmt.Sprintf("Order %s from %s awaits validation.", order.Number, order.CustomerEmail),
		})
		return err

	case domain.NotificationOrderValidated:
		// Email-only event: the customer gets the payment link, nothing is
		// stored in-app.
		s.sendEmail(ctx, EmailKindPaymentLink, order.CustomerEmail, order,
			"Your order "+order.Number+" is confirmed",
			"Your order has been validated. Follow your payment link to complete the purchase.")
		return nil

	case domain.NotificationPaymentReceived:
		s.sendEmail(ctx, EmailKindPaymentReceived, order.CustomerEmail, order,
			"Payment received for order "+order.Number,
			"Thank you, your payment is confirmed. Your order is being prepared.")
		s.sendEmail(ctx, EmailKindPrepareShipment, s.adminEmail, order,
			"Payment received for "+order.Number,
			fmt.Sprintf("Order %s is paid. Prepare the shipment.", order.Number))
		_, err := s.Record(ctx, RecordNotificationCommand{
			Type:    event.Type,
			OrderID: order.ID,
			Title:   "Payment received for " + order.Number,
			Message: fmt.Sprintf("Order %s is paid. Prepare the shipment.", order.Number),
		})
		return err

	case domain.NotificationOrderCancelled:
		if event.EmailTemplate == EmailKindOrderRefused {
			message := "Order " + order.Number + " was refused."
			if reason := strings.TrimSpace(event.Reason); reason != "" {
				message = fmt.Sprintf("Order %s was refused: %s", order.Number, reason)
			}
			s.sendEmail(ctx, EmailKindOrderRefused, order.CustomerEmail, order,
				"Your order "+order.Number+" could not be accepted",
				"We are sorry, we cannot fulfil your order "+order.Number+" at this time. You have not been charged.")
			_, err := s.Record(ctx, RecordNotificationCommand{
				Type:    event.Type,
				OrderID: order.ID,
				Title:   "Order " + order.Number + " refused",
				Message: message,
			})
			return err
		}

		message := "Order " + order.Number + " was cancelled."
		if reason := strings.TrimSpace(event.Reason); reason != "" {
			message = fmt.Sprintf("Order %s was cancelled: %s", order.Number, reason)
		}
		s.sendEmail(ctx, EmailKindOrderCancelled, order.CustomerEmail, order,
			"Your order "+order.Number+" was cancelled", message)
		_, err := s.Record(ctx, RecordNotificationCommand{
			Type:    event.Type,
			OrderID: order.ID,
			Title:   "Order " + order.Number + " cancelled",
			Message: message,
		})
		return err
	}

	return fmt.Errorf("notification: unknown event type %q", event.Type)
}

func (s *notificationService) sendEmail(ctx context.Context, kind EmailKind, recipient string, order domain.Order, subject, body string) {
	if s.emails == nil {
		return
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return
	}

	id, err := s.emails.PublishEmail(ctx, EmailMessage{
		Kind:        kind,
		Recipient:   recipient,
		Sender:      s.senderEmail,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Subject:     subject,
		Body:        body,
	})
	if err != nil {
		s.logger(ctx, "notification.email.failed", map[string]any{
			"kind":      string(kind),
			"order":     order.ID,
			"recipient": recipient,
			"error":     err.Error(),
		})
		return
	}
	s.logger(ctx, "notification.email.enqueued", map[string]any{
		"kind":      string(kind),
		"order":     order.ID,
		"messageId": id,
	})
}

func (s *notificationService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrNotificationNotFound, err)
	}
	return err
}
