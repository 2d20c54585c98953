package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/maisonverte/api/internal/domain"
	pfirestore "github.com/maisonverte/api/internal/platform/firestore"
	"github.com/maisonverte/api/internal/repositories"
)

const notificationsCollection = "notifications"

type notificationDocument struct {
	Type      string     `firestore:"type"`
	OrderRef  string     `firestore:"orderRef,omitempty"`
	Title     string     `firestore:"title"`
	Message   string     `firestore:"message"`
	Read      bool       `firestore:"read"`
	ReadAt    *time.Time `firestore:"readAt,omitempty"`
	CreatedAt time.Time  `firestore:"createdAt"`
}

// NotificationRepository implements repositories.NotificationRepository backed by Firestore.
type NotificationRepository struct {
	provider      *pfirestore.Provider
	notifications *pfirestore.BaseRepository[notificationDocument]
}

// NewNotificationRepository constructs a Firestore-backed notification repository.
func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	return &NotificationRepository{
		provider:      provider,
		notifications: pfirestore.NewBaseRepository[notificationDocument](provider, notificationsCollection),
	}, nil
}

// Insert stores a new notification record.
func (r *NotificationRepository) Insert(ctx context.Context, notification domain.Notification) error {
	if r == nil || r.provider == nil {
		return errors.New("notification repository not initialised")
	}
	if strings.TrimSpace(notification.ID) == "" {
		return pfirestore.WrapError("notifications.insert", errors.New("notification id is required"))
	}

	doc := notificationDocument{
		Type:      string(notification.Type),
		Title:     notification.Title,
		Message:   notification.Message,
		Read:      notification.Read,
		CreatedAt: notification.CreatedAt.UTC(),
	}
	if id := strings.TrimSpace(notification.OrderID); id != "" {
		doc.OrderRef = ordersCollection + "/" + id
	}
	return r.notifications.Create(ctx, notification.ID, doc)
}

// MarkRead flags the notification as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, notificationID string, readAt time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("notification repository not initialised")
	}
	id := strings.TrimSpace(notificationID)
	if id == "" {
		return pfirestore.WrapError("notifications.mark_read", errors.New("notification id is required"))
	}

	ref, err := r.notifications.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "read", Value: true},
		{Path: "readAt", Value: readAt.UTC()},
	})
	return pfirestore.WrapError("notifications.mark_read", err)
}

// List returns notifications newest first with cursor pagination.
func (r *NotificationRepository) List(ctx context.Context, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Notification]{}, errors.New("notification repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = 50
	}
	fetchLimit := limit + 1

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		ts, docID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Notification]{}, pfirestore.WrapError("notifications.list", fmt.Errorf("invalid page token: %w", err))
		}
		startAfter = []any{ts, docID}
	}

	docs, err := r.notifications.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.UnreadOnly {
			q = q.Where("read", "==", false)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(fetchLimit)
	})
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, err
	}

	nextToken := ""
	if len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeOrderListToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Notification, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.Notification{
			ID:        doc.ID,
			Type:      domain.NotificationType(doc.Data.Type),
			OrderID:   refID(doc.Data.OrderRef),
			Title:     doc.Data.Title,
			Message:   doc.Data.Message,
			Read:      doc.Data.Read,
			CreatedAt: doc.Data.CreatedAt,
		})
	}
	return domain.CursorPage[domain.Notification]{Items: items, NextPageToken: nextToken}, nil
}
