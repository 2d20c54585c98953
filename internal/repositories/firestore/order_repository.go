package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/maisonverte/api/internal/domain"
	pfirestore "github.com/maisonverte/api/internal/platform/firestore"
	"github.com/maisonverte/api/internal/repositories"
)

const (
	ordersCollection = "orders"

	maxStatusFilters = 10
)

type orderLineDocument struct {
	ID          string `firestore:"id"`
	ProductRef  string `firestore:"productRef"`
	VariantRef  string `firestore:"variantRef"`
	ProductName string `firestore:"productName"`
	VariantName string `firestore:"variantName"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Quantity    int    `firestore:"quantity"`
}

type orderAddressDocument struct {
	FullName   string `firestore:"fullName"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	PostalCode string `firestore:"postalCode"`
	City       string `firestore:"city"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type orderDocument struct {
	Number            string                `firestore:"number"`
	Status            string                `firestore:"status"`
	CustomerEmail     string                `firestore:"customerEmail"`
	CustomerName      string                `firestore:"customerName"`
	PaymentMethod     string                `firestore:"paymentMethod,omitempty"`
	CheckoutID        string                `firestore:"checkoutId,omitempty"`
	CheckoutReference string                `firestore:"checkoutReference,omitempty"`
	PaymentReference  string                `firestore:"paymentReference,omitempty"`
	TotalAmount       int64                 `firestore:"totalAmount"`
	ShippingCost      *int64                `firestore:"shippingCost,omitempty"`
	Lines             []orderLineDocument   `firestore:"lines"`
	ShippingAddress   *orderAddressDocument `firestore:"shippingAddress,omitempty"`
	InternalNotes     string                `firestore:"internalNotes,omitempty"`
	Metadata          map[string]any        `firestore:"metadata"`

	ValidatedAt          *time.Time `firestore:"validatedAt,omitempty"`
	PaymentLinkExpiresAt *time.Time `firestore:"paymentLinkExpiresAt,omitempty"`
	PaidAt               *time.Time `firestore:"paidAt,omitempty"`
	ShippedAt            *time.Time `firestore:"shippedAt,omitempty"`
	DeliveredAt          *time.Time `firestore:"deliveredAt,omitempty"`
	CancelledAt          *time.Time `firestore:"cancelledAt,omitempty"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
	}, nil
}

// Insert persists a new order, failing when the document already exists.
// Inside a unit of work the write joins the surrounding transaction, so the
// number allocation and the stock reservations commit with it.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return pfirestore.WrapError("orders.insert", errors.New("order id is required"))
	}
	return r.orders.Create(ctx, order.ID, encodeOrderDocument(order))
}

// Update overwrites the stored aggregate.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return pfirestore.WrapError("orders.update", errors.New("order id is required"))
	}
	return r.orders.Set(ctx, order.ID, encodeOrderDocument(order))
}

// FindByID fetches one order. Inside a unit of work the read joins the
// surrounding transaction.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, pfirestore.WrapError("orders.find", errors.New("order id is required"))
	}

	doc, err := r.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data), nil
}

// FindByCheckoutReference resolves the order a payment webhook points at.
func (r *OrderRepository) FindByCheckoutReference(ctx context.Context, reference string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_checkout_reference", errors.New("checkout reference is required"))
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("checkoutReference", "==", ref).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_checkout_reference",
			status.Errorf(codes.NotFound, "no order for checkout reference %s", ref))
	}
	return decodeOrderDocument(docs[0].ID, docs[0].Data), nil
}

// List returns orders newest first, optionally narrowed by status, with
// cursor pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = 20
	}
	fetchLimit := limit + 1

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		ts, docID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", fmt.Errorf("invalid page token: %w", err))
		}
		startAfter = []any{ts, docID}
	}

	statuses := normalizeOrderStatusFilters(filter.Status)

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(fetchLimit)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeOrderListToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

// ListExpiredAwaitingPayment returns orders whose payment window closed before
// the cutoff, oldest expiry first.
func (r *OrderRepository) ListExpiredAwaitingPayment(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("status", "==", string(domain.OrderStatusAwaitingPayment)).
			Where("paymentLinkExpiresAt", "<", cutoff.UTC()).
			OrderBy("paymentLinkExpiresAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrderDocument(doc.ID, doc.Data))
	}
	return orders, nil
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		Number:            strings.TrimSpace(order.Number),
		Status:            string(order.Status),
		CustomerEmail:     strings.TrimSpace(order.CustomerEmail),
		CustomerName:      strings.TrimSpace(order.CustomerName),
		PaymentMethod:     strings.TrimSpace(order.PaymentMethod),
		CheckoutID:        strings.TrimSpace(order.CheckoutID),
		CheckoutReference: strings.TrimSpace(order.CheckoutReference),
		PaymentReference:  strings.TrimSpace(order.PaymentReference),
		TotalAmount:       order.TotalAmount,
		ShippingCost:      cloneInt64Pointer(order.ShippingCost),
		InternalNotes:     order.InternalNotes,
		Metadata:          cloneMap(order.Metadata),

		ValidatedAt:          normalizeTimePointer(order.ValidatedAt),
		PaymentLinkExpiresAt: normalizeTimePointer(order.PaymentLinkExpiresAt),
		PaidAt:               normalizeTimePointer(order.PaidAt),
		ShippedAt:            normalizeTimePointer(order.ShippedAt),
		DeliveredAt:          normalizeTimePointer(order.DeliveredAt),
		CancelledAt:          normalizeTimePointer(order.CancelledAt),

		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}

	doc.Lines = make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		doc.Lines = append(doc.Lines, orderLineDocument{
			ID:          line.ID,
			ProductRef:  productDocPath(line.ProductID),
			VariantRef:  variantDocPath(line.VariantID),
			ProductName: line.ProductName,
			VariantName: line.VariantName,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
		})
	}

	if order.ShippingAddress != nil {
		doc.ShippingAddress = &orderAddressDocument{
			FullName:   order.ShippingAddress.FullName,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			PostalCode: order.ShippingAddress.PostalCode,
			City:       order.ShippingAddress.City,
			Country:    order.ShippingAddress.Country,
			Phone:      order.ShippingAddress.Phone,
		}
	}
	return doc
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:                id,
		Number:            doc.Number,
		Status:            domain.OrderStatus(doc.Status),
		CustomerEmail:     doc.CustomerEmail,
		CustomerName:      doc.CustomerName,
		PaymentMethod:     doc.PaymentMethod,
		CheckoutID:        doc.CheckoutID,
		CheckoutReference: doc.CheckoutReference,
		PaymentReference:  doc.PaymentReference,
		TotalAmount:       doc.TotalAmount,
		ShippingCost:      cloneInt64Pointer(doc.ShippingCost),
		InternalNotes:     doc.InternalNotes,
		Metadata:          cloneMap(doc.Metadata),

		ValidatedAt:          cloneTimePointer(doc.ValidatedAt),
		PaymentLinkExpiresAt: cloneTimePointer(doc.PaymentLinkExpiresAt),
		PaidAt:               cloneTimePointer(doc.PaidAt),
		ShippedAt:            cloneTimePointer(doc.ShippedAt),
		DeliveredAt:          cloneTimePointer(doc.DeliveredAt),
		CancelledAt:          cloneTimePointer(doc.CancelledAt),

		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}

	order.Lines = make([]domain.OrderLineItem, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		order.Lines = append(order.Lines, domain.OrderLineItem{
			ID:          line.ID,
			ProductID:   refID(line.ProductRef),
			VariantID:   refID(line.VariantRef),
			ProductName: line.ProductName,
			VariantName: line.VariantName,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
		})
	}

	if doc.ShippingAddress != nil {
		order.ShippingAddress = &domain.Address{
			FullName:   doc.ShippingAddress.FullName,
			Line1:      doc.ShippingAddress.Line1,
			Line2:      doc.ShippingAddress.Line2,
			PostalCode: doc.ShippingAddress.PostalCode,
			City:       doc.ShippingAddress.City,
			Country:    doc.ShippingAddress.Country,
			Phone:      doc.ShippingAddress.Phone,
		}
	}
	return order
}

func normalizeOrderStatusFilters(statuses []domain.OrderStatus) []string {
	if len(statuses) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(statuses))
	seen := make(map[string]struct{})
	for _, status := range statuses {
		trimmed := strings.ToLower(strings.TrimSpace(string(status)))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	if len(normalized) > maxStatusFilters {
		normalized = normalized[:maxStatusFilters]
	}
	return normalized
}

func encodeOrderListToken(createdAt time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}

func variantDocPath(variantID string) string {
	id := strings.TrimSpace(variantID)
	if id == "" {
		return ""
	}
	return variantsCollection + "/" + id
}
