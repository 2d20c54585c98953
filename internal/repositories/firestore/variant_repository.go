package firestore

import (
	"context"
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

const variantsCollection = "variants"

type variantDocument struct {
	ProductRef   string    `firestore:"productRef"`
	Name         string    `firestore:"name"`
	Stock        int       `firestore:"stock"`
	Status       string    `firestore:"status"`
	StatusForced bool      `firestore:"statusForced"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// recalculate keeps the cached status projection in lockstep with the stock
// count. Every stock mutation funnels through here.
func (d *variantDocument) recalculate() {
	d.Status = string(domain.DeriveVariantStatus(d.Stock, d.StatusForced, domain.VariantStatus(d.Status)))
}

func (d variantDocument) toDomain(id string) domain.Variant {
	return domain.Variant{
		ID:           id,
		ProductID:    refID(d.ProductRef),
		Name:         d.Name,
		Stock:        d.Stock,
		Status:       domain.VariantStatus(d.Status),
		StatusForced: d.StatusForced,
		UpdatedAt:    d.UpdatedAt,
	}
}

// VariantRepository implements repositories.VariantRepository backed by Firestore.
type VariantRepository struct {
	provider *pfirestore.Provider
	variants *pfirestore.BaseRepository[variantDocument]
}

// NewVariantRepository constructs a Firestore-backed variant repository.
func NewVariantRepository(provider *pfirestore.Provider) (*VariantRepository, error) {
	if provider == nil {
		return nil, errors.New("variant repository requires firestore provider")
	}
	return &VariantRepository{
		provider: provider,
		variants: pfirestore.NewBaseRepository[variantDocument](provider, variantsCollection),
	}, nil
}

// FindByID fetches a variant. Inside a unit of work the read joins the
// surrounding transaction.
func (r *VariantRepository) FindByID(ctx context.Context, variantID string) (domain.Variant, error) {
	if r == nil || r.provider == nil {
		return domain.Variant{}, errors.New("variant repository not initialised")
	}
	id := strings.TrimSpace(variantID)
	if id == "" {
		return domain.Variant{}, repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, "variant id is required", nil)
	}

	doc, err := r.variants.Get(ctx, id)
	if err != nil {
		return domain.Variant{}, wrapVariantError("variants.find", id, err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// AdjustStock applies one delta inside a serialized read-modify-write and
// recomputes the status projection. Negative results clamp to zero unless the
// adjustment carries an availability guard, in which case the transaction
// fails with the observed stock.
func (r *VariantRepository) AdjustStock(ctx context.Context, adj repositories.VariantStockAdjustment) (domain.Variant, error) {
	variants, err := r.AdjustStockBatch(ctx, []repositories.VariantStockAdjustment{adj})
	if err != nil {
		return domain.Variant{}, err
	}
	if len(variants) != 1 {
		return domain.Variant{}, errors.New("variant repository: unexpected batch result")
	}
	return variants[0], nil
}

// AdjustStockBatch applies every adjustment inside one transaction. All
// variant documents are read before the first write, so the batch composes
// with further writes on the same transaction. Any guard failure aborts the
// whole batch.
func (r *VariantRepository) AdjustStockBatch(ctx context.Context, adjs []repositories.VariantStockAdjustment) ([]domain.Variant, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("variant repository not initialised")
	}
	if len(adjs) == 0 {
		return nil, nil
	}
	for _, adj := range adjs {
		if strings.TrimSpace(adj.VariantID) == "" {
			return nil, repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, "variant id is required", nil)
		}
	}

	var results []domain.Variant
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs := make([]*firestore.DocumentRef, len(adjs))
		docs := make([]variantDocument, len(adjs))
		for i, adj := range adjs {
			id := strings.TrimSpace(adj.VariantID)
			ref, err := r.variants.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return newVariantNotFoundError(id, err)
				}
				return err
			}
			if err := snap.DataTo(&docs[i]); err != nil {
				return fmt.Errorf("decode variant %s: %w", id, err)
			}
			refs[i] = ref
		}

		for i, adj := range adjs {
			if adj.GuardAvailability && adj.Delta < 0 && docs[i].Stock < -adj.Delta {
				invErr := repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("insufficient stock for variant %s", adj.VariantID), nil)
				invErr.VariantID = strings.TrimSpace(adj.VariantID)
				invErr.Available = docs[i].Stock
				return invErr
			}
		}

		results = make([]domain.Variant, 0, len(adjs))
		for i, adj := range adjs {
			now := adj.Now.UTC()
			if now.IsZero() {
				now = time.Now().UTC()
			}
			docs[i].Stock += adj.Delta
			if docs[i].Stock < 0 {
				docs[i].Stock = 0
			}
			docs[i].UpdatedAt = now
			docs[i].recalculate()

			if err := tx.Set(refs[i], docs[i]); err != nil {
				return err
			}
			results = append(results, docs[i].toDomain(strings.TrimSpace(adj.VariantID)))
		}
		return nil
	})
	if err != nil {
		return nil, wrapVariantError("variants.adjust_stock", "", err)
	}
	return results, nil
}

// ForceStatuses pins the status of every listed variant, reading all
// documents before writing so the call composes within a transaction.
func (r *VariantRepository) ForceStatuses(ctx context.Context, variantIDs []string, newStatus domain.VariantStatus, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("variant repository not initialised")
	}
	if len(variantIDs) == 0 {
		return nil
	}

	when := now.UTC()
	if when.IsZero() {
		when = time.Now().UTC()
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs := make([]*firestore.DocumentRef, len(variantIDs))
		docs := make([]variantDocument, len(variantIDs))
		for i, variantID := range variantIDs {
			id := strings.TrimSpace(variantID)
			if id == "" {
				return repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, "variant id is required", nil)
			}
			ref, err := r.variants.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return newVariantNotFoundError(id, err)
				}
				return err
			}
			if err := snap.DataTo(&docs[i]); err != nil {
				return fmt.Errorf("decode variant %s: %w", id, err)
			}
			refs[i] = ref
		}

		for i := range docs {
			docs[i].Status = string(newStatus)
			docs[i].StatusForced = true
			docs[i].UpdatedAt = when
			if err := tx.Set(refs[i], docs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapVariantError("variants.force_statuses", "", err)
}

// SetStatus overrides the cached status. A forced status survives subsequent
// stock mutations; clearing the flag re-derives the status from the count.
func (r *VariantRepository) SetStatus(ctx context.Context, variantID string, newStatus domain.VariantStatus, forced bool, now time.Time) (domain.Variant, error) {
	if r == nil || r.provider == nil {
		return domain.Variant{}, errors.New("variant repository not initialised")
	}
	id := strings.TrimSpace(variantID)
	if id == "" {
		return domain.Variant{}, repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, "variant id is required", nil)
	}

	when := now.UTC()
	if when.IsZero() {
		when = time.Now().UTC()
	}

	var result domain.Variant
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.variants.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return newVariantNotFoundError(id, err)
			}
			return err
		}

		var doc variantDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode variant %s: %w", id, err)
		}

		doc.Status = string(newStatus)
		doc.StatusForced = forced
		doc.UpdatedAt = when
		doc.recalculate()

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result = doc.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.Variant{}, wrapVariantError("variants.set_status", id, err)
	}
	return result, nil
}

func newVariantNotFoundError(id string, err error) *repositories.InventoryError {
	invErr := repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, fmt.Sprintf("variant %s not found", id), err)
	invErr.VariantID = id
	return invErr
}

func wrapVariantError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	if id != "" {
		op = fmt.Sprintf("%s(%s)", op, id)
	}
	return pfirestore.WrapError(op, err)
}

func refID(ref string) string {
	if ref == "" {
		return ""
	}
	if idx := strings.LastIndex(ref, "/"); idx >= 0 {
		return ref[idx+1:]
	}
	return ref
}
