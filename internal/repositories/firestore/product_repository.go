package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/maisonverte/api/internal/domain"
	pfirestore "github.com/maisonverte/api/internal/platform/firestore"
)

const productsCollection = "products"

type productDocument struct {
	Name  string `firestore:"name"`
	Price int64  `firestore:"price"`
}

// ProductRepository resolves catalog snapshots for order lines.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
	}, nil
}

// FindByID fetches the product referenced by an order line.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, pfirestore.WrapError("products.find", errors.New("product id is required"))
	}

	doc, err := r.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:    doc.ID,
		Name:  doc.Data.Name,
		Price: doc.Data.Price,
	}, nil
}

func productDocPath(productID string) string {
	id := strings.TrimSpace(productID)
	if id == "" {
		return ""
	}
	return productsCollection + "/" + id
}
