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

	domain "github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name      string    `firestore:"name"`
	Price     int64     `firestore:"price"`
	Stock     int       `firestore:"stock"`
	Category  string    `firestore:"category,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      d.Name,
		Price:     d.Price,
		Stock:     d.Stock,
		Category:  d.Category,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// ProductRepository reads catalog entries and acts as the stock ledger when stock lives on the
// product documents. Each stock mutation runs in its own Firestore transaction.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
	clock    func() time.Time
}

var (
	_ repositories.ProductRepository = (*ProductRepository)(nil)
	_ repositories.StockLedger       = (*ProductRepository)(nil)
)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
		clock:    time.Now,
	}, nil
}

// Save upserts a product. Used by seeding tools and tests.
func (r *ProductRepository) Save(ctx context.Context, product domain.Product) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	if product.Stock < 0 {
		return fmt.Errorf("product %s: stock cannot be negative", product.ID)
	}
	now := r.clock().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	doc := productDocument{
		Name:      strings.TrimSpace(product.Name),
		Price:     product.Price,
		Stock:     product.Stock,
		Category:  strings.TrimSpace(product.Category),
		CreatedAt: product.CreatedAt.UTC(),
		UpdatedAt: now,
	}
	_, err := r.products.Set(ctx, product.ID, doc)
	return err
}

// FindByID loads a product by identifier.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, pfirestore.WrapError("products.get", status.Error(codes.NotFound, "product id is empty"))
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// GetStock returns the current unit count of a product.
func (r *ProductRepository) GetStock(ctx context.Context, productID string) (int, error) {
	product, err := r.FindByID(ctx, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return 0, repositories.NewStockError(repositories.StockErrorNotFound, productID, 0, err)
		}
		return 0, err
	}
	return product.Stock, nil
}

// Decrement subtracts qty when enough units remain.
func (r *ProductRepository) Decrement(ctx context.Context, productID string, qty int) (int, error) {
	return r.adjust(ctx, "stock.decrement", productID, -qty, qty)
}

// Increment returns qty units to the product.
func (r *ProductRepository) Increment(ctx context.Context, productID string, qty int) (int, error) {
	return r.adjust(ctx, "stock.increment", productID, qty, qty)
}

func (r *ProductRepository) adjust(ctx context.Context, op string, productID string, delta int, qty int) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if qty <= 0 {
		err := repositories.NewStockError(repositories.StockErrorInvalidQuantity, productID, 0, nil)
		err.Op = op
		return 0, err
	}

	var level int
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorNotFound, productID, 0, err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", productID, err)
		}
		if doc.Stock+delta < 0 {
			return repositories.NewStockError(repositories.StockErrorInsufficient, productID, doc.Stock, nil)
		}
		level = doc.Stock + delta
		return tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: level},
			{Path: "updatedAt", Value: r.clock().UTC()},
		})
	}, pfirestore.WithTxAttempts(10))
	if err != nil {
		return 0, wrapStockError(op, err)
	}
	return level, nil
}

func wrapStockError(op string, err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
