package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

// Catalog keeps products and their stock counts. Every stock mutation holds the catalog lock,
// which makes the conditional decrement atomic per product.
type Catalog struct {
	mu       sync.Mutex
	products map[string]domain.Product
	clock    func() time.Time
}

var (
	_ repositories.ProductRepository = (*Catalog)(nil)
	_ repositories.StockLedger       = (*Catalog)(nil)
)

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{products: make(map[string]domain.Product), clock: time.Now}
}

// SaveProduct upserts a product.
func (c *Catalog) SaveProduct(product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return fmt.Errorf("memory catalog: product id is required")
	}
	if product.Stock < 0 {
		return fmt.Errorf("memory catalog: product %s stock cannot be negative", product.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	c.products[product.ID] = product
	return nil
}

func (c *Catalog) FindByID(_ context.Context, productID string) (domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	product, ok := c.products[strings.TrimSpace(productID)]
	if !ok {
		return domain.Product{}, repositories.NewRecordError(repositories.RecordErrorNotFound, "product "+productID+" not found", nil)
	}
	return product, nil
}

func (c *Catalog) GetStock(_ context.Context, productID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	product, ok := c.products[strings.TrimSpace(productID)]
	if !ok {
		return 0, stockErr("stock.get", repositories.StockErrorNotFound, productID, 0)
	}
	return product.Stock, nil
}

func (c *Catalog) Decrement(_ context.Context, productID string, qty int) (int, error) {
	return c.adjust("stock.decrement", productID, -qty, qty)
}

func (c *Catalog) Increment(_ context.Context, productID string, qty int) (int, error) {
	return c.adjust("stock.increment", productID, qty, qty)
}

func (c *Catalog) adjust(op, productID string, delta, qty int) (int, error) {
	if qty <= 0 {
		return 0, stockErr(op, repositories.StockErrorInvalidQuantity, productID, 0)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	product, ok := c.products[strings.TrimSpace(productID)]
	if !ok {
		return 0, stockErr(op, repositories.StockErrorNotFound, productID, 0)
	}
	if product.Stock+delta < 0 {
		return 0, stockErr(op, repositories.StockErrorInsufficient, productID, product.Stock)
	}
	product.Stock += delta
	product.UpdatedAt = c.clock().UTC()
	c.products[product.ID] = product
	return product.Stock, nil
}

func stockErr(op string, code repositories.StockErrorCode, productID string, available int) error {
	err := repositories.NewStockError(code, productID, available, nil)
	err.Op = op
	return err
}

// CartStore keeps one cart per user.
type CartStore struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
	clock func() time.Time
}

var _ repositories.CartRepository = (*CartStore)(nil)

// NewCartStore returns an empty cart store.
func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string]domain.Cart), clock: time.Now}
}

// SaveCart replaces the user's cart.
func (s *CartStore) SaveCart(cart domain.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	cart.Lines = slices.Clone(cart.Lines)
	s.carts[cart.UserID] = cart
}

func (s *CartStore) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[userID]
	if !ok {
		return domain.Cart{UserID: userID, Lines: []domain.CartLine{}}, nil
	}
	cart.Lines = slices.Clone(cart.Lines)
	return cart, nil
}

func (s *CartStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[userID]
	if !ok {
		return nil
	}
	cart.Lines = []domain.CartLine{}
	cart.UpdatedAt = s.clock().UTC()
	s.carts[userID] = cart
	return nil
}

func (s *CartStore) RemoveItems(_ context.Context, userID string, productIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[userID]
	if !ok || len(productIDs) == 0 {
		return nil
	}
	cart.Lines = slices.DeleteFunc(slices.Clone(cart.Lines), func(line domain.CartLine) bool {
		return slices.Contains(productIDs, line.ProductID)
	})
	cart.UpdatedAt = s.clock().UTC()
	s.carts[userID] = cart
	return nil
}
