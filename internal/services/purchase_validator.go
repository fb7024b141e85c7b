package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	defaultValidationConcurrency = 8
	productNotFoundTitle         = "product not found"
)

// FulfillableLine is a cart line that passed validation, carrying the product snapshot.
type FulfillableLine struct {
	Product  domain.Product
	Quantity int
}

// Validation partitions cart lines into fulfillable and failed, both in cart order.
type Validation struct {
	Fulfillable []FulfillableLine
	Failed      []domain.FailedLineItem
}

// StockReader reads current stock levels. Both the raw ledger and StockService satisfy it.
type StockReader interface {
	GetStock(ctx context.Context, productID string) (int, error)
}

// PurchaseValidator classifies cart lines against the catalog and current stock. It never
// mutates anything; the ledger decrement remains the authoritative check.
type PurchaseValidator struct {
	catalog     repositories.ProductRepository
	stock       StockReader
	concurrency int
}

// NewPurchaseValidator constructs a validator. concurrency <= 0 uses the default bound.
func NewPurchaseValidator(catalog repositories.ProductRepository, stock StockReader, concurrency int) (*PurchaseValidator, error) {
	if catalog == nil {
		return nil, errors.New("purchase validator: product repository is required")
	}
	if stock == nil {
		return nil, errors.New("purchase validator: stock reader is required")
	}
	if concurrency <= 0 {
		concurrency = defaultValidationConcurrency
	}
	return &PurchaseValidator{catalog: catalog, stock: stock, concurrency: concurrency}, nil
}

// checkLineQuantities rejects a cart holding a line with a quantity below one. Such a line can
// never be honored and the ledger refuses to move zero or negative units.
func checkLineQuantities(lines []domain.CartLine) error {
	for _, line := range lines {
		if line.Quantity < 1 {
			return validationError(CodeInvalidInput, fmt.Sprintf("cart line %s has quantity %d; quantities must be at least 1", line.ProductID, line.Quantity))
		}
	}
	return nil
}

type lineOutcome struct {
	ok     *FulfillableLine
	failed *domain.FailedLineItem
}

// Classify resolves every line concurrently and returns the partitions in input order.
func (v *PurchaseValidator) Classify(ctx context.Context, lines []domain.CartLine) (Validation, error) {
	outcomes := make([]lineOutcome, len(lines))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(v.concurrency)
	for i, line := range lines {
		group.Go(func() error {
			outcome, err := v.classifyLine(gctx, line)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Validation{}, err
	}

	result := Validation{
		Fulfillable: make([]FulfillableLine, 0, len(lines)),
		Failed:      make([]domain.FailedLineItem, 0),
	}
	for _, outcome := range outcomes {
		if outcome.ok != nil {
			result.Fulfillable = append(result.Fulfillable, *outcome.ok)
			continue
		}
		result.Failed = append(result.Failed, *outcome.failed)
	}
	return result, nil
}

func (v *PurchaseValidator) classifyLine(ctx context.Context, line domain.CartLine) (lineOutcome, error) {
	notFound := lineOutcome{failed: &domain.FailedLineItem{
		ProductID:         line.ProductID,
		Title:             productNotFoundTitle,
		RequestedQuantity: line.Quantity,
		AvailableStock:    0,
		Reason:            domain.FailureProductNotFound,
	}}
	if line.ProductID == "" {
		return notFound, nil
	}

	product, err := v.catalog.FindByID(ctx, line.ProductID)
	if err != nil {
		if isNotFound(err) {
			return notFound, nil
		}
		return lineOutcome{}, fmt.Errorf("load product %s: %w", line.ProductID, err)
	}
	stock, err := v.stock.GetStock(ctx, line.ProductID)
	if err != nil {
		if errors.Is(err, repositories.ErrStockNotFound) || isNotFound(err) {
			return notFound, nil
		}
		return lineOutcome{}, fmt.Errorf("read stock %s: %w", line.ProductID, err)
	}
	product.Stock = stock

	switch {
	case stock <= 0:
		return lineOutcome{failed: &domain.FailedLineItem{
			ProductID:         product.ID,
			Title:             product.Name,
			RequestedQuantity: line.Quantity,
			AvailableStock:    0,
			Reason:            domain.FailureOutOfStock,
		}}, nil
	case stock < line.Quantity:
		return lineOutcome{failed: &domain.FailedLineItem{
			ProductID:         product.ID,
			Title:             product.Name,
			RequestedQuantity: line.Quantity,
			AvailableStock:    stock,
			Reason:            domain.FailureInsufficientStock,
		}}, nil
	}
	return lineOutcome{ok: &FulfillableLine{Product: product, Quantity: line.Quantity}}, nil
}
