package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/storefront/api/internal/repositories"
)

const maxRestockQuantity = 100000

// StockServiceDeps bundles the collaborators required to construct a stock service.
type StockServiceDeps struct {
	Ledger repositories.StockLedger
	Events EventPublisher
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type stockService struct {
	ledger repositories.StockLedger
	events EventPublisher
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewStockService wires the stock ledger into a StockService.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("stock service: ledger is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &stockService{
		ledger: deps.Ledger,
		events: deps.Events,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

func (s *stockService) GetStock(ctx context.Context, productID string) (int, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, validationError(CodeInvalidInput, "product id is required")
	}
	return s.ledger.GetStock(ctx, productID)
}

// Decrement passes ledger errors through untouched so callers can inspect ErrStockInsufficient.
func (s *stockService) Decrement(ctx context.Context, productID string, qty int) (int, error) {
	level, err := s.ledger.Decrement(ctx, strings.TrimSpace(productID), qty)
	if err != nil {
		if errors.Is(err, repositories.ErrStockInsufficient) {
			s.logger(ctx, "stock.decrement.refused", map[string]any{"productId": productID, "quantity": qty})
		}
		return 0, err
	}
	return level, nil
}

func (s *stockService) Increment(ctx context.Context, productID string, qty int) (int, error) {
	return s.ledger.Increment(ctx, strings.TrimSpace(productID), qty)
}

// Restock adds units to a product on behalf of an operator or a scheduled job.
func (s *stockService) Restock(ctx context.Context, cmd RestockCommand) (StockLevel, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return StockLevel{}, validationError(CodeInvalidInput, "product id is required")
	}
	if cmd.Quantity <= 0 || cmd.Quantity > maxRestockQuantity {
		return StockLevel{}, validationError(CodeInvalidInput, "quantity must be between 1 and "+strconv.Itoa(maxRestockQuantity))
	}

	level, err := s.ledger.Increment(ctx, productID, cmd.Quantity)
	if err != nil {
		if errors.Is(err, repositories.ErrStockNotFound) {
			return StockLevel{}, newError(ErrNotFound, CodeProductNotFound, "product "+productID+" not found", err)
		}
		return StockLevel{}, mapRepositoryError(err, CodeProductNotFound, "product "+productID)
	}

	s.logger(ctx, "stock.restocked", map[string]any{
		"productId": productID,
		"quantity":  cmd.Quantity,
		"level":     level,
		"reason":    strings.TrimSpace(cmd.Reason),
	})
	s.publish(ctx, DomainEvent{
		ID:         ulid.Make().String(),
		Type:       EventStockRestocked,
		Subject:    productID,
		OccurredAt: s.now(),
		Attributes: map[string]string{
			"quantity": strconv.Itoa(cmd.Quantity),
			"level":    strconv.Itoa(level),
		},
	})
	return StockLevel{ProductID: productID, Stock: level}, nil
}

func (s *stockService) publish(ctx context.Context, event DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "stock.event.publish_failed", map[string]any{"type": event.Type, "error": err.Error()})
	}
}
