package repositories

import (
	"context"
	"time"

	domain "github.com/storefront/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Stock() StockLedger
	Carts() CartRepository
	Tickets() TicketRepository
	Orders() OrderRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StockLedger is the single authority over per-product unit counts. Every mutation is atomic
// per product; there is no multi-product atomicity.
type StockLedger interface {
	GetStock(ctx context.Context, productID string) (int, error)
	// Decrement subtracts qty only when the current stock is >= qty and returns the new level.
	// A shortfall yields a *StockError matching ErrStockInsufficient.
	Decrement(ctx context.Context, productID string, qty int) (int, error)
	Increment(ctx context.Context, productID string, qty int) (int, error)
}

// ProductRepository reads catalog entries. Catalog CRUD lives outside this service.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// CartRepository reads and clears per-user carts. A missing cart reads as empty.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	Clear(ctx context.Context, userID string) error
	RemoveItems(ctx context.Context, userID string, productIDs []string) error
}

// TicketRepository persists purchase tickets and guarantees code uniqueness.
type TicketRepository interface {
	// Create stores a new ticket. A duplicate code yields a *RecordError with RecordErrorCodeConflict;
	// a duplicate ID yields RecordErrorIDConflict.
	Create(ctx context.Context, ticket domain.Ticket) (domain.Ticket, error)
	// UpdateIfStatus replaces the mutable fields of a ticket when the stored status equals expected.
	// A mismatch yields a *RecordError with RecordErrorStatusMismatch.
	UpdateIfStatus(ctx context.Context, ticket domain.Ticket, expected domain.TicketStatus) (domain.Ticket, error)
	FindByID(ctx context.Context, ticketID string) (domain.Ticket, error)
	FindByCode(ctx context.Context, code string) (domain.Ticket, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Ticket, error)
	List(ctx context.Context, filter TicketListFilter) (domain.Page[domain.Ticket], error)
	Scan(ctx context.Context, filter TicketScanFilter) ([]domain.Ticket, error)
	// Totals aggregates ticket counts and amounts per status without loading tickets.
	// An empty userID covers every purchaser.
	Totals(ctx context.Context, userID string) (TicketTotals, error)
}

// TicketListFilter narrows admin ticket listings. When a date range is supplied paging is ignored.
type TicketListFilter struct {
	Status *domain.TicketStatus
	Range  domain.RangeQuery[time.Time]
	Page   int
	Limit  int
}

// AmountTotals is the number of records and the sum of their amounts.
type AmountTotals struct {
	Count  int
	Amount int64
}

// TicketTotals holds per status ticket aggregates and the purchase time bounds.
type TicketTotals struct {
	ByStatus      map[domain.TicketStatus]AmountTotals
	FirstPurchase *time.Time
	LastPurchase  *time.Time
}

// OrderTotals holds per status order aggregates.
type OrderTotals struct {
	ByStatus map[domain.OrderStatus]AmountTotals
}

// TicketScanFilter selects tickets for reporting and reconciliation.
type TicketScanFilter struct {
	UserID   string
	Statuses []domain.TicketStatus
	Range    domain.RangeQuery[time.Time]
	Limit    int
}

// OrderRepository persists shipping orders.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, query OrderListQuery) (OrderListResult, error)
	// UpdateIfStatus replaces the mutable fields of an order when the stored status equals expected.
	UpdateIfStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error)
	// Totals aggregates order counts and total amounts per status without loading orders.
	Totals(ctx context.Context) (OrderTotals, error)
}

// OrderSortField enumerates the sortable order attributes.
type OrderSortField string

const (
	OrderSortCreatedAt   OrderSortField = "createdAt"
	OrderSortTotalAmount OrderSortField = "totalAmount"
	OrderSortNumber      OrderSortField = "orderNumber"
	OrderSortStatus      OrderSortField = "status"
)

// OrderListQuery describes an offset-paginated listing of a user's orders.
type OrderListQuery struct {
	Status    *domain.OrderStatus
	SortBy    OrderSortField
	SortOrder domain.SortOrder
	Offset    int
	Limit     int
}

// OrderListResult carries one page of orders plus the total match count.
type OrderListResult struct {
	Orders []domain.Order
	Total  int
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
