package services

import (
	"context"
	"slices"
	"strings"
	"time"

	domain "github.com/storefront/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Ticket             = domain.Ticket
	Order              = domain.Order
	Cart               = domain.Cart
	PurchaseLineItem   = domain.PurchaseLineItem
	FailedLineItem     = domain.FailedLineItem
	SystemHealthReport = domain.SystemHealthReport
)

// RoleAdmin grants access to every ticket and order plus the admin endpoints.
const RoleAdmin = "admin"

// Principal identifies the caller of a service operation.
type Principal struct {
	UserID string
	Email  string
	Roles  []string
}

// IsAdmin reports whether the principal carries the admin role.
func (p Principal) IsAdmin() bool {
	return slices.ContainsFunc(p.Roles, func(role string) bool {
		return strings.EqualFold(strings.TrimSpace(role), RoleAdmin)
	})
}

// CanAccess reports whether the principal may read a record owned by ownerID.
func (p Principal) CanAccess(ownerID string) bool {
	return p.IsAdmin() || (p.UserID != "" && p.UserID == ownerID)
}

// PurchaseService runs the partial-fulfillment checkout and owns the ticket lifecycle.
type PurchaseService interface {
	ProcessPurchase(ctx context.Context, cmd ProcessPurchaseCommand) (PurchaseResult, error)
	GetUserTickets(ctx context.Context, userID string) ([]Ticket, error)
	GetTicketByCode(ctx context.Context, principal Principal, code string) (Ticket, error)
	CancelTicket(ctx context.Context, cmd CancelTicketCommand) (Ticket, error)
	ReconcileStalePending(ctx context.Context) (ReconcileResult, error)

	UserStats(ctx context.Context, userID string) (PurchaseStats, error)
	GlobalStats(ctx context.Context) (PurchaseStats, error)
	ListTickets(ctx context.Context, filter TicketListFilter) (domain.Page[Ticket], error)
	TopProducts(ctx context.Context, limit int) ([]TopProduct, error)
	SalesByMonth(ctx context.Context, year int) ([]MonthlySales, error)
}

// OrderService runs the all-or-nothing checkout and owns the order lifecycle.
type OrderService interface {
	CreateOrderFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetUserOrders(ctx context.Context, userID string, opts OrderListOptions) (OrderPage, error)
	GetOrderByNumber(ctx context.Context, principal Principal, orderNumber string) (Order, error)
	GetOrderByID(ctx context.Context, principal Principal, orderID string) (Order, error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	Stats(ctx context.Context) (OrderStats, error)
}

// StockService fronts the stock ledger with validation, logging and metrics.
type StockService interface {
	GetStock(ctx context.Context, productID string) (int, error)
	Decrement(ctx context.Context, productID string, qty int) (int, error)
	Increment(ctx context.Context, productID string, qty int) (int, error)
	Restock(ctx context.Context, cmd RestockCommand) (StockLevel, error)
}

// SystemService aggregates health reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Notifier renders and delivers customer emails. Implementations block until delivery completes.
type Notifier interface {
	PurchaseConfirmed(ctx context.Context, ticket Ticket) error
	OrderPlaced(ctx context.Context, order Order) error
	OrderStatusChanged(ctx context.Context, order Order, previous domain.OrderStatus) error
}

// EventPublisher emits domain events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// Domain event types.
const (
	EventTicketFinalized    = "ticket.finalized"
	EventTicketCancelled    = "ticket.cancelled"
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventStockRestocked     = "stock.restocked"
)

// DomainEvent is the payload published on the events topic.
type DomainEvent struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Subject    string            `json:"subject"`
	UserID     string            `json:"userId,omitempty"`
	Status     string            `json:"status,omitempty"`
	Amount     int64             `json:"amount,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Commands and results ------------------------------------------------------

type ProcessPurchaseCommand struct {
	Principal     Principal
	PaymentMethod domain.PaymentMethod
	Notes         string
}

// PurchaseSummary condenses a purchase outcome for the client.
type PurchaseSummary struct {
	TotalAmount     int64
	SuccessfulLines int
	FailedLines     int
	IsPartial       bool
}

type PurchaseResult struct {
	Ticket  Ticket
	Summary PurchaseSummary
}

type CancelTicketCommand struct {
	Principal Principal
	TicketID  string
	Reason    string
}

// ReconcileResult reports what a reconciliation sweep touched.
type ReconcileResult struct {
	Scanned   int
	Failed    int
	Restocked int
}

type TicketListFilter struct {
	Status *domain.TicketStatus
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}

// PurchaseStats aggregates ticket outcomes for a user or the whole store.
type PurchaseStats struct {
	TotalTickets     int
	CompletedTickets int
	PartialTickets   int
	FailedTickets    int
	TotalAmount      int64
	AverageAmount    float64
	SuccessRate      string
	FirstPurchase    *time.Time
	LastPurchase     *time.Time
}

// TopProduct ranks a product by units sold.
type TopProduct struct {
	ProductID     string
	Title         string
	TotalQuantity int
	TotalRevenue  int64
	TimesSold     int
}

// MonthlySales summarises sales for one calendar month.
type MonthlySales struct {
	Month         int
	MonthName     string
	TotalSales    int64
	TotalTickets  int
	AverageTicket float64
}

type CreateOrderCommand struct {
	Principal       Principal
	ShippingAddress domain.ShippingAddress
	PaymentMethod   domain.PaymentMethod
	PaymentDetails  domain.PaymentDetails
	Notes           string
}

type OrderListOptions struct {
	Page      int
	Limit     int
	Status    *domain.OrderStatus
	SortBy    string
	SortOrder domain.SortOrder
}

type OrderPage struct {
	Orders     []Order
	Pagination domain.PageInfo
}

type UpdateOrderStatusCommand struct {
	Principal      Principal
	OrderID        string
	Status         domain.OrderStatus
	TrackingNumber string
	Notes          string
}

// OrderStats aggregates order totals overall and per status.
type OrderStats struct {
	TotalOrders   int
	TotalAmount   int64
	AverageAmount float64
	ByStatus      []OrderStatusStats
}

type OrderStatusStats struct {
	Status      domain.OrderStatus
	Count       int
	TotalAmount int64
}

type RestockCommand struct {
	ProductID string
	Quantity  int
	Reason    string
}

type StockLevel struct {
	ProductID string
	Stock     int
}
