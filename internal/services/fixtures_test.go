package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories/memory"
)

var fixtureNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type captureEvents struct {
	mu     sync.Mutex
	events []DomainEvent
}

func (c *captureEvents) Publish(_ context.Context, event DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Type)
	}
	return out
}

type captureNotifier struct {
	mu            sync.Mutex
	purchases     []Ticket
	orders        []Order
	statusChanges []domain.OrderStatus
}

func (c *captureNotifier) PurchaseConfirmed(_ context.Context, ticket Ticket) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purchases = append(c.purchases, ticket)
	return nil
}

func (c *captureNotifier) OrderPlaced(_ context.Context, order Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = append(c.orders, order)
	return nil
}

func (c *captureNotifier) OrderStatusChanged(_ context.Context, order Order, _ domain.OrderStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusChanges = append(c.statusChanges, order.Status)
	return nil
}

// faultyStock wraps a StockService and lets a test intercept decrements.
type faultyStock struct {
	StockService
	decrementFn func(ctx context.Context, productID string, qty int) (int, error)
}

func (f *faultyStock) Decrement(ctx context.Context, productID string, qty int) (int, error) {
	if f.decrementFn != nil {
		return f.decrementFn(ctx, productID, qty)
	}
	return f.StockService.Decrement(ctx, productID, qty)
}

type fixture struct {
	reg        *memory.Registry
	stock      StockService
	events     *captureEvents
	notifier   *captureNotifier
	dispatcher *NotificationDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := memory.NewRegistry()
	events := &captureEvents{}
	stock, err := NewStockService(StockServiceDeps{
		Ledger: reg.Stock(),
		Events: events,
		Clock:  func() time.Time { return fixtureNow },
	})
	require.NoError(t, err)
	notifier := &captureNotifier{}
	return &fixture{
		reg:        reg,
		stock:      stock,
		events:     events,
		notifier:   notifier,
		dispatcher: NewNotificationDispatcher(notifier, time.Second, nil),
	}
}

func (f *fixture) seed(t *testing.T, products ...domain.Product) {
	t.Helper()
	for _, product := range products {
		require.NoError(t, f.reg.Catalog().SaveProduct(product))
	}
}

func (f *fixture) cart(userID string, lines ...domain.CartLine) {
	f.reg.CartStore().SaveCart(domain.Cart{UserID: userID, Lines: lines})
}

func (f *fixture) stockOf(t *testing.T, productID string) int {
	t.Helper()
	level, err := f.reg.Stock().GetStock(context.Background(), productID)
	require.NoError(t, err)
	return level
}

func (f *fixture) cartLines(t *testing.T, userID string) []domain.CartLine {
	t.Helper()
	cart, err := f.reg.Carts().GetCart(context.Background(), userID)
	require.NoError(t, err)
	return cart.Lines
}

func (f *fixture) purchaseService(t *testing.T, mutate ...func(*PurchaseServiceDeps)) PurchaseService {
	t.Helper()
	deps := PurchaseServiceDeps{
		Carts:             f.reg.Carts(),
		Products:          f.reg.Products(),
		Stock:             f.stock,
		Tickets:           f.reg.Tickets(),
		Notifications:     f.dispatcher,
		Events:            f.events,
		Clock:             func() time.Time { return fixtureNow },
		TicketBackoffBase: time.Nanosecond,
		TicketBackoffMax:  time.Nanosecond,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	svc, err := NewPurchaseService(deps)
	require.NoError(t, err)
	return svc
}

func (f *fixture) orderService(t *testing.T, mutate ...func(*OrderServiceDeps)) OrderService {
	t.Helper()
	deps := OrderServiceDeps{
		Carts:         f.reg.Carts(),
		Products:      f.reg.Products(),
		Stock:         f.stock,
		Orders:        f.reg.Orders(),
		Counters:      f.reg.Counters(),
		Notifications: f.dispatcher,
		Events:        f.events,
		Clock:         func() time.Time { return fixtureNow },
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	svc, err := NewOrderService(deps)
	require.NoError(t, err)
	return svc
}

func buyer(id string) Principal {
	return Principal{UserID: id, Email: id + "@example.com"}
}

func admin() Principal {
	return Principal{UserID: "admin-1", Email: "ops@example.com", Roles: []string{RoleAdmin}}
}
