package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/services"
)

type stubPurchaseService struct {
	processFn   func(context.Context, services.ProcessPurchaseCommand) (services.PurchaseResult, error)
	ticketsFn   func(context.Context, string) ([]services.Ticket, error)
	byCodeFn    func(context.Context, services.Principal, string) (services.Ticket, error)
	cancelFn    func(context.Context, services.CancelTicketCommand) (services.Ticket, error)
	reconcileFn func(context.Context) (services.ReconcileResult, error)
	userStats   func(context.Context, string) (services.PurchaseStats, error)
	globalStats func(context.Context) (services.PurchaseStats, error)
	listFn      func(context.Context, services.TicketListFilter) (domain.Page[services.Ticket], error)
	topFn       func(context.Context, int) ([]services.TopProduct, error)
	monthlyFn   func(context.Context, int) ([]services.MonthlySales, error)
}

var errNotStubbed = errors.New("not implemented")

func (s *stubPurchaseService) ProcessPurchase(ctx context.Context, cmd services.ProcessPurchaseCommand) (services.PurchaseResult, error) {
	if s.processFn != nil {
		return s.processFn(ctx, cmd)
	}
	return services.PurchaseResult{}, errNotStubbed
}

func (s *stubPurchaseService) GetUserTickets(ctx context.Context, userID string) ([]services.Ticket, error) {
	if s.ticketsFn != nil {
		return s.ticketsFn(ctx, userID)
	}
	return nil, nil
}

func (s *stubPurchaseService) GetTicketByCode(ctx context.Context, principal services.Principal, code string) (services.Ticket, error) {
	if s.byCodeFn != nil {
		return s.byCodeFn(ctx, principal, code)
	}
	return services.Ticket{}, errNotStubbed
}

func (s *stubPurchaseService) CancelTicket(ctx context.Context, cmd services.CancelTicketCommand) (services.Ticket, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Ticket{}, errNotStubbed
}

func (s *stubPurchaseService) ReconcileStalePending(ctx context.Context) (services.ReconcileResult, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx)
	}
	return services.ReconcileResult{}, nil
}

func (s *stubPurchaseService) UserStats(ctx context.Context, userID string) (services.PurchaseStats, error) {
	if s.userStats != nil {
		return s.userStats(ctx, userID)
	}
	return services.PurchaseStats{}, nil
}

func (s *stubPurchaseService) GlobalStats(ctx context.Context) (services.PurchaseStats, error) {
	if s.globalStats != nil {
		return s.globalStats(ctx)
	}
	return services.PurchaseStats{}, nil
}

func (s *stubPurchaseService) ListTickets(ctx context.Context, filter services.TicketListFilter) (domain.Page[services.Ticket], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.Page[services.Ticket]{}, nil
}

func (s *stubPurchaseService) TopProducts(ctx context.Context, limit int) ([]services.TopProduct, error) {
	if s.topFn != nil {
		return s.topFn(ctx, limit)
	}
	return nil, nil
}

func (s *stubPurchaseService) SalesByMonth(ctx context.Context, year int) ([]services.MonthlySales, error) {
	if s.monthlyFn != nil {
		return s.monthlyFn(ctx, year)
	}
	return nil, nil
}

type stubOrderService struct {
	createFn   func(context.Context, services.CreateOrderCommand) (services.Order, error)
	listFn     func(context.Context, string, services.OrderListOptions) (services.OrderPage, error)
	byNumberFn func(context.Context, services.Principal, string) (services.Order, error)
	byIDFn     func(context.Context, services.Principal, string) (services.Order, error)
	updateFn   func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
	statsFn    func(context.Context) (services.OrderStats, error)
}

func (s *stubOrderService) CreateOrderFromCart(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) GetUserOrders(ctx context.Context, userID string, opts services.OrderListOptions) (services.OrderPage, error) {
	if s.listFn != nil {
		return s.listFn(ctx, userID, opts)
	}
	return services.OrderPage{}, nil
}

func (s *stubOrderService) GetOrderByNumber(ctx context.Context, principal services.Principal, number string) (services.Order, error) {
	if s.byNumberFn != nil {
		return s.byNumberFn(ctx, principal, number)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) GetOrderByID(ctx context.Context, principal services.Principal, id string) (services.Order, error) {
	if s.byIDFn != nil {
		return s.byIDFn(ctx, principal, id)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) UpdateOrderStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) Stats(ctx context.Context) (services.OrderStats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx)
	}
	return services.OrderStats{}, nil
}

type stubStockService struct {
	restockFn func(context.Context, services.RestockCommand) (services.StockLevel, error)
}

func (s *stubStockService) GetStock(context.Context, string) (int, error)       { return 0, nil }
func (s *stubStockService) Decrement(context.Context, string, int) (int, error) { return 0, nil }
func (s *stubStockService) Increment(context.Context, string, int) (int, error) { return 0, nil }

func (s *stubStockService) Restock(ctx context.Context, cmd services.RestockCommand) (services.StockLevel, error) {
	if s.restockFn != nil {
		return s.restockFn(ctx, cmd)
	}
	return services.StockLevel{}, errNotStubbed
}

var (
	_ services.PurchaseService = (*stubPurchaseService)(nil)
	_ services.OrderService    = (*stubOrderService)(nil)
	_ services.StockService    = (*stubStockService)(nil)
)

// mountWithIdentity serves routes as if RequireFirebaseAuth had accepted identity. A nil
// identity leaves the request unauthenticated.
func mountWithIdentity(identity *auth.Identity, routes RouteRegistrar) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if identity != nil {
				req = req.WithContext(auth.WithIdentity(req.Context(), identity))
			}
			next.ServeHTTP(w, req)
		})
	})
	routes(r)
	return r
}

func customer(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Email: uid + "@example.com", Roles: []string{auth.RoleCustomer}}
}

func admin(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Email: uid + "@example.com", Roles: []string{auth.RoleAdmin}}
}
