package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	defaultTicketPageSize = 20
	maxTicketPageSize     = 100
	defaultOrderPageSize  = 10
	maxOrderPageSize      = 100
)

// TicketStore keeps tickets plus a code index guarding code uniqueness.
type TicketStore struct {
	mu      sync.RWMutex
	tickets map[string]domain.Ticket
	codes   map[string]string
}

var _ repositories.TicketRepository = (*TicketStore)(nil)

// NewTicketStore returns an empty ticket store.
func NewTicketStore() *TicketStore {
	return &TicketStore{tickets: make(map[string]domain.Ticket), codes: make(map[string]string)}
}

func (s *TicketStore) Create(_ context.Context, ticket domain.Ticket) (domain.Ticket, error) {
	if strings.TrimSpace(ticket.ID) == "" {
		return domain.Ticket{}, fmt.Errorf("memory tickets: id is required")
	}
	ticket.Code = strings.ToUpper(strings.TrimSpace(ticket.Code))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[ticket.Code]; taken {
		err := repositories.NewRecordError(repositories.RecordErrorCodeConflict, "ticket code "+ticket.Code+" already issued", nil)
		err.Op = "tickets.create"
		return domain.Ticket{}, err
	}
	if _, taken := s.tickets[ticket.ID]; taken {
		err := repositories.NewRecordError(repositories.RecordErrorIDConflict, "ticket "+ticket.ID+" already exists", nil)
		err.Op = "tickets.create"
		return domain.Ticket{}, err
	}
	s.tickets[ticket.ID] = cloneTicket(ticket)
	s.codes[ticket.Code] = ticket.ID
	return cloneTicket(ticket), nil
}

func (s *TicketStore) UpdateIfStatus(_ context.Context, ticket domain.Ticket, expected domain.TicketStatus) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tickets[ticket.ID]
	if !ok {
		return domain.Ticket{}, repositories.NewRecordError(repositories.RecordErrorNotFound, "ticket "+ticket.ID+" not found", nil)
	}
	if current.Status != expected {
		return domain.Ticket{}, repositories.NewStatusMismatchError("ticket "+ticket.ID, string(current.Status))
	}
	current.Items = slices.Clone(ticket.Items)
	current.FailedItems = slices.Clone(ticket.FailedItems)
	current.Amount = ticket.Amount
	current.Status = ticket.Status
	current.Notes = ticket.Notes
	current.UpdatedAt = ticket.UpdatedAt
	s.tickets[ticket.ID] = current
	return cloneTicket(current), nil
}

func (s *TicketStore) FindByID(_ context.Context, ticketID string) (domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[strings.TrimSpace(ticketID)]
	if !ok {
		return domain.Ticket{}, repositories.NewRecordError(repositories.RecordErrorNotFound, "ticket "+ticketID+" not found", nil)
	}
	return cloneTicket(ticket), nil
}

func (s *TicketStore) FindByCode(ctx context.Context, code string) (domain.Ticket, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	s.mu.RLock()
	id, ok := s.codes[code]
	s.mu.RUnlock()
	if !ok {
		return domain.Ticket{}, repositories.NewRecordError(repositories.RecordErrorNotFound, "ticket code "+code+" not found", nil)
	}
	return s.FindByID(ctx, id)
}

func (s *TicketStore) ListByUser(ctx context.Context, userID string) ([]domain.Ticket, error) {
	return s.Scan(ctx, repositories.TicketScanFilter{UserID: userID})
}

func (s *TicketStore) List(ctx context.Context, filter repositories.TicketListFilter) (domain.Page[domain.Ticket], error) {
	var statuses []domain.TicketStatus
	if filter.Status != nil {
		statuses = []domain.TicketStatus{*filter.Status}
	}
	matches, err := s.Scan(ctx, repositories.TicketScanFilter{Statuses: statuses, Range: filter.Range})
	if err != nil {
		return domain.Page[domain.Ticket]{}, err
	}
	if filter.Range.From != nil || filter.Range.To != nil {
		return domain.Page[domain.Ticket]{
			Items:      matches,
			Pagination: domain.NewPageInfo(1, max(len(matches), 1), len(matches)),
		}, nil
	}
	page, limit := normalisePage(filter.Page, filter.Limit, defaultTicketPageSize, maxTicketPageSize)
	return domain.Page[domain.Ticket]{
		Items:      window(matches, (page-1)*limit, limit),
		Pagination: domain.NewPageInfo(page, limit, len(matches)),
	}, nil
}

func (s *TicketStore) Scan(_ context.Context, filter repositories.TicketScanFilter) ([]domain.Ticket, error) {
	s.mu.RLock()
	out := make([]domain.Ticket, 0, len(s.tickets))
	for _, ticket := range s.tickets {
		if filter.UserID != "" && ticket.PurchaserID != filter.UserID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, ticket.Status) {
			continue
		}
		if !inRange(ticket.PurchasedAt, filter.Range) {
			continue
		}
		out = append(out, cloneTicket(ticket))
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Ticket) int {
		return cmp.Or(b.PurchasedAt.Compare(a.PurchasedAt), strings.Compare(b.ID, a.ID))
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *TicketStore) Totals(_ context.Context, userID string) (repositories.TicketTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	totals := repositories.TicketTotals{ByStatus: make(map[domain.TicketStatus]repositories.AmountTotals)}
	for _, ticket := range s.tickets {
		if userID != "" && ticket.PurchaserID != userID {
			continue
		}
		entry := totals.ByStatus[ticket.Status]
		entry.Count++
		entry.Amount += ticket.Amount
		totals.ByStatus[ticket.Status] = entry

		purchasedAt := ticket.PurchasedAt
		if totals.FirstPurchase == nil || purchasedAt.Before(*totals.FirstPurchase) {
			totals.FirstPurchase = &purchasedAt
		}
		if totals.LastPurchase == nil || purchasedAt.After(*totals.LastPurchase) {
			totals.LastPurchase = &purchasedAt
		}
	}
	return totals, nil
}

// OrderStore keeps orders keyed by ID with a unique order-number index.
type OrderStore struct {
	mu      sync.RWMutex
	orders  map[string]domain.Order
	numbers map[string]string
}

var _ repositories.OrderRepository = (*OrderStore)(nil)

// NewOrderStore returns an empty order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]domain.Order), numbers: make(map[string]string)}
}

func (s *OrderStore) Insert(_ context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return fmt.Errorf("memory orders: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.orders[order.ID]; taken {
		return repositories.NewRecordError(repositories.RecordErrorIDConflict, "order "+order.ID+" already exists", nil)
	}
	if _, taken := s.numbers[order.OrderNumber]; taken {
		return repositories.NewRecordError(repositories.RecordErrorCodeConflict, "order number "+order.OrderNumber+" already issued", nil)
	}
	s.orders[order.ID] = cloneOrder(order)
	s.numbers[order.OrderNumber] = order.ID
	return nil
}

func (s *OrderStore) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Order{}, repositories.NewRecordError(repositories.RecordErrorNotFound, "order "+orderID+" not found", nil)
	}
	return cloneOrder(order), nil
}

func (s *OrderStore) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	number := strings.ToUpper(strings.TrimSpace(orderNumber))
	s.mu.RLock()
	id, ok := s.numbers[number]
	s.mu.RUnlock()
	if !ok {
		return domain.Order{}, repositories.NewRecordError(repositories.RecordErrorNotFound, "order "+number+" not found", nil)
	}
	return s.FindByID(ctx, id)
}

func (s *OrderStore) ListByUser(_ context.Context, userID string, query repositories.OrderListQuery) (repositories.OrderListResult, error) {
	s.mu.RLock()
	matches := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.UserID != userID {
			continue
		}
		if query.Status != nil && order.Status != *query.Status {
			continue
		}
		matches = append(matches, cloneOrder(order))
	}
	s.mu.RUnlock()

	compare := orderComparator(query.SortBy)
	slices.SortFunc(matches, func(a, b domain.Order) int {
		c := compare(a, b)
		if query.SortOrder != domain.SortAsc {
			c = -c
		}
		return cmp.Or(c, b.CreatedAt.Compare(a.CreatedAt))
	})

	_, limit := normalisePage(1, query.Limit, defaultOrderPageSize, maxOrderPageSize)
	return repositories.OrderListResult{
		Orders: window(matches, max(query.Offset, 0), limit),
		Total:  len(matches),
	}, nil
}

func (s *OrderStore) UpdateIfStatus(_ context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.orders[order.ID]
	if !ok {
		return domain.Order{}, repositories.NewRecordError(repositories.RecordErrorNotFound, "order "+order.ID+" not found", nil)
	}
	if current.Status != expected {
		return domain.Order{}, repositories.NewStatusMismatchError("order "+order.ID, string(current.Status))
	}
	current.Status = order.Status
	current.TrackingNumber = order.TrackingNumber
	current.ActualDelivery = order.ActualDelivery
	current.Notes = order.Notes
	current.UpdatedAt = order.UpdatedAt
	current.ProcessedAt = order.ProcessedAt
	current.ShippedAt = order.ShippedAt
	current.DeliveredAt = order.DeliveredAt
	current.CancelledAt = order.CancelledAt
	s.orders[order.ID] = current
	return cloneOrder(current), nil
}

func (s *OrderStore) Totals(_ context.Context) (repositories.OrderTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	totals := repositories.OrderTotals{ByStatus: make(map[domain.OrderStatus]repositories.AmountTotals)}
	for _, order := range s.orders {
		entry := totals.ByStatus[order.Status]
		entry.Count++
		entry.Amount += order.TotalAmount
		totals.ByStatus[order.Status] = entry
	}
	return totals, nil
}

func orderComparator(field repositories.OrderSortField) func(a, b domain.Order) int {
	switch field {
	case repositories.OrderSortTotalAmount:
		return func(a, b domain.Order) int { return cmp.Compare(a.TotalAmount, b.TotalAmount) }
	case repositories.OrderSortNumber:
		return func(a, b domain.Order) int { return strings.Compare(a.OrderNumber, b.OrderNumber) }
	case repositories.OrderSortStatus:
		return func(a, b domain.Order) int { return strings.Compare(string(a.Status), string(b.Status)) }
	default:
		return func(a, b domain.Order) int { return a.CreatedAt.Compare(b.CreatedAt) }
	}
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	t.Items = slices.Clone(t.Items)
	t.FailedItems = slices.Clone(t.FailedItems)
	return t
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = slices.Clone(o.Items)
	return o
}

func inRange(at time.Time, rng domain.RangeQuery[time.Time]) bool {
	if rng.From != nil && at.Before(*rng.From) {
		return false
	}
	if rng.To != nil && at.After(*rng.To) {
		return false
	}
	return true
}

func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

func normalisePage(page, limit, fallback, ceiling int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = fallback
	}
	return page, min(limit, ceiling)
}
