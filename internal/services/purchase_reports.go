package services

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	maxTopProductsLimit = 100
	minSalesYear        = 2000
	maxSalesYear        = 9999
)

var saleStatuses = []domain.TicketStatus{
	domain.TicketStatusCompleted,
	domain.TicketStatusPartiallyCompleted,
}

// UserStats aggregates the tickets of a single purchaser.
func (s *purchaseService) UserStats(ctx context.Context, userID string) (PurchaseStats, error) {
	if userID == "" {
		return PurchaseStats{}, validationError(CodeInvalidInput, "user id is required")
	}
	return s.stats(ctx, userID)
}

// GlobalStats aggregates every ticket in the store.
func (s *purchaseService) GlobalStats(ctx context.Context) (PurchaseStats, error) {
	return s.stats(ctx, "")
}

func (s *purchaseService) stats(ctx context.Context, userID string) (PurchaseStats, error) {
	totals, err := s.tickets.Totals(ctx, userID)
	if err != nil {
		return PurchaseStats{}, mapRepositoryError(err, CodeTicketNotFound, "ticket")
	}

	stats := PurchaseStats{
		SuccessRate:      "0%",
		CompletedTickets: totals.ByStatus[domain.TicketStatusCompleted].Count,
		PartialTickets:   totals.ByStatus[domain.TicketStatusPartiallyCompleted].Count,
		FailedTickets:    totals.ByStatus[domain.TicketStatusFailed].Count,
		FirstPurchase:    totals.FirstPurchase,
		LastPurchase:     totals.LastPurchase,
	}
	for _, entry := range totals.ByStatus {
		stats.TotalTickets += entry.Count
		stats.TotalAmount += entry.Amount
	}
	if stats.TotalTickets > 0 {
		stats.AverageAmount = round2(float64(stats.TotalAmount) / float64(stats.TotalTickets))
		rate := float64(stats.CompletedTickets) / float64(stats.TotalTickets) * 100
		stats.SuccessRate = fmt.Sprintf("%.2f%%", rate)
	}
	return stats, nil
}

// ListTickets pages through tickets for administrators. A date range returns every match.
func (s *purchaseService) ListTickets(ctx context.Context, filter TicketListFilter) (domain.Page[Ticket], error) {
	if filter.Page < 0 || filter.Limit < 0 {
		return domain.Page[Ticket]{}, validationError(CodeInvalidInput, "page and limit must not be negative")
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.Page[Ticket]{}, validationError(CodeInvalidInput, "end date must not be before start date")
	}
	if filter.Status != nil {
		if _, ok := domain.ParseTicketStatus(string(*filter.Status)); !ok {
			return domain.Page[Ticket]{}, validationError(CodeInvalidInput, fmt.Sprintf("unknown ticket status %q", *filter.Status))
		}
	}

	page, err := s.tickets.List(ctx, repositories.TicketListFilter{
		Status: filter.Status,
		Range:  domain.RangeQuery[time.Time]{From: filter.From, To: filter.To},
		Page:   filter.Page,
		Limit:  filter.Limit,
	})
	if err != nil {
		return domain.Page[Ticket]{}, mapRepositoryError(err, CodeTicketNotFound, "ticket")
	}
	return page, nil
}

// TopProducts ranks products by units sold across completed and partially completed tickets.
func (s *purchaseService) TopProducts(ctx context.Context, limit int) ([]TopProduct, error) {
	switch {
	case limit <= 0:
		limit = defaultTopProductsLimit
	case limit > maxTopProductsLimit:
		limit = maxTopProductsLimit
	}

	tickets, err := s.tickets.Scan(ctx, repositories.TicketScanFilter{Statuses: saleStatuses})
	if err != nil {
		return nil, mapRepositoryError(err, CodeTicketNotFound, "ticket")
	}

	byProduct := make(map[string]*TopProduct)
	order := make([]string, 0)
	for _, ticket := range tickets {
		for _, item := range ticket.Items {
			entry, ok := byProduct[item.ProductID]
			if !ok {
				entry = &TopProduct{ProductID: item.ProductID, Title: item.Title}
				byProduct[item.ProductID] = entry
				order = append(order, item.ProductID)
			}
			entry.TotalQuantity += item.Quantity
			entry.TotalRevenue += item.Subtotal
			entry.TimesSold++
		}
	}

	ranked := make([]TopProduct, 0, len(order))
	for _, id := range order {
		ranked = append(ranked, *byProduct[id])
	}
	slices.SortStableFunc(ranked, func(a, b TopProduct) int {
		return cmp.Compare(b.TotalQuantity, a.TotalQuantity)
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// SalesByMonth returns twelve entries, one per month of year, for completed and partially
// completed tickets.
func (s *purchaseService) SalesByMonth(ctx context.Context, year int) ([]MonthlySales, error) {
	if year == 0 {
		year = s.now().Year()
	}
	if year < minSalesYear || year > maxSalesYear {
		return nil, validationError(CodeInvalidInput, fmt.Sprintf("year must be between %d and %d", minSalesYear, maxSalesYear))
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0).Add(-time.Nanosecond)
	tickets, err := s.tickets.Scan(ctx, repositories.TicketScanFilter{
		Statuses: saleStatuses,
		Range:    domain.RangeQuery[time.Time]{From: &from, To: &to},
	})
	if err != nil {
		return nil, mapRepositoryError(err, CodeTicketNotFound, "ticket")
	}

	months := make([]MonthlySales, 12)
	for i := range months {
		month := time.Month(i + 1)
		months[i] = MonthlySales{Month: int(month), MonthName: s.monthName(month)}
	}
	for _, ticket := range tickets {
		entry := &months[ticket.PurchasedAt.UTC().Month()-1]
		entry.TotalSales += ticket.Amount
		entry.TotalTickets++
	}
	for i := range months {
		if months[i].TotalTickets > 0 {
			months[i].AverageTicket = round2(float64(months[i].TotalSales) / float64(months[i].TotalTickets))
		}
	}
	return months, nil
}
