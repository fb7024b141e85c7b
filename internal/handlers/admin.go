package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/services"
)

const defaultTopProducts = 10

var ticketListOptions = pagination.Options{
	DefaultLimit: pagination.DefaultLimit,
	MaxLimit:     pagination.DefaultMaxLimit,
}

// AdminHandlers exposes store-wide reports and order administration to the admin role.
type AdminHandlers struct {
	authn     *auth.Authenticator
	purchases services.PurchaseService
	orders    services.OrderService
	clock     func() time.Time
}

// NewAdminHandlers constructs the /admin handlers.
func NewAdminHandlers(authn *auth.Authenticator, purchases services.PurchaseService, orders services.OrderService) *AdminHandlers {
	return &AdminHandlers{
		authn:     authn,
		purchases: purchases,
		orders:    orders,
		clock:     time.Now,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Use(auth.RequireRole(auth.RoleAdmin))

	r.Get("/tickets", h.listTickets)
	r.Get("/purchases/stats", h.purchaseStats)
	r.Get("/purchases/top-products", h.topProducts)
	r.Get("/purchases/sales-by-month", h.salesByMonth)
	r.Get("/orders/stats", h.orderStats)
	r.Put("/orders/{orderID}/status", h.updateOrderStatus)
}

type adminTicketListResponse struct {
	Tickets    []ticketPayload `json:"tickets"`
	Pagination pageInfoPayload `json:"pagination"`
}

func (h *AdminHandlers) listTickets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		serviceUnavailable(ctx, w, "purchase")
		return
	}

	query := r.URL.Query()
	params, err := pagination.Parse(query, ticketListOptions)
	if err != nil {
		writePaginationError(w, r, err)
		return
	}
	filter := services.TicketListFilter{Page: params.Page, Limit: params.Limit}

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, ok := domain.ParseTicketStatus(strings.ToLower(raw))
		if !ok {
			invalidRequest(ctx, w, "status is not a known ticket status")
			return
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(query.Get("startDate")); raw != "" {
		from, err := parseDateParam(raw, false)
		if err != nil {
			invalidRequest(ctx, w, "startDate must be YYYY-MM-DD or RFC3339")
			return
		}
		filter.From = &from
	}
	if raw := strings.TrimSpace(query.Get("endDate")); raw != "" {
		to, err := parseDateParam(raw, true)
		if err != nil {
			invalidRequest(ctx, w, "endDate must be YYYY-MM-DD or RFC3339")
			return
		}
		filter.To = &to
	}

	page, err := h.purchases.ListTickets(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, adminTicketListResponse{
		Tickets:    buildTicketPayloads(page.Items),
		Pagination: buildPageInfoPayload(page.Pagination),
	})
}

func (h *AdminHandlers) purchaseStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		serviceUnavailable(ctx, w, "purchase")
		return
	}
	stats, err := h.purchases.GlobalStats(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, purchaseStatsResponse{Stats: buildPurchaseStatsPayload(stats)})
}

type topProductPayload struct {
	ProductID     string `json:"product_id"`
	Title         string `json:"title"`
	TotalQuantity int    `json:"total_quantity"`
	TotalRevenue  int64  `json:"total_revenue"`
	TimesSold     int    `json:"times_sold"`
}

type topProductsResponse struct {
	Products []topProductPayload `json:"products"`
}

func (h *AdminHandlers) topProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		serviceUnavailable(ctx, w, "purchase")
		return
	}
	limit := defaultTopProducts
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			invalidRequest(ctx, w, "limit must be a positive integer")
			return
		}
		limit = min(value, pagination.DefaultMaxLimit)
	}

	products, err := h.purchases.TopProducts(ctx, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := topProductsResponse{Products: make([]topProductPayload, 0, len(products))}
	for _, p := range products {
		resp.Products = append(resp.Products, topProductPayload{
			ProductID:     p.ProductID,
			Title:         p.Title,
			TotalQuantity: p.TotalQuantity,
			TotalRevenue:  p.TotalRevenue,
			TimesSold:     p.TimesSold,
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

type monthlySalesPayload struct {
	Month         int     `json:"month"`
	MonthName     string  `json:"month_name"`
	TotalSales    int64   `json:"total_sales"`
	TotalTickets  int     `json:"total_tickets"`
	AverageTicket float64 `json:"average_ticket"`
}

type salesByMonthResponse struct {
	Year   int                   `json:"year"`
	Months []monthlySalesPayload `json:"months"`
}

func (h *AdminHandlers) salesByMonth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		serviceUnavailable(ctx, w, "purchase")
		return
	}
	year := h.clock().UTC().Year()
	if raw := strings.TrimSpace(r.URL.Query().Get("year")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			invalidRequest(ctx, w, "year must be an integer")
			return
		}
		year = value
	}

	months, err := h.purchases.SalesByMonth(ctx, year)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := salesByMonthResponse{Year: year, Months: make([]monthlySalesPayload, 0, len(months))}
	for _, m := range months {
		resp.Months = append(resp.Months, monthlySalesPayload{
			Month:         m.Month,
			MonthName:     m.MonthName,
			TotalSales:    m.TotalSales,
			TotalTickets:  m.TotalTickets,
			AverageTicket: m.AverageTicket,
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

type orderStatusStatsPayload struct {
	Status      string `json:"status"`
	Count       int    `json:"count"`
	TotalAmount int64  `json:"total_amount"`
}

type orderStatsResponse struct {
	TotalOrders   int                       `json:"total_orders"`
	TotalAmount   int64                     `json:"total_amount"`
	AverageAmount float64                   `json:"average_amount"`
	ByStatus      []orderStatusStatsPayload `json:"by_status"`
}

func (h *AdminHandlers) orderStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	stats, err := h.orders.Stats(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := orderStatsResponse{
		TotalOrders:   stats.TotalOrders,
		TotalAmount:   stats.TotalAmount,
		AverageAmount: stats.AverageAmount,
		ByStatus:      make([]orderStatusStatsPayload, 0, len(stats.ByStatus)),
	}
	for _, s := range stats.ByStatus {
		resp.ByStatus = append(resp.ByStatus, orderStatusStatsPayload{
			Status:      string(s.Status),
			Count:       s.Count,
			TotalAmount: s.TotalAmount,
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

type updateOrderStatusRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
	Notes          string `json:"notes"`
}

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		invalidRequest(ctx, w, "order id is required")
		return
	}

	var req updateOrderStatusRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	status, ok := domain.ParseOrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !ok {
		invalidRequest(ctx, w, "status is not a known order status")
		return
	}

	order, err := h.orders.UpdateOrderStatus(ctx, services.UpdateOrderStatusCommand{
		Principal:      principal,
		OrderID:        orderID,
		Status:         status,
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		Notes:          req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// parseDateParam accepts a calendar date or an RFC3339 timestamp. Calendar end dates cover the
// whole day.
func parseDateParam(raw string, endOfDay bool) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}
