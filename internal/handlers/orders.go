package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/services"
)

var orderListOptions = pagination.Options{
	DefaultLimit:     pagination.DefaultLimit,
	MaxLimit:         pagination.DefaultMaxLimit,
	AllowedSortBy:    []string{"createdAt", "totalAmount", "orderNumber", "status"},
	DefaultSortBy:    "createdAt",
	DefaultSortOrder: pagination.Desc,
}

// OrderHandlers exposes the all-or-nothing checkout and order reads for authenticated users.
type OrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	mutations mutationConfig
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...MutationOption) *OrderHandlers {
	return &OrderHandlers{
		authn:     authn,
		orders:    orders,
		mutations: newMutationConfig(opts),
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.With(h.mutations.checkoutChain("orders")...).Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderNumber}", h.getOrder)
}

type createOrderRequest struct {
	ShippingAddress *shippingAddressPayload `json:"shipping_address"`
	PaymentMethod   string                  `json:"payment_method"`
	PaymentDetails  *paymentDetailsPayload  `json:"payment_details"`
	Notes           string                  `json:"notes"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if req.ShippingAddress == nil {
		invalidRequest(ctx, w, "shipping_address is required")
		return
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		invalidRequest(ctx, w, "payment_method is required")
		return
	}

	cmd := services.CreateOrderCommand{
		Principal: principal,
		ShippingAddress: domain.ShippingAddress{
			Name:       req.ShippingAddress.Name,
			Address:    req.ShippingAddress.Address,
			City:       req.ShippingAddress.City,
			PostalCode: req.ShippingAddress.PostalCode,
			Phone:      req.ShippingAddress.Phone,
		},
		PaymentMethod: domain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		Notes:         req.Notes,
	}
	if req.PaymentDetails != nil {
		cmd.PaymentDetails = domain.PaymentDetails{
			CardLastFour: strings.TrimSpace(req.PaymentDetails.CardLastFour),
			CardType:     domain.CardType(strings.ToLower(strings.TrimSpace(req.PaymentDetails.CardType))),
		}
	}

	order, err := h.orders.CreateOrderFromCart(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

type orderListResponse struct {
	Orders     []orderPayload  `json:"orders"`
	Pagination pageInfoPayload `json:"pagination"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, orderListOptions)
	if err != nil {
		writePaginationError(w, r, err)
		return
	}

	opts := services.OrderListOptions{
		Page:      params.Page,
		Limit:     params.Limit,
		SortBy:    params.SortBy,
		SortOrder: domain.SortOrder(params.SortOrder),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, ok := domain.ParseOrderStatus(strings.ToLower(raw))
		if !ok {
			invalidRequest(ctx, w, "status is not a known order status")
			return
		}
		opts.Status = &status
	}

	page, err := h.orders.GetUserOrders(ctx, principal.UserID, opts)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := orderListResponse{
		Orders:     make([]orderPayload, 0, len(page.Orders)),
		Pagination: buildPageInfoPayload(page.Pagination),
	}
	for _, order := range page.Orders {
		resp.Orders = append(resp.Orders, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if orderNumber == "" {
		invalidRequest(ctx, w, "order number is required")
		return
	}
	order, err := h.orders.GetOrderByNumber(ctx, principal, orderNumber)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func writePaginationError(w http.ResponseWriter, r *http.Request, err error) {
	message := "invalid pagination parameters"
	switch {
	case errors.Is(err, pagination.ErrInvalidPage):
		message = "page must be a positive integer"
	case errors.Is(err, pagination.ErrInvalidLimit):
		message = "limit must be a positive integer"
	case errors.Is(err, pagination.ErrInvalidSortBy):
		message = "sortBy is not supported"
	case errors.Is(err, pagination.ErrInvalidSortOrder):
		message = "sortOrder must be asc or desc"
	}
	invalidRequest(r.Context(), w, message)
}
