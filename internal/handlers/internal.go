package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

// InternalHandlers serves scheduler and back-office calls authenticated with OIDC service tokens.
// The OIDC middleware is mounted on the /internal group by the router.
type InternalHandlers struct {
	purchases services.PurchaseService
	stock     services.StockService
}

// NewInternalHandlers constructs the /internal handlers.
func NewInternalHandlers(purchases services.PurchaseService, stock services.StockService) *InternalHandlers {
	return &InternalHandlers{purchases: purchases, stock: stock}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/tickets:reconcile", h.reconcileTickets)
	r.Post("/products/{productID}:restock", h.restockProduct)
}

type reconcileResponse struct {
	Scanned   int `json:"scanned"`
	Failed    int `json:"failed"`
	Restocked int `json:"restocked"`
}

func (h *InternalHandlers) reconcileTickets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		serviceUnavailable(ctx, w, "purchase")
		return
	}
	result, err := h.purchases.ReconcileStalePending(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reconcileResponse{
		Scanned:   result.Scanned,
		Failed:    result.Failed,
		Restocked: result.Restocked,
	})
}

type restockRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

type stockLevelResponse struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}

func (h *InternalHandlers) restockProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		serviceUnavailable(ctx, w, "stock")
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		invalidRequest(ctx, w, "product id is required")
		return
	}

	var req restockRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if req.Quantity <= 0 {
		invalidRequest(ctx, w, "quantity must be greater than zero")
		return
	}

	reason := strings.TrimSpace(req.Reason)
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && reason == "" {
		reason = "restock by " + svc.Subject
	}

	level, err := h.stock.Restock(ctx, services.RestockCommand{
		ProductID: productID,
		Quantity:  req.Quantity,
		Reason:    reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stockLevelResponse{ProductID: level.ProductID, Stock: level.Stock})
}
