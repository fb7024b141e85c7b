package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

// MutationOption customises the write endpoints of the checkout handlers.
type MutationOption func(*mutationConfig)

type mutationConfig struct {
	limiter     rateLimiter
	idempotency func(http.Handler) http.Handler
}

// WithRateLimit caps checkout attempts per user.
func WithRateLimit(perMinute, burst int) MutationOption {
	return func(cfg *mutationConfig) {
		cfg.limiter = newKeyedRateLimiter(perMinute, burst, nil)
	}
}

// WithIdempotency wraps checkout endpoints with the idempotency middleware. It runs after
// authentication so keys are scoped to the caller.
func WithIdempotency(mw func(http.Handler) http.Handler) MutationOption {
	return func(cfg *mutationConfig) {
		cfg.idempotency = mw
	}
}

func newMutationConfig(opts []MutationOption) mutationConfig {
	var cfg mutationConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// checkoutChain returns the middleware placed in front of a checkout POST.
func (cfg mutationConfig) checkoutChain(scope string) []func(http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{rateLimit(cfg.limiter, scope)}
	if cfg.idempotency != nil {
		chain = append(chain, cfg.idempotency)
	}
	return chain
}

// PurchaseHandlers exposes the partial-fulfillment checkout and ticket endpoints.
type PurchaseHandlers struct {
	authn     *auth.Authenticator
	purchases services.PurchaseService
	mutations mutationConfig
}

// NewPurchaseHandlers constructs the /purchases handlers.
func NewPurchaseHandlers(authn *auth.Authenticator, purchases services.PurchaseService, opts ...MutationOption) *PurchaseHandlers {
	return &PurchaseHandlers{
		authn:     authn,
		purchases: purchases,
		mutations: newMutationConfig(opts),
	}
}

// Routes registers the /purchases endpoints.
func (h *PurchaseHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.With(h.mutations.checkoutChain("purchases")...).Post("/", h.processPurchase)
	r.Get("/tickets", h.listTickets)
	r.Get("/tickets/{code}", h.getTicket)
	r.Post("/tickets/{ticketID}:cancel", h.cancelTicket)
	r.Get("/stats", h.stats)
}

type processPurchaseRequest struct {
	PaymentMethod string `json:"payment_method"`
	Notes         string `json:"notes"`
}

type purchaseSummaryPayload struct {
	TotalAmount     int64 `json:"total_amount"`
	SuccessfulLines int   `json:"successful_lines"`
	FailedLines     int   `json:"failed_lines"`
	IsPartial       bool  `json:"is_partial"`
}

type processPurchaseResponse struct {
	Message string                 `json:"message"`
	Ticket  ticketPayload          `json:"ticket"`
	Summary purchaseSummaryPayload `json:"summary"`
}

func (h *PurchaseHandlers) processPurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		serviceUnavailable(ctx, w, "purchase")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	var req processPurchaseRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	// An omitted payment method is left empty; the service defaults it to cash.
	result, err := h.purchases.ProcessPurchase(ctx, services.ProcessPurchaseCommand{
		Principal:     principal,
		PaymentMethod: domain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		Notes:         req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	message := "purchase completed"
	if result.Summary.IsPartial {
		message = "purchase partially completed; some products were unavailable"
	}
	writeJSONResponse(w, http.StatusCreated, processPurchaseResponse{
		Message: message,
		Ticket:  buildTicketPayload(result.Ticket),
		Summary: purchaseSummaryPayload{
			TotalAmount:     result.Summary.TotalAmount,
			SuccessfulLines: result.Summary.SuccessfulLines,
			FailedLines:     result.Summary.FailedLines,
			IsPartial:       result.Summary.IsPartial,
		},
	})
}

type ticketListResponse struct {
	Tickets []ticketPayload `json:"tickets"`
	Count   int             `json:"count"`
}

func (h *PurchaseHandlers) listTickets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		serviceUnavailable(ctx, w, "purchase")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	tickets, err := h.purchases.GetUserTickets(ctx, principal.UserID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, ticketListResponse{
		Tickets: buildTicketPayloads(tickets),
		Count:   len(tickets),
	})
}

type ticketResponse struct {
	Ticket ticketPayload `json:"ticket"`
}

func (h *PurchaseHandlers) getTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		serviceUnavailable(ctx, w, "purchase")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		invalidRequest(ctx, w, "ticket code is required")
		return
	}
	ticket, err := h.purchases.GetTicketByCode(ctx, principal, code)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, ticketResponse{Ticket: buildTicketPayload(ticket)})
}

type cancelTicketRequest struct {
	Reason string `json:"reason"`
}

func (h *PurchaseHandlers) cancelTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		serviceUnavailable(ctx, w, "purchase")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	ticketID := strings.TrimSpace(chi.URLParam(r, "ticketID"))
	if ticketID == "" {
		invalidRequest(ctx, w, "ticket id is required")
		return
	}

	var req cancelTicketRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	ticket, err := h.purchases.CancelTicket(ctx, services.CancelTicketCommand{
		Principal: principal,
		TicketID:  ticketID,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, ticketResponse{Ticket: buildTicketPayload(ticket)})
}

type purchaseStatsResponse struct {
	Stats purchaseStatsPayload `json:"stats"`
}

func (h *PurchaseHandlers) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		serviceUnavailable(ctx, w, "purchase")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	stats, err := h.purchases.UserStats(ctx, principal.UserID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, purchaseStatsResponse{Stats: buildPurchaseStatsPayload(stats)})
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}
