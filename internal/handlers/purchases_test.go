package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/services"
)

func TestPurchaseHandlers_ProcessPurchasePartial(t *testing.T) {
	var captured services.ProcessPurchaseCommand
	svc := &stubPurchaseService{
		processFn: func(_ context.Context, cmd services.ProcessPurchaseCommand) (services.PurchaseResult, error) {
			captured = cmd
			return services.PurchaseResult{
				Ticket: services.Ticket{
					ID:          "tk_1",
					Code:        "TICKET-20260110-ABC123",
					PurchaserID: cmd.Principal.UserID,
					PurchasedAt: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
					Items: []services.PurchaseLineItem{
						{ProductID: "p1", Title: "Mug", Price: 1000, Quantity: 2, Subtotal: 2000, Status: domain.LineStatusAvailable},
					},
					FailedItems: []services.FailedLineItem{
						{ProductID: "p2", Title: "Pin", RequestedQuantity: 3, AvailableStock: 0, Reason: domain.FailureOutOfStock},
					},
					Amount:        2000,
					PaymentMethod: cmd.PaymentMethod,
					Status:        domain.TicketStatusPartiallyCompleted,
				},
				Summary: services.PurchaseSummary{TotalAmount: 2000, SuccessfulLines: 1, FailedLines: 1, IsPartial: true},
			}, nil
		},
	}
	handler := mountWithIdentity(customer("user-1"), NewPurchaseHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"payment_method":"cash","notes":"gift"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Principal.UserID != "user-1" || captured.PaymentMethod != domain.PaymentMethodCash || captured.Notes != "gift" {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var body processPurchaseResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !body.Summary.IsPartial || body.Summary.FailedLines != 1 {
		t.Fatalf("expected partial summary, got %+v", body.Summary)
	}
	if body.Ticket.Status != string(domain.TicketStatusPartiallyCompleted) {
		t.Fatalf("expected partially_completed ticket, got %s", body.Ticket.Status)
	}
	if len(body.Ticket.FailedItems) != 1 || body.Ticket.FailedItems[0].Reason != "out_of_stock" {
		t.Fatalf("expected failed item payload, got %+v", body.Ticket.FailedItems)
	}
	if !strings.Contains(body.Message, "partially") {
		t.Fatalf("expected partial message, got %q", body.Message)
	}
}

func TestPurchaseHandlers_ProcessPurchaseNoStock(t *testing.T) {
	svc := &stubPurchaseService{
		processFn: func(context.Context, services.ProcessPurchaseCommand) (services.PurchaseResult, error) {
			return services.PurchaseResult{}, &services.Error{
				Kind:    services.ErrInsufficientStock,
				Code:    services.CodeNoStockAvailable,
				Message: "no products in the cart have stock available",
				FailedLines: []domain.FailedLineItem{
					{ProductID: "p1", RequestedQuantity: 2, AvailableStock: 0, Reason: domain.FailureOutOfStock},
				},
			}
		},
	}
	handler := mountWithIdentity(customer("user-1"), NewPurchaseHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"payment_method":"cash"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var body struct {
		Error          string              `json:"error"`
		FailedProducts []failedLinePayload `json:"failed_products"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	if body.Error != services.CodeNoStockAvailable {
		t.Fatalf("expected no_stock_available, got %s", body.Error)
	}
	if len(body.FailedProducts) != 1 || body.FailedProducts[0].ProductID != "p1" {
		t.Fatalf("expected failed_products detail, got %+v", body.FailedProducts)
	}
}

func TestPurchaseHandlers_ProcessPurchaseDefaultsToCash(t *testing.T) {
	var captured services.ProcessPurchaseCommand
	svc := &stubPurchaseService{
		processFn: func(_ context.Context, cmd services.ProcessPurchaseCommand) (services.PurchaseResult, error) {
			captured = cmd
			method := cmd.PaymentMethod
			if method == "" {
				method = domain.PaymentMethodCash
			}
			return services.PurchaseResult{
				Ticket: services.Ticket{
					ID:            "tk_2",
					Code:          "TICKET-20260110-CASH01",
					PurchaserID:   cmd.Principal.UserID,
					Items:         []services.PurchaseLineItem{{ProductID: "p1", Title: "Mug", Price: 1000, Quantity: 1, Subtotal: 1000}},
					Amount:        1000,
					PaymentMethod: method,
					Status:        domain.TicketStatusCompleted,
				},
				Summary: services.PurchaseSummary{TotalAmount: 1000, SuccessfulLines: 1},
			}, nil
		},
	}
	handler := mountWithIdentity(customer("user-1"), NewPurchaseHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Principal.UserID != "user-1" || captured.PaymentMethod != "" {
		t.Fatalf("expected the omitted method to reach the service empty, got %+v", captured)
	}
	var body processPurchaseResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Ticket.PaymentMethod != string(domain.PaymentMethodCash) {
		t.Fatalf("expected cash payment method, got %q", body.Ticket.PaymentMethod)
	}
}

func TestPurchaseHandlers_ProcessPurchaseValidation(t *testing.T) {
	called := false
	svc := &stubPurchaseService{
		processFn: func(context.Context, services.ProcessPurchaseCommand) (services.PurchaseResult, error) {
			called = true
			return services.PurchaseResult{}, nil
		},
	}
	handler := mountWithIdentity(customer("user-1"), NewPurchaseHandlers(nil, svc).Routes)

	cases := map[string]string{
		"unknown field":  `{"payment_method":"cash","coupon":"FREE"}`,
		"empty body":     ``,
		"malformed":      `{"payment_method":`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
		})
	}
	if called {
		t.Fatalf("service must not be called for invalid requests")
	}
}

func TestPurchaseHandlers_RequiresIdentity(t *testing.T) {
	handler := mountWithIdentity(nil, NewPurchaseHandlers(nil, &stubPurchaseService{}).Routes)

	req := httptest.NewRequest(http.MethodGet, "/tickets", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestPurchaseHandlers_ServiceUnavailable(t *testing.T) {
	handler := mountWithIdentity(customer("user-1"), NewPurchaseHandlers(nil, nil).Routes)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestPurchaseHandlers_ListTickets(t *testing.T) {
	svc := &stubPurchaseService{
		ticketsFn: func(_ context.Context, userID string) ([]services.Ticket, error) {
			if userID != "user-1" {
				t.Fatalf("expected user-1, got %s", userID)
			}
			return []services.Ticket{{ID: "t2", Code: "B"}, {ID: "t1", Code: "A"}}, nil
		},
	}
	handler := mountWithIdentity(customer("user-1"), NewPurchaseHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodGet, "/tickets", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body ticketListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Count != 2 || body.Tickets[0].ID != "t2" {
		t.Fatalf("expected tickets in service order, got %+v", body)
	}
}

func TestPurchaseHandlers_GetTicketForbidden(t *testing.T) {
	svc := &stubPurchaseService{
		byCodeFn: func(_ context.Context, principal services.Principal, code string) (services.Ticket, error) {
			if code != "TICKET-1" {
				t.Fatalf("unexpected code %s", code)
			}
			return services.Ticket{}, &services.Error{Kind: services.ErrForbidden, Code: services.CodeNotOwner, Message: "ticket belongs to another user"}
		},
	}
	handler := mountWithIdentity(customer("user-2"), NewPurchaseHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodGet, "/tickets/TICKET-1", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestPurchaseHandlers_CancelTicket(t *testing.T) {
	var captured services.CancelTicketCommand
	svc := &stubPurchaseService{
		cancelFn: func(_ context.Context, cmd services.CancelTicketCommand) (services.Ticket, error) {
			captured = cmd
			return services.Ticket{ID: cmd.TicketID, Status: domain.TicketStatusCancelled}, nil
		},
	}
	handler := mountWithIdentity(customer("user-1"), NewPurchaseHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodPost, "/tickets/tk_9:cancel", strings.NewReader(`{"reason":" changed mind "}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.TicketID != "tk_9" || captured.Reason != "changed mind" || captured.Principal.UserID != "user-1" {
		t.Fatalf("unexpected cancel command: %+v", captured)
	}

	t.Run("without body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/tickets/tk_9:cancel", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestPurchaseHandlers_CancelConflict(t *testing.T) {
	svc := &stubPurchaseService{
		cancelFn: func(context.Context, services.CancelTicketCommand) (services.Ticket, error) {
			return services.Ticket{}, &services.Error{Kind: services.ErrConflict, Code: services.CodeTicketNotCancellable, Message: "ticket is no longer pending"}
		},
	}
	handler := mountWithIdentity(customer("user-1"), NewPurchaseHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodPost, "/tickets/tk_9:cancel", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["error"] != services.CodeTicketNotCancellable {
		t.Fatalf("expected ticket_not_cancellable, got %v", body["error"])
	}
}

func TestPurchaseHandlers_InternalErrorHidesCause(t *testing.T) {
	svc := &stubPurchaseService{
		userStats: func(context.Context, string) (services.PurchaseStats, error) {
			return services.PurchaseStats{}, &services.Error{Kind: services.ErrInternal, Code: services.CodeInternal, Message: "firestore exploded"}
		},
	}
	handler := mountWithIdentity(customer("user-1"), NewPurchaseHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "firestore") {
		t.Fatalf("internal details leaked: %s", rr.Body.String())
	}
}

func TestPurchaseHandlers_RateLimited(t *testing.T) {
	svc := &stubPurchaseService{
		processFn: func(context.Context, services.ProcessPurchaseCommand) (services.PurchaseResult, error) {
			return services.PurchaseResult{Ticket: services.Ticket{ID: "tk"}}, nil
		},
	}
	handler := mountWithIdentity(customer("user-1"), NewPurchaseHandlers(nil, svc, WithRateLimit(1, 1)).Routes)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"payment_method":"cash"}`))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send(); code != http.StatusCreated {
		t.Fatalf("expected first purchase 201, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("expected second purchase 429, got %d", code)
	}
}
