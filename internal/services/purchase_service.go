package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	maxNotesLength          = 500
	defaultCancelReason     = "cancelled by user"
	defaultReconcileAfter   = 15 * time.Minute
	reconcileBatchSize      = 200
	purchaseFlow            = "purchase"
	defaultTopProductsLimit = 10
)

// CartClearPolicy selects which cart lines are dropped after a successful purchase.
type CartClearPolicy string

const (
	// CartClearAll empties the cart, including lines that could not be honored.
	CartClearAll CartClearPolicy = "all"
	// CartClearFulfilled drops only the honored lines so the rest can be retried.
	CartClearFulfilled CartClearPolicy = "fulfilled"
)

// PurchaseServiceDeps wires the collaborators of the partial-fulfillment checkout.
type PurchaseServiceDeps struct {
	Carts         repositories.CartRepository
	Products      repositories.ProductRepository
	Stock         StockService
	Tickets       repositories.TicketRepository
	Notifications *NotificationDispatcher
	Events        EventPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	CodeGenerator func() (string, error)
	Logger        func(ctx context.Context, event string, fields map[string]any)
	Meter         metric.Meter
	MonthName     func(time.Month) string

	CartClearPolicy       CartClearPolicy
	RecordFailedPurchases bool
	ValidationConcurrency int
	TicketCodeAttempts    int
	TicketBackoffBase     time.Duration
	TicketBackoffMax      time.Duration
	ReconcileAfter        time.Duration
}

type purchaseService struct {
	carts         repositories.CartRepository
	stock         StockService
	tickets       repositories.TicketRepository
	validator     *PurchaseValidator
	notifications *NotificationDispatcher
	events        EventPublisher
	now           func() time.Time
	newID         func() string
	newCode       func() (string, error)
	logger        func(context.Context, string, map[string]any)
	metrics       *fulfillmentMetrics
	monthName     func(time.Month) string

	clearPolicy    CartClearPolicy
	recordFailed   bool
	retry          retryPolicy
	reconcileAfter time.Duration
}

// NewPurchaseService validates dependencies and returns a PurchaseService.
func NewPurchaseService(deps PurchaseServiceDeps) (PurchaseService, error) {
	if deps.Carts == nil {
		return nil, errors.New("purchase service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("purchase service: product repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("purchase service: stock service is required")
	}
	if deps.Tickets == nil {
		return nil, errors.New("purchase service: ticket repository is required")
	}

	validator, err := NewPurchaseValidator(deps.Products, deps.Stock, deps.ValidationConcurrency)
	if err != nil {
		return nil, err
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	codeGen := deps.CodeGenerator
	if codeGen == nil {
		codeGen = NewTicketCodeGenerator(clock).Next
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	monthName := deps.MonthName
	if monthName == nil {
		monthName = time.Month.String
	}
	policy := deps.CartClearPolicy
	if policy != CartClearFulfilled {
		policy = CartClearAll
	}
	reconcileAfter := deps.ReconcileAfter
	if reconcileAfter <= 0 {
		reconcileAfter = defaultReconcileAfter
	}

	return &purchaseService{
		carts:          deps.Carts,
		stock:          deps.Stock,
		tickets:        deps.Tickets,
		validator:      validator,
		notifications:  deps.Notifications,
		events:         deps.Events,
		now:            func() time.Time { return clock().UTC() },
		newID:          idGen,
		newCode:        codeGen,
		logger:         logger,
		metrics:        newFulfillmentMetrics(deps.Meter),
		monthName:      monthName,
		clearPolicy:    policy,
		recordFailed:   deps.RecordFailedPurchases,
		retry:          newRetryPolicy(deps.TicketCodeAttempts, deps.TicketBackoffBase, deps.TicketBackoffMax),
		reconcileAfter: reconcileAfter,
	}, nil
}

// stockAdjustment records a decrement that may have to be rolled back.
type stockAdjustment struct {
	productID string
	quantity  int
}

// ProcessPurchase turns the caller's cart into a ticket, honoring every line it can.
func (s *purchaseService) ProcessPurchase(ctx context.Context, cmd ProcessPurchaseCommand) (PurchaseResult, error) {
	userID := strings.TrimSpace(cmd.Principal.UserID)
	if userID == "" {
		return PurchaseResult{}, validationError(CodeInvalidInput, "user id is required")
	}
	method, err := normaliseTicketPaymentMethod(cmd.PaymentMethod)
	if err != nil {
		return PurchaseResult{}, err
	}
	notes := strings.TrimSpace(cmd.Notes)
	if utf8.RuneCountInString(notes) > maxNotesLength {
		return PurchaseResult{}, validationError(CodeInvalidInput, fmt.Sprintf("notes must be at most %d characters", maxNotesLength))
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return PurchaseResult{}, mapRepositoryError(err, CodeCartEmpty, "cart")
	}
	if cart.IsEmpty() {
		return PurchaseResult{}, validationError(CodeCartEmpty, "cart is empty")
	}
	if err := checkLineQuantities(cart.Lines); err != nil {
		return PurchaseResult{}, err
	}

	validation, err := s.validator.Classify(ctx, cart.Lines)
	if err != nil {
		s.logger(ctx, "purchase.validate.error", map[string]any{"userId": userID, "error": err.Error()})
		return PurchaseResult{}, internalError("failed to validate cart", err)
	}

	now := s.now()
	ticket := Ticket{
		ID:             s.newID(),
		PurchaserID:    userID,
		PurchaserEmail: strings.TrimSpace(cmd.Principal.Email),
		PurchasedAt:    now,
		Items:          []PurchaseLineItem{},
		FailedItems:    slices.Clone(validation.Failed),
		PaymentMethod:  method,
		Status:         domain.TicketStatusPending,
		Notes:          notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if len(validation.Fulfillable) == 0 {
		if s.recordFailed {
			ticket.Status = domain.TicketStatusFailed
			if _, err := s.createTicket(ctx, ticket); err != nil {
				s.logger(ctx, "purchase.record_failed.error", map[string]any{"userId": userID, "error": err.Error()})
			}
		}
		s.metrics.purchase(ctx, "no_stock")
		return PurchaseResult{}, insufficientStockError(CodeNoStockAvailable, "no product in the cart has stock available", validation.Failed)
	}

	ticket, err = s.createTicket(ctx, ticket)
	if err != nil {
		s.metrics.purchase(ctx, "error")
		return PurchaseResult{}, err
	}

	items := make([]PurchaseLineItem, 0, len(validation.Fulfillable))
	failed := slices.Clone(validation.Failed)
	recorded := make([]stockAdjustment, 0, len(validation.Fulfillable))
	for _, line := range validation.Fulfillable {
		_, err := s.stock.Decrement(ctx, line.Product.ID, line.Quantity)
		if err == nil {
			taken := stockAdjustment{productID: line.Product.ID, quantity: line.Quantity}
			items = append(items, PurchaseLineItem{
				ProductID: line.Product.ID,
				Title:     line.Product.Name,
				Price:     line.Product.Price,
				Quantity:  line.Quantity,
				Subtotal:  line.Product.Price * int64(line.Quantity),
				Status:    domain.LineStatusAvailable,
			})
			// Every decrement is written to the pending ticket before the next one, so a crash
			// leaves reconciliation a record of exactly what to give back.
			if err := s.checkpoint(ctx, &ticket, items); err != nil {
				s.compensate(ctx, purchaseFlow, []stockAdjustment{taken})
				s.metrics.purchase(ctx, "error")
				return PurchaseResult{}, s.closeAfterFailure(ctx, ticket, recorded, err)
			}
			recorded = append(recorded, taken)
			continue
		}

		var stockErr *repositories.StockError
		switch {
		case errors.Is(err, repositories.ErrStockInsufficient):
			available := 0
			if errors.As(err, &stockErr) {
				available = stockErr.Available
			}
			s.metrics.stockConflict(ctx, purchaseFlow)
			failed = append(failed, domain.FailedLineItem{
				ProductID:         line.Product.ID,
				Title:             line.Product.Name,
				RequestedQuantity: line.Quantity,
				AvailableStock:    available,
				Reason:            domain.FailureInsufficientStock,
			})
		case errors.Is(err, repositories.ErrStockNotFound):
			failed = append(failed, domain.FailedLineItem{
				ProductID:         line.Product.ID,
				Title:             productNotFoundTitle,
				RequestedQuantity: line.Quantity,
				Reason:            domain.FailureProductNotFound,
			})
		default:
			s.logger(ctx, "purchase.decrement.error", map[string]any{
				"ticketId":  ticket.ID,
				"productId": line.Product.ID,
				"error":     err.Error(),
			})
			s.failTicket(ctx, ticket, recorded, "stock update failed; all decrements were reverted")
			s.metrics.purchase(ctx, "error")
			return PurchaseResult{}, internalError("failed to update stock", err)
		}
	}

	ticket.Items = items
	ticket.FailedItems = failed
	ticket.Amount = ticket.ItemsTotal()
	ticket.UpdatedAt = s.now()
	switch {
	case len(items) == 0:
		ticket.Status = domain.TicketStatusFailed
	case len(failed) == 0:
		ticket.Status = domain.TicketStatusCompleted
	default:
		ticket.Status = domain.TicketStatusPartiallyCompleted
	}

	saved, err := s.tickets.UpdateIfStatus(ctx, ticket, domain.TicketStatusPending)
	if err != nil {
		s.logger(ctx, "purchase.finalize.error", map[string]any{"ticketId": ticket.ID, "error": err.Error()})
		s.metrics.purchase(ctx, "error")
		return PurchaseResult{}, s.closeAfterFailure(ctx, ticket, recorded, err)
	}

	if len(items) == 0 {
		s.metrics.purchase(ctx, "lost_race")
		s.publishTicket(ctx, EventTicketFinalized, saved)
		return PurchaseResult{}, insufficientStockError(CodeNoStockAvailable, "every product sold out while processing the purchase", failed)
	}

	s.clearCart(ctx, userID, items)
	s.publishTicket(ctx, EventTicketFinalized, saved)
	s.notifications.PurchaseConfirmed(ctx, saved)
	s.metrics.purchase(ctx, string(saved.Status))

	return PurchaseResult{
		Ticket: saved,
		Summary: PurchaseSummary{
			TotalAmount:     saved.Amount,
			SuccessfulLines: len(saved.Items),
			FailedLines:     len(saved.FailedItems),
			IsPartial:       saved.Status == domain.TicketStatusPartiallyCompleted,
		},
	}, nil
}

// createTicket stores the ticket, regenerating its code on collision with bounded jittered backoff.
func (s *purchaseService) createTicket(ctx context.Context, ticket Ticket) (Ticket, error) {
	var lastErr error
	for attempt := 0; attempt < s.retry.attempts; attempt++ {
		if attempt > 0 {
			s.metrics.codeRetry(ctx)
			if err := s.retry.sleep(ctx, s.retry.backoff(attempt-1)); err != nil {
				return Ticket{}, internalError("ticket creation interrupted", err)
			}
		}
		code, err := s.newCode()
		if err != nil {
			return Ticket{}, internalError("failed to generate ticket code", err)
		}
		ticket.Code = code
		created, err := s.tickets.Create(ctx, ticket)
		if err == nil {
			return created, nil
		}
		lastErr = err
		switch {
		case isCodeConflict(err):
			s.logger(ctx, "purchase.ticket_code.collision", map[string]any{"code": code, "attempt": attempt + 1})
		case isIDConflict(err):
			s.logger(ctx, "purchase.ticket_id.collision", map[string]any{"ticketId": ticket.ID, "attempt": attempt + 1})
			ticket.ID = s.newID()
		default:
			return Ticket{}, mapRepositoryError(err, CodeTicketNotFound, "ticket")
		}
	}
	return Ticket{}, newError(ErrInternal, CodeTicketCodeExhausted, "could not allocate a unique ticket code", lastErr)
}

// checkpoint persists the items taken so far on the still pending ticket.
func (s *purchaseService) checkpoint(ctx context.Context, ticket *Ticket, items []PurchaseLineItem) error {
	next := *ticket
	next.Items = slices.Clone(items)
	next.Amount = next.ItemsTotal()
	next.UpdatedAt = s.now()
	saved, err := s.tickets.UpdateIfStatus(context.WithoutCancel(ctx), next, domain.TicketStatusPending)
	if err != nil {
		s.logger(ctx, "purchase.checkpoint.error", map[string]any{"ticketId": ticket.ID, "error": err.Error()})
		return err
	}
	*ticket = saved
	return nil
}

// closeAfterFailure handles a failed write to the pending ticket. When the ticket is no longer
// pending, whoever closed it (cancel or reconciliation) already restored the recorded items.
func (s *purchaseService) closeAfterFailure(ctx context.Context, ticket Ticket, recorded []stockAdjustment, err error) error {
	if isStatusMismatch(err) {
		return newError(ErrConflict, CodeStatusChanged, "ticket was closed while the purchase was processing", err)
	}
	s.failTicket(ctx, ticket, recorded, "purchase could not be finalized; all decrements were reverted")
	return internalError("failed to finalize ticket", err)
}

// failTicket moves a pending ticket to failed and, once that succeeds, restores the recorded
// decrements. If the ticket cannot be closed it stays pending and reconciliation restores them.
func (s *purchaseService) failTicket(ctx context.Context, ticket Ticket, recorded []stockAdjustment, note string) {
	ticket.Items = []PurchaseLineItem{}
	ticket.Amount = 0
	ticket.Status = domain.TicketStatusFailed
	ticket.Notes = appendNote(ticket.Notes, note)
	ticket.UpdatedAt = s.now()
	if _, err := s.tickets.UpdateIfStatus(context.WithoutCancel(ctx), ticket, domain.TicketStatusPending); err != nil {
		s.logger(ctx, "purchase.abandon.error", map[string]any{"ticketId": ticket.ID, "error": err.Error()})
		return
	}
	s.compensate(ctx, purchaseFlow, recorded)
}

func isStatusMismatch(err error) bool {
	var recordErr *repositories.RecordError
	return errors.As(err, &recordErr) && recordErr.Code == repositories.RecordErrorStatusMismatch
}

// compensate re-increments every applied decrement. It runs detached from request cancellation
// so a client disconnect cannot strand units.
func (s *purchaseService) compensate(ctx context.Context, flow string, applied []stockAdjustment) {
	compensateStock(context.WithoutCancel(ctx), s.stock, s.logger, s.metrics, flow, applied)
}

func compensateStock(ctx context.Context, stock StockService, logger func(context.Context, string, map[string]any), metrics *fulfillmentMetrics, flow string, applied []stockAdjustment) {
	units := 0
	for _, adj := range applied {
		if _, err := stock.Increment(ctx, adj.productID, adj.quantity); err != nil {
			logger(ctx, flow+".compensate.error", map[string]any{
				"productId": adj.productID,
				"quantity":  adj.quantity,
				"error":     err.Error(),
			})
			continue
		}
		units += adj.quantity
	}
	if units > 0 {
		metrics.compensation(ctx, flow, units)
	}
}

func (s *purchaseService) clearCart(ctx context.Context, userID string, items []PurchaseLineItem) {
	var err error
	switch s.clearPolicy {
	case CartClearFulfilled:
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ProductID)
		}
		err = s.carts.RemoveItems(ctx, userID, ids)
	default:
		err = s.carts.Clear(ctx, userID)
	}
	if err != nil {
		s.logger(ctx, "purchase.cart_clear.error", map[string]any{"userId": userID, "error": err.Error()})
	}
}

// GetUserTickets lists the user's tickets, newest first.
func (s *purchaseService) GetUserTickets(ctx context.Context, userID string) ([]Ticket, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, validationError(CodeInvalidInput, "user id is required")
	}
	tickets, err := s.tickets.ListByUser(ctx, userID)
	if err != nil {
		return nil, mapRepositoryError(err, CodeTicketNotFound, "ticket")
	}
	return tickets, nil
}

// GetTicketByCode loads a ticket visible to the principal.
func (s *purchaseService) GetTicketByCode(ctx context.Context, principal Principal, code string) (Ticket, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Ticket{}, validationError(CodeInvalidInput, "ticket code is required")
	}
	ticket, err := s.tickets.FindByCode(ctx, code)
	if err != nil {
		return Ticket{}, mapRepositoryError(err, CodeTicketNotFound, "ticket")
	}
	if !principal.CanAccess(ticket.PurchaserID) {
		return Ticket{}, newError(ErrForbidden, CodeNotOwner, "ticket belongs to another user", nil)
	}
	return ticket, nil
}

// CancelTicket moves a pending ticket to cancelled and returns any recorded units to stock.
func (s *purchaseService) CancelTicket(ctx context.Context, cmd CancelTicketCommand) (Ticket, error) {
	ticketID := strings.TrimSpace(cmd.TicketID)
	if ticketID == "" {
		return Ticket{}, validationError(CodeInvalidInput, "ticket id is required")
	}
	ticket, err := s.tickets.FindByID(ctx, ticketID)
	if err != nil {
		return Ticket{}, mapRepositoryError(err, CodeTicketNotFound, "ticket")
	}
	if !cmd.Principal.CanAccess(ticket.PurchaserID) {
		return Ticket{}, newError(ErrForbidden, CodeNotOwner, "ticket belongs to another user", nil)
	}
	if ticket.Status != domain.TicketStatusPending {
		return Ticket{}, notCancellable(ticket.Status)
	}

	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = defaultCancelReason
	}
	ticket.Status = domain.TicketStatusCancelled
	ticket.Notes = appendNote(ticket.Notes, "Cancelled: "+reason)
	ticket.UpdatedAt = s.now()

	saved, err := s.tickets.UpdateIfStatus(ctx, ticket, domain.TicketStatusPending)
	if err != nil {
		var recordErr *repositories.RecordError
		if errors.As(err, &recordErr) && recordErr.Code == repositories.RecordErrorStatusMismatch {
			return Ticket{}, notCancellable(domain.TicketStatus(recordErr.Current))
		}
		return Ticket{}, mapRepositoryError(err, CodeTicketNotFound, "ticket")
	}

	restore := make([]stockAdjustment, 0, len(saved.Items))
	for _, item := range saved.Items {
		restore = append(restore, stockAdjustment{productID: item.ProductID, quantity: item.Quantity})
	}
	s.compensate(ctx, "cancel", restore)
	s.logger(ctx, "purchase.ticket.cancelled", map[string]any{"ticketId": saved.ID, "reason": reason})
	s.publishTicket(ctx, EventTicketCancelled, saved)
	return saved, nil
}

// ReconcileStalePending fails tickets stuck in pending longer than the reconcile window.
func (s *purchaseService) ReconcileStalePending(ctx context.Context) (ReconcileResult, error) {
	cutoff := s.now().Add(-s.reconcileAfter)
	stale, err := s.tickets.Scan(ctx, repositories.TicketScanFilter{
		Statuses: []domain.TicketStatus{domain.TicketStatusPending},
		Range:    domain.RangeQuery[time.Time]{To: &cutoff},
		Limit:    reconcileBatchSize,
	})
	if err != nil {
		return ReconcileResult{}, mapRepositoryError(err, CodeTicketNotFound, "ticket")
	}

	result := ReconcileResult{Scanned: len(stale)}
	for _, ticket := range stale {
		ticket.Status = domain.TicketStatusFailed
		ticket.Notes = appendNote(ticket.Notes, "Reconciled: pending since "+ticket.PurchasedAt.Format(time.RFC3339))
		ticket.UpdatedAt = s.now()
		saved, err := s.tickets.UpdateIfStatus(ctx, ticket, domain.TicketStatusPending)
		if err != nil {
			s.logger(ctx, "purchase.reconcile.skip", map[string]any{"ticketId": ticket.ID, "error": err.Error()})
			continue
		}
		result.Failed++
		restore := make([]stockAdjustment, 0, len(saved.Items))
		for _, item := range saved.Items {
			restore = append(restore, stockAdjustment{productID: item.ProductID, quantity: item.Quantity})
			result.Restocked += item.Quantity
		}
		s.compensate(ctx, "reconcile", restore)
	}
	if result.Failed > 0 {
		s.logger(ctx, "purchase.reconcile.completed", map[string]any{"scanned": result.Scanned, "failed": result.Failed})
	}
	return result, nil
}

func (s *purchaseService) publishTicket(ctx context.Context, eventType string, ticket Ticket) {
	if s.events == nil {
		return
	}
	event := DomainEvent{
		ID:         s.newID(),
		Type:       eventType,
		Subject:    ticket.Code,
		UserID:     ticket.PurchaserID,
		Status:     string(ticket.Status),
		Amount:     ticket.Amount,
		OccurredAt: s.now(),
		Attributes: map[string]string{
			"ticketId":    ticket.ID,
			"items":       strconv.Itoa(len(ticket.Items)),
			"failedItems": strconv.Itoa(len(ticket.FailedItems)),
		},
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger(ctx, "purchase.event.publish_failed", map[string]any{"type": eventType, "error": err.Error()})
	}
}

func notCancellable(current domain.TicketStatus) error {
	return newError(ErrConflict, CodeTicketNotCancellable, fmt.Sprintf("only pending tickets can be cancelled; ticket is %s", current), nil)
}

func normaliseTicketPaymentMethod(method domain.PaymentMethod) (domain.PaymentMethod, error) {
	raw := strings.ToLower(strings.TrimSpace(string(method)))
	if raw == "" {
		return domain.PaymentMethodCash, nil
	}
	if !slices.Contains(domain.TicketPaymentMethods, domain.PaymentMethod(raw)) {
		return "", validationError(CodeInvalidInput, fmt.Sprintf("unsupported payment method %q", method))
	}
	return domain.PaymentMethod(raw), nil
}

// appendNote adds a line to the notes, keeping at most maxNotesLength runes.
func appendNote(notes, line string) string {
	combined := line
	if notes = strings.TrimSpace(notes); notes != "" {
		combined = notes + "\n" + line
	}
	if utf8.RuneCountInString(combined) <= maxNotesLength {
		return combined
	}
	return string([]rune(combined)[:maxNotesLength])
}
