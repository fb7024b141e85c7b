package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	orderIDPrefix         = "ord_"
	orderFlow             = "order"
	defaultDeliveryWindow = 72 * time.Hour
	defaultOrderPageSize  = 10
	maxOrderPageSize      = 100
	maxTrackingLength     = 64
)

var orderSortFields = map[string]repositories.OrderSortField{
	"createdat":   repositories.OrderSortCreatedAt,
	"totalamount": repositories.OrderSortTotalAmount,
	"ordernumber": repositories.OrderSortNumber,
	"status":      repositories.OrderSortStatus,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Carts         repositories.CartRepository
	Products      repositories.ProductRepository
	Stock         StockService
	Orders        repositories.OrderRepository
	Counters      repositories.CounterRepository
	Notifications *NotificationDispatcher
	Events        EventPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
	Meter         metric.Meter

	ShippingCost          int64
	DeliveryWindow        time.Duration
	Location              *time.Location
	ValidationConcurrency int
}

type orderService struct {
	carts         repositories.CartRepository
	stock         StockService
	orders        repositories.OrderRepository
	validator     *PurchaseValidator
	numbers       *OrderNumberAllocator
	notifications *NotificationDispatcher
	events        EventPublisher
	now           func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
	metrics       *fulfillmentMetrics

	shippingCost   int64
	deliveryWindow time.Duration
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.ShippingCost < 0 {
		return nil, errors.New("order service: shipping cost must not be negative")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	validator, err := NewPurchaseValidator(deps.Products, deps.Stock, deps.ValidationConcurrency)
	if err != nil {
		return nil, err
	}
	numbers, err := NewOrderNumberAllocator(deps.Counters, clock, deps.Location)
	if err != nil {
		return nil, err
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	window := deps.DeliveryWindow
	if window <= 0 {
		window = defaultDeliveryWindow
	}

	return &orderService{
		carts:         deps.Carts,
		stock:         deps.Stock,
		orders:        deps.Orders,
		validator:     validator,
		numbers:       numbers,
		notifications: deps.Notifications,
		events:        deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:          idGen,
		logger:         logger,
		metrics:        newFulfillmentMetrics(deps.Meter),
		shippingCost:   deps.ShippingCost,
		deliveryWindow: window,
	}, nil
}

// CreateOrderFromCart places an order for every cart line or for none of them.
func (s *orderService) CreateOrderFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.Principal.UserID)
	if userID == "" {
		return Order{}, validationError(CodeInvalidInput, "user id is required")
	}
	address, err := normaliseShippingAddress(cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}
	method, err := normaliseOrderPaymentMethod(cmd.PaymentMethod)
	if err != nil {
		return Order{}, err
	}
	details, err := normalisePaymentDetails(cmd.PaymentDetails)
	if err != nil {
		return Order{}, err
	}
	notes := strings.TrimSpace(cmd.Notes)
	if utf8.RuneCountInString(notes) > maxNotesLength {
		return Order{}, validationError(CodeInvalidInput, fmt.Sprintf("notes must be at most %d characters", maxNotesLength))
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return Order{}, mapRepositoryError(err, CodeCartEmpty, "cart")
	}
	if cart.IsEmpty() {
		return Order{}, validationError(CodeCartEmpty, "cart is empty")
	}
	if err := checkLineQuantities(cart.Lines); err != nil {
		return Order{}, err
	}

	validation, err := s.validator.Classify(ctx, cart.Lines)
	if err != nil {
		s.logger(ctx, "order.validate.error", map[string]any{"userId": userID, "error": err.Error()})
		return Order{}, internalError("failed to validate cart", err)
	}
	if len(validation.Failed) > 0 {
		s.metrics.order(ctx, "rejected")
		return Order{}, insufficientStockError(CodeInsufficientStock, "some products in the cart cannot be fulfilled", validation.Failed)
	}

	number, err := s.numbers.Next(ctx)
	if err != nil {
		s.logger(ctx, "order.number.error", map[string]any{"userId": userID, "error": err.Error()})
		return Order{}, mapRepositoryError(err, CodeInternal, "order counter")
	}

	applied := make([]stockAdjustment, 0, len(validation.Fulfillable))
	items := make([]domain.OrderLineItem, 0, len(validation.Fulfillable))
	for _, line := range validation.Fulfillable {
		if _, err := s.stock.Decrement(ctx, line.Product.ID, line.Quantity); err != nil {
			s.compensate(ctx, applied)
			return Order{}, s.decrementFailure(ctx, line, err)
		}
		applied = append(applied, stockAdjustment{productID: line.Product.ID, quantity: line.Quantity})
		items = append(items, domain.OrderLineItem{
			ProductID: line.Product.ID,
			Name:      line.Product.Name,
			Price:     line.Product.Price,
			Quantity:  line.Quantity,
			Subtotal:  line.Product.Price * int64(line.Quantity),
		})
	}

	now := s.now()
	order := Order{
		ID:                s.nextOrderID(),
		OrderNumber:       number,
		UserID:            userID,
		ContactEmail:      strings.TrimSpace(cmd.Principal.Email),
		Items:             items,
		ShippingAddress:   address,
		PaymentMethod:     method,
		PaymentDetails:    details,
		ShippingCost:      s.shippingCost,
		Status:            domain.OrderStatusPending,
		EstimatedDelivery: now.Add(s.deliveryWindow),
		Notes:             notes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	order.TotalAmount = order.ItemsSubtotal() + order.ShippingCost

	if err := s.orders.Insert(ctx, order); err != nil {
		s.logger(ctx, "order.insert.error", map[string]any{"orderNumber": number, "error": err.Error()})
		s.compensate(ctx, applied)
		s.metrics.order(ctx, "error")
		return Order{}, mapRepositoryError(err, CodeOrderNotFound, "order")
	}

	if err := s.carts.Clear(ctx, userID); err != nil {
		s.logger(ctx, "order.cart_clear.error", map[string]any{"userId": userID, "error": err.Error()})
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      userID,
		"totalAmount": order.TotalAmount,
	})
	s.publish(ctx, EventOrderCreated, order, "")
	s.notifications.OrderPlaced(ctx, order)
	s.metrics.order(ctx, "created")
	return order, nil
}

// decrementFailure classifies a failed decrement after the already applied lines were rolled back.
func (s *orderService) decrementFailure(ctx context.Context, line FulfillableLine, err error) error {
	failed := domain.FailedLineItem{
		ProductID:         line.Product.ID,
		Title:             line.Product.Name,
		RequestedQuantity: line.Quantity,
	}
	var stockErr *repositories.StockError
	switch {
	case errors.Is(err, repositories.ErrStockInsufficient):
		failed.Reason = domain.FailureInsufficientStock
		if errors.As(err, &stockErr) {
			failed.AvailableStock = stockErr.Available
		}
	case errors.Is(err, repositories.ErrStockNotFound):
		failed.Title = productNotFoundTitle
		failed.Reason = domain.FailureProductNotFound
	default:
		s.logger(ctx, "order.decrement.error", map[string]any{"productId": line.Product.ID, "error": err.Error()})
		s.metrics.order(ctx, "error")
		return internalError("failed to update stock", err)
	}

	s.metrics.stockConflict(ctx, orderFlow)
	s.metrics.order(ctx, "lost_race")
	svcErr := insufficientStockError(CodeStockChanged, "stock changed while placing the order", []domain.FailedLineItem{failed})
	svcErr.Status = http.StatusConflict
	return svcErr
}

func (s *orderService) compensate(ctx context.Context, applied []stockAdjustment) {
	compensateStock(context.WithoutCancel(ctx), s.stock, s.logger, s.metrics, orderFlow, applied)
}

// GetUserOrders lists a user's orders with offset pagination.
func (s *orderService) GetUserOrders(ctx context.Context, userID string, opts OrderListOptions) (OrderPage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return OrderPage{}, validationError(CodeInvalidInput, "user id is required")
	}

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	limit := opts.Limit
	switch {
	case limit <= 0:
		limit = defaultOrderPageSize
	case limit > maxOrderPageSize:
		limit = maxOrderPageSize
	}

	sortBy := repositories.OrderSortCreatedAt
	if raw := strings.ToLower(strings.TrimSpace(opts.SortBy)); raw != "" {
		field, ok := orderSortFields[raw]
		if !ok {
			return OrderPage{}, validationError(CodeInvalidInput, fmt.Sprintf("unsupported sort field %q", opts.SortBy))
		}
		sortBy = field
	}
	sortOrder := domain.SortDesc
	switch opts.SortOrder {
	case "":
	case domain.SortAsc, domain.SortDesc:
		sortOrder = opts.SortOrder
	default:
		return OrderPage{}, validationError(CodeInvalidInput, fmt.Sprintf("unsupported sort order %q", opts.SortOrder))
	}

	result, err := s.orders.ListByUser(ctx, userID, repositories.OrderListQuery{
		Status:    opts.Status,
		SortBy:    sortBy,
		SortOrder: sortOrder,
		Offset:    (page - 1) * limit,
		Limit:     limit,
	})
	if err != nil {
		return OrderPage{}, mapRepositoryError(err, CodeOrderNotFound, "order")
	}
	return OrderPage{
		Orders:     result.Orders,
		Pagination: domain.NewPageInfo(page, limit, result.Total),
	}, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, principal Principal, orderNumber string) (Order, error) {
	orderNumber = strings.ToUpper(strings.TrimSpace(orderNumber))
	if orderNumber == "" {
		return Order{}, validationError(CodeInvalidInput, "order number is required")
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, mapRepositoryError(err, CodeOrderNotFound, "order")
	}
	return authorizeOrder(principal, order)
}

func (s *orderService) GetOrderByID(ctx context.Context, principal Principal, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, validationError(CodeInvalidInput, "order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, CodeOrderNotFound, "order")
	}
	return authorizeOrder(principal, order)
}

// UpdateOrderStatus moves an order along the status table. Only admins may call it.
func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	if !cmd.Principal.IsAdmin() {
		return Order{}, newError(ErrForbidden, CodeAdminRequired, "only administrators can change order status", nil)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, validationError(CodeInvalidInput, "order id is required")
	}
	next, ok := domain.ParseOrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))
	if !ok {
		return Order{}, validationError(CodeInvalidInput, fmt.Sprintf("unknown order status %q", cmd.Status))
	}
	tracking := strings.TrimSpace(cmd.TrackingNumber)
	if len(tracking) > maxTrackingLength {
		return Order{}, validationError(CodeInvalidInput, fmt.Sprintf("tracking number must be at most %d characters", maxTrackingLength))
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, CodeOrderNotFound, "order")
	}
	previous := order.Status
	if !previous.CanTransition(next) {
		return Order{}, newError(ErrConflict, CodeInvalidTransition, fmt.Sprintf("cannot move order from %s to %s", previous, next), nil)
	}

	now := s.now()
	order.Status = next
	order.UpdatedAt = now
	if tracking != "" {
		order.TrackingNumber = tracking
	}
	if notes := strings.TrimSpace(cmd.Notes); notes != "" {
		order.Notes = appendNote(order.Notes, notes)
	}
	switch next {
	case domain.OrderStatusProcessing:
		order.ProcessedAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
		order.ActualDelivery = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	}

	saved, err := s.orders.UpdateIfStatus(ctx, order, previous)
	if err != nil {
		var recordErr *repositories.RecordError
		if errors.As(err, &recordErr) && recordErr.Code == repositories.RecordErrorStatusMismatch {
			return Order{}, newError(ErrConflict, CodeStatusChanged, "order status changed concurrently; reload and retry", err)
		}
		return Order{}, mapRepositoryError(err, CodeOrderNotFound, "order")
	}

	if next == domain.OrderStatusCancelled && previous.RestocksOnCancel() {
		restore := make([]stockAdjustment, 0, len(saved.Items))
		for _, item := range saved.Items {
			restore = append(restore, stockAdjustment{productID: item.ProductID, quantity: item.Quantity})
		}
		s.compensate(ctx, restore)
	}

	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId":  saved.ID,
		"previous": string(previous),
		"current":  string(next),
		"actorId":  cmd.Principal.UserID,
	})
	s.publish(ctx, EventOrderStatusChanged, saved, previous)
	s.notifications.OrderStatusChanged(ctx, saved, previous)
	return saved, nil
}

// Stats aggregates every order overall and per status.
func (s *orderService) Stats(ctx context.Context) (OrderStats, error) {
	totals, err := s.orders.Totals(ctx)
	if err != nil {
		return OrderStats{}, mapRepositoryError(err, CodeOrderNotFound, "order")
	}

	stats := OrderStats{ByStatus: make([]OrderStatusStats, 0, len(totals.ByStatus))}
	for _, status := range domain.OrderStatuses() {
		entry, ok := totals.ByStatus[status]
		if !ok || entry.Count == 0 {
			continue
		}
		stats.TotalOrders += entry.Count
		stats.TotalAmount += entry.Amount
		stats.ByStatus = append(stats.ByStatus, OrderStatusStats{Status: status, Count: entry.Count, TotalAmount: entry.Amount})
	}
	if stats.TotalOrders > 0 {
		stats.AverageAmount = round2(float64(stats.TotalAmount) / float64(stats.TotalOrders))
	}
	return stats, nil
}

func (s *orderService) publish(ctx context.Context, eventType string, order Order, previous domain.OrderStatus) {
	if s.events == nil {
		return
	}
	attributes := map[string]string{
		"orderId":    order.ID,
		"totalItems": strconv.Itoa(order.TotalItems()),
	}
	if previous != "" {
		attributes["previousStatus"] = string(previous)
	}
	event := DomainEvent{
		ID:         s.newID(),
		Type:       eventType,
		Subject:    order.OrderNumber,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Amount:     order.TotalAmount,
		OccurredAt: s.now(),
		Attributes: attributes,
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{"type": eventType, "error": err.Error()})
	}
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func authorizeOrder(principal Principal, order Order) (Order, error) {
	if !principal.CanAccess(order.UserID) {
		return Order{}, newError(ErrForbidden, CodeNotOwner, "order belongs to another user", nil)
	}
	return order, nil
}

func normaliseShippingAddress(addr domain.ShippingAddress) (domain.ShippingAddress, error) {
	out := domain.ShippingAddress{
		Name:       strings.TrimSpace(addr.Name),
		Address:    strings.TrimSpace(addr.Address),
		City:       strings.TrimSpace(addr.City),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Phone:      strings.TrimSpace(addr.Phone),
	}
	var missing []string
	for _, field := range []struct {
		name  string
		value string
	}{
		{"name", out.Name},
		{"address", out.Address},
		{"city", out.City},
		{"postalCode", out.PostalCode},
		{"phone", out.Phone},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return domain.ShippingAddress{}, validationError(CodeInvalidInput, "shipping address is missing: "+strings.Join(missing, ", "))
	}
	return out, nil
}

func normaliseOrderPaymentMethod(method domain.PaymentMethod) (domain.PaymentMethod, error) {
	raw := strings.ToLower(strings.TrimSpace(string(method)))
	if raw == "" {
		return domain.PaymentMethodCreditCard, nil
	}
	if !slices.Contains(domain.OrderPaymentMethods, domain.PaymentMethod(raw)) {
		return "", validationError(CodeInvalidInput, fmt.Sprintf("unsupported payment method %q", method))
	}
	return domain.PaymentMethod(raw), nil
}

func normalisePaymentDetails(details domain.PaymentDetails) (domain.PaymentDetails, error) {
	out := domain.PaymentDetails{
		CardLastFour: strings.TrimSpace(details.CardLastFour),
		CardType:     domain.CardType(strings.ToLower(strings.TrimSpace(string(details.CardType)))),
	}
	if out.CardLastFour != "" {
		if len(out.CardLastFour) != 4 || strings.IndexFunc(out.CardLastFour, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0 {
			return domain.PaymentDetails{}, validationError(CodeInvalidInput, "cardLastFour must be exactly 4 digits")
		}
	}
	switch out.CardType {
	case "", domain.CardTypeVisa, domain.CardTypeMastercard, domain.CardTypeAmex, domain.CardTypeOther:
	default:
		return domain.PaymentDetails{}, validationError(CodeInvalidInput, fmt.Sprintf("unsupported card type %q", details.CardType))
	}
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
