package domain

import (
	"time"
)

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Product is the catalog view consumed by the fulfillment engine. Price is expressed in the
// smallest currency unit and Stock is never negative.
type Product struct {
	ID        string
	Name      string
	Price     int64
	Stock     int
	Category  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cart aggregates the pending line items of a single user.
type Cart struct {
	UserID    string
	Lines     []CartLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsEmpty reports whether the cart carries no line items.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// CartLine stores a product reference and the requested quantity (>= 1).
type CartLine struct {
	ProductID string
	Quantity  int
}

// PaymentMethod is the opaque payment label recorded on tickets and orders.
type PaymentMethod string

const (
	PaymentMethodCash           PaymentMethod = "cash"
	PaymentMethodCreditCard     PaymentMethod = "credit_card"
	PaymentMethodDebitCard      PaymentMethod = "debit_card"
	PaymentMethodPayPal         PaymentMethod = "paypal"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// TicketPaymentMethods lists the methods accepted by the partial-fulfillment checkout.
var TicketPaymentMethods = []PaymentMethod{
	PaymentMethodCash,
	PaymentMethodCreditCard,
	PaymentMethodDebitCard,
	PaymentMethodPayPal,
	PaymentMethodBankTransfer,
}

// OrderPaymentMethods lists the methods accepted when placing a shipping order.
var OrderPaymentMethods = []PaymentMethod{
	PaymentMethodCreditCard,
	PaymentMethodDebitCard,
	PaymentMethodBankTransfer,
	PaymentMethodCashOnDelivery,
}

// LineStatus classifies a purchased line item.
type LineStatus string

const (
	LineStatusAvailable         LineStatus = "available"
	LineStatusOutOfStock        LineStatus = "out_of_stock"
	LineStatusInsufficientStock LineStatus = "insufficient_stock"
)

// FailureReason explains why a cart line could not be honored.
type FailureReason string

const (
	FailureOutOfStock        FailureReason = "out_of_stock"
	FailureInsufficientStock FailureReason = "insufficient_stock"
	FailureProductNotFound   FailureReason = "product_not_found"
)

// PurchaseLineItem is a fulfilled line embedded in a ticket. Title and Price are snapshots
// captured at purchase time.
type PurchaseLineItem struct {
	ProductID string
	Title     string
	Price     int64
	Quantity  int
	Subtotal  int64
	Status    LineStatus
}

// FailedLineItem records a cart line that could not be honored.
type FailedLineItem struct {
	ProductID         string
	Title             string
	RequestedQuantity int
	AvailableStock    int
	Reason            FailureReason
}

// Ticket is the purchase record produced by the partial-fulfillment checkout.
type Ticket struct {
	ID             string
	Code           string
	PurchaserID    string
	PurchaserEmail string
	PurchasedAt    time.Time
	Items          []PurchaseLineItem
	FailedItems    []FailedLineItem
	Amount         int64
	PaymentMethod  PaymentMethod
	Status         TicketStatus
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ItemsTotal sums the subtotals of the fulfilled items.
func (t Ticket) ItemsTotal() int64 {
	var total int64
	for _, item := range t.Items {
		total += item.Subtotal
	}
	return total
}

// ShippingAddress is the delivery destination captured on an order.
type ShippingAddress struct {
	Name       string
	Address    string
	City       string
	PostalCode string
	Phone      string
}

// CardType enumerates card brands accepted in payment details.
type CardType string

const (
	CardTypeVisa       CardType = "visa"
	CardTypeMastercard CardType = "mastercard"
	CardTypeAmex       CardType = "amex"
	CardTypeOther      CardType = "other"
)

// PaymentDetails stores the non-sensitive card summary of an order.
type PaymentDetails struct {
	CardLastFour string
	CardType     CardType
}

// OrderLineItem mirrors a cart line at the time the order was placed.
type OrderLineItem struct {
	ProductID string
	Name      string
	Price     int64
	Quantity  int
	Subtotal  int64
}

// Order is the shipping record produced by the all-or-nothing checkout.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            string
	ContactEmail      string
	Items             []OrderLineItem
	ShippingAddress   ShippingAddress
	PaymentMethod     PaymentMethod
	PaymentDetails    PaymentDetails
	ShippingCost      int64
	TotalAmount       int64
	Status            OrderStatus
	TrackingNumber    string
	EstimatedDelivery time.Time
	ActualDelivery    *time.Time
	Notes             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ProcessedAt       *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
}

// ItemsSubtotal sums the line subtotals, excluding shipping.
func (o Order) ItemsSubtotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.Subtotal
	}
	return total
}

// TotalItems counts the units across all lines.
func (o Order) TotalItems() int {
	var count int
	for _, item := range o.Items {
		count += item.Quantity
	}
	return count
}

// Page packages offset-paginated list results.
type Page[T any] struct {
	Items      []T
	Pagination PageInfo
}

// PageInfo describes the position of a page within the full result set.
type PageInfo struct {
	CurrentPage int
	PerPage     int
	TotalPages  int
	TotalItems  int
	HasNextPage bool
	HasPrevPage bool
}

// NewPageInfo derives paging metadata from the requested page, limit and total count.
func NewPageInfo(page, limit, total int) PageInfo {
	if limit <= 0 {
		limit = 1
	}
	if page <= 0 {
		page = 1
	}
	totalPages := (total + limit - 1) / limit
	return PageInfo{
		CurrentPage: page,
		PerPage:     limit,
		TotalPages:  totalPages,
		TotalItems:  total,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
	}
}
