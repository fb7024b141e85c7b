package domain

import "slices"

// TicketStatus enumerates ticket lifecycle states.
type TicketStatus string

const (
	// TicketStatusPending marks a ticket whose line items are still being resolved.
	TicketStatusPending TicketStatus = "pending"
	// TicketStatusCompleted marks a ticket where every requested line was honored.
	TicketStatusCompleted TicketStatus = "completed"
	// TicketStatusPartiallyCompleted marks a ticket with both honored and failed lines.
	TicketStatusPartiallyCompleted TicketStatus = "partially_completed"
	// TicketStatusFailed marks a ticket where no line could be honored.
	TicketStatusFailed TicketStatus = "failed"
	// TicketStatusCancelled marks a pending ticket cancelled by its owner.
	TicketStatusCancelled TicketStatus = "cancelled"
)

// IsTerminal reports whether no further transition is expected for the ticket.
func (s TicketStatus) IsTerminal() bool {
	return s != TicketStatusPending
}

// IsSale reports whether the ticket counts towards sales reports.
func (s TicketStatus) IsSale() bool {
	return s == TicketStatusCompleted || s == TicketStatusPartiallyCompleted
}

// ParseTicketStatus validates a raw ticket status.
func ParseTicketStatus(raw string) (TicketStatus, bool) {
	status := TicketStatus(raw)
	switch status {
	case TicketStatusPending, TicketStatusCompleted, TicketStatusPartiallyCompleted,
		TicketStatusFailed, TicketStatusCancelled:
		return status, true
	}
	return "", false
}

// TicketStatuses lists every ticket status in lifecycle order.
func TicketStatuses() []TicketStatus {
	return []TicketStatus{
		TicketStatusPending,
		TicketStatusCompleted,
		TicketStatusPartiallyCompleted,
		TicketStatusFailed,
		TicketStatusCancelled,
	}
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment was confirmed.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:       {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

// CanTransition reports whether the order may move from one status to the next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	allowed, ok := orderStateTransitions[s]
	if !ok {
		return false
	}
	return slices.Contains(allowed, next)
}

// RestocksOnCancel reports whether cancelling from this status returns units to stock.
func (s OrderStatus) RestocksOnCancel() bool {
	return s == OrderStatusPending || s == OrderStatusPaid || s == OrderStatusProcessing
}

// OrderStatuses returns every known order status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusPaid,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}
}

// ParseOrderStatus validates a raw order status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(raw)
	if _, ok := orderStateTransitions[status]; ok {
		return status, true
	}
	return "", false
}
