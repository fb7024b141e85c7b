package handlers

import (
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/services"
)

type lineItemPayload struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
	Status    string `json:"status,omitempty"`
}

type failedLinePayload struct {
	ProductID         string `json:"product_id"`
	Title             string `json:"title,omitempty"`
	RequestedQuantity int    `json:"requested_quantity"`
	AvailableStock    int    `json:"available_stock"`
	Reason            string `json:"reason"`
}

type ticketPayload struct {
	ID             string              `json:"id"`
	Code           string              `json:"code"`
	PurchaserID    string              `json:"purchaser_id"`
	PurchaserEmail string              `json:"purchaser_email,omitempty"`
	PurchasedAt    string              `json:"purchased_at"`
	Items          []lineItemPayload   `json:"items"`
	FailedItems    []failedLinePayload `json:"failed_items"`
	Amount         int64               `json:"amount"`
	PaymentMethod  string              `json:"payment_method"`
	Status         string              `json:"status"`
	Notes          string              `json:"notes,omitempty"`
	CreatedAt      string              `json:"created_at,omitempty"`
	UpdatedAt      string              `json:"updated_at,omitempty"`
}

type pageInfoPayload struct {
	CurrentPage int  `json:"current_page"`
	PerPage     int  `json:"per_page"`
	TotalPages  int  `json:"total_pages"`
	TotalItems  int  `json:"total_items"`
	HasNextPage bool `json:"has_next_page"`
	HasPrevPage bool `json:"has_prev_page"`
}

type shippingAddressPayload struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone"`
}

type paymentDetailsPayload struct {
	CardLastFour string `json:"card_last_four,omitempty"`
	CardType     string `json:"card_type,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

type orderPayload struct {
	ID                string                 `json:"id"`
	OrderNumber       string                 `json:"order_number"`
	UserID            string                 `json:"user_id"`
	Items             []orderItemPayload     `json:"items"`
	ShippingAddress   shippingAddressPayload `json:"shipping_address"`
	PaymentMethod     string                 `json:"payment_method"`
	PaymentDetails    *paymentDetailsPayload `json:"payment_details,omitempty"`
	ItemsSubtotal     int64                  `json:"items_subtotal"`
	ShippingCost      int64                  `json:"shipping_cost"`
	TotalAmount       int64                  `json:"total_amount"`
	TotalItems        int                    `json:"total_items"`
	Status            string                 `json:"status"`
	TrackingNumber    string                 `json:"tracking_number,omitempty"`
	EstimatedDelivery string                 `json:"estimated_delivery,omitempty"`
	ActualDelivery    string                 `json:"actual_delivery,omitempty"`
	Notes             string                 `json:"notes,omitempty"`
	CreatedAt         string                 `json:"created_at"`
	UpdatedAt         string                 `json:"updated_at,omitempty"`
	ProcessedAt       string                 `json:"processed_at,omitempty"`
	ShippedAt         string                 `json:"shipped_at,omitempty"`
	DeliveredAt       string                 `json:"delivered_at,omitempty"`
	CancelledAt       string                 `json:"cancelled_at,omitempty"`
}

type purchaseStatsPayload struct {
	TotalTickets     int     `json:"total_tickets"`
	CompletedTickets int     `json:"completed_tickets"`
	PartialTickets   int     `json:"partial_tickets"`
	FailedTickets    int     `json:"failed_tickets"`
	TotalAmount      int64   `json:"total_amount"`
	AverageAmount    float64 `json:"average_amount"`
	SuccessRate      string  `json:"success_rate"`
	FirstPurchase    string  `json:"first_purchase,omitempty"`
	LastPurchase     string  `json:"last_purchase,omitempty"`
}

func buildTicketPayload(ticket services.Ticket) ticketPayload {
	payload := ticketPayload{
		ID:             ticket.ID,
		Code:           ticket.Code,
		PurchaserID:    ticket.PurchaserID,
		PurchaserEmail: ticket.PurchaserEmail,
		PurchasedAt:    formatTime(ticket.PurchasedAt),
		Items:          make([]lineItemPayload, 0, len(ticket.Items)),
		FailedItems:    failedLinePayloads(ticket.FailedItems),
		Amount:         ticket.Amount,
		PaymentMethod:  string(ticket.PaymentMethod),
		Status:         string(ticket.Status),
		Notes:          ticket.Notes,
		CreatedAt:      formatTime(ticket.CreatedAt),
		UpdatedAt:      formatTime(ticket.UpdatedAt),
	}
	for _, item := range ticket.Items {
		payload.Items = append(payload.Items, lineItemPayload{
			ProductID: item.ProductID,
			Title:     item.Title,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal,
			Status:    string(item.Status),
		})
	}
	return payload
}

func buildTicketPayloads(tickets []services.Ticket) []ticketPayload {
	out := make([]ticketPayload, 0, len(tickets))
	for _, ticket := range tickets {
		out = append(out, buildTicketPayload(ticket))
	}
	return out
}

func failedLinePayloads(lines []domain.FailedLineItem) []failedLinePayload {
	out := make([]failedLinePayload, 0, len(lines))
	for _, line := range lines {
		out = append(out, failedLinePayload{
			ProductID:         line.ProductID,
			Title:             line.Title,
			RequestedQuantity: line.RequestedQuantity,
			AvailableStock:    line.AvailableStock,
			Reason:            string(line.Reason),
		})
	}
	return out
}

func buildPageInfoPayload(info domain.PageInfo) pageInfoPayload {
	return pageInfoPayload{
		CurrentPage: info.CurrentPage,
		PerPage:     info.PerPage,
		TotalPages:  info.TotalPages,
		TotalItems:  info.TotalItems,
		HasNextPage: info.HasNextPage,
		HasPrevPage: info.HasPrevPage,
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Items:       make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: shippingAddressPayload{
			Name:       order.ShippingAddress.Name,
			Address:    order.ShippingAddress.Address,
			City:       order.ShippingAddress.City,
			PostalCode: order.ShippingAddress.PostalCode,
			Phone:      order.ShippingAddress.Phone,
		},
		PaymentMethod:     string(order.PaymentMethod),
		ItemsSubtotal:     order.ItemsSubtotal(),
		ShippingCost:      order.ShippingCost,
		TotalAmount:       order.TotalAmount,
		TotalItems:        order.TotalItems(),
		Status:            string(order.Status),
		TrackingNumber:    order.TrackingNumber,
		EstimatedDelivery: formatTime(order.EstimatedDelivery),
		ActualDelivery:    formatTimePtr(order.ActualDelivery),
		Notes:             order.Notes,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		ProcessedAt:       formatTimePtr(order.ProcessedAt),
		ShippedAt:         formatTimePtr(order.ShippedAt),
		DeliveredAt:       formatTimePtr(order.DeliveredAt),
		CancelledAt:       formatTimePtr(order.CancelledAt),
	}
	if order.PaymentDetails.CardLastFour != "" || order.PaymentDetails.CardType != "" {
		payload.PaymentDetails = &paymentDetailsPayload{
			CardLastFour: order.PaymentDetails.CardLastFour,
			CardType:     string(order.PaymentDetails.CardType),
		}
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal,
		})
	}
	return payload
}

func buildPurchaseStatsPayload(stats services.PurchaseStats) purchaseStatsPayload {
	return purchaseStatsPayload{
		TotalTickets:     stats.TotalTickets,
		CompletedTickets: stats.CompletedTickets,
		PartialTickets:   stats.PartialTickets,
		FailedTickets:    stats.FailedTickets,
		TotalAmount:      stats.TotalAmount,
		AverageAmount:    stats.AverageAmount,
		SuccessRate:      stats.SuccessRate,
		FirstPurchase:    formatTimePtr(stats.FirstPurchase),
		LastPurchase:     formatTimePtr(stats.LastPurchase),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
