package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const (
	ordersCollection     = "orders"
	defaultOrderPageSize = 10
	maxOrderPageSize     = 100
)

type orderDocument struct {
	OrderNumber       string                  `firestore:"orderNumber"`
	UserID            string                  `firestore:"userId"`
	ContactEmail      string                  `firestore:"contactEmail"`
	Items             []orderItemDocument     `firestore:"items"`
	ShippingAddress   shippingAddressDocument `firestore:"shippingAddress"`
	PaymentMethod     string                  `firestore:"paymentMethod"`
	PaymentDetails    paymentDetailsDocument  `firestore:"paymentDetails"`
	ShippingCost      int64                   `firestore:"shippingCost"`
	TotalAmount       int64                   `firestore:"totalAmount"`
	Status            string                  `firestore:"status"`
	TrackingNumber    string                  `firestore:"trackingNumber,omitempty"`
	EstimatedDelivery time.Time               `firestore:"estimatedDelivery"`
	ActualDelivery    *time.Time              `firestore:"actualDelivery,omitempty"`
	Notes             string                  `firestore:"notes,omitempty"`
	CreatedAt         time.Time               `firestore:"createdAt"`
	UpdatedAt         time.Time               `firestore:"updatedAt"`
	ProcessedAt       *time.Time              `firestore:"processedAt,omitempty"`
	ShippedAt         *time.Time              `firestore:"shippedAt,omitempty"`
	DeliveredAt       *time.Time              `firestore:"deliveredAt,omitempty"`
	CancelledAt       *time.Time              `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Price     int64  `firestore:"price"`
	Quantity  int    `firestore:"quantity"`
	Subtotal  int64  `firestore:"subtotal"`
}

type shippingAddressDocument struct {
	Name       string `firestore:"name"`
	Address    string `firestore:"address"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
	Phone      string `firestore:"phone"`
}

type paymentDetailsDocument struct {
	CardLastFour string `firestore:"cardLastFour,omitempty"`
	CardType     string `firestore:"cardType,omitempty"`
}

// OrderRepository persists orders keyed by ID; order numbers are unique through the counter
// that allocates them.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: id is required")
	}
	_, err := r.orders.Create(ctx, order.ID, newOrderDocument(order))
	return err
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, notFoundAsRecord(err, "order "+orderID)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	number := strings.ToUpper(strings.TrimSpace(orderNumber))
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", number).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, repositories.NewRecordError(repositories.RecordErrorNotFound, fmt.Sprintf("order %s not found", number), nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// ListByUser pages through a user's orders with the requested sort.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, query repositories.OrderListQuery) (repositories.OrderListResult, error) {
	if r == nil || r.orders == nil {
		return repositories.OrderListResult{}, errors.New("order repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	base := func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", uid)
		if query.Status != nil {
			q = q.Where("status", "==", string(*query.Status))
		}
		return q
	}

	total, err := r.orders.Count(ctx, base)
	if err != nil {
		return repositories.OrderListResult{}, err
	}

	_, limit := normalisePage(1, query.Limit, defaultOrderPageSize, maxOrderPageSize)
	sortBy := query.SortBy
	if sortBy == "" {
		sortBy = repositories.OrderSortCreatedAt
	}
	direction := firestore.Desc
	if query.SortOrder == domain.SortAsc {
		direction = firestore.Asc
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = base(q).OrderBy(string(sortBy), direction)
		if sortBy != repositories.OrderSortCreatedAt {
			q = q.OrderBy("createdAt", firestore.Desc)
		}
		return q.Offset(max(query.Offset, 0)).Limit(limit)
	})
	if err != nil {
		return repositories.OrderListResult{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return repositories.OrderListResult{Orders: orders, Total: total}, nil
}

// UpdateIfStatus rewrites the mutable order fields when the stored status matches expected.
func (r *OrderRepository) UpdateIfStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	var saved domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewRecordError(repositories.RecordErrorNotFound, fmt.Sprintf("order %s not found", order.ID), err)
			}
			return err
		}
		var current orderDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode order %s: %w", order.ID, err)
		}
		if current.Status != string(expected) {
			return repositories.NewStatusMismatchError("order "+order.ID, current.Status)
		}

		next := newOrderDocument(order)
		current.Status = next.Status
		current.TrackingNumber = next.TrackingNumber
		current.ActualDelivery = next.ActualDelivery
		current.Notes = next.Notes
		current.UpdatedAt = next.UpdatedAt
		current.ProcessedAt = next.ProcessedAt
		current.ShippedAt = next.ShippedAt
		current.DeliveredAt = next.DeliveredAt
		current.CancelledAt = next.CancelledAt
		if err := tx.Set(ref, current); err != nil {
			return err
		}
		saved = current.toDomain(order.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapRecordError("orders.updateIfStatus", err)
	}
	return saved, nil
}

// Totals runs one count and sum aggregation per order status.
func (r *OrderRepository) Totals(ctx context.Context) (repositories.OrderTotals, error) {
	if r == nil || r.orders == nil {
		return repositories.OrderTotals{}, errors.New("order repository not initialised")
	}
	statuses := domain.OrderStatuses()
	results := make([]pfirestore.Totals, len(statuses))
	group, gctx := errgroup.WithContext(ctx)
	for i, st := range statuses {
		group.Go(func() error {
			totals, err := r.orders.Totals(gctx, func(q firestore.Query) firestore.Query {
				return q.Where("status", "==", string(st))
			}, "totalAmount")
			if err != nil {
				return err
			}
			results[i] = totals
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return repositories.OrderTotals{}, wrapRecordError("orders.totals", err)
	}
	out := repositories.OrderTotals{ByStatus: make(map[domain.OrderStatus]repositories.AmountTotals, len(statuses))}
	for i, st := range statuses {
		if results[i].Count > 0 {
			out.ByStatus[st] = repositories.AmountTotals{Count: results[i].Count, Amount: results[i].Sum}
		}
	}
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func newOrderDocument(o domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:  o.OrderNumber,
		UserID:       o.UserID,
		ContactEmail: o.ContactEmail,
		Items:        make([]orderItemDocument, 0, len(o.Items)),
		ShippingAddress: shippingAddressDocument{
			Name:       o.ShippingAddress.Name,
			Address:    o.ShippingAddress.Address,
			City:       o.ShippingAddress.City,
			PostalCode: o.ShippingAddress.PostalCode,
			Phone:      o.ShippingAddress.Phone,
		},
		PaymentMethod: string(o.PaymentMethod),
		PaymentDetails: paymentDetailsDocument{
			CardLastFour: o.PaymentDetails.CardLastFour,
			CardType:     string(o.PaymentDetails.CardType),
		},
		ShippingCost:      o.ShippingCost,
		TotalAmount:       o.TotalAmount,
		Status:            string(o.Status),
		TrackingNumber:    o.TrackingNumber,
		EstimatedDelivery: o.EstimatedDelivery.UTC(),
		ActualDelivery:    utcPtr(o.ActualDelivery),
		Notes:             o.Notes,
		CreatedAt:         o.CreatedAt.UTC(),
		UpdatedAt:         o.UpdatedAt.UTC(),
		ProcessedAt:       utcPtr(o.ProcessedAt),
		ShippedAt:         utcPtr(o.ShippedAt),
		DeliveredAt:       utcPtr(o.DeliveredAt),
		CancelledAt:       utcPtr(o.CancelledAt),
	}
	for _, item := range o.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal,
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	o := domain.Order{
		ID:           id,
		OrderNumber:  d.OrderNumber,
		UserID:       d.UserID,
		ContactEmail: d.ContactEmail,
		Items:        make([]domain.OrderLineItem, 0, len(d.Items)),
		ShippingAddress: domain.ShippingAddress{
			Name:       d.ShippingAddress.Name,
			Address:    d.ShippingAddress.Address,
			City:       d.ShippingAddress.City,
			PostalCode: d.ShippingAddress.PostalCode,
			Phone:      d.ShippingAddress.Phone,
		},
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		PaymentDetails: domain.PaymentDetails{
			CardLastFour: d.PaymentDetails.CardLastFour,
			CardType:     domain.CardType(d.PaymentDetails.CardType),
		},
		ShippingCost:      d.ShippingCost,
		TotalAmount:       d.TotalAmount,
		Status:            domain.OrderStatus(d.Status),
		TrackingNumber:    d.TrackingNumber,
		EstimatedDelivery: d.EstimatedDelivery,
		ActualDelivery:    d.ActualDelivery,
		Notes:             d.Notes,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		ProcessedAt:       d.ProcessedAt,
		ShippedAt:         d.ShippedAt,
		DeliveredAt:       d.DeliveredAt,
		CancelledAt:       d.CancelledAt,
	}
	for _, item := range d.Items {
		o.Items = append(o.Items, domain.OrderLineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal,
		})
	}
	return o
}
