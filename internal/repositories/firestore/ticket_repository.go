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
	ticketsCollection     = "tickets"
	ticketCodesCollection = "ticketCodes"
	defaultTicketPageSize = 20
	maxTicketPageSize     = 100
)

type ticketDocument struct {
	Code           string                     `firestore:"code"`
	PurchaserID    string                     `firestore:"purchaserId"`
	PurchaserEmail string                     `firestore:"purchaserEmail"`
	PurchasedAt    time.Time                  `firestore:"purchasedAt"`
	Items          []ticketItemDocument       `firestore:"items"`
	FailedItems    []ticketFailedItemDocument `firestore:"failedItems"`
	Amount         int64                      `firestore:"amount"`
	PaymentMethod  string                     `firestore:"paymentMethod"`
	Status         string                     `firestore:"status"`
	Notes          string                     `firestore:"notes,omitempty"`
	CreatedAt      time.Time                  `firestore:"createdAt"`
	UpdatedAt      time.Time                  `firestore:"updatedAt"`
}

type ticketItemDocument struct {
	ProductID string `firestore:"productId"`
	Title     string `firestore:"title"`
	Price     int64  `firestore:"price"`
	Quantity  int    `firestore:"quantity"`
	Subtotal  int64  `firestore:"subtotal"`
	Status    string `firestore:"status"`
}

type ticketFailedItemDocument struct {
	ProductID         string `firestore:"productId,omitempty"`
	Title             string `firestore:"title"`
	RequestedQuantity int    `firestore:"requestedQuantity"`
	AvailableStock    int    `firestore:"availableStock"`
	Reason            string `firestore:"reason"`
}

type ticketCodeDocument struct {
	TicketID  string    `firestore:"ticketId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// TicketRepository stores tickets keyed by ID. Code uniqueness is guaranteed by a companion
// ticketCodes/{code} document created in the same transaction as the ticket.
type TicketRepository struct {
	provider *pfirestore.Provider
	tickets  *pfirestore.BaseRepository[ticketDocument]
	codes    *pfirestore.BaseRepository[ticketCodeDocument]
}

var _ repositories.TicketRepository = (*TicketRepository)(nil)

// NewTicketRepository constructs a Firestore-backed ticket repository.
func NewTicketRepository(provider *pfirestore.Provider) (*TicketRepository, error) {
	if provider == nil {
		return nil, errors.New("ticket repository requires firestore provider")
	}
	return &TicketRepository{
		provider: provider,
		tickets:  pfirestore.NewBaseRepository[ticketDocument](provider, ticketsCollection),
		codes:    pfirestore.NewBaseRepository[ticketCodeDocument](provider, ticketCodesCollection),
	}, nil
}

// Create stores the ticket together with its code index entry.
func (r *TicketRepository) Create(ctx context.Context, ticket domain.Ticket) (domain.Ticket, error) {
	if r == nil || r.provider == nil {
		return domain.Ticket{}, errors.New("ticket repository not initialised")
	}
	if strings.TrimSpace(ticket.ID) == "" || strings.TrimSpace(ticket.Code) == "" {
		return domain.Ticket{}, errors.New("ticket repository: id and code are required")
	}

	doc := newTicketDocument(ticket)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		codeRef, err := r.codes.DocumentRef(ctx, ticket.Code)
		if err != nil {
			return err
		}
		ticketRef, err := r.tickets.DocumentRef(ctx, ticket.ID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(codeRef); err == nil {
			return repositories.NewRecordError(repositories.RecordErrorCodeConflict, fmt.Sprintf("ticket code %s already taken", ticket.Code), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		if _, err := tx.Get(ticketRef); err == nil {
			return repositories.NewRecordError(repositories.RecordErrorIDConflict, fmt.Sprintf("ticket %s already exists", ticket.ID), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		if err := tx.Create(codeRef, ticketCodeDocument{TicketID: ticket.ID, CreatedAt: doc.CreatedAt}); err != nil {
			return err
		}
		return tx.Create(ticketRef, doc)
	})
	if err != nil {
		return domain.Ticket{}, wrapRecordError("tickets.create", err)
	}
	return doc.toDomain(ticket.ID), nil
}

// UpdateIfStatus rewrites the mutable ticket fields when the stored status matches expected.
func (r *TicketRepository) UpdateIfStatus(ctx context.Context, ticket domain.Ticket, expected domain.TicketStatus) (domain.Ticket, error) {
	if r == nil || r.provider == nil {
		return domain.Ticket{}, errors.New("ticket repository not initialised")
	}
	var saved domain.Ticket
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.tickets.DocumentRef(ctx, ticket.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewRecordError(repositories.RecordErrorNotFound, fmt.Sprintf("ticket %s not found", ticket.ID), err)
			}
			return err
		}
		var current ticketDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode ticket %s: %w", ticket.ID, err)
		}
		if current.Status != string(expected) {
			return repositories.NewStatusMismatchError("ticket "+ticket.ID, current.Status)
		}

		next := newTicketDocument(ticket)
		current.Items = next.Items
		current.FailedItems = next.FailedItems
		current.Amount = next.Amount
		current.Status = next.Status
		current.Notes = next.Notes
		current.UpdatedAt = next.UpdatedAt
		if err := tx.Set(ref, current); err != nil {
			return err
		}
		saved = current.toDomain(ticket.ID)
		return nil
	})
	if err != nil {
		return domain.Ticket{}, wrapRecordError("tickets.updateIfStatus", err)
	}
	return saved, nil
}

// FindByID loads a ticket by its identifier.
func (r *TicketRepository) FindByID(ctx context.Context, ticketID string) (domain.Ticket, error) {
	if r == nil || r.tickets == nil {
		return domain.Ticket{}, errors.New("ticket repository not initialised")
	}
	doc, err := r.tickets.Get(ctx, strings.TrimSpace(ticketID))
	if err != nil {
		return domain.Ticket{}, notFoundAsRecord(err, "ticket "+ticketID)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByCode resolves the code index entry and loads the ticket.
func (r *TicketRepository) FindByCode(ctx context.Context, code string) (domain.Ticket, error) {
	if r == nil || r.codes == nil {
		return domain.Ticket{}, errors.New("ticket repository not initialised")
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	index, err := r.codes.Get(ctx, code)
	if err != nil {
		return domain.Ticket{}, notFoundAsRecord(err, "ticket code "+code)
	}
	return r.FindByID(ctx, index.Data.TicketID)
}

// ListByUser returns the user's tickets, newest first.
func (r *TicketRepository) ListByUser(ctx context.Context, userID string) ([]domain.Ticket, error) {
	return r.Scan(ctx, repositories.TicketScanFilter{UserID: userID})
}

// List serves the admin listing. A date range returns every match; otherwise results are paged.
func (r *TicketRepository) List(ctx context.Context, filter repositories.TicketListFilter) (domain.Page[domain.Ticket], error) {
	if r == nil || r.tickets == nil {
		return domain.Page[domain.Ticket]{}, errors.New("ticket repository not initialised")
	}

	base := func(q firestore.Query) firestore.Query {
		if filter.Status != nil {
			q = q.Where("status", "==", string(*filter.Status))
		}
		return applyTimeRange(q, "purchasedAt", filter.Range)
	}

	if filter.Range.From != nil || filter.Range.To != nil {
		docs, err := r.tickets.Query(ctx, func(q firestore.Query) firestore.Query {
			return base(q).OrderBy("purchasedAt", firestore.Desc)
		})
		if err != nil {
			return domain.Page[domain.Ticket]{}, err
		}
		items := decodeTickets(docs)
		return domain.Page[domain.Ticket]{
			Items:      items,
			Pagination: domain.NewPageInfo(1, max(len(items), 1), len(items)),
		}, nil
	}

	page, limit := normalisePage(filter.Page, filter.Limit, defaultTicketPageSize, maxTicketPageSize)
	total, err := r.tickets.Count(ctx, base)
	if err != nil {
		return domain.Page[domain.Ticket]{}, err
	}
	docs, err := r.tickets.Query(ctx, func(q firestore.Query) firestore.Query {
		return base(q).OrderBy("purchasedAt", firestore.Desc).Offset((page - 1) * limit).Limit(limit)
	})
	if err != nil {
		return domain.Page[domain.Ticket]{}, err
	}
	return domain.Page[domain.Ticket]{
		Items:      decodeTickets(docs),
		Pagination: domain.NewPageInfo(page, limit, total),
	}, nil
}

// Scan returns the tickets matching the filter, newest first.
func (r *TicketRepository) Scan(ctx context.Context, filter repositories.TicketScanFilter) ([]domain.Ticket, error) {
	if r == nil || r.tickets == nil {
		return nil, errors.New("ticket repository not initialised")
	}
	docs, err := r.tickets.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("purchaserId", "==", uid)
		}
		if len(filter.Statuses) > 0 {
			values := make([]string, 0, len(filter.Statuses))
			for _, s := range filter.Statuses {
				values = append(values, string(s))
			}
			q = q.Where("status", "in", values)
		}
		q = applyTimeRange(q, "purchasedAt", filter.Range).OrderBy("purchasedAt", firestore.Desc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return decodeTickets(docs), nil
}

// Totals runs one count and sum aggregation per status plus two single document reads for the
// purchase time bounds.
func (r *TicketRepository) Totals(ctx context.Context, userID string) (repositories.TicketTotals, error) {
	if r == nil || r.tickets == nil {
		return repositories.TicketTotals{}, errors.New("ticket repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	byUser := func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("purchaserId", "==", userID)
		}
		return q
	}

	statuses := domain.TicketStatuses()
	results := make([]pfirestore.Totals, len(statuses))
	var first, last *time.Time
	group, gctx := errgroup.WithContext(ctx)
	for i, st := range statuses {
		group.Go(func() error {
			totals, err := r.tickets.Totals(gctx, func(q firestore.Query) firestore.Query {
				return byUser(q).Where("status", "==", string(st))
			}, "amount")
			if err != nil {
				return err
			}
			results[i] = totals
			return nil
		})
	}
	group.Go(func() error {
		var err error
		first, err = r.purchaseBound(gctx, byUser, firestore.Asc)
		return err
	})
	group.Go(func() error {
		var err error
		last, err = r.purchaseBound(gctx, byUser, firestore.Desc)
		return err
	})
	if err := group.Wait(); err != nil {
		return repositories.TicketTotals{}, wrapRecordError("tickets.totals", err)
	}

	out := repositories.TicketTotals{
		ByStatus:      make(map[domain.TicketStatus]repositories.AmountTotals, len(statuses)),
		FirstPurchase: first,
		LastPurchase:  last,
	}
	for i, st := range statuses {
		if results[i].Count > 0 {
			out.ByStatus[st] = repositories.AmountTotals{Count: results[i].Count, Amount: results[i].Sum}
		}
	}
	return out, nil
}

func (r *TicketRepository) purchaseBound(ctx context.Context, build pfirestore.QueryBuilder, dir firestore.Direction) (*time.Time, error) {
	docs, err := r.tickets.Query(ctx, func(q firestore.Query) firestore.Query {
		return build(q).OrderBy("purchasedAt", dir).Limit(1)
	})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	at := docs[0].Data.PurchasedAt.UTC()
	return &at, nil
}

func decodeTickets(docs []pfirestore.Document[ticketDocument]) []domain.Ticket {
	out := make([]domain.Ticket, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out
}

func newTicketDocument(t domain.Ticket) ticketDocument {
	doc := ticketDocument{
		Code:           strings.ToUpper(strings.TrimSpace(t.Code)),
		PurchaserID:    t.PurchaserID,
		PurchaserEmail: t.PurchaserEmail,
		PurchasedAt:    t.PurchasedAt.UTC(),
		Items:          make([]ticketItemDocument, 0, len(t.Items)),
		FailedItems:    make([]ticketFailedItemDocument, 0, len(t.FailedItems)),
		Amount:         t.Amount,
		PaymentMethod:  string(t.PaymentMethod),
		Status:         string(t.Status),
		Notes:          t.Notes,
		CreatedAt:      t.CreatedAt.UTC(),
		UpdatedAt:      t.UpdatedAt.UTC(),
	}
	for _, item := range t.Items {
		doc.Items = append(doc.Items, ticketItemDocument{
			ProductID: item.ProductID,
			Title:     item.Title,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal,
			Status:    string(item.Status),
		})
	}
	for _, item := range t.FailedItems {
		doc.FailedItems = append(doc.FailedItems, ticketFailedItemDocument{
			ProductID:         item.ProductID,
			Title:             item.Title,
			RequestedQuantity: item.RequestedQuantity,
			AvailableStock:    item.AvailableStock,
			Reason:            string(item.Reason),
		})
	}
	return doc
}

func (d ticketDocument) toDomain(id string) domain.Ticket {
	t := domain.Ticket{
		ID:             id,
		Code:           d.Code,
		PurchaserID:    d.PurchaserID,
		PurchaserEmail: d.PurchaserEmail,
		PurchasedAt:    d.PurchasedAt,
		Items:          make([]domain.PurchaseLineItem, 0, len(d.Items)),
		FailedItems:    make([]domain.FailedLineItem, 0, len(d.FailedItems)),
		Amount:         d.Amount,
		PaymentMethod:  domain.PaymentMethod(d.PaymentMethod),
		Status:         domain.TicketStatus(d.Status),
		Notes:          d.Notes,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	for _, item := range d.Items {
		t.Items = append(t.Items, domain.PurchaseLineItem{
			ProductID: item.ProductID,
			Title:     item.Title,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal,
			Status:    domain.LineStatus(item.Status),
		})
	}
	for _, item := range d.FailedItems {
		t.FailedItems = append(t.FailedItems, domain.FailedLineItem{
			ProductID:         item.ProductID,
			Title:             item.Title,
			RequestedQuantity: item.RequestedQuantity,
			AvailableStock:    item.AvailableStock,
			Reason:            domain.FailureReason(item.Reason),
		})
	}
	return t
}
