package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
}

// CartRepository persists one cart document per user, keyed by the user ID.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
	clock    func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection)
	return &CartRepository{
		base:     base,
		provider: provider,
		clock:    time.Now,
	}, nil
}

// SaveCart overwrites the user's cart lines. Cart mutation is owned by another service; this
// exists for seeding and tests.
func (r *CartRepository) SaveCart(ctx context.Context, cart domain.Cart) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(cart.UserID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}
	now := r.clock().UTC()
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := r.base.Set(ctx, uid, cartDocument{
		Items:     encodeCartLines(cart.Lines),
		CreatedAt: createdAt,
		UpdatedAt: now,
	})
	return err
}

// GetCart loads the cart for the given user. A missing document reads as an empty cart.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Cart{UserID: uid, Lines: []domain.CartLine{}}, nil
		}
		return domain.Cart{}, err
	}

	cart := domain.Cart{
		UserID:    doc.ID,
		Lines:     decodeCartLines(doc.Data.Items),
		CreatedAt: doc.Data.CreatedAt,
		UpdatedAt: doc.Data.UpdatedAt,
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = doc.UpdateTime
	}
	return cart, nil
}

// Clear drops every line from the user's cart.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}
	_, err := r.base.Update(ctx, uid, []firestore.Update{
		{Path: "items", Value: []cartItemDocument{}},
		{Path: "updatedAt", Value: r.clock().UTC()},
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return err
	}
	return nil
}

// RemoveItems drops the lines referencing the given products, leaving the rest untouched.
func (r *CartRepository) RemoveItems(ctx context.Context, userID string, productIDs []string) error {
	if r == nil || r.provider == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}
	if len(productIDs) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		drop[strings.TrimSpace(id)] = struct{}{}
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, uid)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		var doc cartDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode cart %s: %w", uid, err)
		}
		kept := make([]cartItemDocument, 0, len(doc.Items))
		for _, item := range doc.Items {
			if _, ok := drop[item.ProductID]; ok {
				continue
			}
			kept = append(kept, item)
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "items", Value: kept},
			{Path: "updatedAt", Value: r.clock().UTC()},
		})
	})
	if err != nil {
		return pfirestore.WrapError("carts.removeItems", err)
	}
	return nil
}

func encodeCartLines(lines []domain.CartLine) []cartItemDocument {
	out := make([]cartItemDocument, 0, len(lines))
	for _, line := range lines {
		out = append(out, cartItemDocument{ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity})
	}
	return out
}

func decodeCartLines(items []cartItemDocument) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		out = append(out, domain.CartLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}
