package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrUnknownProduct = errors.New("unknown product")

type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for product %s", e.Quantity, e.ProductID)
}

type Line struct {
	ProductID string
	Quantity  int
}

// Item is a cart line priced against the catalog. Prices are minor units.
type Item struct {
	ProductID       string
	Name            string
	Quantity        int
	UnitPriceCents  int64
	PriceCents      int64 // after discount
	DiscountApplied bool
	LineTotalCents  int64
}

type Cart struct {
	UserID        string
	Items         []Item
	SubtotalCents int64
}

type Service struct {
	store   Store
	catalog Catalog
	now     func() time.Time
}

func NewService(store Store, catalog Catalog) *Service {
	return &Service{store: store, catalog: catalog, now: time.Now}
}

func (s *Service) Get(ctx context.Context, userID string) (Cart, error) {
	raw, err := s.store.Items(ctx, userID)
	if err != nil {
		return Cart{}, fmt.Errorf("load cart: %w", err)
	}
	return s.price(ctx, userID, raw)
}

func (s *Service) Add(ctx context.Context, userID string, line Line) (Cart, error) {
	if line.Quantity <= 0 {
		return Cart{}, &InvalidQuantityError{ProductID: line.ProductID, Quantity: line.Quantity}
	}
	if err := s.mustExist(ctx, line.ProductID); err != nil {
		return Cart{}, err
	}
	if err := s.store.Add(ctx, userID, line.ProductID, line.Quantity); err != nil {
		return Cart{}, fmt.Errorf("add to cart: %w", err)
	}
	return s.Get(ctx, userID)
}

// Replace overwrites the whole cart. Repeated products are summed.
func (s *Service) Replace(ctx context.Context, userID string, lines []Line) (Cart, error) {
	items := make(map[string]int, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Cart{}, &InvalidQuantityError{ProductID: l.ProductID, Quantity: l.Quantity}
		}
		if _, seen := items[l.ProductID]; !seen {
			ids = append(ids, l.ProductID)
		}
		items[l.ProductID] += l.Quantity
	}
	if len(ids) > 0 {
		found, err := s.catalog.Products(ctx, ids)
		if err != nil {
			return Cart{}, fmt.Errorf("load products: %w", err)
		}
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				return Cart{}, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
			}
		}
	}
	if err := s.store.Replace(ctx, userID, items); err != nil {
		return Cart{}, fmt.Errorf("replace cart: %w", err)
	}
	return s.Get(ctx, userID)
}

func (s *Service) Remove(ctx context.Context, userID, productID string) (Cart, error) {
	if err := s.store.Remove(ctx, userID, productID); err != nil {
		return Cart{}, fmt.Errorf("remove from cart: %w", err)
	}
	return s.Get(ctx, userID)
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	return s.store.Clear(ctx, userID)
}

func (s *Service) mustExist(ctx context.Context, productID string) error {
	found, err := s.catalog.Products(ctx, []string{productID})
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}
	if _, ok := found[productID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	return nil
}

// price enriches raw lines. Products no longer in the catalog are left out.
func (s *Service) price(ctx context.Context, userID string, raw map[string]int) (Cart, error) {
	c := Cart{UserID: userID, Items: []Item{}}
	if len(raw) == 0 {
		return c, nil
	}
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	products, err := s.catalog.Products(ctx, ids)
	if err != nil {
		return Cart{}, fmt.Errorf("load products: %w", err)
	}
	now := s.now()
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			continue
		}
		price, applied := DiscountedPrice(p, now)
		it := Item{
			ProductID:       id,
			Name:            p.Name,
			Quantity:        raw[id],
			UnitPriceCents:  p.PriceCents,
			PriceCents:      price,
			DiscountApplied: applied,
			LineTotalCents:  price * int64(raw[id]),
		}
		c.Items = append(c.Items, it)
		c.SubtotalCents += it.LineTotalCents
	}
	return c, nil
}
