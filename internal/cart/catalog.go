package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
)

// Catalog is the read side of the product store.
type Catalog interface {
	// Products returns the requested products keyed by id; unknown ids are absent.
	Products(ctx context.Context, ids []string) (map[string]Product, error)
}

type PostgresCatalog struct{ DB postgres.DB }

var _ Catalog = (*PostgresCatalog)(nil)

func (c *PostgresCatalog) Products(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := c.DB.Query(ctx, `
		SELECT id, name, price_cents, discount_type, discount_value::text, discount_active,
			discount_starts_at, discount_ends_at
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p            Product
			dType, dVal  *string
			active       bool
			starts, ends *time.Time
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &dType, &dVal, &active, &starts, &ends); err != nil {
			return nil, err
		}
		if dType != nil && dVal != nil {
			v, err := decimal.NewFromString(*dVal)
			if err != nil {
				return nil, fmt.Errorf("product %s discount value: %w", p.ID, err)
			}
			p.Discount = &Discount{Type: DiscountType(*dType), Value: v, Active: active, StartsAt: starts, EndsAt: ends}
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// MemoryCatalog serves a fixed product set.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]Product
}

var _ Catalog = (*MemoryCatalog)(nil)

func NewMemoryCatalog(products ...Product) *MemoryCatalog {
	c := &MemoryCatalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *MemoryCatalog) Products(_ context.Context, ids []string) (map[string]Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// Prices quotes current unit prices, discounts included, for checkout.
type Prices struct {
	Catalog Catalog
	Now     func() time.Time
}

func (p Prices) UnitPrices(ctx context.Context, ids []string) (map[string]int64, error) {
	products, err := p.Catalog.Products(ctx, ids)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	out := make(map[string]int64, len(products))
	for id, prod := range products {
		out[id], _ = DiscountedPrice(prod, now)
	}
	return out, nil
}
