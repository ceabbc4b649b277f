// Package cart keeps each user's cart in Redis and prices it against the catalog.
package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Discount values are a percentage (0-100) or a fixed amount in major currency units.
type Discount struct {
	Type     DiscountType
	Value    decimal.Decimal
	Active   bool
	StartsAt *time.Time
	EndsAt   *time.Time
}

func (d Discount) appliesAt(now time.Time) bool {
	if !d.Active || !d.Value.IsPositive() {
		return false
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return false
	}
	return d.Type == DiscountPercentage || d.Type == DiscountFixed
}

type Product struct {
	ID         string
	Name       string
	PriceCents int64
	Discount   *Discount
}

var hundred = decimal.NewFromInt(100)

// DiscountedPrice returns the unit price in minor units after any discount active at now,
// never below zero, and whether a discount applied.
func DiscountedPrice(p Product, now time.Time) (int64, bool) {
	if p.Discount == nil || !p.Discount.appliesAt(now) {
		return p.PriceCents, false
	}
	price := decimal.NewFromInt(p.PriceCents)
	var off decimal.Decimal
	switch p.Discount.Type {
	case DiscountPercentage:
		off = price.Mul(p.Discount.Value).Div(hundred)
	case DiscountFixed:
		off = p.Discount.Value.Mul(hundred)
	}
	out := price.Sub(off).Round(0)
	if out.IsNegative() {
		return 0, true
	}
	return out.IntPart(), true
}

// ToMinor converts a major-unit amount (e.g. 12.34) to minor units, rounding half away
// from zero.
func ToMinor(major decimal.Decimal) int64 {
	return major.Mul(hundred).Round(0).IntPart()
}

func ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
