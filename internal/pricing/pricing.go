// Package pricing computes cart totals and applies promotional codes.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidLine     = errors.New("invalid cart line")
	ErrInvalidDiscount = errors.New("invalid discount code")
	ErrMinimumNotMet   = errors.New("minimum purchase not met")
)

var hundred = decimal.NewFromInt(100)

// DiscountSource resolves discount codes. It returns nil, nil for unknown codes.
type DiscountSource interface {
	Discount(ctx context.Context, code string) (*domain.DiscountCode, error)
}

type Quote struct {
	Subtotal       int64  `json:"subtotal"`
	DiscountCode   string `json:"discount_code,omitempty"`
	DiscountAmount int64  `json:"discount_amount"`
	Total          int64  `json:"total"`
}

type Engine struct {
	discounts DiscountSource
	now       func() time.Time
}

func NewEngine(discounts DiscountSource) *Engine {
	return &Engine{
		discounts: discounts,
		now:       time.Now,
	}
}

// Price prices the cart and, when code is non-empty, validates and applies it.
// It does not consume code usage.
func (e *Engine) Price(ctx context.Context, items []domain.OrderItem, code string) (Quote, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return Apply(items, nil, e.now())
	}

	discount, err := e.discounts.Discount(ctx, code)
	if err != nil {
		return Quote{}, fmt.Errorf("lookup discount %s: %w", code, err)
	}
	if discount == nil {
		return Quote{}, fmt.Errorf("%w: %s does not exist", ErrInvalidDiscount, code)
	}

	return Apply(items, discount, e.now())
}

// Apply is the pure pricing function over the given code state.
func Apply(items []domain.OrderItem, code *domain.DiscountCode, now time.Time) (Quote, error) {
	if len(items) == 0 {
		return Quote{}, ErrEmptyCart
	}

	var subtotal int64
	for _, item := range items {
		if item.Quantity <= 0 || item.UnitPrice < 0 {
			return Quote{}, fmt.Errorf("%w: product %s", ErrInvalidLine, item.ProductID)
		}
		subtotal += item.Subtotal()
	}

	quote := Quote{Subtotal: subtotal, Total: subtotal}
	if code == nil {
		return quote, nil
	}

	if code.Kind != domain.DiscountPercentage && code.Kind != domain.DiscountFixed {
		return quote, fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidDiscount, code.Code, code.Kind)
	}
	if !code.ActiveAt(now) {
		return quote, fmt.Errorf("%w: %s is outside its validity window", ErrInvalidDiscount, code.Code)
	}
	if code.Exhausted() {
		return quote, fmt.Errorf("%w: %s has reached its usage limit", ErrInvalidDiscount, code.Code)
	}

	applicable := subtotal
	if code.AppliesTo != "" {
		applicable = 0
		for _, item := range items {
			if item.Type == code.AppliesTo {
				applicable += item.Subtotal()
			}
		}
	}

	// minimum first: a cart without the category has nothing applicable
	if applicable < code.MinPurchase {
		return quote, fmt.Errorf("%w: %s requires %d, cart has %d", ErrMinimumNotMet, code.Code, code.MinPurchase, applicable)
	}
	if code.AppliesTo != "" && applicable == 0 {
		return quote, fmt.Errorf("%w: %s only applies to %s items", ErrInvalidDiscount, code.Code, code.AppliesTo)
	}

	discount := rawDiscount(code, applicable)
	if discount > applicable {
		discount = applicable
	}

	quote.DiscountCode = code.Code
	quote.DiscountAmount = discount
	quote.Total = subtotal - discount
	if quote.Total < 0 {
		quote.Total = 0
	}
	return quote, nil
}

func rawDiscount(code *domain.DiscountCode, applicable int64) int64 {
	var raw int64
	switch code.Kind {
	case domain.DiscountPercentage:
		raw = decimal.NewFromInt(applicable).Mul(code.Value).Div(hundred).Round(0).IntPart()
	case domain.DiscountFixed:
		raw = code.Value.Round(0).IntPart()
	}
	if raw < 0 {
		return 0
	}
	return raw
}
