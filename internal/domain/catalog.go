package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Price  int64    `json:"price"`
	Type   ItemType `json:"type"`
	Active bool     `json:"active"`
}

type StockLevel struct {
	ProductID string `json:"product_id"`
	OnHand    int    `json:"on_hand"`
}

type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed"
)

// DiscountCode is a promotional rule. Fixed values are in minor currency units,
// percentage values in percent.
type DiscountCode struct {
	Code        string          `json:"code"`
	Kind        DiscountKind    `json:"kind"`
	Value       decimal.Decimal `json:"value"`
	MinPurchase int64           `json:"min_purchase"`
	AppliesTo   ItemType        `json:"applies_to,omitempty"`
	ValidFrom   *time.Time      `json:"valid_from,omitempty"`
	ValidUntil  *time.Time      `json:"valid_until,omitempty"`
	MaxUses     *int            `json:"max_uses,omitempty"`
	UsageCount  int             `json:"usage_count"`
}

// NormalizeCode canonicalizes a shopper-entered code for lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (d *DiscountCode) ActiveAt(now time.Time) bool {
	if d.ValidFrom != nil && now.Before(*d.ValidFrom) {
		return false
	}
	if d.ValidUntil != nil && now.After(*d.ValidUntil) {
		return false
	}
	return true
}

func (d *DiscountCode) Exhausted() bool {
	return d.MaxUses != nil && d.UsageCount >= *d.MaxUses
}

type SubscriptionPlan struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Price    int64    `json:"price"`
	Variants []string `json:"variants"`
}

func (p *SubscriptionPlan) HasVariant(v string) bool {
	if len(p.Variants) == 0 {
		return v == ""
	}
	for _, variant := range p.Variants {
		if variant == v {
			return true
		}
	}
	return false
}

// PendingSubscriptionIntent links a subscription checkout to the plan the
// shopper chose, keyed by the order id; consulted when the payment webhook lands.
type PendingSubscriptionIntent struct {
	OrderID    string     `json:"order_id"`
	CustomerID string     `json:"customer_id"`
	PlanID     string     `json:"plan_id"`
	Variant    string     `json:"variant,omitempty"`
	Shipping   Shipping   `json:"shipping"`
	CreatedAt  time.Time  `json:"created_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

type SubscriptionStatus string

const SubscriptionStatusActive SubscriptionStatus = "active"

type Subscription struct {
	ID            string             `json:"id"`
	IntentOrderID string             `json:"intent_order_id"`
	CustomerID    string             `json:"customer_id"`
	PlanID        string             `json:"plan_id"`
	Variant       string             `json:"variant,omitempty"`
	Status        SubscriptionStatus `json:"status"`
	StartedAt     time.Time          `json:"started_at"`
}
