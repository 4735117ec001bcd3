// Package catalog reads the product, discount and plan records owned by the
// catalog administration side. Nothing here writes them.
package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Product returns nil, nil when the id is unknown or inactive.
func (r *Repository) Product(ctx context.Context, id string) (*domain.Product, error) {
	product := &domain.Product{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, price, item_type, active
		FROM products
		WHERE id = $1 AND active
	`, id).Scan(&product.ID, &product.Title, &product.Price, &product.Type, &product.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return product, nil
}

// Discount returns nil, nil when the code is unknown.
func (r *Repository) Discount(ctx context.Context, code string) (*domain.DiscountCode, error) {
	var (
		discount   domain.DiscountCode
		value      decimal.Decimal
		appliesTo  sql.NullString
		validFrom  sql.NullTime
		validUntil sql.NullTime
		maxUses    sql.NullInt32
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT code, kind, value, min_purchase, applies_to, valid_from, valid_until, max_uses, usage_count
		FROM discount_codes
		WHERE code = $1
	`, code).Scan(
		&discount.Code,
		&discount.Kind,
		&value,
		&discount.MinPurchase,
		&appliesTo,
		&validFrom,
		&validUntil,
		&maxUses,
		&discount.UsageCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	discount.Value = value
	discount.AppliesTo = domain.ItemType(appliesTo.String)
	if validFrom.Valid {
		discount.ValidFrom = &validFrom.Time
	}
	if validUntil.Valid {
		discount.ValidUntil = &validUntil.Time
	}
	if maxUses.Valid {
		n := int(maxUses.Int32)
		discount.MaxUses = &n
	}

	return &discount, nil
}

// Plan returns nil, nil when the plan id is unknown.
func (r *Repository) Plan(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	plan := &domain.SubscriptionPlan{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, price, variants
		FROM subscription_plans
		WHERE id = $1
	`, id).Scan(&plan.ID, &plan.Title, &plan.Price, pq.Array(&plan.Variants))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return plan, nil
}
