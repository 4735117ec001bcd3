package subscriptions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront/internal/database"
	"github.com/joao-fontenele/storefront/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func InsertIntent(ctx context.Context, exec database.Execer, intent *domain.PendingSubscriptionIntent) error {
	shipping, err := json.Marshal(intent.Shipping)
	if err != nil {
		return err
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO subscription_intents (order_id, customer_id, plan_id, variant, shipping, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, intent.OrderID, intent.CustomerID, intent.PlanID, intent.Variant, string(shipping), intent.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert subscription intent for %s: %w", intent.OrderID, err)
	}
	return nil
}

// Activate consumes the intent for orderID and materializes its subscription.
// It returns nil, nil when there is no intent or it was already consumed.
func (r *Repository) Activate(ctx context.Context, orderID string) (*domain.Subscription, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var intent domain.PendingSubscriptionIntent
	err = tx.QueryRowContext(ctx, `
		UPDATE subscription_intents
		SET consumed_at = NOW()
		WHERE order_id = $1 AND consumed_at IS NULL
		RETURNING order_id, customer_id, plan_id, variant
	`, orderID).Scan(&intent.OrderID, &intent.CustomerID, &intent.PlanID, &intent.Variant)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("consume subscription intent %s: %w", orderID, err)
	}

	sub := &domain.Subscription{
		ID:            uuid.New().String(),
		IntentOrderID: intent.OrderID,
		CustomerID:    intent.CustomerID,
		PlanID:        intent.PlanID,
		Variant:       intent.Variant,
		Status:        domain.SubscriptionStatusActive,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO subscriptions (id, intent_order_id, customer_id, plan_id, variant, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (intent_order_id) DO NOTHING
		RETURNING started_at
	`, sub.ID, sub.IntentOrderID, sub.CustomerID, sub.PlanID, sub.Variant, sub.Status).Scan(&sub.StartedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("insert subscription for %s: %w", orderID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sub, nil
}

// ForIntent returns nil, nil when no subscription was created for the order.
func (r *Repository) ForIntent(ctx context.Context, orderID string) (*domain.Subscription, error) {
	sub := &domain.Subscription{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, intent_order_id, customer_id, plan_id, variant, status, started_at
		FROM subscriptions
		WHERE intent_order_id = $1
	`, orderID).Scan(&sub.ID, &sub.IntentOrderID, &sub.CustomerID, &sub.PlanID, &sub.Variant, &sub.Status, &sub.StartedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}
