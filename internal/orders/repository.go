package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/payments"
	"github.com/joao-fontenele/storefront/internal/subscriptions"
)

// Draft is everything a checkout persists together with a new order.
type Draft struct {
	Order   *domain.Order
	Payment *domain.Payment
	Intent  *domain.PendingSubscriptionIntent
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create writes the order, its lines, its tracking history and the optional
// payment placeholder and subscription intent in one transaction.
func (r *Repository) Create(ctx context.Context, d Draft) error {
	order := d.Order

	shipping, err := json.Marshal(order.Shipping)
	if err != nil {
		return err
	}

	var deliveryFrom, deliveryUntil sql.NullTime
	if order.Delivery != nil {
		deliveryFrom = sql.NullTime{Time: order.Delivery.From, Valid: true}
		deliveryUntil = sql.NullTime{Time: order.Delivery.Until, Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, kind, customer_id, status, payment_status, subtotal, discount_code,
			discount_amount, total, currency, shipping, delivery_from, delivery_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`, order.ID, order.Kind, order.CustomerID, order.Status, order.PaymentStatus, order.Subtotal,
		sql.NullString{String: order.DiscountCode, Valid: order.DiscountCode != ""},
		order.DiscountAmount, order.Total, order.Currency, string(shipping), deliveryFrom, deliveryUntil, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, title, unit_price, quantity, item_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, order.ID, i, item.ProductID, item.Title, item.UnitPrice, item.Quantity, item.Type)
		if err != nil {
			return fmt.Errorf("insert order item %s/%d: %w", order.ID, i, err)
		}
	}

	for _, event := range order.Tracking {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tracking_events (order_id, status, description, occurred_at)
			VALUES ($1, $2, $3, $4)
		`, order.ID, event.Status, event.Description, event.OccurredAt)
		if err != nil {
			return fmt.Errorf("insert tracking event for %s: %w", order.ID, err)
		}
	}

	if d.Payment != nil {
		if err := payments.InsertPending(ctx, tx, d.Payment); err != nil {
			return err
		}
	}

	if d.Intent != nil {
		if err := subscriptions.InsertIntent(ctx, tx, d.Intent); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const orderColumns = `
	id, kind, customer_id, status, payment_status, subtotal, COALESCE(discount_code, ''), discount_amount,
	total, currency, COALESCE(preference_id, ''), shipping, delivery_from, delivery_until, created_at, retired_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	order := &domain.Order{Items: []domain.OrderItem{}, Tracking: []domain.TrackingEvent{}}
	var shipping []byte
	var deliveryFrom, deliveryUntil, retiredAt sql.NullTime

	err := row.Scan(&order.ID, &order.Kind, &order.CustomerID, &order.Status, &order.PaymentStatus,
		&order.Subtotal, &order.DiscountCode, &order.DiscountAmount, &order.Total, &order.Currency,
		&order.PreferenceID, &shipping, &deliveryFrom, &deliveryUntil, &order.CreatedAt, &retiredAt)
	if err != nil {
		return nil, err
	}

	if len(shipping) > 0 {
		if err := json.Unmarshal(shipping, &order.Shipping); err != nil {
			return nil, fmt.Errorf("decode shipping for %s: %w", order.ID, err)
		}
	}
	if deliveryFrom.Valid && deliveryUntil.Valid {
		order.Delivery = &domain.DeliveryWindow{From: deliveryFrom.Time, Until: deliveryUntil.Time}
	}
	if retiredAt.Valid {
		order.RetiredAt = &retiredAt.Time
	}
	return order, nil
}

// GetByID returns nil, nil for unknown ids.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	byID := map[string]*domain.Order{order.ID: order}
	if err := r.loadItems(ctx, []string{order.ID}, byID); err != nil {
		return nil, err
	}
	if err := r.loadTracking(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// SetPreferenceID records the gateway intent on a pending order. It reports
// false when the order is no longer pending.
func (r *Repository) SetPreferenceID(ctx context.Context, id, preferenceID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET preference_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, preferenceID)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

// ListByCustomer returns the customer's non-retired orders, newest first.
// Tracking history is only loaded by GetByID.
func (r *Repository) ListByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_id = $1 AND retired_at IS NULL
		ORDER BY created_at DESC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	if err := r.loadItems(ctx, orderIDs, orderMap); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

// Retire soft-deletes a terminal order. It reports false when the order is
// missing, already retired or still in flight.
func (r *Repository) Retire(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET retired_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND retired_at IS NULL AND status IN ('delivered', 'cancelled')
	`, id)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

func (r *Repository) loadItems(ctx context.Context, orderIDs []string, orderMap map[string]*domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, title, unit_price, quantity, item_type
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.Title, &item.UnitPrice, &item.Quantity, &item.Type); err != nil {
			return err
		}
		if order, ok := orderMap[orderID]; ok {
			order.Items = append(order.Items, item)
		}
	}

	return rows.Err()
}

func (r *Repository) loadTracking(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, description, occurred_at
		FROM tracking_events
		WHERE order_id = $1
		ORDER BY id
	`, order.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var event domain.TrackingEvent
		if err := rows.Scan(&event.Status, &event.Description, &event.OccurredAt); err != nil {
			return err
		}
		order.Tracking = append(order.Tracking, event)
	}

	return rows.Err()
}
