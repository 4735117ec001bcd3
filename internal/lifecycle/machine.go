package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/joao-fontenele/storefront/internal/database"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/inventory"
	"github.com/joao-fontenele/storefront/internal/outbox"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

var tracer = otel.Tracer("lifecycle")

var (
	ErrIllegalTransition = errors.New("illegal order transition")
	ErrOrderNotFound     = errors.New("order not found")
)

// Effect is what a gateway status does to an order.
type Effect string

const (
	EffectSuccess Effect = "success"
	EffectFailure Effect = "failure"
	EffectPending Effect = "pending"
	EffectUnknown Effect = "unknown"
)

func Classify(status domain.GatewayStatus) Effect {
	switch {
	case status.Success():
		return EffectSuccess
	case status.Failure():
		return EffectFailure
	case status.InFlight():
		return EffectPending
	}
	return EffectUnknown
}

// Outcome reports what applying a status or transition did.
type Outcome struct {
	OrderID      string             `json:"order_id"`
	Effect       Effect             `json:"effect,omitempty"`
	Previous     domain.OrderStatus `json:"previous"`
	Current      domain.OrderStatus `json:"current"`
	Transitioned bool               `json:"transitioned"`
	StockMoved   bool               `json:"stock_moved"`
}

var trackingDescriptions = map[domain.OrderStatus]string{
	domain.OrderStatusProcessing: "Payment confirmed, preparing your order",
	domain.OrderStatusShipped:    "Order shipped",
	domain.OrderStatusDelivered:  "Order delivered",
	domain.OrderStatusCancelled:  "Order cancelled",
}

// Machine is the only writer of order status. Every write is a conditional
// update guarded by the allowed source states, so concurrent callers race
// safely without in-process locks.
// Each call is bounded by timeout, retries included.
type Machine struct {
	db      *sql.DB
	metrics *telemetry.Metrics
	logger  *slog.Logger
	txOpts  database.TxOptions
	timeout time.Duration
}

func NewMachine(db *sql.DB, metrics *telemetry.Metrics, logger *slog.Logger, timeout time.Duration) *Machine {
	return &Machine{
		db:      db,
		metrics: metrics,
		logger:  logger,
		txOpts:  database.DefaultTxOptions(),
		timeout: timeout,
	}
}

// ApplyGatewayStatus drives the order for a gateway-reported payment status.
// Repeating a call is a no-op. A paid order whose stock cannot be decremented
// stays pending with payment completed and the error wraps
// inventory.ErrInsufficientStock.
func (m *Machine) ApplyGatewayStatus(ctx context.Context, orderID string, status domain.GatewayStatus) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.ApplyGatewayStatus")
	defer span.End()

	ctx, cancel := database.WithTimeout(ctx, m.timeout)
	defer cancel()

	effect := Classify(status)
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("payment.status", string(status)),
		attribute.String("lifecycle.effect", string(effect)),
	)

	outcome, err := m.apply(ctx, orderID, effect)
	outcome.Effect = effect

	result := "noop"
	switch {
	case errors.Is(err, inventory.ErrInsufficientStock):
		result = "insufficient_stock"
	case err != nil:
		result = "error"
	case outcome.Transitioned:
		result = "transitioned"
	}
	m.metrics.Transition(ctx, string(effect), result)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return outcome, err
	}

	m.logger.Info("gateway status applied",
		"order_id", orderID,
		"status", status,
		"effect", effect,
		"previous", outcome.Previous,
		"current", outcome.Current,
		"transitioned", outcome.Transitioned,
	)
	return outcome, nil
}

func (m *Machine) apply(ctx context.Context, orderID string, effect Effect) (Outcome, error) {
	switch effect {
	case EffectSuccess:
		if err := m.markPayment(ctx, orderID, domain.PaymentStatusCompleted); err != nil {
			return Outcome{OrderID: orderID}, err
		}
		return m.transition(ctx, orderID, domain.OrderStatusProcessing)
	case EffectFailure:
		if err := m.markPayment(ctx, orderID, domain.PaymentStatusFailed); err != nil {
			return Outcome{OrderID: orderID}, err
		}
		return m.transition(ctx, orderID, domain.OrderStatusCancelled)
	case EffectPending:
		if err := m.markPayment(ctx, orderID, domain.PaymentStatusPending); err != nil {
			return Outcome{OrderID: orderID}, err
		}
	default:
		m.logger.Warn("ignoring unknown gateway status", "order_id", orderID)
	}
	return m.current(ctx, orderID)
}

// Advance moves an order along a fulfilment edge on behalf of an operator.
func (m *Machine) Advance(ctx context.Context, orderID string, target domain.OrderStatus) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.Advance")
	defer span.End()

	ctx, cancel := database.WithTimeout(ctx, m.timeout)
	defer cancel()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.target", string(target)))

	switch target {
	case domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled:
	default:
		return Outcome{OrderID: orderID}, fmt.Errorf("%w: %q cannot be set directly", ErrIllegalTransition, target)
	}

	outcome, err := m.transition(ctx, orderID, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return outcome, err
	}

	if !outcome.Transitioned {
		return outcome, fmt.Errorf("%w: %s to %s", ErrIllegalTransition, outcome.Current, target)
	}

	m.logger.Info("order advanced", "order_id", orderID, "previous", outcome.Previous, "current", outcome.Current)
	return outcome, nil
}

func (m *Machine) markPayment(ctx context.Context, orderID string, marker domain.PaymentStatus) error {
	query := `
		UPDATE orders SET payment_status = $2, updated_at = NOW()
		WHERE id = $1 AND payment_status <> $2
	`
	// an in-flight status never downgrades a completed payment
	if marker == domain.PaymentStatusPending {
		query = `
			UPDATE orders SET payment_status = $2, updated_at = NOW()
			WHERE id = $1 AND payment_status NOT IN ($2, 'completed')
		`
	}

	if _, err := m.db.ExecContext(ctx, query, orderID, marker); err != nil {
		return fmt.Errorf("mark payment %s for %s: %w", marker, orderID, err)
	}
	return nil
}

type claimed struct {
	previous     domain.OrderStatus
	customerID   string
	email        string
	total        int64
	currency     string
	discountCode sql.NullString
}

// transition claims the order for target in one statement guarded by the
// allowed source states, then applies the stock, tracking, discount and
// outbox side effects in the same transaction.
func (m *Machine) transition(ctx context.Context, orderID string, target domain.OrderStatus) (Outcome, error) {
	outcome := Outcome{OrderID: orderID}

	sources := make([]string, 0, 2)
	for _, s := range domain.SourcesOf(target) {
		sources = append(sources, string(s))
	}

	err := database.WithRetry(ctx, m.db, m.txOpts, func(tx *sql.Tx) error {
		outcome.Transitioned = false
		outcome.StockMoved = false

		var c claimed
		err := tx.QueryRowContext(ctx, `
			WITH prev AS (
				SELECT id, status FROM orders
				WHERE id = $1 AND retired_at IS NULL
				FOR UPDATE
			)
			UPDATE orders o
			SET status = $2, updated_at = NOW()
			FROM prev
			WHERE o.id = prev.id AND prev.status = ANY($3)
			RETURNING prev.status, o.customer_id, COALESCE(o.shipping->>'email', ''), o.total, o.currency, o.discount_code
		`, orderID, target, pq.Array(sources)).Scan(&c.previous, &c.customerID, &c.email, &c.total, &c.currency, &c.discountCode)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim %s for %s: %w", target, orderID, err)
		}

		outcome.Previous = c.previous
		outcome.Current = target
		outcome.Transitioned = true

		moved, err := m.moveStock(ctx, tx, orderID, c.previous, target)
		if err != nil {
			return err
		}
		outcome.StockMoved = moved

		if target == domain.OrderStatusProcessing && c.discountCode.Valid {
			if err := m.countDiscountUse(ctx, tx, orderID, c.discountCode.String); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tracking_events (order_id, status, description)
			VALUES ($1, $2, $3)
		`, orderID, target, trackingDescriptions[target]); err != nil {
			return fmt.Errorf("append tracking event for %s: %w", orderID, err)
		}

		return outbox.Insert(ctx, tx, domain.TopicOrderStatusChanged, orderID, domain.OrderStatusChangedEvent{
			OrderID:    orderID,
			CustomerID: c.customerID,
			Email:      c.email,
			From:       c.previous,
			To:         target,
			Total:      c.total,
			Currency:   c.currency,
			Timestamp:  time.Now().UTC(),
		})
	})
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			m.logger.Warn("paid order left pending, stock unavailable", "order_id", orderID, "error", err)
		}
		current, curErr := m.current(ctx, orderID)
		if curErr == nil {
			outcome.Previous, outcome.Current = current.Previous, current.Current
		}
		outcome.Transitioned = false
		outcome.StockMoved = false
		return outcome, err
	}

	if outcome.Transitioned {
		return outcome, nil
	}
	return m.current(ctx, orderID)
}

// countDiscountUse never pushes usage_count past max_uses. Orders priced
// before the cap was reached keep their discount; the overrun is logged.
func (m *Machine) countDiscountUse(ctx context.Context, tx *sql.Tx, orderID, code string) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE discount_codes SET usage_count = usage_count + 1
		WHERE code = $1 AND (max_uses IS NULL OR usage_count < max_uses)
	`, code)
	if err != nil {
		return fmt.Errorf("count discount usage for %s: %w", orderID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("count discount usage for %s: %w", orderID, err)
	}
	if n == 0 {
		m.logger.Warn("discount usage cap reached", "order_id", orderID, "discount_code", code)
	}
	return nil
}

// moveStock decrements on the first move into processing and restores stock
// when a processing order is cancelled. The claimed source state makes each
// happen at most once per order.
func (m *Machine) moveStock(ctx context.Context, tx *sql.Tx, orderID string, from, to domain.OrderStatus) (bool, error) {
	decrement := from == domain.OrderStatusPending && to == domain.OrderStatusProcessing
	restore := from == domain.OrderStatusProcessing && to == domain.OrderStatusCancelled
	if !decrement && !restore {
		return false, nil
	}

	items, err := physicalItems(ctx, tx, orderID)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		return false, nil
	}

	if decrement {
		err = inventory.DecrementItems(ctx, tx, items)
	} else {
		err = inventory.RestockItems(ctx, tx, items)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func physicalItems(ctx context.Context, tx *sql.Tx, orderID string) ([]domain.OrderItem, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity, item_type
		FROM order_items
		WHERE order_id = $1 AND item_type = $2
		ORDER BY position
	`, orderID, domain.ItemTypePhysical)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.Type); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (m *Machine) current(ctx context.Context, orderID string) (Outcome, error) {
	var status domain.OrderStatus
	err := m.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Outcome{OrderID: orderID}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return Outcome{OrderID: orderID}, err
	}
	return Outcome{OrderID: orderID, Previous: status, Current: status}, nil
}
