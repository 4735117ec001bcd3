package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/joao-fontenele/storefront/internal/database"
	"github.com/joao-fontenele/storefront/internal/domain"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnknownProduct    = errors.New("unknown product")
)

type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) ListAll(ctx context.Context) ([]domain.StockLevel, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT product_id, on_hand
		FROM stock
		ORDER BY product_id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := []domain.StockLevel{}
	for rows.Next() {
		var level domain.StockLevel
		if err := rows.Scan(&level.ProductID, &level.OnHand); err != nil {
			return nil, err
		}
		items = append(items, level)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// GetStock returns nil, nil when the product has no ledger entry.
func (l *Ledger) GetStock(ctx context.Context, productID string) (*domain.StockLevel, error) {
	level := &domain.StockLevel{}

	err := l.db.QueryRowContext(ctx, `
		SELECT product_id, on_hand
		FROM stock
		WHERE product_id = $1
	`, productID).Scan(&level.ProductID, &level.OnHand)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return level, nil
}

// OnHand is a non-authoritative read used for checkout soft checks.
// Products without a ledger entry report zero.
func (l *Ledger) OnHand(ctx context.Context, productID string) (int, error) {
	level, err := l.GetStock(ctx, productID)
	if err != nil {
		return 0, err
	}
	if level == nil {
		return 0, nil
	}
	return level.OnHand, nil
}

// Decrement removes quantity from on-hand stock in one conditional statement.
func Decrement(ctx context.Context, exec database.Execer, productID string, quantity int) error {
	result, err := exec.ExecContext(ctx, `
		UPDATE stock
		SET on_hand = on_hand - $2, updated_at = NOW()
		WHERE product_id = $1 AND on_hand >= $2
	`, productID, quantity)
	if err != nil {
		return fmt.Errorf("decrement stock for %s: %w", productID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: product %s, requested %d", ErrInsufficientStock, productID, quantity)
	}

	return nil
}

func Restock(ctx context.Context, exec database.Execer, productID string, quantity int) error {
	result, err := exec.ExecContext(ctx, `
		UPDATE stock
		SET on_hand = on_hand + $2, updated_at = NOW()
		WHERE product_id = $1
	`, productID, quantity)
	if err != nil {
		return fmt.Errorf("restock %s: %w", productID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}

	return nil
}

// DecrementItems decrements every physical line. Run it inside a transaction:
// the first failing line aborts the rest and the caller rolls back.
func DecrementItems(ctx context.Context, exec database.Execer, items []domain.OrderItem) error {
	for _, line := range aggregate(items) {
		if err := Decrement(ctx, exec, line.productID, line.quantity); err != nil {
			return err
		}
	}
	return nil
}

func RestockItems(ctx context.Context, exec database.Execer, items []domain.OrderItem) error {
	for _, line := range aggregate(items) {
		if err := Restock(ctx, exec, line.productID, line.quantity); err != nil {
			return err
		}
	}
	return nil
}

// Restock adds quantity outside any order flow.
func (l *Ledger) Restock(ctx context.Context, productID string, quantity int) error {
	return Restock(ctx, l.db, productID, quantity)
}

type stockLine struct {
	productID string
	quantity  int
}

// aggregate sums quantities per product and orders them by id so concurrent
// orders lock stock rows in the same order.
func aggregate(items []domain.OrderItem) []stockLine {
	totals := make(map[string]int)
	for _, item := range items {
		if item.Type != domain.ItemTypePhysical {
			continue
		}
		totals[item.ProductID] += item.Quantity
	}

	lines := make([]stockLine, 0, len(totals))
	for id, qty := range totals {
		lines = append(lines, stockLine{productID: id, quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].productID < lines[j].productID })
	return lines
}
