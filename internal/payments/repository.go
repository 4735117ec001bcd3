package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront/internal/database"
	"github.com/joao-fontenele/storefront/internal/domain"
)

// Repository is the payment ledger. A row's external id is set once and its
// status rank only moves forward.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// NewPending builds the placeholder row written alongside a new order.
func NewPending(order *domain.Order) *domain.Payment {
	return &domain.Payment{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Amount:    order.Total,
		Currency:  order.Currency,
		Status:    domain.GatewayStatusPending,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.CreatedAt,
	}
}

// InsertPending writes a placeholder with no external id yet.
func InsertPending(ctx context.Context, exec database.Execer, p *domain.Payment) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, amount, currency, method, status, status_rank, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, p.ID, p.OrderID, p.Amount, p.Currency, p.Method, p.Status, p.Status.Rank(), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pending payment for %s: %w", p.OrderID, err)
	}
	return nil
}

// Upsert records a gateway-reported payment. It first claims the order's
// placeholder, otherwise inserts keyed by external id. A report ranked below
// the stored status is stale: Upsert returns false and changes nothing.
// Re-applying the stored status returns true so callers can safely re-drive
// the work that follows it.
func (r *Repository) Upsert(ctx context.Context, p *domain.Payment) (bool, error) {
	if p.ExternalPaymentID == "" {
		return false, errors.New("payment upsert requires an external payment id")
	}

	rank := p.Status.Rank()
	payer := nullableJSON(p.Payer)

	result, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET external_payment_id = $2, status = $3, status_rank = $4, payer = $5,
			amount = $6, method = $7, updated_at = NOW()
		WHERE id = (
			SELECT id FROM payments
			WHERE order_id = $1 AND external_payment_id IS NULL
			ORDER BY created_at
			LIMIT 1
		)
		AND external_payment_id IS NULL
		AND NOT EXISTS (SELECT 1 FROM payments WHERE external_payment_id = $2)
	`, p.OrderID, p.ExternalPaymentID, p.Status, rank, payer, p.Amount, p.Method)
	if err != nil {
		return false, fmt.Errorf("claim placeholder payment for %s: %w", p.OrderID, err)
	}

	claimed, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if claimed == 1 {
		return true, nil
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	var id string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO payments (id, order_id, amount, currency, method, external_payment_id, status, status_rank, payer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_payment_id) DO UPDATE
		SET status = EXCLUDED.status,
			status_rank = EXCLUDED.status_rank,
			payer = COALESCE(EXCLUDED.payer, payments.payer),
			updated_at = NOW()
		WHERE payments.status_rank <= EXCLUDED.status_rank
		RETURNING id
	`, p.ID, p.OrderID, p.Amount, p.Currency, p.Method, p.ExternalPaymentID, p.Status, rank, payer).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("upsert payment %s: %w", p.ExternalPaymentID, err)
	}

	p.ID = id
	return true, nil
}

// LatestForOrder returns nil, nil when the order has no payment rows.
func (r *Repository) LatestForOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	p := &domain.Payment{}
	var external sql.NullString
	var payer []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, amount, currency, method, external_payment_id, status, payer, created_at, updated_at
		FROM payments
		WHERE order_id = $1
		ORDER BY updated_at DESC, created_at DESC
		LIMIT 1
	`, orderID).Scan(&p.ID, &p.OrderID, &p.Amount, &p.Currency, &p.Method, &external, &p.Status, &payer, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	p.ExternalPaymentID = external.String
	if len(payer) > 0 {
		p.Payer = payer
	}
	return p, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
