// Package webhook absorbs the payment gateway's at-least-once notifications.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/joao-fontenele/storefront/internal/database"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/inventory"
	"github.com/joao-fontenele/storefront/internal/lifecycle"
	"github.com/joao-fontenele/storefront/internal/paygateway"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

var tracer = otel.Tracer("webhook")

var ErrOrderReferenceMissing = errors.New("payment has no order reference")

type PaymentFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*paygateway.Payment, error)
}

type OrderLookup interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
}

type PaymentLedger interface {
	Upsert(ctx context.Context, p *domain.Payment) (bool, error)
}

type Transitioner interface {
	ApplyGatewayStatus(ctx context.Context, orderID string, status domain.GatewayStatus) (lifecycle.Outcome, error)
}

type SubscriptionActivator interface {
	Activate(ctx context.Context, orderID string) (*domain.Subscription, error)
}

// Notification is what the gateway tells us; only the id is trusted, and only
// as a key to fetch the payment.
type Notification struct {
	Type      string
	PaymentID string
}

// Outcome names how a notification was absorbed.
type Outcome string

const (
	OutcomeIgnored           Outcome = "ignored"
	OutcomeMalformed         Outcome = "malformed"
	OutcomeApplied           Outcome = "applied"
	OutcomeStale             Outcome = "stale"
	OutcomeMissingReference  Outcome = "missing_reference"
	OutcomeUnknownOrder      Outcome = "unknown_order"
	OutcomeUnknownPayment    Outcome = "unknown_payment"
	OutcomeInsufficientStock Outcome = "insufficient_stock"
	OutcomeFailed            Outcome = "failed"
)

// Retryable reports whether the gateway should redeliver.
func (o Outcome) Retryable() bool {
	return o == OutcomeFailed
}

type Dependencies struct {
	Gateway       PaymentFetcher
	Orders        OrderLookup
	Payments      PaymentLedger
	Machine       Transitioner
	Subscriptions SubscriptionActivator
	Metrics       *telemetry.Metrics
	Logger        *slog.Logger
	// Timeout bounds the database work that follows the gateway fetch.
	Timeout time.Duration
}

type Reconciler struct {
	gateway       PaymentFetcher
	orders        OrderLookup
	payments      PaymentLedger
	machine       Transitioner
	subscriptions SubscriptionActivator
	metrics       *telemetry.Metrics
	logger        *slog.Logger
	timeout       time.Duration
}

func NewReconciler(deps Dependencies) *Reconciler {
	return &Reconciler{
		gateway:       deps.Gateway,
		orders:        deps.Orders,
		payments:      deps.Payments,
		machine:       deps.Machine,
		subscriptions: deps.Subscriptions,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		timeout:       deps.Timeout,
	}
}

// Reconcile applies one notification. Every step is idempotent so the whole
// call can be repeated for the same notification. A non-nil error with a
// retryable outcome means nothing durable was lost and redelivery may succeed.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "webhook.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("notification.type", n.Type), attribute.String("payment.id", n.PaymentID))

	outcome, err := r.reconcile(ctx, n)
	span.SetAttributes(attribute.String("webhook.outcome", string(outcome)))
	r.metrics.Notification(ctx, string(outcome))
	return outcome, err
}

func (r *Reconciler) reconcile(ctx context.Context, n Notification) (Outcome, error) {
	if n.Type != "payment" {
		r.logger.Info("ignoring non-payment notification", "type", n.Type)
		return OutcomeIgnored, nil
	}
	if n.PaymentID == "" {
		r.logger.Warn("payment notification without id")
		return OutcomeMalformed, nil
	}

	payment, err := r.gateway.GetPayment(ctx, n.PaymentID)
	if err != nil {
		if errors.Is(err, paygateway.ErrPaymentNotFound) {
			r.logger.Warn("notified payment unknown to gateway", "payment_id", n.PaymentID)
			return OutcomeUnknownPayment, nil
		}
		return OutcomeFailed, fmt.Errorf("fetch payment %s: %w", n.PaymentID, err)
	}

	orderID := payment.ExternalReference
	if orderID == "" {
		r.logger.Warn("payment has no order reference", "payment_id", n.PaymentID)
		return OutcomeMissingReference, ErrOrderReferenceMissing
	}

	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	order, err := r.orders.GetByID(ctx, orderID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order == nil {
		r.logger.Warn("payment references unknown order", "payment_id", n.PaymentID, "order_id", orderID)
		return OutcomeUnknownOrder, nil
	}

	amount := paygateway.MinorUnits(payment.TransactionAmount)
	if amount == 0 {
		amount = order.Total
	}
	currency := payment.CurrencyID
	if currency == "" {
		currency = order.Currency
	}

	applied, err := r.payments.Upsert(ctx, &domain.Payment{
		OrderID:           orderID,
		Amount:            amount,
		Currency:          currency,
		Method:            payment.PaymentMethodID,
		ExternalPaymentID: string(payment.ID),
		Status:            payment.Status,
		Payer:             payment.Payer,
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("record payment %s: %w", payment.ID, err)
	}
	if !applied {
		r.logger.Info("stale payment status ignored", "payment_id", payment.ID, "order_id", orderID, "status", payment.Status)
		return OutcomeStale, nil
	}

	result, err := r.machine.ApplyGatewayStatus(ctx, orderID, payment.Status)
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			r.logger.Warn("paid order could not claim stock", "order_id", orderID, "payment_id", payment.ID, "error", err)
			return OutcomeInsufficientStock, nil
		}
		return OutcomeFailed, fmt.Errorf("apply %s to %s: %w", payment.Status, orderID, err)
	}

	if domain.IsSubscriptionOrderID(orderID) && payment.Status.Success() {
		sub, err := r.subscriptions.Activate(ctx, orderID)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("activate subscription for %s: %w", orderID, err)
		}
		if sub != nil {
			r.logger.Info("subscription activated", "order_id", orderID, "subscription_id", sub.ID, "plan_id", sub.PlanID)
		}
	}

	r.logger.Info("payment notification applied",
		"payment_id", payment.ID,
		"order_id", orderID,
		"status", payment.Status,
		"order_status", result.Current,
		"transitioned", result.Transitioned,
	)
	return OutcomeApplied, nil
}
