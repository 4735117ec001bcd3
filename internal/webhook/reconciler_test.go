package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/inventory"
	"github.com/joao-fontenele/storefront/internal/lifecycle"
	"github.com/joao-fontenele/storefront/internal/paygateway"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

type fakeGateway struct {
	payments    map[string]*paygateway.Payment
	err         error
	calls       int
	hadDeadline bool
}

func (f *fakeGateway) GetPayment(ctx context.Context, id string) (*paygateway.Payment, error) {
	f.calls++
	_, f.hadDeadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, paygateway.ErrPaymentNotFound
	}
	return p, nil
}

type fakeOrders map[string]*domain.Order

func (f fakeOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	return f[id], nil
}

// fakeLedger keeps the highest-ranked status per external id.
type fakeLedger struct {
	rows      map[string]domain.GatewayStatus
	deadlines []time.Time
}

func (f *fakeLedger) Upsert(ctx context.Context, p *domain.Payment) (bool, error) {
	if deadline, ok := ctx.Deadline(); ok {
		f.deadlines = append(f.deadlines, deadline)
	}
	if current, ok := f.rows[p.ExternalPaymentID]; ok && current.Rank() > p.Status.Rank() {
		return false, nil
	}
	f.rows[p.ExternalPaymentID] = p.Status
	return true, nil
}

// fakeMachine mimics the guarded transitions: stock moves only on the claim.
type fakeMachine struct {
	orders     fakeOrders
	calls      int
	decrements int
	err        error
}

func (f *fakeMachine) ApplyGatewayStatus(_ context.Context, orderID string, status domain.GatewayStatus) (lifecycle.Outcome, error) {
	f.calls++
	if f.err != nil {
		return lifecycle.Outcome{}, f.err
	}
	order := f.orders[orderID]
	outcome := lifecycle.Outcome{OrderID: orderID, Previous: order.Status, Current: order.Status}
	switch lifecycle.Classify(status) {
	case lifecycle.EffectSuccess:
		if order.Status == domain.OrderStatusPending {
			order.Status = domain.OrderStatusProcessing
			f.decrements++
			outcome.Transitioned = true
		}
	case lifecycle.EffectFailure:
		if order.Status == domain.OrderStatusPending || order.Status == domain.OrderStatusProcessing {
			order.Status = domain.OrderStatusCancelled
			outcome.Transitioned = true
		}
	}
	outcome.Current = order.Status
	return outcome, nil
}

type fakeSubscriptions struct {
	consumed map[string]bool
	created  int
}

func (f *fakeSubscriptions) Activate(_ context.Context, orderID string) (*domain.Subscription, error) {
	if f.consumed[orderID] {
		return nil, nil
	}
	f.consumed[orderID] = true
	f.created++
	return &domain.Subscription{ID: "sub-1", IntentOrderID: orderID, Status: domain.SubscriptionStatusActive}, nil
}

type fixture struct {
	reconciler *Reconciler
	gateway    *fakeGateway
	orders     fakeOrders
	ledger     *fakeLedger
	machine    *fakeMachine
	subs       *fakeSubscriptions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("create metrics: %v", err)
	}

	orders := fakeOrders{
		"ORD-1": {ID: "ORD-1", Status: domain.OrderStatusPending, Total: 5000, Currency: "ARS"},
		"SUB-1": {ID: "SUB-1", Status: domain.OrderStatusPending, Total: 4500, Currency: "ARS"},
	}
	gateway := &fakeGateway{payments: map[string]*paygateway.Payment{
		"100": {ID: "100", Status: domain.GatewayStatusApproved, ExternalReference: "ORD-1", TransactionAmount: decimal.RequireFromString("50")},
		"101": {ID: "101", Status: domain.GatewayStatusApproved, ExternalReference: "ORD-404"},
		"102": {ID: "102", Status: domain.GatewayStatusApproved},
		"200": {ID: "200", Status: domain.GatewayStatusApproved, ExternalReference: "SUB-1"},
		"201": {ID: "201", Status: domain.GatewayStatusRejected, ExternalReference: "SUB-1"},
	}}
	ledger := &fakeLedger{rows: map[string]domain.GatewayStatus{}}
	machine := &fakeMachine{orders: orders}
	subs := &fakeSubscriptions{consumed: map[string]bool{}}

	r := NewReconciler(Dependencies{
		Gateway:       gateway,
		Orders:        orders,
		Payments:      ledger,
		Machine:       machine,
		Subscriptions: subs,
		Metrics:       metrics,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Timeout:       time.Minute,
	})

	return &fixture{reconciler: r, gateway: gateway, orders: orders, ledger: ledger, machine: machine, subs: subs}
}

func TestReconcile(t *testing.T) {
	t.Run("applies a payment to its order", func(t *testing.T) {
		f := newFixture(t)

		outcome, err := f.reconciler.Reconcile(context.Background(), Notification{Type: "payment", PaymentID: "100"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome != OutcomeApplied {
			t.Errorf("expected applied, got %s", outcome)
		}
		if f.orders["ORD-1"].Status != domain.OrderStatusProcessing {
			t.Errorf("expected processing, got %s", f.orders["ORD-1"].Status)
		}
		if f.ledger.rows["100"] != domain.GatewayStatusApproved {
			t.Errorf("expected ledger row for 100, got %v", f.ledger.rows)
		}
	})

	t.Run("duplicate deliveries decrement stock once", func(t *testing.T) {
		f := newFixture(t)

		for i := 0; i < 5; i++ {
			outcome, err := f.reconciler.Reconcile(context.Background(), Notification{Type: "payment", PaymentID: "100"})
			if err != nil || outcome != OutcomeApplied {
				t.Fatalf("delivery %d: outcome %s, err %v", i, outcome, err)
			}
		}
		if f.machine.decrements != 1 {
			t.Errorf("expected one stock decrement, got %d", f.machine.decrements)
		}
		if len(f.ledger.rows) != 1 {
			t.Errorf("expected one ledger row, got %d", len(f.ledger.rows))
		}
	})

	t.Run("bounds database work after the gateway fetch", func(t *testing.T) {
		f := newFixture(t)

		start := time.Now()
		if _, err := f.reconciler.Reconcile(context.Background(), Notification{Type: "payment", PaymentID: "100"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.gateway.hadDeadline {
			t.Error("expected the gateway fetch to keep the caller's context")
		}
		if len(f.ledger.deadlines) != 1 {
			t.Fatalf("expected the ledger write to carry a deadline, got %d", len(f.ledger.deadlines))
		}
		if d := f.ledger.deadlines[0]; d.Before(start) || d.After(start.Add(time.Minute+time.Second)) {
			t.Errorf("unexpected deadline %s", d)
		}
	})

	t.Run("ignores non-payment events without calling the gateway", func(t *testing.T) {
		f := newFixture(t)

		outcome, err := f.reconciler.Reconcile(context.Background(), Notification{Type: "merchant_order", PaymentID: "100"})
		if err != nil || outcome != OutcomeIgnored {
			t.Fatalf("expected ignored, got %s (%v)", outcome, err)
		}
		if f.gateway.calls != 0 {
			t.Errorf("expected no gateway calls, got %d", f.gateway.calls)
		}
	})

	t.Run("unknown order is acknowledged without writes", func(t *testing.T) {
		f := newFixture(t)

		outcome, err := f.reconciler.Reconcile(context.Background(), Notification{Type: "payment", PaymentID: "101"})
		if err != nil || outcome != OutcomeUnknownOrder {
			t.Fatalf("expected unknown_order, got %s (%v)", outcome, err)
		}
		if len(f.ledger.rows) != 0 || f.machine.calls != 0 {
			t.Errorf("expected no writes, got ledger %v and %d transitions", f.ledger.rows, f.machine.calls)
		}
	})

	t.Run("missing reference", func(t *testing.T) {
		f := newFixture(t)

		outcome, err := f.reconciler.Reconcile(context.Background(), Notification{Type: "payment", PaymentID: "102"})
		if !errors.Is(err, ErrOrderReferenceMissing) {
			t.Fatalf("expected ErrOrderReferenceMissing, got %v", err)
		}
		if outcome.Retryable() {
			t.Error("expected missing reference not to be retried")
		}
		if len(f.ledger.rows) != 0 {
			t.Error("expected no ledger writes")
		}
	})

	t.Run("payment unknown to the gateway", func(t *testing.T) {
		f := newFixture(t)

		outcome, err := f.reconciler.Reconcile(context.Background(), Notification{Type: "payment", PaymentID: "999"})
		if err != nil || outcome != OutcomeUnknownPayment {
			t.Fatalf("expected unknown_payment, got %s (%v)", outcome, err)
		}
	})

	t.Run("gateway outage is retryable", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.err = &paygateway.APIError{StatusCode: http.StatusServiceUnavailable, Message: "down"}

		outcome, err := f.reconciler.Reconcile(context.Background(), Notification{Type: "payment", PaymentID: "100"})
		if err == nil || !outcome.Retryable() {
			t.Fatalf("expected retryable failure, got %s (%v)", outcome, err)
		}
	})

	t.Run("stale status does not drive the order", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.rows["100"] = domain.GatewayStatusRefunded

		outcome, err := f.reconciler.Reconcile(context.Background(), Notification{Type: "payment", PaymentID: "100"})
		if err != nil || outcome != OutcomeStale {
			t.Fatalf("expected stale, got %s (%v)", outcome, err)
		}
		if f.machine.calls != 0 {
			t.Errorf("expected no transition, got %d", f.machine.calls)
		}
	})

	t.Run("paid order without stock is acknowledged", func(t *testing.T) {
		f := newFixture(t)
		f.machine.err = fmt.Errorf("claim: %w", inventory.ErrInsufficientStock)

		outcome, err := f.reconciler.Reconcile(context.Background(), Notification{Type: "payment", PaymentID: "100"})
		if err != nil || outcome != OutcomeInsufficientStock {
			t.Fatalf("expected insufficient_stock, got %s (%v)", outcome, err)
		}
	})

	t.Run("database failure during transition is retryable", func(t *testing.T) {
		f := newFixture(t)
		f.machine.err = errors.New("connection reset")

		outcome, err := f.reconciler.Reconcile(context.Background(), Notification{Type: "payment", PaymentID: "100"})
		if err == nil || !outcome.Retryable() {
			t.Fatalf("expected retryable failure, got %s (%v)", outcome, err)
		}
	})
}

func TestReconcileSubscriptions(t *testing.T) {
	t.Run("activates the intent once across redeliveries", func(t *testing.T) {
		f := newFixture(t)

		for i := 0; i < 3; i++ {
			if _, err := f.reconciler.Reconcile(context.Background(), Notification{Type: "payment", PaymentID: "200"}); err != nil {
				t.Fatalf("delivery %d: %v", i, err)
			}
		}
		if f.subs.created != 1 {
			t.Errorf("expected one subscription, got %d", f.subs.created)
		}
	})

	t.Run("failed payments do not activate", func(t *testing.T) {
		f := newFixture(t)

		if _, err := f.reconciler.Reconcile(context.Background(), Notification{Type: "payment", PaymentID: "201"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.subs.created != 0 {
			t.Errorf("expected no subscription, got %d", f.subs.created)
		}
		if f.orders["SUB-1"].Status != domain.OrderStatusCancelled {
			t.Errorf("expected cancelled, got %s", f.orders["SUB-1"].Status)
		}
	})

	t.Run("goods orders never activate", func(t *testing.T) {
		f := newFixture(t)

		if _, err := f.reconciler.Reconcile(context.Background(), Notification{Type: "payment", PaymentID: "100"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.subs.created != 0 {
			t.Errorf("expected no subscription, got %d", f.subs.created)
		}
	})
}

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		body     string
		wantType string
		wantID   string
	}{
		{"type and data.id query", "/webhooks/payments?type=payment&data.id=100", "", "payment", "100"},
		{"legacy topic and id query", "/webhooks/payments?topic=payment&id=101", "", "payment", "101"},
		{"json body with numeric id", "/webhooks/payments", `{"type":"payment","data":{"id":102}}`, "payment", "102"},
		{"json body with quoted id", "/webhooks/payments", `{"type":"payment","data":{"id":"103"}}`, "payment", "103"},
		{"query type with body id", "/webhooks/payments?type=payment", `{"data":{"id":104}}`, "payment", "104"},
		{"empty", "/webhooks/payments", "", "", ""},
		{"garbage body", "/webhooks/payments", `not json`, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))

			n := parseNotification(req)

			if n.Type != tt.wantType || n.PaymentID != tt.wantID {
				t.Errorf("got %+v, want type %q id %q", n, tt.wantType, tt.wantID)
			}
		})
	}
}

func TestHandler_HandleNotification(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		gatewayErr error
		wantStatus int
	}{
		{"applied", "/webhooks/payments?type=payment&data.id=100", nil, http.StatusOK},
		{"ignored", "/webhooks/payments?type=plan&data.id=1", nil, http.StatusOK},
		{"unknown order", "/webhooks/payments?type=payment&data.id=101", nil, http.StatusOK},
		{"missing reference", "/webhooks/payments?type=payment&data.id=102", nil, http.StatusOK},
		{"missing id", "/webhooks/payments?type=payment", nil, http.StatusOK},
		{"gateway outage", "/webhooks/payments?type=payment&data.id=100", errors.New("timeout"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gateway.err = tt.gatewayErr
			h := NewHandler(f.reconciler, slog.New(slog.NewTextHandler(io.Discard, nil)))

			req := httptest.NewRequest(http.MethodPost, tt.target, nil)
			rec := httptest.NewRecorder()

			h.HandleNotification(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}
