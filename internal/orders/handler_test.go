package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/lifecycle"
)

type fakeStore struct {
	orders  map[string]*domain.Order
	retired map[string]bool
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	return f.orders[id], nil
}

func (f *fakeStore) ListByCustomer(_ context.Context, customerID string) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		if o.CustomerID == customerID && !f.retired[o.ID] {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) Retire(_ context.Context, id string) (bool, error) {
	o, ok := f.orders[id]
	if !ok || !o.Status.Terminal() || f.retired[id] {
		return false, nil
	}
	f.retired[id] = true
	return true, nil
}

type fakePayments struct {
	latest map[string]*domain.Payment
}

func (f *fakePayments) LatestForOrder(_ context.Context, orderID string) (*domain.Payment, error) {
	return f.latest[orderID], nil
}

type fakeAdvancer struct {
	store *fakeStore
}

func (f *fakeAdvancer) Advance(_ context.Context, orderID string, target domain.OrderStatus) (lifecycle.Outcome, error) {
	o, ok := f.store.orders[orderID]
	if !ok {
		return lifecycle.Outcome{}, lifecycle.ErrOrderNotFound
	}
	if !domain.CanTransition(o.Status, target) {
		return lifecycle.Outcome{}, fmt.Errorf("%w: %s to %s", lifecycle.ErrIllegalTransition, o.Status, target)
	}
	prev := o.Status
	o.Status = target
	return lifecycle.Outcome{OrderID: orderID, Previous: prev, Current: target, Transitioned: true}, nil
}

func newTestHandler() (*Handler, *fakeStore) {
	store := &fakeStore{
		orders: map[string]*domain.Order{
			"ORD-1": {ID: "ORD-1", CustomerID: "alice", Status: domain.OrderStatusProcessing, Total: 9500},
			"ORD-2": {ID: "ORD-2", CustomerID: "alice", Status: domain.OrderStatusDelivered},
			"ORD-3": {ID: "ORD-3", CustomerID: "bob", Status: domain.OrderStatusPending},
		},
		retired: map[string]bool{},
	}
	pays := &fakePayments{latest: map[string]*domain.Payment{
		"ORD-1": {OrderID: "ORD-1", Status: domain.GatewayStatusApproved, ExternalPaymentID: "777", Amount: 9500, Currency: "ARS"},
	}}
	h := NewHandler(store, pays, &fakeAdvancer{store: store}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h, store
}

func TestHandler_HandleGet(t *testing.T) {
	t.Run("returns order with latest payment status to its owner", func(t *testing.T) {
		h, _ := newTestHandler()

		req := httptest.NewRequest(http.MethodGet, "/orders/ORD-1", nil)
		req.SetPathValue("id", "ORD-1")
		req.Header.Set(CustomerHeader, "alice")
		rec := httptest.NewRecorder()

		h.HandleGet(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}

		var resp orderStatusResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Order.Status != domain.OrderStatusProcessing {
			t.Errorf("expected processing, got %s", resp.Order.Status)
		}
		if resp.Payment == nil || resp.Payment.Status != domain.GatewayStatusApproved {
			t.Errorf("expected approved payment, got %+v", resp.Payment)
		}
	})

	t.Run("hides orders owned by someone else", func(t *testing.T) {
		h, _ := newTestHandler()

		req := httptest.NewRequest(http.MethodGet, "/orders/ORD-3", nil)
		req.SetPathValue("id", "ORD-3")
		req.Header.Set(CustomerHeader, "alice")
		rec := httptest.NewRecorder()

		h.HandleGet(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("requires a customer", func(t *testing.T) {
		h, _ := newTestHandler()

		req := httptest.NewRequest(http.MethodGet, "/orders/ORD-1", nil)
		req.SetPathValue("id", "ORD-1")
		rec := httptest.NewRecorder()

		h.HandleGet(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})

	t.Run("omits payment when none recorded", func(t *testing.T) {
		h, _ := newTestHandler()

		req := httptest.NewRequest(http.MethodGet, "/orders/ORD-2", nil)
		req.SetPathValue("id", "ORD-2")
		req.Header.Set(CustomerHeader, "alice")
		rec := httptest.NewRecorder()

		h.HandleGet(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if strings.Contains(rec.Body.String(), `"payment"`) {
			t.Errorf("expected no payment field, got %s", rec.Body.String())
		}
	})
}

func TestHandler_HandleList(t *testing.T) {
	h, store := newTestHandler()
	store.retired["ORD-2"] = true

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(CustomerHeader, "alice")
	rec := httptest.NewRecorder()

	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var orders []domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&orders); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "ORD-1" {
		t.Errorf("expected only ORD-1, got %+v", orders)
	}
}

func TestHandler_HandleUpdateStatus(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		body       string
		wantStatus int
	}{
		{"ships a processing order", "ORD-1", `{"status":"shipped"}`, http.StatusOK},
		{"rejects skipping to delivered", "ORD-1", `{"status":"delivered"}`, http.StatusConflict},
		{"rejects leaving a terminal state", "ORD-2", `{"status":"cancelled"}`, http.StatusConflict},
		{"unknown order", "ORD-404", `{"status":"shipped"}`, http.StatusNotFound},
		{"unknown status", "ORD-1", `{"status":"lost"}`, http.StatusBadRequest},
		{"invalid body", "ORD-1", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler()

			req := httptest.NewRequest(http.MethodPatch, "/orders/"+tt.id+"/status", strings.NewReader(tt.body))
			req.SetPathValue("id", tt.id)
			rec := httptest.NewRecorder()

			h.HandleUpdateStatus(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_HandleRetire(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		wantStatus int
	}{
		{"retires a delivered order", "ORD-2", http.StatusNoContent},
		{"refuses an in-flight order", "ORD-1", http.StatusConflict},
		{"unknown order", "ORD-404", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler()

			req := httptest.NewRequest(http.MethodDelete, "/orders/"+tt.id, nil)
			req.SetPathValue("id", tt.id)
			rec := httptest.NewRecorder()

			h.HandleRetire(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}
