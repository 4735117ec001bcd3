package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/paygateway"
	"github.com/joao-fontenele/storefront/internal/pricing"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{pricing.ErrEmptyCart, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", ErrProductNotFound), http.StatusNotFound},
		{ErrInsufficientStock, http.StatusConflict},
		{ErrOrderNotPending, http.StatusConflict},
		{ErrPreferenceExists, http.StatusConflict},
		{pricing.ErrInvalidDiscount, http.StatusUnprocessableEntity},
		{pricing.ErrMinimumNotMet, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: timeout", ErrGateway), http.StatusBadGateway},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestHandler_HandleCreatePreference(t *testing.T) {
	t.Run("returns the order id and redirect url", func(t *testing.T) {
		f := newFixture(t)
		h := NewHandler(f.service, slog.New(slog.NewTextHandler(io.Discard, nil)))

		body := `{"items":[{"product_id":"ITEM-001","quantity":1}],"shipping":{"name":"Alice","email":"alice@example.com"}}`
		req := httptest.NewRequest(http.MethodPost, "/checkout/preferences", strings.NewReader(body))
		req.Header.Set(orders.CustomerHeader, "alice")
		rec := httptest.NewRecorder()

		h.HandleCreatePreference(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}

		var result Result
		if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if result.OrderID == "" || result.InitPoint == "" {
			t.Errorf("unexpected result: %+v", result)
		}
	})

	t.Run("reports the pending order id on gateway failure", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.prefErr = errors.New("timeout")
		h := NewHandler(f.service, slog.New(slog.NewTextHandler(io.Discard, nil)))

		body := `{"items":[{"product_id":"ITEM-001","quantity":1}],"shipping":{"email":"alice@example.com"}}`
		req := httptest.NewRequest(http.MethodPost, "/checkout/preferences", strings.NewReader(body))
		req.Header.Set(orders.CustomerHeader, "alice")
		rec := httptest.NewRecorder()

		h.HandleCreatePreference(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected status 502, got %d", rec.Code)
		}

		var resp errorResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.OrderID == "" {
			t.Error("expected order id in error response")
		}
	})

	t.Run("requires a customer", func(t *testing.T) {
		f := newFixture(t)
		h := NewHandler(f.service, slog.New(slog.NewTextHandler(io.Discard, nil)))

		req := httptest.NewRequest(http.MethodPost, "/checkout/preferences", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()

		h.HandleCreatePreference(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleCapture(t *testing.T) {
	t.Run("maps gateway rejections to 422", func(t *testing.T) {
		f := newFixture(t)
		orderID := pendingOrder(t, f)
		f.gateway.captureErr = &paygateway.APIError{StatusCode: http.StatusBadRequest, Message: "invalid card token"}
		h := NewHandler(f.service, slog.New(slog.NewTextHandler(io.Discard, nil)))

		req := httptest.NewRequest(http.MethodPost, "/checkout/orders/"+orderID+"/capture",
			strings.NewReader(`{"token":"tok","payment_method_id":"visa","installments":1}`))
		req.SetPathValue("id", orderID)
		req.Header.Set(orders.CustomerHeader, "alice")
		rec := httptest.NewRecorder()

		h.HandleCapture(rec, req)

		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("unknown order is 404", func(t *testing.T) {
		f := newFixture(t)
		h := NewHandler(f.service, slog.New(slog.NewTextHandler(io.Discard, nil)))

		req := httptest.NewRequest(http.MethodPost, "/checkout/orders/ORD-404/capture",
			strings.NewReader(`{"token":"tok","payment_method_id":"visa"}`))
		req.SetPathValue("id", "ORD-404")
		req.Header.Set(orders.CustomerHeader, "alice")
		rec := httptest.NewRecorder()

		h.HandleCapture(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})
}
