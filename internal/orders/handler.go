package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/lifecycle"
)

// CustomerHeader carries the customer id the public edge resolved for the caller.
const CustomerHeader = "X-Customer-ID"

type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string) ([]domain.Order, error)
	Retire(ctx context.Context, id string) (bool, error)
}

type PaymentReader interface {
	LatestForOrder(ctx context.Context, orderID string) (*domain.Payment, error)
}

type Advancer interface {
	Advance(ctx context.Context, orderID string, target domain.OrderStatus) (lifecycle.Outcome, error)
}

type Handler struct {
	store    Store
	payments PaymentReader
	machine  Advancer
	logger   *slog.Logger
}

func NewHandler(store Store, payments PaymentReader, machine Advancer, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		payments: payments,
		machine:  machine,
		logger:   logger,
	}
}

type paymentSummary struct {
	Status            domain.GatewayStatus `json:"status"`
	ExternalPaymentID string               `json:"external_payment_id,omitempty"`
	Amount            int64                `json:"amount"`
	Currency          string               `json:"currency"`
}

type orderStatusResponse struct {
	Order   *domain.Order   `json:"order"`
	Payment *paymentSummary `json:"payment,omitempty"`
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	customerID := r.Header.Get(CustomerHeader)
	if customerID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing customer")
		return
	}

	order, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil || order.CustomerID != customerID {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	resp := orderStatusResponse{Order: order}

	payment, err := h.payments.LatestForOrder(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get latest payment", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if payment != nil {
		resp.Payment = &paymentSummary{
			Status:            payment.Status,
			ExternalPaymentID: payment.ExternalPaymentID,
			Amount:            payment.Amount,
			Currency:          payment.Currency,
		}
	}

	h.logger.Info("order retrieved", "order_id", order.ID, "status", order.Status)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	customerID := r.Header.Get(CustomerHeader)
	if customerID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing customer")
		return
	}

	orders, err := h.store.ListByCustomer(r.Context(), customerID)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "customer_id", customerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "customer_id", customerID, "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !req.Status.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	outcome, err := h.machine.Advance(r.Context(), id, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, lifecycle.ErrIllegalTransition):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("failed to update order status", "error", err, "order_id", id)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	order, err := h.store.GetByID(r.Context(), id)
	if err != nil || order == nil {
		h.logger.Error("failed to reload order", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("order status updated", "order_id", id, "previous", outcome.Previous, "status", outcome.Current)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleRetire(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	retired, err := h.store.Retire(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to retire order", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !retired {
		order, err := h.store.GetByID(r.Context(), id)
		if err != nil {
			h.logger.Error("failed to get order", "error", err, "order_id", id)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if order == nil {
			h.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.writeError(w, http.StatusConflict, "only delivered or cancelled orders can be retired")
		return
	}

	h.logger.Info("order retired", "order_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
