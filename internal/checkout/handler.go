package checkout

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/paygateway"
	"github.com/joao-fontenele/storefront/internal/pricing"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) HandleCreatePreference(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.CustomerID = r.Header.Get(orders.CustomerHeader)
	if req.CustomerID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing customer")
		return
	}

	result, err := h.service.BuildPreference(r.Context(), req)
	if err != nil {
		h.fail(w, err, result)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) HandleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.CustomerID = r.Header.Get(orders.CustomerHeader)
	if req.CustomerID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing customer")
		return
	}

	result, err := h.service.BuildSubscription(r.Context(), req)
	if err != nil {
		h.fail(w, err, result)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) HandleRetryPreference(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	customerID := r.Header.Get(orders.CustomerHeader)
	if customerID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing customer")
		return
	}

	result, err := h.service.RetryPreference(r.Context(), customerID, id)
	if err != nil {
		h.fail(w, err, result)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleCapture(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.OrderID = id
	req.CustomerID = r.Header.Get(orders.CustomerHeader)
	if req.CustomerID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing customer")
		return
	}

	result, err := h.service.Capture(r.Context(), req)
	if err != nil {
		if result != nil && errors.Is(err, ErrInsufficientStock) {
			h.logger.Warn("captured payment for order without stock", "order_id", id, "error", err)
			h.writeJSON(w, http.StatusConflict, result)
			return
		}
		var apiErr *paygateway.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError && apiErr.StatusCode != http.StatusTooManyRequests {
			h.writeError(w, http.StatusUnprocessableEntity, "payment rejected: "+apiErr.Message)
			return
		}
		h.fail(w, err, nil)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

type errorResponse struct {
	Error   string `json:"error"`
	OrderID string `json:"order_id,omitempty"`
}

func (h *Handler) fail(w http.ResponseWriter, err error, result *Result) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("checkout failed", "error", err)
		h.writeError(w, status, "internal server error")
		return
	}

	resp := errorResponse{Error: err.Error()}
	if result != nil {
		resp.OrderID = result.OrderID
	}
	h.writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pricing.ErrEmptyCart),
		errors.Is(err, pricing.ErrInvalidLine),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidVariant):
		return http.StatusBadRequest
	case errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrPlanNotFound),
		errors.Is(err, ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrOrderNotPending),
		errors.Is(err, ErrPreferenceExists):
		return http.StatusConflict
	case errors.Is(err, pricing.ErrInvalidDiscount),
		errors.Is(err, pricing.ErrMinimumNotMet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrGateway):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}
