package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const requestIDHeader = "X-Request-ID"

// Handler is the public edge: shopper checkout and order reads go to the
// storefront with a resolved identity, payment notifications go there
// anonymously, stock reads go to inventory. Operator routes are not exposed.
type Handler struct {
	storefrontProxy *ServiceProxy
	inventoryProxy  *ServiceProxy
	auth            Authenticator
	logger          *slog.Logger
}

func NewHandler(storefrontProxy, inventoryProxy *ServiceProxy, auth Authenticator, logger *slog.Logger) *Handler {
	return &Handler{
		storefrontProxy: storefrontProxy,
		inventoryProxy:  inventoryProxy,
		auth:            auth,
		logger:          logger,
	}
}

// HandleCustomer forwards a shopper request after resolving who is calling.
func (h *Handler) HandleCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := h.auth.Authenticate(r.Context(), r)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			h.writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		h.logger.Error("identity lookup failed", "error", err, "path", r.URL.Path)
		h.writeError(w, http.StatusBadGateway, "identity service unavailable")
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("customer.id", customerID))
	h.proxyRequest(w, r, h.storefrontProxy, r.URL.Path, customerID)
}

// HandleWebhook forwards gateway notifications, which carry no customer.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.storefrontProxy, r.URL.Path, "")
}

// HandleInventory maps /inventory/stock/... onto the inventory service's /stock/....
func (h *Handler) HandleInventory(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/inventory")
	h.proxyRequest(w, r, h.inventoryProxy, path, "")
}

// StripIdentity drops any caller-supplied customer header before routing.
func StripIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(customerHeader)
		next.ServeHTTP(w, r)
	})
}

// proxyRequest forwards r and relays the backend response. Every request
// leaves the edge with a request id, generated here when the caller sent none.
func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path, customerID string) {
	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		r.Header.Set(requestIDHeader, requestID)
	}
	w.Header().Set(requestIDHeader, requestID)

	resp, err := proxy.ForwardRequest(r.Context(), r, path, customerID)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path, "request_id", requestID)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode, "request_id", requestID)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
