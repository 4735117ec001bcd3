package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

type Handler struct {
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewHandler(reconciler *Reconciler, logger *slog.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		logger:     logger,
	}
}

type notificationBody struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// parseNotification reads type and id from the query string, falling back to
// the legacy topic/id parameters and then to the JSON body.
func parseNotification(r *http.Request) Notification {
	q := r.URL.Query()
	n := Notification{Type: q.Get("type"), PaymentID: q.Get("data.id")}
	if n.Type == "" {
		n.Type = q.Get("topic")
	}
	if n.PaymentID == "" {
		n.PaymentID = q.Get("id")
	}
	if n.Type != "" && n.PaymentID != "" {
		return n
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil || len(data) == 0 {
		return n
	}

	var body notificationBody
	if err := json.Unmarshal(data, &body); err != nil {
		return n
	}
	if n.Type == "" {
		n.Type = body.Type
		if n.Type == "" {
			n.Type = body.Topic
		}
	}
	if n.PaymentID == "" && len(body.Data.ID) > 0 {
		var id string
		if err := json.Unmarshal(body.Data.ID, &id); err != nil {
			id = string(body.Data.ID)
		}
		if id != "null" {
			n.PaymentID = id
		}
	}
	return n
}

type ackResponse struct {
	Outcome Outcome `json:"outcome"`
}

// HandleNotification acknowledges every notification it has absorbed,
// including duplicates and ones that can never succeed, and fails only when
// redelivery could help.
func (h *Handler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	n := parseNotification(r)

	outcome, err := h.reconciler.Reconcile(r.Context(), n)
	if err != nil && outcome.Retryable() {
		h.logger.Error("payment notification failed", "error", err, "type", n.Type, "payment_id", n.PaymentID)
		h.writeJSON(w, http.StatusInternalServerError, ackResponse{Outcome: outcome})
		return
	}
	if err != nil && !errors.Is(err, ErrOrderReferenceMissing) {
		h.logger.Warn("payment notification dropped", "error", err, "payment_id", n.PaymentID)
	}

	h.writeJSON(w, http.StatusOK, ackResponse{Outcome: outcome})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
