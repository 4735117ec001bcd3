package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
)

// NotificationHandler turns order status changes into customer emails sent
// through the email collaborator.
type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

type email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *NotificationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderStatusChangedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("dropping undecodable status event", "error", err)
		return nil
	}

	h.logger.Info("processing order status event", "order_id", event.OrderID, "from", event.From, "to", event.To)

	if event.Email == "" {
		h.logger.Warn("order has no contact email", "order_id", event.OrderID)
		return nil
	}

	msg, ok := composeEmail(event)
	if !ok {
		return nil
	}

	if err := h.sendEmail(ctx, msg); err != nil {
		h.logger.Error("failed to send order email", "error", err, "order_id", event.OrderID, "status", event.To)
		return fmt.Errorf("send %s email for %s: %w", event.To, event.OrderID, err)
	}

	h.logger.Info("order email sent", "order_id", event.OrderID, "status", event.To)
	return nil
}

func composeEmail(event domain.OrderStatusChangedEvent) (email, bool) {
	total := decimal.New(event.Total, -2).StringFixed(2) + " " + event.Currency

	switch event.To {
	case domain.OrderStatusProcessing:
		return email{
			To:      event.Email,
			Subject: "Order Confirmation: " + event.OrderID,
			Body:    fmt.Sprintf("We received your payment of %s for order %s and are preparing it.", total, event.OrderID),
		}, true
	case domain.OrderStatusShipped:
		return email{
			To:      event.Email,
			Subject: "Order Shipped: " + event.OrderID,
			Body:    fmt.Sprintf("Your order %s is on its way.", event.OrderID),
		}, true
	case domain.OrderStatusDelivered:
		return email{
			To:      event.Email,
			Subject: "Order Delivered: " + event.OrderID,
			Body:    fmt.Sprintf("Your order %s was delivered.", event.OrderID),
		}, true
	case domain.OrderStatusCancelled:
		body := fmt.Sprintf("Your order %s has been cancelled.", event.OrderID)
		if event.From == domain.OrderStatusProcessing {
			body = fmt.Sprintf("Your order %s has been cancelled. You will be reimbursed %s.", event.OrderID, total)
		}
		return email{
			To:      event.Email,
			Subject: "Order Cancelled: " + event.OrderID,
			Body:    body,
		}, true
	}
	return email{}, false
}

func (h *NotificationHandler) sendEmail(ctx context.Context, msg email) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
