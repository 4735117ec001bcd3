package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront/internal/database"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/inventory"
	"github.com/joao-fontenele/storefront/internal/lifecycle"
	"github.com/joao-fontenele/storefront/internal/paygateway"
)

type CaptureRequest struct {
	CustomerID      string `json:"-"`
	OrderID         string `json:"-"`
	Token           string `json:"token"`
	PaymentMethodID string `json:"payment_method_id"`
	IssuerID        string `json:"issuer_id,omitempty"`
	Installments    int    `json:"installments"`
	PayerEmail      string `json:"payer_email,omitempty"`
}

type CaptureResult struct {
	Status            domain.GatewayStatus `json:"status"`
	StatusDetail      string               `json:"status_detail,omitempty"`
	ExternalPaymentID string               `json:"external_payment_id"`
	Outcome           lifecycle.Outcome    `json:"outcome"`
	Order             *domain.Order        `json:"order"`
}

// Capture charges a card token for a pending order and applies the result
// through the same state machine as the webhook path.
func (s *Service) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	if req.Token == "" || req.PaymentMethodID == "" {
		return nil, fmt.Errorf("%w: token and payment method are required", ErrInvalidRequest)
	}
	if req.Installments <= 0 {
		req.Installments = 1
	}

	order, err := s.ownedOrder(ctx, req.CustomerID, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderNotPending, order.ID, order.Status)
	}

	payer := payerOf(order.Shipping)
	if req.PayerEmail != "" {
		payer.Email = req.PayerEmail
	}

	// one key per order and token: a retried request cannot charge twice.
	key := uuid.NewSHA1(uuid.NameSpaceOID, []byte(order.ID+"|"+req.Token)).String()

	charged, err := s.gateway.CreatePayment(ctx, paygateway.CaptureRequest{
		TransactionAmount: paygateway.Amount(order.Total),
		Token:             req.Token,
		Description:       "Order " + order.ID,
		Installments:      req.Installments,
		PaymentMethodID:   req.PaymentMethodID,
		IssuerID:          req.IssuerID,
		Payer:             payer,
		ExternalReference: order.ID,
		NotificationURL:   s.cfg.NotificationURL,
	}, key)
	if err != nil {
		s.metrics.Capture(ctx, "error")
		s.logger.Error("card capture failed", "error", err, "order_id", order.ID)
		return nil, fmt.Errorf("%w: capture for %s: %w", ErrGateway, order.ID, err)
	}
	s.metrics.Capture(ctx, string(charged.Status))

	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()

	amount := paygateway.MinorUnits(charged.TransactionAmount)
	if amount == 0 {
		amount = order.Total
	}
	currency := charged.CurrencyID
	if currency == "" {
		currency = order.Currency
	}

	payment := &domain.Payment{
		OrderID:           order.ID,
		Amount:            amount,
		Currency:          currency,
		Method:            req.PaymentMethodID,
		ExternalPaymentID: string(charged.ID),
		Status:            charged.Status,
		Payer:             charged.Payer,
	}

	applied, err := s.payments.Upsert(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("record payment %s: %w", payment.ExternalPaymentID, err)
	}

	result := &CaptureResult{
		Status:            charged.Status,
		StatusDetail:      charged.StatusDetail,
		ExternalPaymentID: payment.ExternalPaymentID,
		Outcome:           lifecycle.Outcome{OrderID: order.ID, Previous: order.Status, Current: order.Status},
	}

	var transitionErr error
	if applied {
		result.Outcome, transitionErr = s.machine.ApplyGatewayStatus(ctx, order.ID, charged.Status)
		if transitionErr != nil && !errors.Is(transitionErr, inventory.ErrInsufficientStock) {
			return nil, fmt.Errorf("apply capture of %s: %w", order.ID, transitionErr)
		}
	} else {
		s.logger.Info("stale capture status ignored", "order_id", order.ID, "payment_id", payment.ExternalPaymentID, "status", charged.Status)
	}

	updated, err := s.orders.GetByID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("reload order %s: %w", order.ID, err)
	}
	result.Order = updated

	s.logger.Info("card captured",
		"order_id", order.ID,
		"payment_id", payment.ExternalPaymentID,
		"status", charged.Status,
		"order_status", result.Outcome.Current,
	)

	if transitionErr != nil {
		return result, fmt.Errorf("%w: %w", ErrInsufficientStock, transitionErr)
	}
	return result, nil
}
