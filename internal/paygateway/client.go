// Package paygateway is the client for the external payment gateway's
// preference and payment APIs.
package paygateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joao-fontenele/storefront/internal/config"
)

var (
	ErrPaymentNotFound   = errors.New("payment not found at gateway")
	ErrMalformedResponse = errors.New("malformed gateway response")
)

// APIError is a non-retryable rejection returned by the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries uint64
	logger     *slog.Logger
}

// NewClient builds a gateway client. httpClient carries the per-attempt timeout
// and transport; when nil one is created from cfg.Timeout.
func NewClient(cfg config.GatewayConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	retries := 0
	if cfg.MaxRetries > 0 {
		retries = cfg.MaxRetries
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		maxRetries: uint64(retries),
		logger:     logger,
	}
}

func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest, idempotencyKey string) (*Preference, error) {
	var pref Preference
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", req, idempotencyKey, &pref); err != nil {
		return nil, fmt.Errorf("create preference for %s: %w", req.ExternalReference, err)
	}
	if pref.ID == "" {
		return nil, fmt.Errorf("create preference for %s: %w: missing id", req.ExternalReference, ErrMalformedResponse)
	}
	return &pref, nil
}

// GetPayment fetches the authoritative payment object by its gateway id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, "", &payment); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("get payment %s: %w", paymentID, ErrPaymentNotFound)
		}
		return nil, fmt.Errorf("get payment %s: %w", paymentID, err)
	}
	if payment.ID == "" || payment.Status == "" {
		return nil, fmt.Errorf("get payment %s: %w: missing id or status", paymentID, ErrMalformedResponse)
	}
	return &payment, nil
}

// CreatePayment performs a synchronous card capture.
func (c *Client) CreatePayment(ctx context.Context, req CaptureRequest, idempotencyKey string) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodPost, "/v1/payments", req, idempotencyKey, &payment); err != nil {
		return nil, fmt.Errorf("capture payment for %s: %w", req.ExternalReference, err)
	}
	if payment.ID == "" || payment.Status == "" {
		return nil, fmt.Errorf("capture payment for %s: %w: missing id or status", req.ExternalReference, ErrMalformedResponse)
	}
	return &payment, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = data
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	attempt := 0
	operation := func() error {
		attempt++
		err := c.attempt(ctx, method, path, payload, idempotencyKey, out)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) || errors.Is(err, ErrMalformedResponse) {
				return backoff.Permanent(err)
			}
			c.logger.Warn("gateway request failed", "method", method, "path", path, "attempt", attempt, "error", err)
		}
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, idempotencyKey string, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}
