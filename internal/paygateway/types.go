package paygateway

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
)

// Amount converts minor currency units to the decimal number the gateway expects.
func Amount(minor int64) json.Number {
	return json.Number(decimal.New(minor, -2).String())
}

// MinorUnits converts a gateway decimal amount back to minor currency units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

type Item struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	CurrencyID string      `json:"currency_id"`
}

type Identification struct {
	Type   string `json:"type,omitempty"`
	Number string `json:"number,omitempty"`
}

type Payer struct {
	Name           string          `json:"name,omitempty"`
	Email          string          `json:"email"`
	Identification *Identification `json:"identification,omitempty"`
}

type BackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type PreferenceRequest struct {
	Items              []Item     `json:"items"`
	Payer              Payer      `json:"payer"`
	BackURLs           BackURLs   `json:"back_urls"`
	NotificationURL    string     `json:"notification_url,omitempty"`
	ExternalReference  string     `json:"external_reference"`
	Expires            bool       `json:"expires"`
	ExpirationDateFrom *time.Time `json:"expiration_date_from,omitempty"`
	ExpirationDateTo   *time.Time `json:"expiration_date_to,omitempty"`
}

type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// PaymentID accepts the gateway's numeric ids as well as quoted ones.
type PaymentID string

func (id *PaymentID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	*id = PaymentID(bytes.Trim(data, `"`))
	return nil
}

type Payment struct {
	ID                PaymentID            `json:"id"`
	Status            domain.GatewayStatus `json:"status"`
	StatusDetail      string               `json:"status_detail"`
	ExternalReference string               `json:"external_reference"`
	TransactionAmount decimal.Decimal      `json:"transaction_amount"`
	CurrencyID        string               `json:"currency_id"`
	PaymentMethodID   string               `json:"payment_method_id"`
	Payer             json.RawMessage      `json:"payer"`
	DateApproved      *time.Time           `json:"date_approved"`
}

type CaptureRequest struct {
	TransactionAmount json.Number `json:"transaction_amount"`
	Token             string      `json:"token"`
	Description       string      `json:"description,omitempty"`
	Installments      int         `json:"installments"`
	PaymentMethodID   string      `json:"payment_method_id"`
	IssuerID          string      `json:"issuer_id,omitempty"`
	Payer             Payer       `json:"payer"`
	ExternalReference string      `json:"external_reference"`
	NotificationURL   string      `json:"notification_url,omitempty"`
}
