package domain

import (
	"encoding/json"
	"time"
)

// GatewayStatus is the payment status vocabulary reported by the payment gateway.
type GatewayStatus string

const (
	GatewayStatusPending     GatewayStatus = "pending"
	GatewayStatusApproved    GatewayStatus = "approved"
	GatewayStatusAuthorized  GatewayStatus = "authorized"
	GatewayStatusInProcess   GatewayStatus = "in_process"
	GatewayStatusInMediation GatewayStatus = "in_mediation"
	GatewayStatusRejected    GatewayStatus = "rejected"
	GatewayStatusCancelled   GatewayStatus = "cancelled"
	GatewayStatusRefunded    GatewayStatus = "refunded"
	GatewayStatusChargedBack GatewayStatus = "charged_back"
)

var gatewayStatusRank = map[GatewayStatus]int{
	GatewayStatusPending:     0,
	GatewayStatusInProcess:   1,
	GatewayStatusAuthorized:  2,
	GatewayStatusApproved:    3,
	GatewayStatusInMediation: 4,
	GatewayStatusRejected:    5,
	GatewayStatusCancelled:   5,
	GatewayStatusRefunded:    6,
	GatewayStatusChargedBack: 6,
}

// Rank orders gateway statuses so the ledger only moves forward.
// Unknown statuses rank below pending.
func (s GatewayStatus) Rank() int {
	if r, ok := gatewayStatusRank[s]; ok {
		return r
	}
	return -1
}

func (s GatewayStatus) Known() bool {
	_, ok := gatewayStatusRank[s]
	return ok
}

func (s GatewayStatus) Success() bool {
	return s == GatewayStatusApproved || s == GatewayStatusAuthorized
}

func (s GatewayStatus) Failure() bool {
	switch s {
	case GatewayStatusRejected, GatewayStatusCancelled, GatewayStatusRefunded, GatewayStatusChargedBack:
		return true
	}
	return false
}

func (s GatewayStatus) InFlight() bool {
	switch s {
	case GatewayStatusPending, GatewayStatusInProcess, GatewayStatusInMediation:
		return true
	}
	return false
}

// Payment is the ledger row for one payment attempt against an order.
type Payment struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	Amount            int64           `json:"amount"`
	Currency          string          `json:"currency"`
	Method            string          `json:"method,omitempty"`
	ExternalPaymentID string          `json:"external_payment_id,omitempty"`
	Status            GatewayStatus   `json:"status"`
	Payer             json.RawMessage `json:"payer,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
