package domain

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// transitions lists the allowed next states for each order status.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf returns the statuses an order may be in to move to the given status.
func SourcesOf(to OrderStatus) []OrderStatus {
	var sources []OrderStatus
	for _, from := range []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusShipped} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is the order-level payment marker, distinct from the gateway status.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type ItemType string

const (
	ItemTypePhysical     ItemType = "physical"
	ItemTypeSubscription ItemType = "subscription"
)

type OrderKind string

const (
	OrderKindGoods        OrderKind = "goods"
	OrderKindSubscription OrderKind = "subscription"
)

const (
	GoodsOrderPrefix        = "ORD-"
	SubscriptionOrderPrefix = "SUB-"
)

// IsSubscriptionOrderID reports whether the order id was issued by a subscription checkout.
// Webhook dispatch keys off this prefix.
func IsSubscriptionOrderID(id string) bool {
	return strings.HasPrefix(id, SubscriptionOrderPrefix)
}

type OrderItem struct {
	ProductID string   `json:"product_id"`
	Title     string   `json:"title"`
	UnitPrice int64    `json:"unit_price"`
	Quantity  int      `json:"quantity"`
	Type      ItemType `json:"type"`
}

func (i OrderItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

type TrackingEvent struct {
	Status      OrderStatus `json:"status"`
	Description string      `json:"description"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

type Shipping struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone,omitempty"`
	IdentityType   string `json:"identity_type,omitempty"`
	IdentityNumber string `json:"identity_number,omitempty"`
	Street         string `json:"street,omitempty"`
	City           string `json:"city,omitempty"`
	PostalCode     string `json:"postal_code,omitempty"`
}

type DeliveryWindow struct {
	From  time.Time `json:"from"`
	Until time.Time `json:"until"`
}

type Order struct {
	ID             string          `json:"id"`
	Kind           OrderKind       `json:"kind"`
	CustomerID     string          `json:"customer_id"`
	Items          []OrderItem     `json:"items"`
	Subtotal       int64           `json:"subtotal"`
	DiscountCode   string          `json:"discount_code,omitempty"`
	DiscountAmount int64           `json:"discount_amount"`
	Total          int64           `json:"total"`
	Currency       string          `json:"currency"`
	Status         OrderStatus     `json:"status"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	PreferenceID   string          `json:"preference_id,omitempty"`
	Shipping       Shipping        `json:"shipping"`
	Delivery       *DeliveryWindow `json:"delivery,omitempty"`
	Tracking       []TrackingEvent `json:"tracking"`
	CreatedAt      time.Time       `json:"created_at"`
	RetiredAt      *time.Time      `json:"retired_at,omitempty"`
}

// PhysicalItems returns the lines that move stock.
func (o *Order) PhysicalItems() []OrderItem {
	var items []OrderItem
	for _, item := range o.Items {
		if item.Type == ItemTypePhysical {
			items = append(items, item)
		}
	}
	return items
}
