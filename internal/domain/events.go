package domain

import "time"

const TopicOrderStatusChanged = "orders.status_changed"

type OrderStatusChangedEvent struct {
	EventID    string      `json:"event_id"`
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Email      string      `json:"email,omitempty"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
	Total      int64       `json:"total"`
	Currency   string      `json:"currency"`
	Timestamp  time.Time   `json:"timestamp"`
}
