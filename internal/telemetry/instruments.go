package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the storefront's domain counters.
type Metrics struct {
	notifications metric.Int64Counter
	transitions   metric.Int64Counter
	preferences   metric.Int64Counter
	captures      metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	notifications, err := meter.Int64Counter("storefront.webhook.notifications",
		metric.WithDescription("Payment gateway notifications by outcome."))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("storefront.order.transitions",
		metric.WithDescription("Gateway statuses applied to orders by effect and result."))
	if err != nil {
		return nil, err
	}
	preferences, err := meter.Int64Counter("storefront.checkout.preferences",
		metric.WithDescription("Checkout preference builds by result."))
	if err != nil {
		return nil, err
	}
	captures, err := meter.Int64Counter("storefront.payment.captures",
		metric.WithDescription("Direct card captures by gateway status."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		notifications: notifications,
		transitions:   transitions,
		preferences:   preferences,
		captures:      captures,
	}, nil
}

func (m *Metrics) Notification(ctx context.Context, outcome string) {
	m.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) Transition(ctx context.Context, effect, result string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("effect", effect),
		attribute.String("result", result),
	))
}

func (m *Metrics) Preference(ctx context.Context, result string) {
	m.preferences.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) Capture(ctx context.Context, status string) {
	m.captures.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
