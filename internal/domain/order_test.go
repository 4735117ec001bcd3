package domain

import "testing"

func TestCanTransition(t *testing.T) {
	all := []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled}
	allowed := map[[2]OrderStatus]bool{
		{OrderStatusPending, OrderStatusProcessing}:   true,
		{OrderStatusPending, OrderStatusCancelled}:    true,
		{OrderStatusProcessing, OrderStatusShipped}:   true,
		{OrderStatusProcessing, OrderStatusCancelled}: true,
		{OrderStatusShipped, OrderStatusDelivered}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]OrderStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestSourcesOf(t *testing.T) {
	sources := SourcesOf(OrderStatusCancelled)
	if len(sources) != 2 || sources[0] != OrderStatusPending || sources[1] != OrderStatusProcessing {
		t.Errorf("unexpected cancel sources: %v", sources)
	}
	if sources := SourcesOf(OrderStatusPending); len(sources) != 0 {
		t.Errorf("expected no sources for pending, got %v", sources)
	}
}

func TestTerminal(t *testing.T) {
	if !OrderStatusDelivered.Terminal() || !OrderStatusCancelled.Terminal() {
		t.Error("expected delivered and cancelled to be terminal")
	}
	if OrderStatusShipped.Terminal() {
		t.Error("expected shipped to be non-terminal")
	}
}

func TestIsSubscriptionOrderID(t *testing.T) {
	if !IsSubscriptionOrderID("SUB-1234") {
		t.Error("expected SUB- prefix to be a subscription order")
	}
	if IsSubscriptionOrderID("ORD-1234") || IsSubscriptionOrderID("sub-1234") {
		t.Error("expected only the exact SUB- prefix to match")
	}
}

func TestGatewayStatusRank(t *testing.T) {
	ordered := []GatewayStatus{
		GatewayStatusPending,
		GatewayStatusInProcess,
		GatewayStatusAuthorized,
		GatewayStatusApproved,
		GatewayStatusInMediation,
		GatewayStatusRejected,
		GatewayStatusRefunded,
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() >= ordered[i].Rank() {
			t.Errorf("expected %s to rank below %s", ordered[i-1], ordered[i])
		}
	}
	if GatewayStatus("unknown").Rank() >= GatewayStatusPending.Rank() {
		t.Error("expected unknown statuses to rank below pending")
	}
	if GatewayStatusCancelled.Rank() != GatewayStatusRejected.Rank() {
		t.Error("expected cancelled and rejected to share a rank")
	}
}

func TestPhysicalItems(t *testing.T) {
	o := &Order{Items: []OrderItem{
		{ProductID: "A", Type: ItemTypePhysical},
		{ProductID: "PLAN", Type: ItemTypeSubscription},
	}}
	items := o.PhysicalItems()
	if len(items) != 1 || items[0].ProductID != "A" {
		t.Errorf("unexpected physical items: %+v", items)
	}
}
