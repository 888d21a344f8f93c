package models

import "testing"

func TestOrderStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderPending, false},
		{OrderPartial, false},
		{OrderFilled, true},
		{OrderRejected, true},
		{OrderCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Fatalf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestOrderClone_DeepCopyIndependence(t *testing.T) {
	o := &Order{ClientID: "buy-1", Symbol: "AAPL", Shares: 100, Status: OrderFilled}
	cp := o.Clone()
	cp.Shares = 50
	cp.Status = OrderCancelled

	if o.Shares != 100 {
		t.Fatalf("mutating the clone's Shares leaked into the original")
	}
	if o.Status != OrderFilled {
		t.Fatalf("mutating the clone's Status leaked into the original")
	}
}

func TestOrderClone_NilSafe(t *testing.T) {
	var o *Order
	if o.Clone() != nil {
		t.Fatalf("Clone() on a nil Order should return nil")
	}
}
