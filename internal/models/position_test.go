package models

import (
	"testing"
	"time"
)

func TestNewPosition_HighWaterSeededAtCostPrice(t *testing.T) {
	open := time.Date(2026, 3, 5, 9, 45, 0, 0, time.UTC)
	exit := open.AddDate(0, 0, 3)

	p := NewPosition("pos-1", "buy-1", "AAPL", 100, 190.50, 1.00, open, exit)

	if p.HighWaterPrice != p.CostPrice {
		t.Fatalf("HighWaterPrice = %v, want seeded to CostPrice %v", p.HighWaterPrice, p.CostPrice)
	}
	if p.Status != PositionOpen {
		t.Fatalf("Status = %v, want PositionOpen", p.Status)
	}
	if !p.LastCheckedEast.Equal(open) {
		t.Fatalf("LastCheckedEast = %v, want %v", p.LastCheckedEast, open)
	}
}

func TestUpdateHighWater_NeverDecreases(t *testing.T) {
	p := &Position{HighWaterPrice: 200}

	p.UpdateHighWater(190)
	if p.HighWaterPrice != 200 {
		t.Fatalf("HighWaterPrice decreased to %v on a lower observation", p.HighWaterPrice)
	}

	p.UpdateHighWater(210)
	if p.HighWaterPrice != 210 {
		t.Fatalf("HighWaterPrice = %v, want 210 after a higher observation", p.HighWaterPrice)
	}
}

func TestClose_ComputesRealizedPnL(t *testing.T) {
	p := NewPosition("pos-1", "buy-1", "AAPL", 100, 190.00, 2.00,
		time.Date(2026, 3, 5, 9, 45, 0, 0, time.UTC),
		time.Date(2026, 3, 8, 9, 45, 0, 0, time.UTC))

	closeAt := time.Date(2026, 3, 6, 15, 0, 0, 0, time.UTC)
	p.Close(CloseTakeProfit, 195.00, closeAt, "sell-1")

	want := (195.00-190.00)*100 - 2.00
	if p.RealizedPnL != want {
		t.Fatalf("RealizedPnL = %v, want %v", p.RealizedPnL, want)
	}
	if p.Status != PositionClosed {
		t.Fatalf("Status = %v, want PositionClosed", p.Status)
	}
	if p.CloseReason != CloseTakeProfit {
		t.Fatalf("CloseReason = %v, want CloseTakeProfit", p.CloseReason)
	}
}

func TestPositionClone_DeepCopyIndependence(t *testing.T) {
	p := NewPosition("pos-1", "buy-1", "AAPL", 100, 190.00, 2.00,
		time.Date(2026, 3, 5, 9, 45, 0, 0, time.UTC),
		time.Date(2026, 3, 8, 9, 45, 0, 0, time.UTC))

	cp := p.Clone()
	cp.Shares = 50
	cp.Symbol = "MSFT"
	cp.UpdateHighWater(999)

	if p.Shares != 100 {
		t.Fatalf("mutating the clone's Shares leaked into the original: %d", p.Shares)
	}
	if p.Symbol != "AAPL" {
		t.Fatalf("mutating the clone's Symbol leaked into the original: %s", p.Symbol)
	}
	if p.HighWaterPrice == 999 {
		t.Fatalf("mutating the clone's HighWaterPrice leaked into the original")
	}
}

func TestPositionClone_NilSafe(t *testing.T) {
	var p *Position
	if p.Clone() != nil {
		t.Fatalf("Clone() on a nil Position should return nil")
	}
}
