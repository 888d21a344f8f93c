package models

import "testing"

func TestSignalClone_DeepCopyIndependence(t *testing.T) {
	s := &Signal{SignalID: "sig-1", Symbol: "AAPL", PremiumUSD: 125000}
	cp := s.Clone()
	cp.Symbol = "MSFT"
	cp.PremiumUSD = 1

	if s.Symbol != "AAPL" {
		t.Fatalf("mutating the clone's Symbol leaked into the original")
	}
	if s.PremiumUSD != 125000 {
		t.Fatalf("mutating the clone's PremiumUSD leaked into the original")
	}
}

func TestSignalClone_NilSafe(t *testing.T) {
	var s *Signal
	if s.Clone() != nil {
		t.Fatalf("Clone() on a nil Signal should return nil")
	}
}
