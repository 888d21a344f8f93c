package models

import "testing"

func TestReconciliationReport_Empty(t *testing.T) {
	tests := []struct {
		name   string
		report ReconciliationReport
		want   bool
	}{
		{"nothing found", ReconciliationReport{}, true},
		{"extras_local", ReconciliationReport{ExtrasLocal: []string{"AAPL"}}, false},
		{"extras_broker", ReconciliationReport{ExtrasBroker: []string{"MSFT"}}, false},
		{"share mismatch", ReconciliationReport{ShareMismatches: []ShareMismatch{{Symbol: "AAPL"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.report.Empty(); got != tt.want {
				t.Fatalf("Empty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReconciliationReport_Clone_SlicesIndependent(t *testing.T) {
	r := &ReconciliationReport{
		ExtrasLocal:     []string{"AAPL"},
		ExtrasBroker:    []string{"MSFT"},
		ShareMismatches: []ShareMismatch{{Symbol: "TSLA", LocalShares: 10, BrokerShares: 5}},
	}

	cp := r.Clone()
	cp.ExtrasLocal[0] = "CHANGED"
	cp.ExtrasLocal = append(cp.ExtrasLocal, "NEW")
	cp.ShareMismatches[0].LocalShares = 999

	if r.ExtrasLocal[0] != "AAPL" {
		t.Fatalf("mutating the clone's ExtrasLocal leaked into the original")
	}
	if len(r.ExtrasLocal) != 1 {
		t.Fatalf("appending to the clone's ExtrasLocal leaked into the original")
	}
	if r.ShareMismatches[0].LocalShares != 10 {
		t.Fatalf("mutating the clone's ShareMismatches leaked into the original")
	}
}

func TestReconciliationReport_Clone_NilSafe(t *testing.T) {
	var r *ReconciliationReport
	if r.Clone() != nil {
		t.Fatalf("Clone() on a nil ReconciliationReport should return nil")
	}
}
