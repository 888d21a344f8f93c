package models

import (
	"testing"
	"time"
)

func TestBlacklistEntry_Expired(t *testing.T) {
	validUntil := time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	entry := &BlacklistEntry{Symbol: "AAPL", ValidUntilEast: validUntil}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before expiry", validUntil.Add(-time.Hour), false},
		{"exactly at expiry", validUntil, true},
		{"after expiry", validUntil.Add(time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entry.Expired(tt.now); got != tt.want {
				t.Fatalf("Expired(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestBlacklistEntry_Clone_NilSafe(t *testing.T) {
	var b *BlacklistEntry
	if b.Clone() != nil {
		t.Fatalf("Clone() on a nil BlacklistEntry should return nil")
	}
}
