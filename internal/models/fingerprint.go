package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// fingerprint hashes its canonical-string inputs with SHA-256 and
// truncates to a short hex identifier, the same construction the
// teacher repo used for deterministic client order IDs
// (cmd/bot/trading_cycle.go's canonicalString + sha256 + hex[:8]).
func fingerprint(prefix string, parts ...string) string {
	canonical := prefix
	for _, p := range parts {
		canonical += "|" + p
	}
	sum := sha256.Sum256([]byte(canonical))
	return prefix + "-" + hex.EncodeToString(sum[:])[:16]
}

// SignalFingerprint computes signal_id as a deterministic fingerprint of
// (symbol, signal_time_eastern, premium_usd, ask, contract_id) per §3.
func SignalFingerprint(symbol string, signalTimeEastern time.Time, premiumUSD, ask float64, contractID string) string {
	return fingerprint("sig",
		symbol,
		signalTimeEastern.UTC().Format(time.RFC3339),
		fmt.Sprintf("%.2f", premiumUSD),
		fmt.Sprintf("%.2f", ask),
		contractID,
	)
}

// BuyClientID computes the entry order's idempotency key as the
// fingerprint of (signal_id, BUY, exec_time_eastern) per §4.4.1.
func BuyClientID(signalID string, execTimeEastern time.Time) string {
	return fingerprint("buy", signalID, string(SideBuy), execTimeEastern.UTC().Format(time.RFC3339))
}

// SellClientID computes the exit order's idempotency key as the
// fingerprint of (position_id, SELL, bar.timestamp) per §4.4.2.
func SellClientID(positionID string, barTimestamp time.Time) string {
	return fingerprint("sell", positionID, string(SideSell), barTimestamp.UTC().Format(time.RFC3339))
}
