// Package storage persists the engine's working set and exposes the
// repository contract every other package depends on, grounded on the
// teacher's internal/storage package split between an interface, a
// JSON-file implementation, and a mock test double.
package storage

import (
	"time"

	"github.com/arborfin/flowtrader/internal/models"
)

// DailyUsage summarizes a trading day's admitted exposure for the
// strategy's admission checks.
type DailyUsage struct {
	TradeCount int
	GrossRatio float64
}

// Repository is the transactional store every loop and strategy
// component reads and writes through. insert_signal_if_new and
// reserve_daily_capacity are the two operations that must hold their
// check-then-act span atomically; every other method may be implemented
// with a coarser lock as long as it never observes a half-written
// document.
type Repository interface {
	// InsertSignalIfNew atomically inserts signal keyed by its
	// SignalID, returning inserted=false without error if it already
	// exists (duplicate signals are not an error, per §7).
	InsertSignalIfNew(signal *models.Signal) (inserted bool, err error)

	// SignalHistory returns the premiums of every recorded signal for
	// symbol whose SignalTimeEast falls in [sinceEast, beforeEast), used
	// by the strategy's historical-premium filter to compute a lookback
	// mean without including the signal currently being evaluated.
	SignalHistory(symbol string, sinceEast, beforeEast time.Time) ([]float64, error)

	// BlacklistUntil returns the active blacklist expiry for symbol, or
	// a zero time if none is active (expired entries are treated as
	// absent without requiring GC).
	BlacklistUntil(symbol string, now time.Time) (time.Time, error)

	// DailyUsed sums committed exposure plus every still-HELD
	// reservation for dateEastern.
	DailyUsed(dateEastern string) (DailyUsage, error)

	// ReserveDailyCapacity atomically checks used-plus-requested ratio
	// against the supplied caps and either inserts a HELD reservation or
	// returns ErrReservationRejected.
	ReserveDailyCapacity(dateEastern string, ratio float64, dailyGrossCap float64, maxTradesPerDay int) (reservationID string, err error)

	// CommitDailyCapacity marks a HELD reservation COMMITTED, folding its
	// ratio into the day's committed_gross_ratio and incrementing
	// trade_count.
	CommitDailyCapacity(dateEastern, reservationID string) error

	// RollbackDailyCapacity marks a HELD reservation ROLLED_BACK,
	// releasing its ratio back to the pool.
	RollbackDailyCapacity(dateEastern, reservationID string) error

	// RecordOpen persists the filled buy order and opens a position for
	// it, returning the new position_id.
	RecordOpen(signal *models.Signal, order *models.Order, pos *models.Position) (positionID string, err error)

	// OpenPositions returns every currently open position.
	OpenPositions() ([]*models.Position, error)

	// GetOpenPositionBySymbol returns the open position for symbol, or
	// nil if none exists — the "at most one open position per symbol"
	// invariant is enforced by the strategy's entry filter consulting
	// this before emitting a decision.
	GetOpenPositionBySymbol(symbol string) (*models.Position, error)

	// TouchPosition persists the last-checked timestamp and high-water
	// mark for an open position between monitor ticks, per §4.5 step 4;
	// a no-op (returning ErrPositionNotOpen) if the position is no
	// longer open.
	TouchPosition(positionID string, lastCheckedEast time.Time, highWater float64) error

	// RecordClose closes position with the given terminal order,
	// reason, price and timestamp, and inserts the resulting blacklist
	// entry with the supplied expiry.
	RecordClose(positionID string, order *models.Order, reason models.CloseReason, price float64, at time.Time, blacklistUntil time.Time) error

	// RecordOrderEvent appends/updates an order's lifecycle event, used
	// for partial fills and rejections that don't themselves open or
	// close a position.
	RecordOrderEvent(order *models.Order) error

	// LoadCheckpoint/SaveCheckpoint round-trip the external file
	// watcher's opaque progress marker.
	LoadCheckpoint() (*models.Checkpoint, error)
	SaveCheckpoint(cp *models.Checkpoint) error

	// RecordReconciliation appends one reconciliation report to history.
	RecordReconciliation(report *models.ReconciliationReport) error

	// LastReconciliation returns the most recently recorded report, or
	// nil if none has run yet (read by the dashboard's stats endpoint).
	LastReconciliation() (*models.ReconciliationReport, error)

	// Close releases any held resources (file handles); safe to call
	// once at shutdown.
	Close() error
}
