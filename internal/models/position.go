package models

import "time"

// PositionStatus is the coarse lifecycle state of a position.
type PositionStatus string

const (
	// PositionOpen is currently held.
	PositionOpen PositionStatus = "open"
	// PositionClosed has been exited.
	PositionClosed PositionStatus = "closed"
)

// CloseReason is the reason a position was exited, in §4.4.2 priority order
// plus the reconciliation-only synthetic reason.
type CloseReason string

const (
	// CloseTimed is the scheduled, time-based exit.
	CloseTimed CloseReason = "TIMED"
	// CloseStrike is the v8-style option-strike exit (optional, see meta.TriggeringStrike).
	CloseStrike CloseReason = "STRIKE"
	// CloseTakeProfit is the take-profit threshold exit.
	CloseTakeProfit CloseReason = "TP"
	// CloseTrailingStop is the trailing-stop exit.
	CloseTrailingStop CloseReason = "TRAIL"
	// CloseStopLoss is the hard stop-loss exit.
	CloseStopLoss CloseReason = "SL"
	// CloseReconDrop is a synthetic close inserted by reconciliation auto-fix
	// when the broker no longer shows a position we believe is open.
	CloseReconDrop CloseReason = "RECON_DROP"
	// CloseManual is an operator-initiated close.
	CloseManual CloseReason = "manual"
)

// PositionMeta carries optional, strategy-variant-specific data that does
// not belong in the core invariants.
type PositionMeta struct {
	// TriggeringStrike is the option strike that produced the entry
	// signal, when the strategy variant in use records one. Absent means
	// the STRIKE exit condition is skipped without error (see DESIGN.md).
	TriggeringStrike float64 `json:"triggering_strike,omitempty"`
	// Synthetic marks a position created by reconciliation auto-fix
	// rather than a real fill.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Position is one open-or-closed equity position. At most one open
// Position may exist per symbol at any time (enforced by the strategy
// entry filter, not by this type).
type Position struct {
	PositionID        string         `json:"position_id"`
	OpenOrderClientID string         `json:"open_order_client_id"`
	Symbol            string         `json:"symbol"`
	Shares            int            `json:"shares"`
	CostPrice         float64        `json:"cost_price"`
	FeesPaid          float64        `json:"fees_paid"`
	OpenTimeEast      time.Time      `json:"open_time_eastern"`
	ScheduledExitEast time.Time      `json:"scheduled_exit_eastern"`
	HighWaterPrice    float64        `json:"high_water_price"`
	LastCheckedEast   time.Time      `json:"last_checked_eastern"`
	Status            PositionStatus `json:"status"`
	Meta              PositionMeta   `json:"meta"`

	// Populated only once the position is closed.
	CloseOrderClientID string      `json:"close_order_client_id,omitempty"`
	CloseReason        CloseReason `json:"close_reason,omitempty"`
	ClosePrice         float64     `json:"close_price,omitempty"`
	CloseTimeEast       time.Time  `json:"close_time_eastern,omitempty"`
	RealizedPnL         float64    `json:"realized_pnl,omitempty"`
}

// NewPosition builds a freshly opened position with high_water_price
// initialized to cost_price per §3.
func NewPosition(positionID, openOrderClientID, symbol string, shares int, costPrice, feesPaid float64, openTime, scheduledExit time.Time) *Position {
	return &Position{
		PositionID:        positionID,
		OpenOrderClientID: openOrderClientID,
		Symbol:            symbol,
		Shares:            shares,
		CostPrice:         costPrice,
		FeesPaid:          feesPaid,
		OpenTimeEast:      openTime,
		ScheduledExitEast: scheduledExit,
		HighWaterPrice:    costPrice,
		LastCheckedEast:   openTime,
		Status:            PositionOpen,
	}
}

// UpdateHighWater advances the monotonic high-water mark. It never
// decreases (§3 invariant).
func (p *Position) UpdateHighWater(observed float64) {
	if observed > p.HighWaterPrice {
		p.HighWaterPrice = observed
	}
}

// Close transitions the position to closed, recording the exit details.
func (p *Position) Close(reason CloseReason, price float64, at time.Time, clientID string) {
	p.Status = PositionClosed
	p.CloseReason = reason
	p.ClosePrice = price
	p.CloseTimeEast = at
	p.CloseOrderClientID = clientID
	p.RealizedPnL = (price-p.CostPrice)*float64(p.Shares) - p.FeesPaid
}

// Clone returns a deep copy so stored state can never be mutated through a
// returned pointer.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
