// Package strategy implements the two pure decision functions — on_signal
// and on_position_check — plus lifecycle hooks, behind a small registry
// so a second variant can be added without touching the trading loops.
// Grounded on the Design Notes' "dynamic class loading by config name"
// re-architecture and the teacher's strategy.Config struct, replacing
// runtime metaprogramming with a string-tag registry populated by init().
package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arborfin/flowtrader/internal/clock"
	"github.com/arborfin/flowtrader/internal/config"
	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/models"
	"github.com/arborfin/flowtrader/internal/storage"
)

// Context is the explicit, injected dependency set every decision
// function reads from instead of ambient globals — the Design Notes'
// "pass an explicit StrategyContext struct" resolution.
type Context struct {
	Config   *config.StrategyConfig
	Repo     storage.Repository
	Gateway  gateway.Gateway
	Calendar *clock.Calendar
	Clock    clock.Clock
	Log      *logrus.Entry
}

// RejectReason names why on_signal declined a signal. The signal worker
// logs it and counts it in the SignalsRejected metric; it is not
// persisted in the repository.
type RejectReason string

const (
	RejectOutsideWindow       RejectReason = "outside_entry_window"
	RejectPremiumTooLow       RejectReason = "premium_below_minimum"
	RejectPremiumTooHigh      RejectReason = "premium_above_maximum"
	RejectHistoricalFilter    RejectReason = "historical_premium_filter"
	RejectBlacklisted         RejectReason = "symbol_blacklisted"
	RejectAlreadyOpen         RejectReason = "position_already_open"
	RejectDailyTradeCap       RejectReason = "daily_trade_cap_reached"
	RejectRiskUnfit           RejectReason = "risk_simulation_unfit"
	RejectMACDFilter          RejectReason = "macd_filter"
	RejectEarningsWindow      RejectReason = "earnings_window_exclusion"
	RejectPriceTrendFilter    RejectReason = "price_trend_filter"
	RejectDataGap             RejectReason = "missing_minute_bar"
)

// EntryDecision is on_signal's affirmative result, per §4.4.1.
type EntryDecision struct {
	Symbol          string
	Shares          int
	LimitPrice      float64
	ExecTimeEastern time.Time
	PosRatio        float64
	ClientID        string
	ReservationID   string
	Meta            models.PositionMeta
}

// ExitDecision is on_position_check's affirmative result, per §4.4.2.
type ExitDecision struct {
	PositionID string
	Reason     models.CloseReason
	Price      float64
	ClientID   string
	At         time.Time
}

// Strategy is the capability set every variant implements, per the
// Design Notes: on_signal, on_position_check, on_start, on_shutdown.
type Strategy interface {
	// OnSignal returns nil if the signal is rejected; reason is always
	// populated (even on acceptance, where it is empty) so the caller
	// can log it.
	OnSignal(goCtx context.Context, ctx *Context, signal *models.Signal) (*EntryDecision, RejectReason, error)

	// OnPositionCheck walks bars in time order and returns the first
	// triggered exit, or nil if none trigger.
	OnPositionCheck(goCtx context.Context, ctx *Context, pos *models.Position, bars []gateway.MinuteBar) (*ExitDecision, error)

	OnStart(goCtx context.Context, ctx *Context) error
	OnShutdown(goCtx context.Context, ctx *Context) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Strategy)
)

// Register adds a Strategy variant under tag. Called from each variant
// file's init(), mirroring the teacher's "v6/v7/v8" selection point
// without any runtime metaprogramming.
func Register(tag string, s Strategy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[tag] = s
}

// Get returns the registered Strategy for tag.
func Get(tag string) (Strategy, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[tag]
	if !ok {
		return nil, fmt.Errorf("strategy: no variant registered for tag %q", tag)
	}
	return s, nil
}
