package strategy

import (
	"context"
	"math"
	"time"

	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/models"
)

// v1 is the single shipped Strategy variant, implementing the spec's
// flat priority-ordered exit model and the eight entry filters of
// §4.4.1. Registered under tag "v1" in init() below.
type v1 struct {
	exitChecks []exitCheck
}

func init() {
	Register("v1", &v1{exitChecks: defaultExitChecks()})
}

func (v *v1) OnStart(_ context.Context, _ *Context) error    { return nil }
func (v *v1) OnShutdown(_ context.Context, _ *Context) error { return nil }

// inEntryWindow reports whether t's time-of-day falls in any of the
// configured Eastern windows.
func inEntryWindow(windows []timeWindow, t time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	tod := t.Hour()*3600 + t.Minute()*60 + t.Second()
	for _, w := range windows {
		if tod >= w.openSeconds && tod < w.closeSeconds {
			return true
		}
	}
	return false
}

type timeWindow struct {
	openSeconds  int
	closeSeconds int
}

// OnSignal implements Strategy per §4.4.1's eight rejection filters,
// grounded on the teacher's CheckEntryConditions/FindStrangleStrikes
// gate-then-size pipeline in internal/strategy/strangle.go, generalized
// from IVR/delta-based option selection to a plain notional-based equity
// sizing.
func (v *v1) OnSignal(goCtx context.Context, ctx *Context, signal *models.Signal) (*EntryDecision, RejectReason, error) {
	cfg := ctx.Config
	now := ctx.Clock.Now()

	windows := make([]timeWindow, 0, len(cfg.EntryTimeWindowEastern))
	for _, w := range cfg.EntryTimeWindowEastern {
		o, err1 := time.Parse("15:04:05", w.Open)
		c, err2 := time.Parse("15:04:05", w.Close)
		if err1 != nil || err2 != nil {
			continue
		}
		windows = append(windows, timeWindow{
			openSeconds:  o.Hour()*3600 + o.Minute()*60 + o.Second(),
			closeSeconds: c.Hour()*3600 + c.Minute()*60 + c.Second(),
		})
	}
	if !inEntryWindow(windows, signal.SignalTimeEast) {
		return nil, RejectOutsideWindow, nil
	}

	// 2. premium band.
	if signal.PremiumUSD < cfg.MinPremiumUSD {
		return nil, RejectPremiumTooLow, nil
	}
	if cfg.PremiumMaxUSD > 0 && signal.PremiumUSD > cfg.PremiumMaxUSD {
		return nil, RejectPremiumTooHigh, nil
	}

	// 3. historical-premium filter, fail-open when no history exists.
	if cfg.HistoricalPremiumEnabled {
		since := signal.SignalTimeEast.AddDate(0, 0, -cfg.HistoricalLookbackDays)
		premiums, err := ctx.Repo.SignalHistory(signal.Symbol, since, signal.SignalTimeEast)
		if err != nil {
			return nil, "", err
		}
		mean, n := meanOf(premiums)
		if n > 0 && !(signal.PremiumUSD > cfg.HistoricalMultiplier*mean) {
			return nil, RejectHistoricalFilter, nil
		}
	}

	// 4. blacklist.
	until, err := ctx.Repo.BlacklistUntil(signal.Symbol, now)
	if err != nil {
		return nil, "", err
	}
	if !until.IsZero() && now.Before(until) {
		return nil, RejectBlacklisted, nil
	}

	// 5. existing open position.
	existing, err := ctx.Repo.GetOpenPositionBySymbol(signal.Symbol)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		return nil, RejectAlreadyOpen, nil
	}

	// 6. daily trade-count cap.
	dateKey := now.Format("2006-01-02")
	usage, err := ctx.Repo.DailyUsed(dateKey)
	if err != nil {
		return nil, "", err
	}
	if usage.TradeCount >= cfg.MaxTradesPerDay {
		return nil, RejectDailyTradeCap, nil
	}

	// 8. optional filters (checked before risk sizing, cheaper to fail fast).
	if cfg.MACDFilterEnabled && macdBlocks(ctx, signal) {
		return nil, RejectMACDFilter, nil
	}
	if cfg.EarningsWindowExclusion && inEarningsWindow(ctx, signal) {
		return nil, RejectEarningsWindow, nil
	}
	if cfg.PriceTrendFilterEnabled && priceTrendBlocks(ctx, signal) {
		return nil, RejectPriceTrendFilter, nil
	}

	// exec_time_eastern = signal_time + entry_delay, rounded up to next minute.
	rawExec := signal.SignalTimeEast.Add(time.Duration(cfg.EntryDelayMinutes) * time.Minute)
	execTime := rawExec.Truncate(time.Minute)
	if execTime.Before(rawExec) || !execTime.After(signal.SignalTimeEast) {
		execTime = execTime.Add(time.Minute)
	}

	bars, err := ctx.Gateway.GetMinuteBars(goCtx, signal.Symbol, execTime.Add(-time.Minute), execTime)
	if err != nil {
		return nil, "", err
	}
	limitPrice, ok := resolveExecPrice(bars, execTime, cfg.SlippageRatio, true)
	if !ok {
		return nil, RejectDataGap, nil
	}

	account, err := ctx.Gateway.GetAccount(goCtx)
	if err != nil {
		return nil, "", err
	}

	remainingDailyCap := cfg.DailyGrossCap - usage.GrossRatio
	if remainingDailyCap <= 0 {
		return nil, RejectDailyTradeCap, nil
	}
	targetNotional := math.Min(cfg.PerTradeCap*account.Equity, remainingDailyCap*account.Equity)
	shares := int(math.Floor(targetNotional / limitPrice))
	if shares < cfg.MinTradeShares {
		return nil, RejectRiskUnfit, nil
	}

	existingExposure, err := currentGrossExposure(goCtx, ctx)
	if err != nil {
		return nil, "", err
	}
	fitShares, ok := scaleDownToFit(account, existingExposure, shares, limitPrice, cfg)
	if !ok {
		return nil, RejectRiskUnfit, nil
	}

	posRatio := (float64(fitShares) * limitPrice) / account.Equity
	clientID := models.BuyClientID(signal.SignalID, execTime)

	return &EntryDecision{
		Symbol:          signal.Symbol,
		Shares:          fitShares,
		LimitPrice:      limitPrice,
		ExecTimeEastern: execTime,
		PosRatio:        posRatio,
		ClientID:        clientID,
	}, "", nil
}

// resolveExecPrice picks the bar used for limit_price, then applies
// slippage. When no bar is stamped exactly at execTime it falls back to
// the last bar in the supplied slice (OnSignal fetches [execTime-1m,
// execTime], so this is the last known close); a bar after execTime is
// never used.
func resolveExecPrice(bars []gateway.MinuteBar, execTime time.Time, slippage float64, isBuy bool) (float64, bool) {
	var chosen *gateway.MinuteBar
	for i := range bars {
		if bars[i].Timestamp.Equal(execTime) {
			chosen = &bars[i]
			break
		}
	}
	if chosen == nil && len(bars) > 0 {
		chosen = &bars[len(bars)-1]
	}
	if chosen == nil {
		return 0, false
	}
	price := chosen.Close
	if isBuy {
		price *= 1 + slippage
	} else {
		price *= 1 - slippage
	}
	return price, true
}

// meanOf averages premiums, returning n=0 (fail-open) when history is
// empty so the caller applies "if no history exists, the filter is
// skipped" per §4.4.1 point 3.
func meanOf(premiums []float64) (float64, int) {
	if len(premiums) == 0 {
		return 0, 0
	}
	var sum float64
	for _, p := range premiums {
		sum += p
	}
	return sum / float64(len(premiums)), len(premiums)
}

// macdBlocks, inEarningsWindow, priceTrendBlocks are placeholders in the
// teacher's hasMajorEventsNearby style: explicitly labeled, non-blocking
// by default, toggled independently by config (§4.4.1 point 8).
func macdBlocks(_ *Context, _ *models.Signal) bool       { return false }
func inEarningsWindow(_ *Context, _ *models.Signal) bool { return false }
func priceTrendBlocks(_ *Context, _ *models.Signal) bool { return false }
