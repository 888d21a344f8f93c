package strategy

import (
	"context"

	"github.com/arborfin/flowtrader/internal/config"
	"github.com/arborfin/flowtrader/internal/gateway"
)

// riskFits evaluates the three post-trade checks of §4.4.3 for a
// candidate size, given the account snapshot and the gross exposure of
// every other open position (priced at the account snapshot's marks).
func riskFits(account gateway.Account, existingGrossExposure float64, shares int, limitPrice float64, cfg *config.StrategyConfig) bool {
	if shares <= 0 {
		return false
	}
	notional := float64(shares) * limitPrice
	grossExposure := existingGrossExposure + notional
	equityAfter := account.Equity
	cashAfter := account.Cash - notional

	if equityAfter <= 0 {
		return false
	}
	// Daily gross cap is enforced by the admission-control reservation
	// (storage.ReserveDailyCapacity); here only leverage and cash ratio
	// are re-checked against the post-trade simulation.
	grossLeverageAfter := grossExposure / equityAfter
	if grossLeverageAfter > cfg.MaxLeverage {
		return false
	}
	if cashAfter/equityAfter < cfg.MinCashRatio {
		return false
	}
	return true
}

// scaleDownToFit binary-searches shares down to the largest size in
// [minShares, shares] that satisfies riskFits, grounded on the teacher's
// calculatePositionSize buying-power sizing, generalized from a
// single-shot BPR-multiplier divide to a binary search since the equity
// risk checks are monotonic in share count (§4.4.3, new).
func scaleDownToFit(account gateway.Account, existingGrossExposure float64, shares int, limitPrice float64, cfg *config.StrategyConfig) (int, bool) {
	if riskFits(account, existingGrossExposure, shares, limitPrice, cfg) {
		return shares, true
	}

	lo, hi := cfg.MinTradeShares, shares
	best := 0
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if riskFits(account, existingGrossExposure, mid, limitPrice, cfg) {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best < cfg.MinTradeShares {
		return 0, false
	}
	return best, true
}

// currentGrossExposure sums shares*current-quote across every open
// position, used when a caller wants the risk check to account for
// exposure beyond what's captured in the account snapshot.
func currentGrossExposure(goCtx context.Context, ctx *Context) (float64, error) {
	positions, err := ctx.Repo.OpenPositions()
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, p := range positions {
		price, err := ctx.Gateway.GetQuote(goCtx, p.Symbol)
		if err != nil {
			price = p.CostPrice
		}
		total += price * float64(p.Shares)
	}
	return total, nil
}
