package strategy

import (
	"testing"

	"github.com/arborfin/flowtrader/internal/config"
	"github.com/arborfin/flowtrader/internal/gateway"
)

func testStrategyConfig() *config.StrategyConfig {
	return &config.StrategyConfig{
		MaxLeverage:    1.0,
		MinCashRatio:   0.1,
		MinTradeShares: 1,
	}
}

func TestRiskFits_RejectsZeroOrNegativeShares(t *testing.T) {
	account := gateway.Account{Equity: 100000, Cash: 100000}
	cfg := testStrategyConfig()

	if riskFits(account, 0, 0, 100, cfg) {
		t.Fatal("riskFits accepted zero shares")
	}
	if riskFits(account, 0, -10, 100, cfg) {
		t.Fatal("riskFits accepted negative shares")
	}
}

func TestRiskFits_RejectsOverLeverage(t *testing.T) {
	account := gateway.Account{Equity: 10000, Cash: 10000}
	cfg := testStrategyConfig()
	cfg.MaxLeverage = 1.0

	// notional 11000 against 10000 equity => leverage 1.1 > 1.0 cap.
	if riskFits(account, 0, 100, 110, cfg) {
		t.Fatal("riskFits accepted a trade exceeding max_leverage")
	}
}

func TestRiskFits_RejectsInsufficientCashRatio(t *testing.T) {
	account := gateway.Account{Equity: 10000, Cash: 1000}
	cfg := testStrategyConfig()
	cfg.MaxLeverage = 10.0 // leverage check won't bind
	cfg.MinCashRatio = 0.5

	// cash_after = 1000-900=100, ratio 100/10000=0.01 < 0.5 cap.
	if riskFits(account, 0, 100, 9, cfg) {
		t.Fatal("riskFits accepted a trade breaching min_cash_ratio")
	}
}

func TestRiskFits_AcceptsWithinLimits(t *testing.T) {
	account := gateway.Account{Equity: 100000, Cash: 100000}
	cfg := testStrategyConfig()
	cfg.MaxLeverage = 1.0
	cfg.MinCashRatio = 0.1

	if !riskFits(account, 0, 100, 100, cfg) {
		t.Fatal("riskFits rejected a trade well within limits")
	}
}

func TestScaleDownToFit_ReturnsFullSizeWhenAlreadyFits(t *testing.T) {
	account := gateway.Account{Equity: 100000, Cash: 100000}
	cfg := testStrategyConfig()

	shares, ok := scaleDownToFit(account, 0, 100, 100, cfg)
	if !ok || shares != 100 {
		t.Fatalf("scaleDownToFit() = (%d, %v), want (100, true)", shares, ok)
	}
}

func TestScaleDownToFit_BinarySearchesToLargestFittingSize(t *testing.T) {
	// Equity 10000, leverage cap 1.0: max notional is 10000, at $100/share
	// that is 100 shares. Asking for 500 should scale down to exactly 100.
	account := gateway.Account{Equity: 10000, Cash: 10000}
	cfg := testStrategyConfig()
	cfg.MaxLeverage = 1.0
	cfg.MinCashRatio = 0

	shares, ok := scaleDownToFit(account, 0, 500, 100, cfg)
	if !ok {
		t.Fatal("scaleDownToFit reported no fitting size, want one near 100")
	}
	if shares != 100 {
		t.Fatalf("scaleDownToFit() shares = %d, want 100", shares)
	}
}

func TestScaleDownToFit_FailsBelowMinTradeShares(t *testing.T) {
	// Equity so small that even 1 share fails leverage, so the binary
	// search bottoms out below MinTradeShares.
	account := gateway.Account{Equity: 10, Cash: 10}
	cfg := testStrategyConfig()
	cfg.MaxLeverage = 1.0
	cfg.MinTradeShares = 5

	_, ok := scaleDownToFit(account, 0, 100, 100, cfg)
	if ok {
		t.Fatal("scaleDownToFit reported a fit when no size could satisfy min_trade_shares")
	}
}

func TestScaleDownToFit_AccountsForExistingGrossExposure(t *testing.T) {
	account := gateway.Account{Equity: 10000, Cash: 10000}
	cfg := testStrategyConfig()
	cfg.MaxLeverage = 1.0
	cfg.MinCashRatio = 0

	// With 5000 already exposed, only 5000 of headroom remains at $100/share
	// => 50 shares max, even though the naive request was 200.
	shares, ok := scaleDownToFit(account, 5000, 200, 100, cfg)
	if !ok {
		t.Fatal("scaleDownToFit reported no fit with existing exposure, want ~50")
	}
	if shares != 50 {
		t.Fatalf("scaleDownToFit() shares = %d, want 50", shares)
	}
}
