// Package simulated implements gateway.Gateway against an in-memory
// minute-bar store and a decimal-precision cash ledger, for backtests
// and as the engine's test double. Grounded on the teacher's
// internal/mock/mock_data.go DataProvider, generalized from synthetic
// options pricing to plain equity fills against real or replayed minute
// bars; the cash ledger uses shopspring/decimal rather than the
// teacher's float64 so repeated buy/sell arithmetic never accumulates
// binary-float rounding drift across a multi-day backtest.
package simulated

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arborfin/flowtrader/internal/clock"
	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/models"
)

// BarSource loads a symbol's minute bars for one Eastern calendar date,
// letting the gateway stay agnostic of the on-disk format a backtest
// driver chooses for its minute-bar archive.
type BarSource interface {
	LoadDay(symbol string, date time.Time) ([]gateway.MinuteBar, error)
}

// Config tunes the simulated execution model.
type Config struct {
	SlippageRatio  float64 // applied against the fill price, buy: +, sell: -
	FeePerShare    float64
	FeeMin         float64
	MinCashRatio   float64
	StartingCash   float64
}

// Gateway implements gateway.Gateway by executing against a stepped
// clock and a cached minute-bar source, grounded on the DataProvider's
// "current_eastern" pointer and the §4.2 simulated-implementation bullet
// list (cache per (symbol, date), closing-price fills, slippage+fee,
// INSUFFICIENT_FUNDS rejection).
type Gateway struct {
	clock  *clock.SteppingClock
	source BarSource
	cfg    Config

	mu        sync.RWMutex
	barCache  map[string][]gateway.MinuteBar // "SYMBOL|2006-01-02" -> bars
	cash      decimal.Decimal
	positions map[string]*simPosition
	orders    map[string]gateway.OrderResult
}

type simPosition struct {
	shares  int
	avgCost decimal.Decimal
}

// New builds a simulated Gateway stepped by clk, sourcing bars from src.
func New(clk *clock.SteppingClock, src BarSource, cfg Config) *Gateway {
	return &Gateway{
		clock:     clk,
		source:    src,
		cfg:       cfg,
		barCache:  make(map[string][]gateway.MinuteBar),
		cash:      decimal.NewFromFloat(cfg.StartingCash),
		positions: make(map[string]*simPosition),
		orders:    make(map[string]gateway.OrderResult),
	}
}

// Connect implements gateway.Gateway; the simulator has no external
// connection to establish.
func (g *Gateway) Connect(_ context.Context) error { return nil }

// Disconnect implements gateway.Gateway.
func (g *Gateway) Disconnect(_ context.Context) error { return nil }

func (g *Gateway) dayBars(symbol string, date time.Time) ([]gateway.MinuteBar, error) {
	key := symbol + "|" + date.Format("2006-01-02")

	g.mu.RLock()
	bars, ok := g.barCache[key]
	g.mu.RUnlock()
	if ok {
		return bars, nil
	}

	bars, err := g.source.LoadDay(symbol, date)
	if err != nil {
		return nil, err
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	g.mu.Lock()
	g.barCache[key] = bars
	g.mu.Unlock()
	return bars, nil
}

// barAt returns the bar covering instant t, forward-filling from the
// latest bar at or before t when t itself has no bar (permitted data
// gaps per §4.2).
func (g *Gateway) barAt(symbol string, t time.Time) (gateway.MinuteBar, bool) {
	bars, err := g.dayBars(symbol, t)
	if err != nil || len(bars) == 0 {
		return gateway.MinuteBar{}, false
	}
	var last gateway.MinuteBar
	found := false
	for _, b := range bars {
		if b.Timestamp.After(t) {
			break
		}
		last = b
		found = true
	}
	return last, found
}

// GetQuote implements gateway.Gateway using the bar at the stepped clock's
// current instant.
func (g *Gateway) GetQuote(_ context.Context, symbol string) (float64, error) {
	bar, ok := g.barAt(symbol, g.clock.Now())
	if !ok {
		return 0, &gateway.QuoteError{Kind: gateway.QuoteErrorSymbolUnknown}
	}
	return bar.Close, nil
}

// GetMinuteBars implements gateway.Gateway.
func (g *Gateway) GetMinuteBars(_ context.Context, symbol string, fromEastern, toEastern time.Time) ([]gateway.MinuteBar, error) {
	var out []gateway.MinuteBar
	for d := fromEastern; !d.After(toEastern); d = d.AddDate(0, 0, 1) {
		bars, err := g.dayBars(symbol, d)
		if err != nil {
			return nil, err
		}
		for _, b := range bars {
			if !b.Timestamp.Before(fromEastern) && !b.Timestamp.After(toEastern) {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

// GetAccount implements gateway.Gateway.
func (g *Gateway) GetAccount(_ context.Context) (gateway.Account, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	equity := g.cash
	for symbol, pos := range g.positions {
		bar, ok := g.barAt(symbol, g.clock.Now())
		if !ok {
			continue
		}
		equity = equity.Add(decimal.NewFromFloat(bar.Close).Mul(decimal.NewFromInt(int64(pos.shares))))
	}
	cashF, _ := g.cash.Float64()
	equityF, _ := equity.Float64()
	return gateway.Account{Equity: equityF, Cash: cashF, BuyingPower: cashF}, nil
}

// GetPositions implements gateway.Gateway.
func (g *Gateway) GetPositions(_ context.Context) ([]gateway.BrokerPosition, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]gateway.BrokerPosition, 0, len(g.positions))
	for symbol, pos := range g.positions {
		avgCost, _ := pos.avgCost.Float64()
		out = append(out, gateway.BrokerPosition{Symbol: symbol, Shares: pos.shares, AvgCost: avgCost})
	}
	return out, nil
}

// PlaceOrder implements gateway.Gateway, filling at the closing price of
// the minute bar containing the clock's current instant, applying fixed
// slippage and a per-share fee with a per-order floor, per §4.2. The
// limit price is not used: a retried clientID is compared on symbol,
// side and shares only, so a retry that differs only in limit price
// returns the cached result rather than ErrIdempotencyConflict.
func (g *Gateway) PlaceOrder(_ context.Context, clientID, symbol string, side models.Side, shares int, _ float64) (gateway.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.orders[clientID]; ok {
		if existing.Symbol != symbol || existing.Side != side || existing.Shares != shares {
			return gateway.OrderResult{}, gateway.ErrIdempotencyConflict
		}
		return existing, nil
	}

	bar, ok := g.barAt(symbol, g.clock.Now())
	if !ok {
		result := gateway.OrderResult{
			ClientID: clientID, Symbol: symbol, Side: side, Shares: shares,
			Status: models.OrderRejected, RejectKind: gateway.RejectVenue,
			RejectReason: "no minute bar available at current instant",
			UpdatedEast:  g.clock.Now(),
		}
		g.orders[clientID] = result
		return result, nil
	}

	fillPrice := bar.Close
	if side == models.SideBuy {
		fillPrice *= 1 + g.cfg.SlippageRatio
	} else {
		fillPrice *= 1 - g.cfg.SlippageRatio
	}

	fee := g.cfg.FeePerShare * float64(shares)
	if fee < g.cfg.FeeMin {
		fee = g.cfg.FeeMin
	}

	gross := decimal.NewFromFloat(fillPrice).Mul(decimal.NewFromInt(int64(shares)))
	feeDec := decimal.NewFromFloat(fee)

	if side == models.SideBuy {
		total := gross.Add(feeDec)
		projectedCash := g.cash.Sub(total)
		if g.violatesMinCashRatio(projectedCash, symbol, shares, fillPrice) {
			result := gateway.OrderResult{
				ClientID: clientID, Symbol: symbol, Side: side, Shares: shares,
				Status: models.OrderRejected, RejectKind: gateway.RejectInsufficientFunds,
				RejectReason: "insufficient simulated cash for configured min_cash_ratio",
				UpdatedEast:  g.clock.Now(),
			}
			g.orders[clientID] = result
			return result, nil
		}
		g.cash = projectedCash
		g.openOrAddPosition(symbol, shares, decimal.NewFromFloat(fillPrice))
	} else {
		g.cash = g.cash.Add(gross).Sub(feeDec)
		g.reduceOrClosePosition(symbol, shares)
	}

	result := gateway.OrderResult{
		ClientID: clientID, Symbol: symbol, Side: side, Shares: shares,
		Status: models.OrderFilled, FilledShares: shares, AvgPrice: fillPrice,
		BrokerID: clientID, UpdatedEast: g.clock.Now(),
	}
	g.orders[clientID] = result
	return result, nil
}

func (g *Gateway) violatesMinCashRatio(projectedCash decimal.Decimal, symbol string, newShares int, newPrice float64) bool {
	if g.cfg.MinCashRatio == 0 {
		return projectedCash.IsNegative()
	}
	equity := projectedCash
	for s, pos := range g.positions {
		bar, ok := g.barAt(s, g.clock.Now())
		if !ok {
			continue
		}
		equity = equity.Add(decimal.NewFromFloat(bar.Close).Mul(decimal.NewFromInt(int64(pos.shares))))
	}
	equity = equity.Add(decimal.NewFromFloat(newPrice).Mul(decimal.NewFromInt(int64(newShares))))
	if equity.IsZero() {
		return true
	}
	ratio, _ := projectedCash.Div(equity).Float64()
	return ratio < g.cfg.MinCashRatio
}

func (g *Gateway) openOrAddPosition(symbol string, shares int, price decimal.Decimal) {
	pos, ok := g.positions[symbol]
	if !ok {
		g.positions[symbol] = &simPosition{shares: shares, avgCost: price}
		return
	}
	totalCost := pos.avgCost.Mul(decimal.NewFromInt(int64(pos.shares))).Add(price.Mul(decimal.NewFromInt(int64(shares))))
	pos.shares += shares
	pos.avgCost = totalCost.Div(decimal.NewFromInt(int64(pos.shares)))
}

func (g *Gateway) reduceOrClosePosition(symbol string, shares int) {
	pos, ok := g.positions[symbol]
	if !ok {
		return
	}
	pos.shares -= shares
	if pos.shares <= 0 {
		delete(g.positions, symbol)
	}
}

// GetOrder implements gateway.Gateway.
func (g *Gateway) GetOrder(_ context.Context, clientID string) (gateway.OrderResult, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result, ok := g.orders[clientID]
	if !ok {
		return gateway.OrderResult{}, gateway.ErrOrderNotFound
	}
	return result, nil
}

// CountTradingDaysBetween implements gateway.Gateway by counting the
// weekdays (Monday to Friday) after fromDate up to and including toDate.
// Holidays are not excluded and loaded bars are not consulted.
func (g *Gateway) CountTradingDaysBetween(ctx context.Context, fromDate, toDate time.Time) (int, error) {
	count := 0
	for d := fromDate.AddDate(0, 0, 1); !d.After(toDate); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		count++
	}
	return count, nil
}

// String renders the ledger state for diagnostic logging.
func (g *Gateway) String() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fmt.Sprintf("simulated.Gateway{cash=%s, positions=%d}", g.cash.String(), len(g.positions))
}
