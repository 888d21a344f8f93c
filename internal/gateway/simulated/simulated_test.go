package simulated

import (
	"context"
	"testing"
	"time"

	"github.com/arborfin/flowtrader/internal/clock"
	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/models"
)

// fakeBarSource is a hand-rolled BarSource double serving one fixed set of
// bars per symbol regardless of the requested date.
type fakeBarSource struct {
	bars map[string][]gateway.MinuteBar
}

func (f *fakeBarSource) LoadDay(symbol string, _ time.Time) ([]gateway.MinuteBar, error) {
	return f.bars[symbol], nil
}

func dayAt(h, m int) time.Time {
	return time.Date(2026, 3, 5, h, m, 0, 0, time.UTC)
}

func TestPlaceOrder_BuyAppliesSlippageAndFee(t *testing.T) {
	src := &fakeBarSource{bars: map[string][]gateway.MinuteBar{
		"AAPL": {{Timestamp: dayAt(10, 0), Open: 100, High: 101, Low: 99, Close: 100}},
	}}
	clk := clock.NewSteppingClock(dayAt(10, 0))
	gw := New(clk, src, Config{SlippageRatio: 0.01, FeePerShare: 0.01, FeeMin: 1.00, StartingCash: 100000})

	result, err := gw.PlaceOrder(context.Background(), "buy-1", "AAPL", models.SideBuy, 100, 0)
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if result.Status != models.OrderFilled {
		t.Fatalf("Status = %v, want OrderFilled", result.Status)
	}
	wantPrice := 100 * 1.01
	if result.AvgPrice != wantPrice {
		t.Fatalf("AvgPrice = %v, want %v", result.AvgPrice, wantPrice)
	}

	account, err := gw.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	// cash = 100000 - (100*1.01*100 shares) - fee(max(0.01*100,1.00)=1.00)
	wantCash := 100000 - wantPrice*100 - 1.00
	if diff := account.Cash - wantCash; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("Cash after buy = %v, want %v", account.Cash, wantCash)
	}
}

func TestPlaceOrder_SellAppliesNegativeSlippage(t *testing.T) {
	src := &fakeBarSource{bars: map[string][]gateway.MinuteBar{
		"AAPL": {{Timestamp: dayAt(10, 0), Open: 100, High: 101, Low: 99, Close: 100}},
	}}
	clk := clock.NewSteppingClock(dayAt(10, 0))
	gw := New(clk, src, Config{SlippageRatio: 0.01, FeePerShare: 0.01, FeeMin: 1.00, StartingCash: 100000})

	if _, err := gw.PlaceOrder(context.Background(), "buy-1", "AAPL", models.SideBuy, 100, 0); err != nil {
		t.Fatalf("buy: %v", err)
	}

	result, err := gw.PlaceOrder(context.Background(), "sell-1", "AAPL", models.SideSell, 100, 0)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	wantPrice := 100 * 0.99
	if result.AvgPrice != wantPrice {
		t.Fatalf("sell AvgPrice = %v, want %v", result.AvgPrice, wantPrice)
	}

	positions, err := gw.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("expected position fully closed after selling all shares, got %+v", positions)
	}
}

func TestPlaceOrder_IsIdempotentOnClientID(t *testing.T) {
	src := &fakeBarSource{bars: map[string][]gateway.MinuteBar{
		"AAPL": {{Timestamp: dayAt(10, 0), Open: 100, High: 101, Low: 99, Close: 100}},
	}}
	clk := clock.NewSteppingClock(dayAt(10, 0))
	gw := New(clk, src, Config{StartingCash: 100000})

	first, err := gw.PlaceOrder(context.Background(), "buy-1", "AAPL", models.SideBuy, 10, 0)
	if err != nil {
		t.Fatalf("first PlaceOrder: %v", err)
	}
	second, err := gw.PlaceOrder(context.Background(), "buy-1", "AAPL", models.SideBuy, 10, 0)
	if err != nil {
		t.Fatalf("retried PlaceOrder with identical args: %v", err)
	}
	if first.AvgPrice != second.AvgPrice || first.FilledShares != second.FilledShares {
		t.Fatalf("retried PlaceOrder returned a different result: %+v vs %+v", first, second)
	}

	account, err := gw.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	wantCash := 100000.0 - 100*10
	if diff := account.Cash - wantCash; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("Cash = %v after a cached retry, want %v (no double-fill)", account.Cash, wantCash)
	}
}

func TestPlaceOrder_IdempotencyConflictOnDifferentArgs(t *testing.T) {
	src := &fakeBarSource{bars: map[string][]gateway.MinuteBar{
		"AAPL": {{Timestamp: dayAt(10, 0), Open: 100, High: 101, Low: 99, Close: 100}},
	}}
	clk := clock.NewSteppingClock(dayAt(10, 0))
	gw := New(clk, src, Config{StartingCash: 100000})

	if _, err := gw.PlaceOrder(context.Background(), "buy-1", "AAPL", models.SideBuy, 10, 0); err != nil {
		t.Fatalf("first PlaceOrder: %v", err)
	}
	_, err := gw.PlaceOrder(context.Background(), "buy-1", "AAPL", models.SideBuy, 20, 0)
	if err != gateway.ErrIdempotencyConflict {
		t.Fatalf("reused client_id with a different share count error = %v, want ErrIdempotencyConflict", err)
	}
}

func TestPlaceOrder_RejectsInsufficientFunds(t *testing.T) {
	src := &fakeBarSource{bars: map[string][]gateway.MinuteBar{
		"AAPL": {{Timestamp: dayAt(10, 0), Open: 100, High: 101, Low: 99, Close: 100}},
	}}
	clk := clock.NewSteppingClock(dayAt(10, 0))
	gw := New(clk, src, Config{StartingCash: 500})

	result, err := gw.PlaceOrder(context.Background(), "buy-1", "AAPL", models.SideBuy, 100, 0)
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if result.Status != models.OrderRejected || result.RejectKind != gateway.RejectInsufficientFunds {
		t.Fatalf("result = %+v, want a REJECTED/INSUFFICIENT_FUNDS result", result)
	}
}

func TestPlaceOrder_RejectsWhenNoBarAvailable(t *testing.T) {
	src := &fakeBarSource{bars: map[string][]gateway.MinuteBar{}}
	clk := clock.NewSteppingClock(dayAt(10, 0))
	gw := New(clk, src, Config{StartingCash: 100000})

	result, err := gw.PlaceOrder(context.Background(), "buy-1", "MISSING", models.SideBuy, 10, 0)
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if result.Status != models.OrderRejected || result.RejectKind != gateway.RejectVenue {
		t.Fatalf("result = %+v, want a REJECTED/VENUE_REJECTED result for a missing bar", result)
	}
}

func TestBarAt_ForwardFillsFromLatestBarAtOrBefore(t *testing.T) {
	src := &fakeBarSource{bars: map[string][]gateway.MinuteBar{
		"AAPL": {
			{Timestamp: dayAt(9, 30), Close: 100},
			{Timestamp: dayAt(10, 0), Close: 105},
		},
	}}
	clk := clock.NewSteppingClock(dayAt(10, 30)) // no bar exactly here, must forward-fill
	gw := New(clk, src, Config{StartingCash: 100000})

	price, err := gw.GetQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetQuote() error = %v", err)
	}
	if price != 105 {
		t.Fatalf("GetQuote() forward-filled = %v, want 105 (the 10:00 bar's close)", price)
	}
}

func TestGetQuote_UnknownSymbolErrors(t *testing.T) {
	src := &fakeBarSource{bars: map[string][]gateway.MinuteBar{}}
	clk := clock.NewSteppingClock(dayAt(10, 0))
	gw := New(clk, src, Config{StartingCash: 100000})

	_, err := gw.GetQuote(context.Background(), "MISSING")
	if err == nil {
		t.Fatal("GetQuote() on an unknown symbol succeeded, want a QuoteError")
	}
	var qerr *gateway.QuoteError
	if qe, ok := err.(*gateway.QuoteError); ok {
		qerr = qe
	}
	if qerr == nil || qerr.Kind != gateway.QuoteErrorSymbolUnknown {
		t.Fatalf("error = %v, want QuoteErrorSymbolUnknown", err)
	}
}
