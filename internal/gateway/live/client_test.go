package live

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, APIKey: "test-key", AccountID: "acct-1"})
	return c, srv
}

func TestGetQuote_ParsesSingleObjectResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"AAPL","last":123.45,"stale":false}`)
	})

	price, err := c.GetQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetQuote() error = %v", err)
	}
	if price != 123.45 {
		t.Fatalf("GetQuote() = %v, want 123.45", price)
	}
}

func TestGetQuote_SymbolUnknownWhenEmptyArray(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	_, err := c.GetQuote(context.Background(), "BOGUS")
	qerr, ok := err.(*gateway.QuoteError)
	if !ok || qerr.Kind != gateway.QuoteErrorSymbolUnknown {
		t.Fatalf("GetQuote() error = %v, want QuoteErrorSymbolUnknown", err)
	}
}

func TestGetQuote_StaleFlagReturnsStaleKind(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"AAPL","last":100,"stale":true}`)
	})

	_, err := c.GetQuote(context.Background(), "AAPL")
	qerr, ok := err.(*gateway.QuoteError)
	if !ok || qerr.Kind != gateway.QuoteErrorStale {
		t.Fatalf("GetQuote() error = %v, want QuoteErrorStale", err)
	}
}

func TestGetAccount_ParsesBalances(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/acct-1/balances" {
			t.Errorf("path = %q, want /accounts/acct-1/balances", r.URL.Path)
		}
		fmt.Fprint(w, `{"total_equity":10000,"total_cash":5000,"buying_power":8000}`)
	})

	acct, err := c.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if acct.Equity != 10000 || acct.Cash != 5000 || acct.BuyingPower != 8000 {
		t.Fatalf("GetAccount() = %+v, want {10000 5000 8000}", acct)
	}
}

func TestGetPositions_ComputesAvgCostFromCostBasis(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"AAPL","quantity":10,"cost_basis":1000}`)
	})

	positions, err := c.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions() error = %v", err)
	}
	if len(positions) != 1 || positions[0].AvgCost != 100 {
		t.Fatalf("GetPositions() = %+v, want one position with avg_cost 100", positions)
	}
}

func TestPlaceOrder_CachesResultForIdempotentRetry(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"id":"brk-1","status":"filled","quantity_filled":10,"avg_fill_price":100}`)
	})

	first, err := c.PlaceOrder(context.Background(), "buy-1", "AAPL", models.SideBuy, 10, 100)
	if err != nil {
		t.Fatalf("first PlaceOrder: %v", err)
	}
	second, err := c.PlaceOrder(context.Background(), "buy-1", "AAPL", models.SideBuy, 10, 100)
	if err != nil {
		t.Fatalf("retried PlaceOrder: %v", err)
	}
	if first.BrokerID != second.BrokerID {
		t.Fatalf("retried PlaceOrder returned a different result: %+v vs %+v", first, second)
	}
	if calls != 1 {
		t.Fatalf("daemon called %d times for an idempotent retry, want 1", calls)
	}
}

func TestPlaceOrder_IdempotencyConflictOnDifferentArgsNeverCallsDaemon(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"id":"brk-1","status":"filled","quantity_filled":10,"avg_fill_price":100}`)
	})

	if _, err := c.PlaceOrder(context.Background(), "buy-1", "AAPL", models.SideBuy, 10, 100); err != nil {
		t.Fatalf("first PlaceOrder: %v", err)
	}
	_, err := c.PlaceOrder(context.Background(), "buy-1", "AAPL", models.SideBuy, 20, 100)
	if err != gateway.ErrIdempotencyConflict {
		t.Fatalf("PlaceOrder with a reused client_id and different shares error = %v, want ErrIdempotencyConflict", err)
	}
	if calls != 1 {
		t.Fatalf("daemon called %d times, want 1 (the conflicting retry must not reach the venue)", calls)
	}
}

func TestPlaceOrder_RejectedStatusSetsRejectKind(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"brk-1","status":"rejected","reject_reason":"insufficient buying power"}`)
	})

	result, err := c.PlaceOrder(context.Background(), "buy-1", "AAPL", models.SideBuy, 10, 100)
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if result.Status != models.OrderRejected || result.RejectKind != gateway.RejectVenue {
		t.Fatalf("result = %+v, want REJECTED/VENUE_REJECTED", result)
	}
}

func TestGetOrder_UnknownClientIDReturnsErrOrderNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("daemon should not be called for an unknown client_id")
	})

	_, err := c.GetOrder(context.Background(), "never-placed")
	if err != gateway.ErrOrderNotFound {
		t.Fatalf("GetOrder() error = %v, want ErrOrderNotFound", err)
	}
}

func TestDoRequest_NonTwoXXReturnsAPIError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	})

	_, err := c.GetAccount(context.Background())
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("GetAccount() error = %v, want *APIError with status 500", err)
	}
}

func TestMonthSchedule_ParsesOpenAndClosedDays(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"month":3,"year":2026,"days":[
			{"date":"2026-03-02","status":"open","open":{"start":"09:30","end":"16:00"}},
			{"date":"2026-03-07","status":"closed","open":{"start":"","end":""}}
		]}`)
	})

	sched, err := c.MonthSchedule(2026, 3)
	if err != nil {
		t.Fatalf("MonthSchedule() error = %v", err)
	}
	if !sched["2026-03-02"].Open {
		t.Fatal("2026-03-02 expected Open=true")
	}
	if !sched["2026-03-07"].Closed {
		t.Fatal("2026-03-07 expected Closed=true")
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	c := New(Config{BaseURL: "http://example.test/"})
	if c.baseURL != "http://example.test" {
		t.Fatalf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.maxCached != 4096 {
		t.Fatalf("maxCached = %d, want default 4096", c.maxCached)
	}
	if c.limiter == nil {
		t.Fatal("limiter was not defaulted")
	}
}
