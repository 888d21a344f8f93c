// Package live implements gateway.Gateway against a live brokerage
// daemon's HTTP API, grounded on the teacher's internal/broker/tradier.go
// request idiom: a single context-bound request helper, a generic
// single-or-array unmarshaler, and non-2xx responses wrapped into a
// typed APIError with a size-capped body read.
package live

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arborfin/flowtrader/internal/clock"
	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/models"
)

// APIError represents a non-2xx response from the brokerage daemon.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brokerage daemon error %d: %s", e.Status, e.Body)
}

// singleOrArray unmarshals an endpoint that collapses a one-element list
// to a bare object into a Go slice either way, the same decoding quirk
// the teacher's broker package works around per-endpoint.
type singleOrArray[T any] struct {
	Items []T
}

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		s.Items = nil
		return nil
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &s.Items)
	}
	var single T
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return err
	}
	s.Items = []T{single}
	return nil
}

// cachedOrder is the recently-placed order cache entry keyed by client_id,
// used to satisfy the idempotency contract without hitting the venue
// again for a repeated call.
type cachedOrder struct {
	symbol     string
	side       models.Side
	shares     int
	limitPrice float64
	result     gateway.OrderResult
}

// Client wraps the brokerage daemon's HTTP API. Every call is
// context-bound and rate-limited client-side ahead of the caller's own
// circuit breaker (see breaker.go).
type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	accountID string
	limiter   *rate.Limiter

	mu          sync.Mutex
	recentOrder map[string]cachedOrder
	orderOrder  []string // LRU eviction order
	maxCached   int
}

// Config configures a live Client.
type Config struct {
	BaseURL     string
	APIKey      string
	AccountID   string
	HTTPClient  *http.Client
	RateLimit   rate.Limit // requests per second
	RateBurst   int
	MaxCachedOrders int
}

// New builds a live Client honoring cfg, grounded on the teacher's
// NewTradierAPIWithBaseURLAndClient constructor chain, simplified to one
// entry point since this engine targets a single generic daemon contract
// rather than Tradier's sandbox/production URL split.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	limit := cfg.RateLimit
	if limit == 0 {
		limit = rate.Limit(8) // requests/sec, grounded on opensqt's client-side limiter default
	}
	burst := cfg.RateBurst
	if burst == 0 {
		burst = 4
	}
	maxCached := cfg.MaxCachedOrders
	if maxCached == 0 {
		maxCached = 4096
	}

	return &Client{
		http:        httpClient,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		accountID:   cfg.AccountID,
		limiter:     rate.NewLimiter(limit, burst),
		recentOrder: make(map[string]cachedOrder),
		maxCached:   maxCached,
	}
}

// doRequest issues one HTTP call against the daemon, blocking on the
// client-side rate limiter before dialing, and decodes a 2xx JSON body
// into response (skipped if response is nil).
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, response any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		capped, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, path, string(capped))}
	}
	if resp.StatusCode == http.StatusNoContent || response == nil {
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// Connect verifies daemon reachability. The daemon is stateless HTTP, so
// this is a lightweight account probe rather than a persistent session.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.GetAccount(ctx)
	return err
}

// Disconnect is a no-op for the stateless HTTP daemon, kept for interface
// symmetry with a connection-oriented venue.
func (c *Client) Disconnect(_ context.Context) error { return nil }

type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Stale  bool    `json:"stale"`
}

// GetQuote implements gateway.Gateway.
func (c *Client) GetQuote(ctx context.Context, symbol string) (float64, error) {
	var out singleOrArray[quoteResponse]
	q := url.Values{"symbols": []string{symbol}}
	if err := c.doRequest(ctx, http.MethodGet, "/markets/quotes", q, nil, &out); err != nil {
		return 0, &gateway.QuoteError{Kind: gateway.QuoteErrorNetwork, Err: err}
	}
	if len(out.Items) == 0 {
		return 0, &gateway.QuoteError{Kind: gateway.QuoteErrorSymbolUnknown}
	}
	item := out.Items[0]
	if item.Stale {
		return 0, &gateway.QuoteError{Kind: gateway.QuoteErrorStale}
	}
	return item.Last, nil
}

type barResponse struct {
	Time  string  `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// GetMinuteBars implements gateway.Gateway.
func (c *Client) GetMinuteBars(ctx context.Context, symbol string, fromEastern, toEastern time.Time) ([]gateway.MinuteBar, error) {
	q := url.Values{
		"symbol":    []string{symbol},
		"interval":  []string{"1min"},
		"start":     []string{fromEastern.Format("2006-01-02 15:04:05")},
		"end":       []string{toEastern.Format("2006-01-02 15:04:05")},
	}
	var out struct {
		Series struct {
			Data []barResponse `json:"data"`
		} `json:"series"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/markets/timesales", q, nil, &out); err != nil {
		return nil, err
	}

	bars := make([]gateway.MinuteBar, 0, len(out.Series.Data))
	for _, d := range out.Series.Data {
		ts, err := time.ParseInLocation("2006-01-02T15:04:05", d.Time, fromEastern.Location())
		if err != nil {
			continue
		}
		bars = append(bars, gateway.MinuteBar{
			Timestamp: ts,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
		})
	}
	return bars, nil
}

type balanceResponse struct {
	Equity      float64 `json:"total_equity"`
	Cash        float64 `json:"total_cash"`
	BuyingPower float64 `json:"buying_power"`
}

// GetAccount implements gateway.Gateway.
func (c *Client) GetAccount(ctx context.Context) (gateway.Account, error) {
	var out balanceResponse
	path := fmt.Sprintf("/accounts/%s/balances", c.accountID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return gateway.Account{}, err
	}
	return gateway.Account{Equity: out.Equity, Cash: out.Cash, BuyingPower: out.BuyingPower}, nil
}

type positionResponse struct {
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	CostBasis float64 `json:"cost_basis"`
}

// GetPositions implements gateway.Gateway.
func (c *Client) GetPositions(ctx context.Context) ([]gateway.BrokerPosition, error) {
	var out singleOrArray[positionResponse]
	path := fmt.Sprintf("/accounts/%s/positions", c.accountID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	positions := make([]gateway.BrokerPosition, 0, len(out.Items))
	for _, p := range out.Items {
		shares := int(p.Quantity)
		avgCost := 0.0
		if shares != 0 {
			avgCost = p.CostBasis / float64(shares)
		}
		positions = append(positions, gateway.BrokerPosition{Symbol: p.Symbol, Shares: shares, AvgCost: avgCost})
	}
	return positions, nil
}

type orderResponse struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Quantity     float64 `json:"quantity"`
	QuantityLeft float64 `json:"quantity_filled"`
	AvgFillPrice float64 `json:"avg_fill_price"`
	RejectReason string  `json:"reject_reason"`
}

func mapOrderStatus(venueStatus string) models.OrderStatus {
	switch strings.ToLower(venueStatus) {
	case "filled":
		return models.OrderFilled
	case "partially_filled":
		return models.OrderPartial
	case "rejected":
		return models.OrderRejected
	case "canceled", "cancelled":
		return models.OrderCancelled
	default:
		return models.OrderPending
	}
}

// PlaceOrder implements gateway.Gateway. It consults the in-memory
// recently-placed cache before talking to the venue so a retry with the
// same client_id never double-places, per §4.2's idempotency contract.
func (c *Client) PlaceOrder(ctx context.Context, clientID, symbol string, side models.Side, shares int, limitPrice float64) (gateway.OrderResult, error) {
	c.mu.Lock()
	if cached, ok := c.recentOrder[clientID]; ok {
		c.mu.Unlock()
		if cached.symbol != symbol || cached.side != side || cached.shares != shares || cached.limitPrice != limitPrice {
			return gateway.OrderResult{}, gateway.ErrIdempotencyConflict
		}
		return cached.result, nil
	}
	c.mu.Unlock()

	form := url.Values{
		"class":          []string{"equity"},
		"symbol":         []string{symbol},
		"side":           []string{strings.ToLower(string(side))},
		"quantity":       []string{fmt.Sprintf("%d", shares)},
		"type":           []string{"limit"},
		"duration":       []string{"day"},
		"price":          []string{fmt.Sprintf("%.2f", limitPrice)},
		"tag":            []string{clientID},
	}

	var out orderResponse
	path := fmt.Sprintf("/accounts/%s/orders", c.accountID)
	if err := c.doRequest(ctx, http.MethodPost, path, nil, strings.NewReader(form.Encode()), &out); err != nil {
		return gateway.OrderResult{}, err
	}

	result := gateway.OrderResult{
		ClientID:     clientID,
		Symbol:       symbol,
		Side:         side,
		Shares:       shares,
		Status:       mapOrderStatus(out.Status),
		FilledShares: int(out.QuantityLeft),
		AvgPrice:     out.AvgFillPrice,
		BrokerID:     out.ID,
		RejectReason: out.RejectReason,
		UpdatedEast:  time.Now(),
	}
	if result.Status == models.OrderRejected {
		result.RejectKind = gateway.RejectVenue
	}

	c.cacheOrder(clientID, symbol, side, shares, limitPrice, result)
	return result, nil
}

func (c *Client) cacheOrder(clientID, symbol string, side models.Side, shares int, limitPrice float64, result gateway.OrderResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.recentOrder[clientID]; !exists {
		c.orderOrder = append(c.orderOrder, clientID)
		if len(c.orderOrder) > c.maxCached {
			oldest := c.orderOrder[0]
			c.orderOrder = c.orderOrder[1:]
			delete(c.recentOrder, oldest)
		}
	}
	c.recentOrder[clientID] = cachedOrder{
		symbol:     symbol,
		side:       side,
		shares:     shares,
		limitPrice: limitPrice,
		result:     result,
	}
}

// GetOrder implements gateway.Gateway.
func (c *Client) GetOrder(ctx context.Context, clientID string) (gateway.OrderResult, error) {
	c.mu.Lock()
	cached, ok := c.recentOrder[clientID]
	c.mu.Unlock()
	if !ok {
		return gateway.OrderResult{}, gateway.ErrOrderNotFound
	}
	if cached.result.BrokerID == "" {
		return cached.result, nil
	}

	var out orderResponse
	path := fmt.Sprintf("/accounts/%s/orders/%s", c.accountID, cached.result.BrokerID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return gateway.OrderResult{}, err
	}
	result := cached.result
	result.Status = mapOrderStatus(out.Status)
	result.FilledShares = int(out.QuantityLeft)
	result.AvgPrice = out.AvgFillPrice
	result.UpdatedEast = time.Now()
	c.cacheOrder(clientID, cached.symbol, cached.side, cached.shares, cached.limitPrice, result)
	return result, nil
}

type calendarDay struct {
	Date   string `json:"date"`
	Status string `json:"status"`
	Open   struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"open"`
}

type calendarResponse struct {
	Month int           `json:"month"`
	Year  int           `json:"year"`
	Days  []calendarDay `json:"days"`
}

// MonthSchedule implements clock.CalendarSource against the daemon's
// market-calendar endpoint, grounded on the teacher's GetMarketCalendar.
func (c *Client) MonthSchedule(year int, month time.Month) (map[string]clock.DaySchedule, error) {
	q := url.Values{
		"month": []string{fmt.Sprintf("%d", int(month))},
		"year":  []string{fmt.Sprintf("%d", year)},
	}
	var out calendarResponse
	if err := c.doRequest(context.Background(), http.MethodGet, "/markets/calendar", q, nil, &out); err != nil {
		return nil, err
	}

	result := make(map[string]clock.DaySchedule, len(out.Days))
	for _, d := range out.Days {
		open := d.Status == "open"
		half := d.Status == "partial"
		var start, end time.Time
		if (open || half) && d.Open.Start != "" && d.Open.End != "" {
			start, _ = time.ParseInLocation("2006-01-02 15:04", d.Date+" "+d.Open.Start, time.UTC)
			end, _ = time.ParseInLocation("2006-01-02 15:04", d.Date+" "+d.Open.End, time.UTC)
		}
		result[d.Date] = clock.DaySchedule{Open: open || half, Closed: !open && !half, Start: start, End: end, Half: half}
	}
	return result, nil
}

// CountTradingDaysBetween implements gateway.Gateway by delegating to the
// daemon's calendar rather than re-deriving holiday rules client-side.
func (c *Client) CountTradingDaysBetween(ctx context.Context, fromDate, toDate time.Time) (int, error) {
	count := 0
	cur := fromDate
	for cur.Before(toDate) {
		cur = cur.AddDate(0, 0, 1)
		sched, err := c.MonthSchedule(cur.Year(), cur.Month())
		if err != nil {
			return 0, err
		}
		if d, ok := sched[cur.Format("2006-01-02")]; ok && d.Open {
			count++
		}
	}
	return count, nil
}
