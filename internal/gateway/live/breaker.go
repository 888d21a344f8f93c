package live

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/arborfin/flowtrader/internal/clock"
	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/models"
)

// BreakerSettings configures the circuit breaker wrapping a live Client,
// passed through from config.BrokerConfig.Breaker.
type BreakerSettings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// BreakerGateway wraps a *Client with a sony/gobreaker circuit breaker so
// a string of transport failures trips the breaker and fails fast rather
// than piling up retries against a dead venue, per §4.2.
type BreakerGateway struct {
	inner   *Client
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerGateway wraps client with a breaker configured by settings.
func NewBreakerGateway(client *Client, settings BreakerSettings) *BreakerGateway {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "brokerage-daemon",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &BreakerGateway{inner: client, breaker: cb}
}

func withBreaker[T any](b *BreakerGateway, fn func() (T, error)) (T, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// Connect implements gateway.Gateway.
func (b *BreakerGateway) Connect(ctx context.Context) error {
	_, err := withBreaker(b, func() (struct{}, error) {
		return struct{}{}, b.inner.Connect(ctx)
	})
	return err
}

// Disconnect implements gateway.Gateway.
func (b *BreakerGateway) Disconnect(ctx context.Context) error {
	return b.inner.Disconnect(ctx)
}

// GetQuote implements gateway.Gateway.
func (b *BreakerGateway) GetQuote(ctx context.Context, symbol string) (float64, error) {
	return withBreaker(b, func() (float64, error) {
		return b.inner.GetQuote(ctx, symbol)
	})
}

// GetMinuteBars implements gateway.Gateway.
func (b *BreakerGateway) GetMinuteBars(ctx context.Context, symbol string, fromEastern, toEastern time.Time) ([]gateway.MinuteBar, error) {
	return withBreaker(b, func() ([]gateway.MinuteBar, error) {
		return b.inner.GetMinuteBars(ctx, symbol, fromEastern, toEastern)
	})
}

// GetAccount implements gateway.Gateway.
func (b *BreakerGateway) GetAccount(ctx context.Context) (gateway.Account, error) {
	return withBreaker(b, func() (gateway.Account, error) {
		return b.inner.GetAccount(ctx)
	})
}

// GetPositions implements gateway.Gateway.
func (b *BreakerGateway) GetPositions(ctx context.Context) ([]gateway.BrokerPosition, error) {
	return withBreaker(b, func() ([]gateway.BrokerPosition, error) {
		return b.inner.GetPositions(ctx)
	})
}

// PlaceOrder implements gateway.Gateway.
func (b *BreakerGateway) PlaceOrder(ctx context.Context, clientID, symbol string, side models.Side, shares int, limitPrice float64) (gateway.OrderResult, error) {
	return withBreaker(b, func() (gateway.OrderResult, error) {
		return b.inner.PlaceOrder(ctx, clientID, symbol, side, shares, limitPrice)
	})
}

// GetOrder implements gateway.Gateway.
func (b *BreakerGateway) GetOrder(ctx context.Context, clientID string) (gateway.OrderResult, error) {
	return withBreaker(b, func() (gateway.OrderResult, error) {
		return b.inner.GetOrder(ctx, clientID)
	})
}

// CountTradingDaysBetween implements gateway.Gateway.
func (b *BreakerGateway) CountTradingDaysBetween(ctx context.Context, fromDate, toDate time.Time) (int, error) {
	return withBreaker(b, func() (int, error) {
		return b.inner.CountTradingDaysBetween(ctx, fromDate, toDate)
	})
}

// MonthSchedule exposes the wrapped client's clock.CalendarSource method
// through the breaker as well, so calendar lookups benefit from the same
// fail-fast protection as trading calls.
func (b *BreakerGateway) MonthSchedule(year int, month time.Month) (map[string]clock.DaySchedule, error) {
	return withBreaker(b, func() (map[string]clock.DaySchedule, error) {
		return b.inner.MonthSchedule(year, month)
	})
}
