// Package gateway defines the venue contract honored identically by the
// live broker client and the simulated backtest/test-double
// implementation, per §4.2.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/arborfin/flowtrader/internal/models"
)

// QuoteErrorKind classifies a GetQuote failure.
type QuoteErrorKind string

const (
	QuoteErrorSymbolUnknown QuoteErrorKind = "SYMBOL_UNKNOWN"
	QuoteErrorStale         QuoteErrorKind = "STALE"
	QuoteErrorNetwork       QuoteErrorKind = "NETWORK"
)

// QuoteError wraps a classified quote failure.
type QuoteError struct {
	Kind QuoteErrorKind
	Err  error
}

func (e *QuoteError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *QuoteError) Unwrap() error { return e.Err }

// ErrOrderNotFound is returned by GetOrder for an unknown client_id.
var ErrOrderNotFound = errors.New("gateway: order not found")

// ErrIdempotencyConflict is returned by PlaceOrder when client_id was
// already used with different arguments.
var ErrIdempotencyConflict = errors.New("gateway: idempotency conflict")

// MinuteBar is one OHLC bar for a symbol at a given Eastern minute.
type MinuteBar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
}

// Account is a venue/simulator account snapshot.
type Account struct {
	Equity       float64
	Cash         float64
	BuyingPower  float64
}

// BrokerPosition is the venue's view of a held position.
type BrokerPosition struct {
	Symbol  string
	Shares  int
	AvgCost float64
}

// RejectKind classifies a REJECTED OrderResult.
type RejectKind string

const (
	RejectInsufficientFunds RejectKind = "INSUFFICIENT_FUNDS"
	RejectVenue             RejectKind = "VENUE_REJECTED"
)

// OrderResult is the outcome of PlaceOrder/GetOrder.
type OrderResult struct {
	ClientID     string
	Symbol       string
	Side         models.Side
	Shares       int
	Status       models.OrderStatus
	FilledShares int
	AvgPrice     float64
	BrokerID     string
	RejectKind   RejectKind
	RejectReason string
	UpdatedEast  time.Time
}

// Gateway is the contract the strategy and trading loops place orders
// and read market/account data through, honored identically by the live
// and simulated implementations (§4.2).
type Gateway interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	GetQuote(ctx context.Context, symbol string) (float64, error)

	// GetMinuteBars returns every available bar in [fromEastern, toEastern];
	// gaps are permitted and callers forward-fill the last known close.
	GetMinuteBars(ctx context.Context, symbol string, fromEastern, toEastern time.Time) ([]MinuteBar, error)

	GetAccount(ctx context.Context) (Account, error)
	GetPositions(ctx context.Context) ([]BrokerPosition, error)

	// PlaceOrder MUST be idempotent on clientID: a retry with identical
	// arguments returns the same terminal state; a retry with differing
	// arguments fails with ErrIdempotencyConflict.
	PlaceOrder(ctx context.Context, clientID, symbol string, side models.Side, shares int, limitPrice float64) (OrderResult, error)

	GetOrder(ctx context.Context, clientID string) (OrderResult, error)

	CountTradingDaysBetween(ctx context.Context, fromDate, toDate time.Time) (int, error)
}
