// Package retry wraps a gateway.Gateway with exponential backoff and
// jitter, grounded on the teacher's internal/retry/client.go
// ClosePositionWithRetry: a 1.5x backoff multiplier, crypto/rand jitter
// up to a quarter of the current backoff, and a string-matched
// transient-error classifier, generalized from one method
// (ClosePositionWithRetry) to every Gateway call a trading loop makes.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/models"
)

// Config controls the retry client's backoff schedule.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
}

// DefaultConfig mirrors the teacher's retry.DefaultConfig defaults.
var DefaultConfig = Config{
	MaxRetries:     5,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     30 * time.Second,
	CallTimeout:    10 * time.Second,
}

// Client wraps a gateway.Gateway, retrying transient failures with
// backoff before surfacing the decision-layer error per §7.
type Client struct {
	inner  gateway.Gateway
	log    *logrus.Entry
	config Config
}

// NewClient wraps inner with retry logic, validating and defaulting cfg
// the way the teacher's NewClient sanitizes a zero-value Config.
func NewClient(inner gateway.Gateway, log *logrus.Entry, cfg Config) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{inner: inner, log: log, config: cfg}
}

func (c *Client) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}
	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		if jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter)); err == nil {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}
	return backoff
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout", "i/o timeout", "connection refused", "connection reset",
		"temporary failure", "temporarily unavailable", "server error",
		"rate limit", "429", "502", "503", "504", "network", "dns", "tcp",
		"no such host", "deadline exceeded", "tls handshake", "broken pipe", "eof",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// call runs fn with per-attempt timeouts derived from ctx, retrying
// transient failures with backoff up to config.MaxRetries.
func call[T any](c *Client, ctx context.Context, label string, fn func(context.Context) (T, error)) (T, error) {
	var lastErr error
	backoff := c.config.InitialBackoff

	attempt := 0
	for ; attempt <= c.config.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
		result, err := fn(callCtx)
		cancel()

		if err == nil {
			return result, nil
		}
		lastErr = err
		c.log.WithFields(logrus.Fields{"call": label, "attempt": attempt + 1, "error": err}).Warn("gateway call failed")

		if attempt == c.config.MaxRetries || !isTransient(err) {
			break
		}

		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("retry: canceled during backoff: %w", ctx.Err())
		}
	}

	var zero T
	return zero, fmt.Errorf("retry: %s failed after %d attempts: %w", label, attempt+1, lastErr)
}

// Connect implements gateway.Gateway.
func (c *Client) Connect(ctx context.Context) error {
	_, err := call(c, ctx, "Connect", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.inner.Connect(ctx)
	})
	return err
}

// Disconnect implements gateway.Gateway; not retried, best-effort at shutdown.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.inner.Disconnect(ctx)
}

// GetQuote implements gateway.Gateway.
func (c *Client) GetQuote(ctx context.Context, symbol string) (float64, error) {
	return call(c, ctx, "GetQuote", func(ctx context.Context) (float64, error) {
		return c.inner.GetQuote(ctx, symbol)
	})
}

// GetMinuteBars implements gateway.Gateway.
func (c *Client) GetMinuteBars(ctx context.Context, symbol string, fromEastern, toEastern time.Time) ([]gateway.MinuteBar, error) {
	return call(c, ctx, "GetMinuteBars", func(ctx context.Context) ([]gateway.MinuteBar, error) {
		return c.inner.GetMinuteBars(ctx, symbol, fromEastern, toEastern)
	})
}

// GetAccount implements gateway.Gateway.
func (c *Client) GetAccount(ctx context.Context) (gateway.Account, error) {
	return call(c, ctx, "GetAccount", func(ctx context.Context) (gateway.Account, error) {
		return c.inner.GetAccount(ctx)
	})
}

// GetPositions implements gateway.Gateway.
func (c *Client) GetPositions(ctx context.Context) ([]gateway.BrokerPosition, error) {
	return call(c, ctx, "GetPositions", func(ctx context.Context) ([]gateway.BrokerPosition, error) {
		return c.inner.GetPositions(ctx)
	})
}

// PlaceOrder implements gateway.Gateway. An idempotency conflict is never
// retried — it is a logic error in the caller, not a transient fault.
func (c *Client) PlaceOrder(ctx context.Context, clientID, symbol string, side models.Side, shares int, limitPrice float64) (gateway.OrderResult, error) {
	return call(c, ctx, "PlaceOrder", func(ctx context.Context) (gateway.OrderResult, error) {
		result, err := c.inner.PlaceOrder(ctx, clientID, symbol, side, shares, limitPrice)
		if err == gateway.ErrIdempotencyConflict {
			return result, fmt.Errorf("retry: %w", err) // deliberately not classified as transient
		}
		return result, err
	})
}

// GetOrder implements gateway.Gateway.
func (c *Client) GetOrder(ctx context.Context, clientID string) (gateway.OrderResult, error) {
	return call(c, ctx, "GetOrder", func(ctx context.Context) (gateway.OrderResult, error) {
		return c.inner.GetOrder(ctx, clientID)
	})
}

// CountTradingDaysBetween implements gateway.Gateway.
func (c *Client) CountTradingDaysBetween(ctx context.Context, fromDate, toDate time.Time) (int, error) {
	return call(c, ctx, "CountTradingDaysBetween", func(ctx context.Context) (int, error) {
		return c.inner.CountTradingDaysBetween(ctx, fromDate, toDate)
	})
}
