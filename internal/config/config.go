// Package config loads and validates the engine's YAML configuration,
// grounded on the teacher's internal/config/config.go tree: strict
// unknown-field decoding, os.ExpandEnv for secrets, and a Normalize/
// Validate split so defaulting never hides an operator typo.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TimeWindow is an [open, close) Eastern time-of-day range, e.g. for
// entry_time_window_eastern.
type TimeWindow struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// DataGapPolicy selects the fallback when a minute bar is missing at the
// instant a decision needs one, per §7.
type DataGapPolicy string

const (
	DataGapSkip        DataGapPolicy = "skip"
	DataGapNextBar     DataGapPolicy = "next_bar"
	DataGapUseLast     DataGapPolicy = "use_last"
	DataGapUseRealtime DataGapPolicy = "use_realtime"
)

// BreakerConfig passes through to gobreaker.Settings.
type BreakerConfig struct {
	MaxRequests uint32        `yaml:"max_requests"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

// BrokerConfig wires the live gateway.
type BrokerConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	AccountID string        `yaml:"account_id"`
	Sandbox   bool          `yaml:"sandbox"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

// StorageConfig locates the persistence root.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// DashboardConfig toggles the optional status server.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// RetryConfig tunes the backoff-wrapped gateway client.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
}

// StrategyConfig holds every trading-logic knob from §6's configuration
// table.
type StrategyConfig struct {
	EntryTimeWindowEastern []TimeWindow `yaml:"entry_time_window_eastern"`

	MinPremiumUSD   float64 `yaml:"min_premium_usd"`
	PremiumMaxUSD   float64 `yaml:"premium_max_usd"`

	HistoricalPremiumEnabled bool    `yaml:"historical_premium_enabled"`
	HistoricalMultiplier     float64 `yaml:"historical_multiplier"`
	HistoricalLookbackDays   int     `yaml:"historical_lookback_days"`

	EntryDelayMinutes int `yaml:"entry_delay_minutes"`

	PerTradeCap    float64 `yaml:"per_trade_cap"`
	DailyGrossCap  float64 `yaml:"daily_gross_cap"`
	MaxTradesPerDay int    `yaml:"max_trades_per_day"`

	MaxLeverage  float64 `yaml:"max_leverage"`
	MinCashRatio float64 `yaml:"min_cash_ratio"`

	StopLoss      float64 `yaml:"stop_loss"`
	TakeProfit    float64 `yaml:"take_profit"`
	TrailingStop  float64 `yaml:"trailing_stop"`

	HoldingDays          int    `yaml:"holding_days"`
	ExitTimeOfDayEastern string `yaml:"exit_time_of_day_eastern"`

	BlacklistDays int `yaml:"blacklist_days"`

	SlippageRatio float64 `yaml:"slippage"`
	FeePerShare   float64 `yaml:"fee_per_share"`
	FeeMin        float64 `yaml:"fee_min"`

	ReconciliationTimeEastern string `yaml:"reconciliation_time_eastern"`
	AutoFix                   bool   `yaml:"auto_fix"`

	MinTradeShares int `yaml:"min_trade_shares"`

	DataGapPolicy DataGapPolicy `yaml:"data_gap_policy"`

	// Optional filters (new), toggled independently per §4.4.1 point 8,
	// each defaulting off the way the teacher's hasMajorEventsNearby
	// placeholder defaults to non-blocking.
	MACDFilterEnabled       bool    `yaml:"macd_filter_enabled"`
	MACDThreshold           float64 `yaml:"macd_threshold"`
	EarningsWindowExclusion bool    `yaml:"earnings_window_exclusion"`
	PriceTrendFilterEnabled bool    `yaml:"price_trend_filter_enabled"`
	PriceTrendLookbackDays  int     `yaml:"price_trend_lookback_days"`
}

// Config is the root of the engine's YAML document.
type Config struct {
	Environment          string          `yaml:"environment"`
	Mode                 string          `yaml:"mode"`
	CheckIntervalSeconds int             `yaml:"check_interval_seconds"`
	Timezone             string          `yaml:"timezone"`

	Broker    BrokerConfig    `yaml:"broker"`
	Storage   StorageConfig   `yaml:"storage"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Retry     RetryConfig     `yaml:"retry"`
	Strategy  StrategyConfig  `yaml:"strategy"`
}

// Load reads, env-expands, and strictly decodes path into a Config, then
// normalizes defaults and validates — grounded on the teacher's
// config.Load (os.ExpandEnv before decode, yaml.Decoder.KnownFields(true)
// to reject typo'd keys outright rather than silently ignoring them).
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Normalize fills in defaults the way the teacher's config.Normalize
// does, so Validate only ever rejects genuinely contradictory input.
func (c *Config) Normalize() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Mode == "" {
		c.Mode = "backtest"
	}
	if c.CheckIntervalSeconds == 0 {
		c.CheckIntervalSeconds = 60
	}
	if c.Timezone == "" {
		c.Timezone = "America/New_York"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 5
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = 30 * time.Second
	}
	if c.Retry.CallTimeout == 0 {
		c.Retry.CallTimeout = 10 * time.Second
	}
	if c.Broker.Breaker.MaxRequests == 0 {
		c.Broker.Breaker.MaxRequests = 3
	}
	if c.Broker.Breaker.Interval == 0 {
		c.Broker.Breaker.Interval = 60 * time.Second
	}
	if c.Broker.Breaker.Timeout == 0 {
		c.Broker.Breaker.Timeout = 30 * time.Second
	}

	s := &c.Strategy
	if s.EntryDelayMinutes == 0 {
		s.EntryDelayMinutes = 1
	}
	if s.PerTradeCap == 0 {
		s.PerTradeCap = 0.05
	}
	if s.DailyGrossCap == 0 {
		s.DailyGrossCap = 0.5
	}
	if s.MaxTradesPerDay == 0 {
		s.MaxTradesPerDay = 10
	}
	if s.MaxLeverage == 0 {
		s.MaxLeverage = 1.0
	}
	if s.HoldingDays == 0 {
		s.HoldingDays = 5
	}
	if s.ExitTimeOfDayEastern == "" {
		s.ExitTimeOfDayEastern = "15:55:00"
	}
	if s.BlacklistDays == 0 {
		s.BlacklistDays = 1
	}
	if s.MinTradeShares == 0 {
		s.MinTradeShares = 1
	}
	if s.HistoricalMultiplier == 0 {
		s.HistoricalMultiplier = 1.0
	}
	if s.HistoricalLookbackDays == 0 {
		s.HistoricalLookbackDays = 20
	}
	if s.ReconciliationTimeEastern == "" {
		s.ReconciliationTimeEastern = "16:15:00"
	}
	if s.DataGapPolicy == "" {
		s.DataGapPolicy = DataGapNextBar
	}
}

// Validate rejects contradictory or out-of-range configuration — ported
// from the teacher's config.Validate's style of one explicit check per
// field rather than a generic struct-tag validator library, since the
// teacher never pulled one in.
func (c *Config) Validate() error {
	if c.Mode != "live" && c.Mode != "backtest" {
		return fmt.Errorf("mode must be \"live\" or \"backtest\", got %q", c.Mode)
	}
	if c.Mode == "live" {
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url is required in live mode")
		}
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required in live mode")
		}
	}
	if c.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("check_interval_seconds must be positive")
	}

	s := c.Strategy
	if s.PerTradeCap <= 0 || s.PerTradeCap > 1 {
		return fmt.Errorf("strategy.per_trade_cap must be in (0, 1]")
	}
	if s.DailyGrossCap <= 0 || s.DailyGrossCap > 1 {
		return fmt.Errorf("strategy.daily_gross_cap must be in (0, 1]")
	}
	if s.MaxTradesPerDay <= 0 {
		return fmt.Errorf("strategy.max_trades_per_day must be positive")
	}
	if s.MaxLeverage <= 0 {
		return fmt.Errorf("strategy.max_leverage must be positive")
	}
	if s.StopLoss < 0 || s.StopLoss >= 1 {
		return fmt.Errorf("strategy.stop_loss must be in [0, 1)")
	}
	if s.TakeProfit < 0 {
		return fmt.Errorf("strategy.take_profit must be non-negative")
	}
	if s.TrailingStop < 0 || s.TrailingStop >= 1 {
		return fmt.Errorf("strategy.trailing_stop must be in [0, 1)")
	}
	if s.HoldingDays <= 0 {
		return fmt.Errorf("strategy.holding_days must be positive")
	}
	if _, err := time.Parse("15:04:05", s.ExitTimeOfDayEastern); err != nil {
		return fmt.Errorf("strategy.exit_time_of_day_eastern must be HH:MM:SS: %w", err)
	}
	if _, err := time.Parse("15:04:05", s.ReconciliationTimeEastern); err != nil {
		return fmt.Errorf("strategy.reconciliation_time_eastern must be HH:MM:SS: %w", err)
	}
	switch s.DataGapPolicy {
	case DataGapSkip, DataGapNextBar, DataGapUseLast, DataGapUseRealtime:
	default:
		return fmt.Errorf("strategy.data_gap_policy %q not recognized", s.DataGapPolicy)
	}
	for _, w := range s.EntryTimeWindowEastern {
		if _, err := time.Parse("15:04:05", w.Open); err != nil {
			return fmt.Errorf("strategy.entry_time_window_eastern open %q invalid: %w", w.Open, err)
		}
		if _, err := time.Parse("15:04:05", w.Close); err != nil {
			return fmt.Errorf("strategy.entry_time_window_eastern close %q invalid: %w", w.Close, err)
		}
	}
	return nil
}
