package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rustyeddy/backtest/market"
	"gopkg.in/yaml.v3"
)

// Config represents the complete backtest configuration
type Config struct {
	Backtest BacktestConfig `json:"backtest" yaml:"backtest"`
	Exchange ExchangeConfig `json:"exchange" yaml:"exchange"`
	Strategy StrategyConfig `json:"strategy" yaml:"strategy"`
	Feed     FeedConfig     `json:"feed" yaml:"feed"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	LogLevel string         `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

// BacktestConfig contains run parameters
type BacktestConfig struct {
	Symbol        string  `json:"symbol" yaml:"symbol"`
	Interval      string  `json:"interval" yaml:"interval"`
	Start         string  `json:"start,omitempty" yaml:"start,omitempty"` // RFC3339 or 2006-01-02
	End           string  `json:"end,omitempty" yaml:"end,omitempty"`
	WarmUpCandles int     `json:"warm_up_candles" yaml:"warm_up_candles"`
	InitialCash   float64 `json:"initial_cash" yaml:"initial_cash"`
}

// ExchangeConfig contains the simulated exchange parameters
type ExchangeConfig struct {
	FeeRate         float64 `json:"fee_rate" yaml:"fee_rate"`
	Leverage        float64 `json:"leverage" yaml:"leverage"`
	MarginCallRatio float64 `json:"margin_call_ratio" yaml:"margin_call_ratio"`
	MatchStops      bool    `json:"match_stops,omitempty" yaml:"match_stops,omitempty"`
	SlippageBound   float64 `json:"slippage_bound,omitempty" yaml:"slippage_bound,omitempty"`
	SlippageSeed    int64   `json:"slippage_seed,omitempty" yaml:"slippage_seed,omitempty"`
}

// StrategyConfig contains strategy selection and parameters
type StrategyConfig struct {
	Name       string  `json:"name" yaml:"name"`
	Quantity   float64 `json:"quantity" yaml:"quantity"`
	FastPeriod int     `json:"fast_period,omitempty" yaml:"fast_period,omitempty"`
	SlowPeriod int     `json:"slow_period,omitempty" yaml:"slow_period,omitempty"`
	StopPct    float64 `json:"stop_pct,omitempty" yaml:"stop_pct,omitempty"`
	TakePct    float64 `json:"take_pct,omitempty" yaml:"take_pct,omitempty"`
}

// FeedConfig selects the candle source
type FeedConfig struct {
	Type string `json:"type" yaml:"type"` // "csv" or "sqlite"
	Path string `json:"path" yaml:"path"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type          string `json:"type,omitempty" yaml:"type,omitempty"` // "", "csv" or "sqlite"
	PositionsFile string `json:"positions_file,omitempty" yaml:"positions_file,omitempty"`
	StepsFile     string `json:"steps_file,omitempty" yaml:"steps_file,omitempty"`
	DBPath        string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// LoadFromFile loads configuration from a file (YAML or JSON based on content)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Interval parses the configured candle interval.
func (c *Config) Interval() (market.Interval, error) {
	return market.ParseInterval(c.Backtest.Interval)
}

// Start parses the optional start time; zero when unset.
func (c *Config) Start() (time.Time, error) {
	return parseTime(c.Backtest.Start)
}

// End parses the optional end time; zero when unset.
func (c *Config) End() (time.Time, error) {
	return parseTime(c.Backtest.End)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q (want RFC3339 or YYYY-MM-DD)", s)
	}
	return t, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Backtest.Symbol == "" {
		return fmt.Errorf("backtest.symbol is required")
	}
	if _, err := c.Interval(); err != nil {
		return fmt.Errorf("backtest.interval: %w", err)
	}
	if c.Backtest.InitialCash <= 0 {
		return fmt.Errorf("backtest.initial_cash must be positive")
	}
	if c.Backtest.WarmUpCandles < 0 {
		return fmt.Errorf("backtest.warm_up_candles must not be negative")
	}
	if _, err := c.Start(); err != nil {
		return fmt.Errorf("backtest.start: %w", err)
	}
	if _, err := c.End(); err != nil {
		return fmt.Errorf("backtest.end: %w", err)
	}
	if c.Exchange.FeeRate < 0 || c.Exchange.FeeRate >= 1 {
		return fmt.Errorf("exchange.fee_rate must be in [0, 1)")
	}
	if c.Exchange.Leverage < 0 {
		return fmt.Errorf("exchange.leverage must not be negative")
	}
	if c.Exchange.MarginCallRatio < 0 || c.Exchange.MarginCallRatio >= 1 {
		return fmt.Errorf("exchange.margin_call_ratio must be in [0, 1)")
	}
	if c.Exchange.SlippageBound < 0 {
		return fmt.Errorf("exchange.slippage_bound must not be negative")
	}
	if c.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	if c.Feed.Type != "csv" && c.Feed.Type != "sqlite" {
		return fmt.Errorf("feed.type must be 'csv' or 'sqlite'")
	}
	if c.Feed.Path == "" {
		return fmt.Errorf("feed.path is required")
	}
	switch c.Journal.Type {
	case "":
	case "csv":
		if c.Journal.PositionsFile == "" || c.Journal.StepsFile == "" {
			return fmt.Errorf("journal positions_file and steps_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be empty, 'csv' or 'sqlite'")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Backtest: BacktestConfig{
			Symbol:        "BTC_USDT",
			Interval:      "1d",
			WarmUpCandles: 200,
			InitialCash:   10000,
		},
		Exchange: ExchangeConfig{
			FeeRate:         0.001,
			Leverage:        1,
			MarginCallRatio: 0.30,
		},
		Strategy: StrategyConfig{
			Name:       "ema-cross",
			Quantity:   1,
			FastPeriod: 10,
			SlowPeriod: 30,
		},
		Feed: FeedConfig{
			Type: "csv",
			Path: "./candles.csv",
		},
		LogLevel: "info",
	}
}
