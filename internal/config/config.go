// Package config handles application configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/your-org/bybit-perp-bot/internal/market"
)

// Config defines the structure for all application configuration.
type Config struct {
	Mode     string       `yaml:"mode"`     // backtest, paper or live
	Strategy string       `yaml:"strategy"` // srsi or grid
	LogLevel string       `yaml:"log_level"`
	Trading  TradingConf  `yaml:"trading"`
	Feed     FeedConf     `yaml:"feed"`
	SRSI     SRSIConf     `yaml:"srsi"`
	Grid     GridConf     `yaml:"grid"`
	Backtest BacktestConf `yaml:"backtest"`
	CSVDir   string       `yaml:"csv_dir"`
	DBWriter DBWriterConf `yaml:"dbwriter"`

	APIKey    string `yaml:"-"` // Loaded from env
	APISecret string `yaml:"-"` // Loaded from env
}

// TradingConf holds position and fill-economics parameters shared by all modes.
type TradingConf struct {
	Timeframes    []string `yaml:"timeframes"`     // minutes, e.g. ["1", "15"]
	CandleLimit   int      `yaml:"candle_limit"`   // retention per (symbol, timeframe)
	MaxPositions  int      `yaml:"max_positions"`  // global concurrent-position cap
	StartBalance  float64  `yaml:"start_balance"`  // USD
	FeeRate       float64  `yaml:"fee_rate"`       // taker fee per fill, e.g. 0.00055
	SlippagePct   float64  `yaml:"slippage_pct"`   // fractional, e.g. 0.0005
	LatencyMs     int      `yaml:"latency_ms"`     // simulated order latency
	Leverage      float64  `yaml:"leverage"`       // 0 leaves exchange setting untouched
	TrailingPct   float64  `yaml:"trailing_pct"`   // trailing stop distance, percent
	SizeMethod    string   `yaml:"size_method"`    // percent or flat
	SizePct       float64  `yaml:"size_pct"`       // sizing value: percent of equity, or flat quote amount
	ATRMultiplier float64  `yaml:"atr_multiplier"` // SL distance in ATRs
}

// FeedConf holds streaming and backfill parameters.
type FeedConf struct {
	WSURL             string `yaml:"ws_url"`
	RESTURL           string `yaml:"rest_url"`
	HeartbeatSec      int    `yaml:"heartbeat_sec"`       // ping cadence
	ReconnectDelaySec int    `yaml:"reconnect_delay_sec"` // initial backoff
	ReconnectCapSec   int    `yaml:"reconnect_cap_sec"`   // backoff ceiling
	OutageSec         int    `yaml:"outage_sec"`          // silence before hard recovery
	TopicChunk        int    `yaml:"topic_chunk"`         // max topics per subscribe message
	BackfillWorkers   int    `yaml:"backfill_workers"`
}

// SRSIConf holds parameters for the stochastic-RSI strategy.
type SRSIConf struct {
	BuyThreshold   float64 `yaml:"buy_threshold"`
	SellThreshold  float64 `yaml:"sell_threshold"`
	UseCross       bool    `yaml:"use_cross"`
	UseTrendFilter bool    `yaml:"use_trend_filter"`
	NumSymbols     int     `yaml:"num_symbols"`
}

// GridConf holds parameters for the grid/breakout strategy.
type GridConf struct {
	NumLevels         int     `yaml:"num_levels"`
	SpacingPct        float64 `yaml:"spacing_pct"`
	BreakoutOffsetPct float64 `yaml:"breakout_offset_pct"`
	NumSymbols        int     `yaml:"num_symbols"`
}

// BacktestConf holds replay parameters.
type BacktestConf struct {
	Days       int `yaml:"days"`
	MaxSymbols int `yaml:"max_symbols"`
	Trials     int `yaml:"trials"` // optimizer budget
}

// DBWriterConf configures the optional TimescaleDB event sink.
// A zero BatchSize disables the writer.
type DBWriterConf struct {
	DSN                  string `yaml:"dsn"`
	BatchSize            int    `yaml:"batch_size"`
	WriteIntervalSeconds int    `yaml:"write_interval_seconds"`
}

// Load loads configuration from the specified YAML file path
// and environment variables, then applies defaults.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Mode:     "paper",
		Strategy: "srsi",
		LogLevel: "info",
	}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if apiKey := os.Getenv("BYBIT_API_KEY"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	if apiSecret := os.Getenv("BYBIT_API_SECRET"); apiSecret != "" {
		cfg.APISecret = apiSecret
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Trading.Timeframes) == 0 {
		c.Trading.Timeframes = []string{"1", "15"}
	}
	if c.Trading.CandleLimit == 0 {
		c.Trading.CandleLimit = 50
	}
	if c.Trading.MaxPositions == 0 {
		c.Trading.MaxPositions = 5
	}
	if c.Trading.StartBalance == 0 {
		c.Trading.StartBalance = 1000
	}
	if c.Trading.SlippagePct == 0 {
		c.Trading.SlippagePct = 0.0005
	}
	if c.Trading.FeeRate == 0 {
		c.Trading.FeeRate = 0.00055
	}
	if c.Trading.TrailingPct == 0 {
		c.Trading.TrailingPct = 1
	}
	if c.Trading.SizeMethod == "" {
		c.Trading.SizeMethod = "percent"
	}
	if c.Trading.SizePct == 0 {
		c.Trading.SizePct = 1
	}
	if c.Trading.ATRMultiplier == 0 {
		c.Trading.ATRMultiplier = 2
	}
	if c.Feed.WSURL == "" {
		c.Feed.WSURL = "wss://stream.bybit.com/v5/public/linear"
	}
	if c.Feed.RESTURL == "" {
		c.Feed.RESTURL = "https://api.bybit.com"
	}
	if c.Feed.HeartbeatSec == 0 {
		c.Feed.HeartbeatSec = 20
	}
	if c.Feed.ReconnectDelaySec == 0 {
		c.Feed.ReconnectDelaySec = 5
	}
	if c.Feed.ReconnectCapSec == 0 {
		c.Feed.ReconnectCapSec = 60
	}
	if c.Feed.OutageSec == 0 {
		c.Feed.OutageSec = 120
	}
	if c.Feed.TopicChunk == 0 {
		c.Feed.TopicChunk = 500
	}
	if c.Feed.BackfillWorkers == 0 {
		c.Feed.BackfillWorkers = 20
	}
	if c.SRSI.BuyThreshold == 0 {
		c.SRSI.BuyThreshold = 20
	}
	if c.SRSI.SellThreshold == 0 {
		c.SRSI.SellThreshold = 80
	}
	if c.SRSI.NumSymbols == 0 {
		c.SRSI.NumSymbols = 5
	}
	if c.Grid.NumLevels == 0 {
		c.Grid.NumLevels = 6
	}
	if c.Grid.SpacingPct == 0 {
		c.Grid.SpacingPct = 50
	}
	if c.Grid.BreakoutOffsetPct == 0 {
		c.Grid.BreakoutOffsetPct = 0.5
	}
	if c.Grid.NumSymbols == 0 {
		c.Grid.NumSymbols = 5
	}
	if c.Backtest.Days == 0 {
		c.Backtest.Days = 30
	}
	if c.Backtest.MaxSymbols == 0 {
		c.Backtest.MaxSymbols = 50
	}
	if c.Backtest.Trials == 0 {
		c.Backtest.Trials = 100
	}
	if c.CSVDir == "" {
		c.CSVDir = "logs"
	}
}

// Validate rejects configurations the bot cannot start with.
// Configuration errors are fatal at startup only.
func (c *Config) Validate() error {
	switch c.Mode {
	case "backtest", "paper", "live":
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	switch c.Strategy {
	case "srsi", "grid":
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.Mode == "live" && (c.APIKey == "" || c.APISecret == "") {
		return fmt.Errorf("live mode requires BYBIT_API_KEY and BYBIT_API_SECRET")
	}
	if c.Trading.CandleLimit < 2 {
		return fmt.Errorf("candle_limit must be at least 2, got %d", c.Trading.CandleLimit)
	}
	if c.Trading.MaxPositions < 1 {
		return fmt.Errorf("max_positions must be positive, got %d", c.Trading.MaxPositions)
	}
	if c.Trading.StartBalance < 0 {
		return fmt.Errorf("start_balance must be non-negative, got %f", c.Trading.StartBalance)
	}
	switch c.Trading.SizeMethod {
	case "percent", "flat":
	default:
		return fmt.Errorf("unknown size_method %q", c.Trading.SizeMethod)
	}
	for _, tf := range c.Trading.Timeframes {
		if _, err := market.IntervalMs(tf); err != nil {
			return fmt.Errorf("trading.timeframes: %w", err)
		}
	}
	return nil
}
