package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance  Binance  `mapstructure:"binance"`
	Trading  Trading  `mapstructure:"trading"`
	Risk     Risk     `mapstructure:"risk"`
	Scoring  Scoring  `mapstructure:"scoring"`
	Ledger   Ledger   `mapstructure:"ledger"`
	Universe Universe `mapstructure:"universe"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Binance holds the configuration for the Binance REST API.
type Binance struct {
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Trading holds the configuration for the scan/monitor loop.
type Trading struct {
	StartingBalance float64  `mapstructure:"starting_balance"`
	TradePairs      []string `mapstructure:"trade_pairs"`
	ScoreThreshold  int      `mapstructure:"score_threshold"`
	MaxPerScan      int      `mapstructure:"max_per_scan"`
	CooldownSec     int      `mapstructure:"cooldown_sec"`
	PollIntervalMs  int      `mapstructure:"poll_interval_ms"`
	ScanPauseSec    int      `mapstructure:"scan_pause_sec"`
}

// Risk holds the position sizing and concurrency limits.
type Risk struct {
	MaxPercentPerTrade        float64 `mapstructure:"max_percent_per_trade"`
	DailyDrawdownLimitPercent float64 `mapstructure:"daily_drawdown_limit_percent"`
	MaxConcurrentTrades       int     `mapstructure:"max_concurrent_trades"`
}

// Weights is the sub-score weight table. The weights must sum to 100.
type Weights struct {
	Breakout float64 `mapstructure:"breakout"`
	EMA      float64 `mapstructure:"ema"`
	RSI      float64 `mapstructure:"rsi"`
	ADX      float64 `mapstructure:"adx"`
	MACD     float64 `mapstructure:"macd"`
	Volume   float64 `mapstructure:"volume"`
	Impulse  float64 `mapstructure:"impulse"`
	RR       float64 `mapstructure:"rr"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Breakout + w.EMA + w.RSI + w.ADX + w.MACD + w.Volume + w.Impulse + w.RR
}

// Scoring holds every tunable of the scoring engine. The soft-score bounds are
// hand-picked values the score threshold was tuned against; they are
// configuration, not derived constants.
type Scoring struct {
	SlowInterval     string  `mapstructure:"slow_interval"`
	SlowLimit        int     `mapstructure:"slow_limit"`
	FastInterval     string  `mapstructure:"fast_interval"`
	FastLimit        int     `mapstructure:"fast_limit"`
	TargetPercentage float64 `mapstructure:"target_percentage"`
	MinQuoteVolume   float64 `mapstructure:"min_quote_volume"`
	LiquidityBars    int     `mapstructure:"liquidity_bars"`
	RecentHighBars   int     `mapstructure:"recent_high_bars"`
	BreakoutPctFloor float64 `mapstructure:"breakout_pct_floor"`
	BreakoutATRFrac  float64 `mapstructure:"breakout_atr_frac"`
	RSILow           float64 `mapstructure:"rsi_low"`
	RSIHigh          float64 `mapstructure:"rsi_high"`
	ADXLow           float64 `mapstructure:"adx_low"`
	ADXHigh          float64 `mapstructure:"adx_high"`
	VolumeRatioLow   float64 `mapstructure:"volume_ratio_low"`
	VolumeRatioHigh  float64 `mapstructure:"volume_ratio_high"`
	VolumeAvgBars    int     `mapstructure:"volume_avg_bars"`
	ImpulseMinPct    float64 `mapstructure:"impulse_min_pct"`
	RRMaxATRMultiple float64 `mapstructure:"rr_max_atr_multiple"`
	LevelLookback    int     `mapstructure:"level_lookback"`
	ChannelLookback  int     `mapstructure:"channel_lookback"`
	Weights          Weights `mapstructure:"weights"`
}

// Ledger holds the persistence settings for the execution simulator.
type Ledger struct {
	Path       string `mapstructure:"path"`
	MaxHoldSec int    `mapstructure:"max_hold_sec"`
}

// Universe holds the tradable-universe refresh settings.
type Universe struct {
	QuoteAsset   string  `mapstructure:"quote_asset"`
	MinChangePct float64 `mapstructure:"min_change_pct"`
	Limit        int     `mapstructure:"limit"`
}

// Server holds the configuration for the HTTP status/metrics server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the sqlite trade-history mirror.
// An empty DSN disables the mirror.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	err = config.Validate()
	return
}

func setDefaults() {
	viper.SetDefault("binance.rate_limit", 20) // requests per second
	viper.SetDefault("binance.rate_limit_burst", 5)

	viper.SetDefault("trading.starting_balance", 1500.0)
	viper.SetDefault("trading.score_threshold", 60)
	viper.SetDefault("trading.max_per_scan", 0) // 0 = unlimited
	viper.SetDefault("trading.cooldown_sec", 3600)
	viper.SetDefault("trading.poll_interval_ms", 500)
	viper.SetDefault("trading.scan_pause_sec", 2)

	viper.SetDefault("risk.max_percent_per_trade", 1.0)
	viper.SetDefault("risk.daily_drawdown_limit_percent", 5.0)
	viper.SetDefault("risk.max_concurrent_trades", 1)

	viper.SetDefault("scoring.slow_interval", "5m")
	viper.SetDefault("scoring.slow_limit", 300)
	viper.SetDefault("scoring.fast_interval", "1m")
	viper.SetDefault("scoring.fast_limit", 3)
	viper.SetDefault("scoring.target_percentage", 0.2)
	viper.SetDefault("scoring.min_quote_volume", 300000.0)
	viper.SetDefault("scoring.liquidity_bars", 15)
	viper.SetDefault("scoring.recent_high_bars", 40)
	viper.SetDefault("scoring.breakout_pct_floor", 0.15)
	viper.SetDefault("scoring.breakout_atr_frac", 0.25)
	viper.SetDefault("scoring.rsi_low", 50.0)
	viper.SetDefault("scoring.rsi_high", 65.0)
	viper.SetDefault("scoring.adx_low", 20.0)
	viper.SetDefault("scoring.adx_high", 28.0)
	viper.SetDefault("scoring.volume_ratio_low", 1.0)
	viper.SetDefault("scoring.volume_ratio_high", 2.0)
	viper.SetDefault("scoring.volume_avg_bars", 20)
	viper.SetDefault("scoring.impulse_min_pct", 0.05)
	viper.SetDefault("scoring.rr_max_atr_multiple", 1.2)
	viper.SetDefault("scoring.level_lookback", 240)
	viper.SetDefault("scoring.channel_lookback", 180)
	viper.SetDefault("scoring.weights.breakout", 18.0)
	viper.SetDefault("scoring.weights.ema", 15.0)
	viper.SetDefault("scoring.weights.rsi", 12.0)
	viper.SetDefault("scoring.weights.adx", 12.0)
	viper.SetDefault("scoring.weights.macd", 12.0)
	viper.SetDefault("scoring.weights.volume", 8.0)
	viper.SetDefault("scoring.weights.impulse", 13.0)
	viper.SetDefault("scoring.weights.rr", 10.0)

	viper.SetDefault("ledger.path", "trade_log.json")
	viper.SetDefault("ledger.max_hold_sec", 900)

	viper.SetDefault("universe.quote_asset", "USDT")
	viper.SetDefault("universe.min_change_pct", 10.0)
	viper.SetDefault("universe.limit", 40)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")

	viper.SetDefault("server.port", 8080)
}

// Validate checks that required settings are present and coherent.
// Configuration errors are fatal at startup, never discovered mid-loop.
func (c *Config) Validate() error {
	if len(c.Trading.TradePairs) == 0 {
		return fmt.Errorf("trading.trade_pairs must not be empty")
	}
	if c.Trading.StartingBalance <= 0 {
		return fmt.Errorf("trading.starting_balance must be positive, got %f", c.Trading.StartingBalance)
	}
	if c.Risk.MaxPercentPerTrade <= 0 || c.Risk.MaxPercentPerTrade > 1 {
		return fmt.Errorf("risk.max_percent_per_trade must be in (0, 1], got %f", c.Risk.MaxPercentPerTrade)
	}
	if c.Risk.MaxConcurrentTrades < 1 {
		return fmt.Errorf("risk.max_concurrent_trades must be at least 1, got %d", c.Risk.MaxConcurrentTrades)
	}
	if c.Scoring.TargetPercentage <= 0 {
		return fmt.Errorf("scoring.target_percentage must be positive, got %f", c.Scoring.TargetPercentage)
	}
	if sum := c.Scoring.Weights.Sum(); sum != 100 {
		return fmt.Errorf("scoring.weights must sum to 100, got %f", sum)
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path must not be empty")
	}
	if c.Ledger.MaxHoldSec <= 0 {
		return fmt.Errorf("ledger.max_hold_sec must be positive, got %d", c.Ledger.MaxHoldSec)
	}
	return nil
}
