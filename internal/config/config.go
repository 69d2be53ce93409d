// Package config provides application-wide configuration management.
// Everything is loaded from environment variables, with defaults suitable
// for local paper-trading. No configuration is hardcoded in signal, risk,
// or ledger logic.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all system configuration. Loaded once at startup and passed
// as read-only to every component.
type Config struct {
	// TradingPair is the single instrument this agent trades, e.g. "ETHUSDT".
	TradingPair string

	// AnalysisIntervalHours is how often the scheduler fires a cycle.
	AnalysisIntervalHours int

	// InitialBalance seeds the paper-trade ledger's starting cash.
	InitialBalance float64

	// Risk limits. All percentages are fractional (0.20 means 20%).
	MaxPositionPct  float64
	MaxExposurePct  float64
	MaxDailyLossPct float64
	MaxStopLossPct  float64
	TradingFeePct   float64
	SlippagePct     float64

	// SchedulerEnabled turns the background ticker on or off at startup.
	SchedulerEnabled bool

	// UseCognitiveFilter enables the optional regime-weighted signal
	// pre-aggregation step. Off by default.
	UseCognitiveFilter bool

	// DatabaseURL is the Postgres connection string, used both as the
	// pgxpool DSN and (reused verbatim) as the lib/pq listener DSN.
	DatabaseURL string

	// MarketDataBaseURL is the upstream candle feed's base URL.
	MarketDataBaseURL string

	// MindDocPath is where the cognitive state document lives on disk.
	MindDocPath string

	// MindTemplatePath seeds a fresh cognitive document when MindDocPath
	// is absent. Optional — empty means fall back to a built-in skeleton.
	MindTemplatePath string

	// HTTPAddr is the listen address for the read/command API.
	HTTPAddr string
}

// Load builds a Config purely from environment variables; a variable that is
// unset or fails to parse falls back to the default given below.
func Load() (*Config, error) {
	cfg := &Config{
		TradingPair:           getEnv("TRADING_PAIR", "ETHUSDT"),
		AnalysisIntervalHours: getEnvInt("ANALYSIS_INTERVAL_HOURS", 4),
		InitialBalance:        getEnvFloat("INITIAL_BALANCE", 10000),
		MaxPositionPct:        getEnvFloat("MAX_POSITION_PCT", 0.20),
		MaxExposurePct:        getEnvFloat("MAX_EXPOSURE_PCT", 0.60),
		MaxDailyLossPct:       getEnvFloat("MAX_DAILY_LOSS_PCT", 0.05),
		MaxStopLossPct:        getEnvFloat("MAX_STOP_LOSS_PCT", 0.08),
		TradingFeePct:         getEnvFloat("TRADING_FEE_PCT", 0.001),
		SlippagePct:           getEnvFloat("SLIPPAGE_PCT", 0.0005),
		SchedulerEnabled:      getEnvBool("SCHEDULER_ENABLED", true),
		UseCognitiveFilter:    getEnvBool("USE_COGNITIVE_FILTER", false),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		MarketDataBaseURL:     getEnv("MARKET_DATA_BASE_URL", "https://api.binance.com"),
		MindDocPath:           getEnv("MIND_DOC_PATH", "./data/market_mind.json"),
		MindTemplatePath:      getEnv("MIND_TEMPLATE_PATH", ""),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are present and sane.
func (c *Config) Validate() error {
	if c.TradingPair == "" {
		return fmt.Errorf("trading_pair is required")
	}
	if c.AnalysisIntervalHours <= 0 {
		return fmt.Errorf("analysis_interval_hours must be positive, got %d", c.AnalysisIntervalHours)
	}
	if c.InitialBalance <= 0 {
		return fmt.Errorf("initial_balance must be positive, got %f", c.InitialBalance)
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		return fmt.Errorf("max_position_pct must be in (0, 1], got %f", c.MaxPositionPct)
	}
	if c.MaxExposurePct <= 0 || c.MaxExposurePct > 1 {
		return fmt.Errorf("max_exposure_pct must be in (0, 1], got %f", c.MaxExposurePct)
	}
	if c.MaxDailyLossPct <= 0 || c.MaxDailyLossPct > 1 {
		return fmt.Errorf("max_daily_loss_pct must be in (0, 1], got %f", c.MaxDailyLossPct)
	}
	if c.MaxStopLossPct <= 0 || c.MaxStopLossPct > 1 {
		return fmt.Errorf("max_stop_loss_pct must be in (0, 1], got %f", c.MaxStopLossPct)
	}
	if c.TradingFeePct < 0 {
		return fmt.Errorf("trading_fee_pct must be non-negative, got %f", c.TradingFeePct)
	}
	if c.SlippagePct < 0 {
		return fmt.Errorf("slippage_pct must be non-negative, got %f", c.SlippagePct)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
