// Package config loads and validates the engine's environment-driven
// configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Environment selects the operating mode.
type Environment string

const (
	EnvironmentDryRun  Environment = "DRY_RUN"
	EnvironmentTestnet Environment = "TESTNET"
	EnvironmentLive    Environment = "LIVE"
)

// Config is the engine's validated startup configuration.
type Config struct {
	Environment Environment

	Instruments []string

	MaxPositions         int
	MaxPositionSize      decimal.Decimal
	ActivationThreshold  float64
	StopATRMultiplier    float64
	MaxDrawdownPct       float64
	DailyLossLimitPct    float64
	MaxSlippagePct       float64
	Leverage             int

	StartingEquity decimal.Decimal

	MinPositionNotional decimal.Decimal
	MaxPositionNotional decimal.Decimal
	RiskPerTradePct     float64
	MaxCorrelationExposure decimal.Decimal

	VenueAPIKey    string
	VenueAPISecret string
	VenueBaseURL   string

	StoreDataDir string
	StoreTTLHours int

	HTTPHost string
	HTTPPort int
}

// Load reads configuration from the environment via viper, applying the
// documented defaults, and validates the result once.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("ENVIRONMENT", string(EnvironmentDryRun))
	v.SetDefault("INSTRUMENTS", "BTCUSDT")
	v.SetDefault("MAX_POSITIONS", 5)
	v.SetDefault("MAX_POSITION_SIZE", "1000")
	v.SetDefault("ACTIVATION_THRESHOLD", 0.7)
	v.SetDefault("STOP_ATR_MULTIPLIER", 2.0)
	v.SetDefault("MAX_DRAWDOWN_PCT", 15.0)
	v.SetDefault("DAILY_LOSS_LIMIT_PCT", 3.0)
	v.SetDefault("MAX_SLIPPAGE_PCT", 0.1)
	v.SetDefault("LEVERAGE", 1)
	v.SetDefault("STARTING_EQUITY", "10000")
	v.SetDefault("MIN_POSITION_NOTIONAL", "5")
	v.SetDefault("MAX_POSITION_NOTIONAL", "1000")
	v.SetDefault("RISK_PER_TRADE_PCT", 1.0)
	v.SetDefault("MAX_CORRELATION_EXPOSURE", "0")
	v.SetDefault("VENUE_BASE_URL", "https://testnet.binancefuture.com")
	v.SetDefault("STORE_DATA_DIR", "./data")
	v.SetDefault("STORE_TTL_HOURS", 24)
	v.SetDefault("HTTP_HOST", "localhost")
	v.SetDefault("HTTP_PORT", 8090)

	cfg := &Config{
		Environment:            Environment(v.GetString("ENVIRONMENT")),
		Instruments:            splitCSV(v.GetString("INSTRUMENTS")),
		MaxPositions:           v.GetInt("MAX_POSITIONS"),
		MaxPositionSize:        mustDecimal(v.GetString("MAX_POSITION_SIZE")),
		ActivationThreshold:    v.GetFloat64("ACTIVATION_THRESHOLD"),
		StopATRMultiplier:      v.GetFloat64("STOP_ATR_MULTIPLIER"),
		MaxDrawdownPct:         v.GetFloat64("MAX_DRAWDOWN_PCT"),
		DailyLossLimitPct:      v.GetFloat64("DAILY_LOSS_LIMIT_PCT"),
		MaxSlippagePct:         v.GetFloat64("MAX_SLIPPAGE_PCT"),
		Leverage:               v.GetInt("LEVERAGE"),
		StartingEquity:         mustDecimal(v.GetString("STARTING_EQUITY")),
		MinPositionNotional:    mustDecimal(v.GetString("MIN_POSITION_NOTIONAL")),
		MaxPositionNotional:    mustDecimal(v.GetString("MAX_POSITION_NOTIONAL")),
		RiskPerTradePct:        v.GetFloat64("RISK_PER_TRADE_PCT"),
		MaxCorrelationExposure: mustDecimal(v.GetString("MAX_CORRELATION_EXPOSURE")),
		VenueAPIKey:            v.GetString("VENUE_API_KEY"),
		VenueAPISecret:         v.GetString("VENUE_API_SECRET"),
		VenueBaseURL:           v.GetString("VENUE_BASE_URL"),
		StoreDataDir:           v.GetString("STORE_DATA_DIR"),
		StoreTTLHours:          v.GetInt("STORE_TTL_HOURS"),
		HTTPHost:               v.GetString("HTTP_HOST"),
		HTTPPort:               v.GetInt("HTTP_PORT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Environment {
	case EnvironmentDryRun, EnvironmentTestnet, EnvironmentLive:
	default:
		return fmt.Errorf("ENVIRONMENT must be one of DRY_RUN, TESTNET, LIVE, got %q", c.Environment)
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("INSTRUMENTS must name at least one instrument")
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("MAX_POSITIONS must be positive")
	}
	if c.ActivationThreshold <= 0 || c.ActivationThreshold > 1 {
		return fmt.Errorf("ACTIVATION_THRESHOLD must be in (0,1]")
	}
	if c.StopATRMultiplier <= 0 {
		return fmt.Errorf("STOP_ATR_MULTIPLIER must be positive")
	}
	if c.Environment == EnvironmentLive && (c.VenueAPIKey == "" || c.VenueAPISecret == "") {
		return fmt.Errorf("VENUE_API_KEY and VENUE_API_SECRET are required in LIVE environment")
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
