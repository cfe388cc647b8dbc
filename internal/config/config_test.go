// Package config_test provides tests for environment-driven configuration.
package config_test

import (
	"testing"

	"github.com/atlas-desktop/trading-backend/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDocumentedDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.EnvironmentDryRun, cfg.Environment)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Instruments)
	assert.Equal(t, 5, cfg.MaxPositions)
	assert.Equal(t, 0.7, cfg.ActivationThreshold)
	assert.Equal(t, 2.0, cfg.StopATRMultiplier)
	assert.Equal(t, 15.0, cfg.MaxDrawdownPct)
	assert.Equal(t, 3.0, cfg.DailyLossLimitPct)
	assert.Equal(t, 0.1, cfg.MaxSlippagePct)
	assert.True(t, cfg.MinPositionNotional.Equal(decimal.NewFromInt(5)))
	assert.True(t, cfg.MaxPositionNotional.Equal(decimal.NewFromInt(1000)))
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "TESTNET")
	t.Setenv("INSTRUMENTS", "BTCUSDT, ETHUSDT ,SOLUSDT")
	t.Setenv("MAX_POSITIONS", "3")
	t.Setenv("ACTIVATION_THRESHOLD", "0.5")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.EnvironmentTestnet, cfg.Environment)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Instruments)
	assert.Equal(t, 3, cfg.MaxPositions)
	assert.Equal(t, 0.5, cfg.ActivationThreshold)
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "PRODUCTION")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoadRejectsEmptyInstrumentList(t *testing.T) {
	t.Setenv("INSTRUMENTS", " , ")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoadRejectsOutOfRangeActivationThreshold(t *testing.T) {
	t.Setenv("ACTIVATION_THRESHOLD", "1.5")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoadRequiresCredentialsInLiveEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "LIVE")
	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("VENUE_API_KEY", "key")
	t.Setenv("VENUE_API_SECRET", "secret")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.EnvironmentLive, cfg.Environment)
}
