package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
symbol: ETH-USD
dry_run: true
order_size: "0.5"
max_position: "2"
tick_size: "0.01"
threshold:
  adaptive: true
  window_size: 500
  update_interval: 30s
  percentile: 80
  min: "0.05"
  max: "0.8"
  min_samples: 200
close:
  multiplier: "0.12"
  min_spread: "0.2"
  stages:
    - after: 1h
      multiplier: "0.08"
      min_spread: "0.1"
execution:
  fill_timeout: 3s
  hedge_max_attempts: 5
engine:
  position_sync_interval: 90s
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ETH-USD", cfg.Symbol)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "0.5", cfg.OrderSize.String())
	assert.Equal(t, "0.01", cfg.TickSize.String())

	assert.True(t, cfg.Threshold.Adaptive)
	assert.Equal(t, 500, cfg.Threshold.WindowSize)
	assert.Equal(t, 30*time.Second, cfg.Threshold.UpdateInterval.Duration)
	assert.Equal(t, float64(80), cfg.Threshold.Percentile)
	assert.Equal(t, 200, cfg.Threshold.MinSamples)

	require.Len(t, cfg.Close.Stages, 1)
	assert.Equal(t, time.Hour, cfg.Close.Stages[0].After.Duration)
	assert.Equal(t, "0.08", cfg.Close.Stages[0].Multiplier.String())

	assert.Equal(t, 3*time.Second, cfg.Execution.FillTimeout.Duration)
	assert.Equal(t, 5, cfg.Execution.HedgeMaxAttempts)
	assert.Equal(t, 90*time.Second, cfg.Engine.PositionSyncInterval.Duration)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "dry_run: true\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "BTC-USD", cfg.Symbol)
	assert.Equal(t, "0.1", cfg.OrderSize.String())
	assert.Equal(t, 5*time.Second, cfg.Execution.FillTimeout.Duration)
	assert.Equal(t, 100*time.Millisecond, cfg.Execution.PollInterval.Duration)
	assert.Equal(t, "0.05", cfg.Execution.PriceTolerancePct.String())
	assert.Equal(t, 1000, cfg.Threshold.WindowSize)
	assert.Equal(t, 100, cfg.Threshold.MinSamples)
	assert.Equal(t, time.Minute, cfg.Engine.PositionSyncInterval.Duration)
	assert.Equal(t, time.Hour, cfg.Engine.StatusLogInterval.Duration)
	assert.Equal(t, 5*time.Minute, cfg.Engine.SkipLogInterval.Duration)
	assert.Equal(t, 3, cfg.Unwind.MaxAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestDurationAcceptsSecondsNumber(t *testing.T) {
	path := writeConfig(t, `
dry_run: true
execution:
  fill_timeout: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Execution.FillTimeout.Duration)
}

func TestValidateRejectsOrderSizeAboveMax(t *testing.T) {
	path := writeConfig(t, `
dry_run: true
order_size: "5"
max_position: "1"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order_size")
}

func TestValidateRequiresFeedsWhenLive(t *testing.T) {
	path := writeConfig(t, "dry_run: false\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws_url")
}

func TestEnvOverridesFeedURLs(t *testing.T) {
	t.Setenv("GOARB_MAKER_WS_URL", "wss://maker.example/ws")
	t.Setenv("GOARB_TAKER_WS_URL", "wss://taker.example/ws")

	path := writeConfig(t, "dry_run: false\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://maker.example/ws", cfg.Feeds.Maker.WSURL)
	assert.Equal(t, "wss://taker.example/ws", cfg.Feeds.Taker.WSURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestDecimalRejectsGarbage(t *testing.T) {
	path := writeConfig(t, "order_size: \"abc\"\n")
	_, err := Load(path)
	require.Error(t, err)
}
