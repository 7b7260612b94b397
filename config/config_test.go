package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"candlealert/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// go test -v --run TestLoadFileAppliesDefaults
func TestLoadFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
symbols:
  - name: btcusdt
    timeframes: [4h, 1d]
`)
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Symbols[0].Name)
	assert.Equal(t, 14, cfg.Indicators.RSI.Period)
	assert.Equal(t, 70.0, cfg.Indicators.RSI.Overbought)
	assert.Equal(t, 85.0, cfg.Indicators.RSI.ExtremeOverbought)
	assert.Equal(t, 35.0, cfg.Indicators.RSI.RecoveryLow)
	assert.Equal(t, 65.0, cfg.Indicators.RSI.RecoveryHigh)
	assert.Equal(t, 5, cfg.Indicators.Divergence.PivotLeft)
	assert.Equal(t, 60, cfg.Indicators.Divergence.RangeMax)
	assert.Equal(t, 20, cfg.Alerts.Throttling.MaxAlertsPerHour)
	assert.Equal(t, 5, cfg.Alerts.CircuitBreaker.MaxAlertsPerMinute)
	assert.Equal(t, 6*time.Second, cfg.Alerts.ConsolidationInterval)
	assert.Equal(t, 5*time.Second, cfg.Alerts.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Storage.OpenWriteInterval)
	assert.Equal(t, 90*time.Second, cfg.Binance.WS.WatchdogTimeout)
	assert.Equal(t, 30*time.Second, cfg.Binance.WS.Backoff.Max)
}

// go test -v --run TestLoadFileRejectsInconsistentThresholds
func TestLoadFileRejectsInconsistentThresholds(t *testing.T) {
	path := writeConfig(t, `
symbols:
  - name: BTCUSDT
    timeframes: [4h]
indicators:
  rsi:
    overbought: 70
    extreme_overbought: 65
`)
	_, err := config.LoadFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

// go test -v --run TestValidate
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		ok     bool
	}{
		{"defaults with one symbol", func(c *config.Config) {}, true},
		{"no symbols", func(c *config.Config) { c.Symbols = nil }, false},
		{"unknown timeframe", func(c *config.Config) { c.Symbols[0].Timeframes = []string{"7h"} }, false},
		{"recovery band overlaps overbought", func(c *config.Config) { c.Indicators.RSI.RecoveryHigh = 72 }, false},
		{"range_min above range_max", func(c *config.Config) { c.Indicators.Divergence.RangeMin = 70 }, false},
		{"unsupported driver", func(c *config.Config) { c.Storage.Driver = "mongo" }, false},
		{"telegram without token", func(c *config.Config) { c.Notify.Telegram.Enabled = true }, false},
		{"zero hourly cap", func(c *config.Config) { c.Alerts.Throttling.MaxAlertsPerHour = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Symbols = []config.SymbolConfig{{Name: "BTCUSDT", Timeframes: []string{"4h", "1d"}}}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, config.ErrInvalid)
			}
		})
	}
}

// go test -v --run TestSeries
func TestSeries(t *testing.T) {
	cfg := config.Default()
	cfg.Symbols = []config.SymbolConfig{
		{Name: "BTCUSDT", Timeframes: []string{"4h", "1d"}},
		{Name: "ETHUSDT", Timeframes: []string{"1w"}},
	}
	series := cfg.Series()
	require.Len(t, series, 3)
	assert.Equal(t, "BTCUSDT_4h", series[0].Key())
	assert.Equal(t, "ETHUSDT_1w", series[2].Key())
}

// go test -v --run TestPostgresDSN
func TestPostgresDSN(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "pw",
		DBName:   "candlealert",
		SSLMode:  "disable",
		TimeZone: "UTC",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=pw dbname=candlealert sslmode=disable TimeZone=UTC",
		cfg.DSN("dev"))
	assert.Contains(t, cfg.AdminDSN(), "dbname=postgres")
}
