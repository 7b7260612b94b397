package config

import (
	"fmt"
	"strings"

	"candlealert/pkg/market"
)

var knownIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// Validate rejects configurations the alert pipeline cannot run with.
// The pipeline assumes every check below holds.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(c.Symbols) == 0 {
		add("symbols: at least one symbol is required")
	}
	for _, s := range c.Symbols {
		if s.Name == "" {
			add("symbols: empty name")
		}
		if len(s.Timeframes) == 0 {
			add("symbols[%s]: no timeframes", s.Name)
		}
		for _, tf := range s.Timeframes {
			if !knownIntervals[tf] {
				add("symbols[%s]: unknown timeframe %q", s.Name, tf)
			}
		}
	}

	switch c.Storage.Driver {
	case "postgres", "sqlite", "memory":
	default:
		add("storage.driver: unsupported %q", c.Storage.Driver)
	}
	if c.Storage.OpenWriteInterval < 0 {
		add("storage.open_write_interval: must not be negative")
	}
	if c.Storage.Cleanup.Enabled {
		if c.Storage.Cleanup.RetentionDays <= 0 {
			add("storage.cleanup.retention_days: must be positive")
		}
		if c.Storage.Cleanup.MinCandlesPerTF < 0 {
			add("storage.cleanup.min_candles_per_tf: must not be negative")
		}
		if c.Storage.Cleanup.HourUTC < 0 || c.Storage.Cleanup.HourUTC > 23 {
			add("storage.cleanup.hour_utc: must be within 0..23")
		}
	}

	rsi := c.Indicators.RSI
	if rsi.Period < 2 {
		add("indicators.rsi.period: must be at least 2")
	}
	if !(rsi.ExtremeOversold < rsi.Oversold && rsi.Oversold < rsi.RecoveryLow &&
		rsi.RecoveryLow <= rsi.RecoveryHigh && rsi.RecoveryHigh < rsi.Overbought &&
		rsi.Overbought < rsi.ExtremeOverbought) {
		add("indicators.rsi: thresholds must satisfy extreme_oversold < oversold < recovery_low <= recovery_high < overbought < extreme_overbought")
	}
	if rsi.ExtremeOversold < 0 || rsi.ExtremeOverbought > 100 {
		add("indicators.rsi: thresholds must lie within 0..100")
	}
	if rsi.Lookback < rsi.Period+1 {
		add("indicators.rsi.lookback: must be at least period+1")
	}
	checkTimeframes(add, "indicators.rsi.timeframes", rsi.Timeframes)

	br := c.Indicators.Breakout
	if br.MarginPct < 0 {
		add("indicators.breakout.margin_pct: must not be negative")
	}
	checkTimeframes(add, "indicators.breakout.timeframes", br.Timeframes)

	div := c.Indicators.Divergence
	if div.PivotLeft <= 0 || div.PivotRight <= 0 {
		add("indicators.divergence: pivot_left and pivot_right must be positive")
	}
	if div.RangeMin < 0 || div.RangeMin > div.RangeMax {
		add("indicators.divergence: need 0 <= range_min <= range_max")
	}
	if div.Lookback < div.PivotLeft+div.PivotRight+rsi.Period+1 {
		add("indicators.divergence.lookback: too short for the pivot window and RSI warmup")
	}
	if div.PivotHistory <= 0 {
		add("indicators.divergence.pivot_history: must be positive")
	}
	if div.BullishRSIMax <= 0 || div.BearishRSIMin >= 100 {
		add("indicators.divergence: rsi bounds must lie within 0..100")
	}
	checkTimeframes(add, "indicators.divergence.timeframes", div.Timeframes)

	a := c.Alerts
	if a.PollInterval <= 0 || a.ConsolidationInterval <= 0 {
		add("alerts: poll_interval and consolidation_interval must be positive")
	}
	if a.CleanupEvery <= 0 {
		add("alerts.cleanup_every: must be positive")
	}
	if a.DedupTTL <= 0 {
		add("alerts.dedup_ttl: must be positive")
	}
	if a.Throttling.MaxAlertsPerHour <= 0 {
		add("alerts.throttling.max_alerts_per_hour: must be positive")
	}
	if a.CircuitBreaker.Enabled && a.CircuitBreaker.MaxAlertsPerMinute <= 0 {
		add("alerts.circuit_breaker.max_alerts_per_minute: must be positive")
	}

	n := c.Notify
	if n.Telegram.Enabled && (n.Telegram.BotToken == "" || n.Telegram.ChatID == "") {
		add("notify.telegram: bot_token and chat_id are required")
	}
	if n.Webhook.Enabled && n.Webhook.URL == "" {
		add("notify.webhook.url: required")
	}
	if n.Redis.Enabled && (n.Redis.Addr == "" || n.Redis.Channel == "") {
		add("notify.redis: addr and channel are required")
	}
	if n.Kafka.Enabled && (n.Kafka.Brokers == "" || n.Kafka.Topic == "") {
		add("notify.kafka: brokers and topic are required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func checkTimeframes(add func(string, ...any), field string, tfs []string) {
	for _, tf := range tfs {
		if !knownIntervals[tf] {
			add("%s: unknown timeframe %q", field, tf)
		}
	}
}

// Series lists every configured (symbol, timeframe) pair in configuration order.
func (c *Config) Series() []market.Series {
	var out []market.Series
	for _, s := range c.Symbols {
		for _, tf := range s.Timeframes {
			out = append(out, market.Series{Symbol: s.Name, Interval: tf})
		}
	}
	return out
}

// Contains reports whether tf appears in tfs.
func Contains(tfs []string, tf string) bool {
	for _, t := range tfs {
		if t == tf {
			return true
		}
	}
	return false
}
