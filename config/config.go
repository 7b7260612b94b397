package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalid wraps every validation failure returned by Validate.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Binance    BinanceConfig    `mapstructure:"binance"`
	Symbols    []SymbolConfig   `mapstructure:"symbols"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Indicators IndicatorsConfig `mapstructure:"indicators"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
}

type BinanceConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
}

type RESTConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	BackfillLimit int           `mapstructure:"backfill_limit"`
	RateLimit     float64       `mapstructure:"rate_limit"` // requests per second
	MaxAttempts   int           `mapstructure:"max_attempts"`
}

type WSConfig struct {
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PongTimeout      time.Duration `mapstructure:"pong_timeout"`
	ReceiveTimeout   time.Duration `mapstructure:"receive_timeout"`
	WatchdogTimeout  time.Duration `mapstructure:"watchdog_timeout"`
	Backoff          BackoffConfig `mapstructure:"backoff"`
}

type BackoffConfig struct {
	Initial time.Duration `mapstructure:"initial"`
	Max     time.Duration `mapstructure:"max"`
	Jitter  float64       `mapstructure:"jitter"`
}

// SymbolConfig maps one symbol to the timeframes streamed for it.
type SymbolConfig struct {
	Name       string   `mapstructure:"name"`
	Timeframes []string `mapstructure:"timeframes"`
}

type StorageConfig struct {
	Driver            string        `mapstructure:"driver"` // "postgres", "sqlite" or "memory"
	SQLitePath        string        `mapstructure:"sqlite_path"`
	CreateDatabase    bool          `mapstructure:"create_database"`
	OpenWriteInterval time.Duration `mapstructure:"open_write_interval"`
	Cleanup           CleanupConfig `mapstructure:"cleanup"`
}

type CleanupConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	RetentionDays   int  `mapstructure:"retention_days"`
	MinCandlesPerTF int  `mapstructure:"min_candles_per_tf"`
	HourUTC         int  `mapstructure:"hour_utc"`
}

type IndicatorsConfig struct {
	RSI        RSIConfig        `mapstructure:"rsi"`
	Breakout   BreakoutConfig   `mapstructure:"breakout"`
	Divergence DivergenceConfig `mapstructure:"divergence"`
}

type RSIConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	Period            int      `mapstructure:"period"`
	Timeframes        []string `mapstructure:"timeframes"`
	Overbought        float64  `mapstructure:"overbought"`
	Oversold          float64  `mapstructure:"oversold"`
	ExtremeOverbought float64  `mapstructure:"extreme_overbought"`
	ExtremeOversold   float64  `mapstructure:"extreme_oversold"`
	RecoveryLow       float64  `mapstructure:"recovery_low"`
	RecoveryHigh      float64  `mapstructure:"recovery_high"`
	Lookback          int      `mapstructure:"lookback"`
}

type BreakoutConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Timeframes []string `mapstructure:"timeframes"`
	MarginPct  float64  `mapstructure:"margin_pct"`
}

type DivergenceConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Timeframes    []string `mapstructure:"timeframes"`
	Lookback      int      `mapstructure:"lookback"`
	PivotLeft     int      `mapstructure:"pivot_left"`
	PivotRight    int      `mapstructure:"pivot_right"`
	RangeMin      int      `mapstructure:"range_min"`
	RangeMax      int      `mapstructure:"range_max"`
	BullishRSIMax float64  `mapstructure:"bullish_rsi_max"`
	BearishRSIMin float64  `mapstructure:"bearish_rsi_min"`
	PivotHistory  int      `mapstructure:"pivot_history"`
}

type AlertsConfig struct {
	PollInterval          time.Duration        `mapstructure:"poll_interval"`
	ConsolidationInterval time.Duration        `mapstructure:"consolidation_interval"`
	CleanupEvery          int                  `mapstructure:"cleanup_every"`
	DedupTTL              time.Duration        `mapstructure:"dedup_ttl"`
	ConsolidateMultiTF    bool                 `mapstructure:"consolidate_multi_tf"`
	FlushTimeout          time.Duration        `mapstructure:"flush_timeout"`
	Throttling            ThrottlingConfig     `mapstructure:"throttling"`
	CircuitBreaker        CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type ThrottlingConfig struct {
	MaxAlertsPerHour int `mapstructure:"max_alerts_per_hour"`
}

type CircuitBreakerConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxAlertsPerMinute int  `mapstructure:"max_alerts_per_minute"`
}

type NotifyConfig struct {
	DryRun   bool           `mapstructure:"dry_run"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BaseURL  string `mapstructure:"base_url"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// Load loads application configuration using Viper.
// It reads .env (if present), then config.yaml, and overrides with environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	if p := os.Getenv("CONFIG_PATH"); p != "" {
		v.AddConfigPath(p)
	} else {
		ex, _ := os.Executable()
		if strings.Contains(ex, "go-build") {
			pwd, _ := os.Getwd()
			v.AddConfigPath(filepath.Join(pwd, "../../config"))
		} else {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
		v.AddConfigPath("config")
	}

	// Support environment variables with dot notation (e.g., NOTIFY_TELEGRAM_BOT_TOKEN)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return decode(v)
}

// LoadFile reads a single yaml file; used by tests and tools.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for i := range cfg.Symbols {
		cfg.Symbols[i].Name = strings.ToUpper(cfg.Symbols[i].Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration produced by the documented defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.ws.url", "wss://stream.binance.com:9443/stream")
	v.SetDefault("binance.ws.handshake_timeout", 10*time.Second)
	v.SetDefault("binance.ws.ping_interval", 20*time.Second)
	v.SetDefault("binance.ws.pong_timeout", 20*time.Second)
	v.SetDefault("binance.ws.receive_timeout", 30*time.Second)
	v.SetDefault("binance.ws.watchdog_timeout", 90*time.Second)
	v.SetDefault("binance.ws.backoff.initial", time.Second)
	v.SetDefault("binance.ws.backoff.max", 30*time.Second)
	v.SetDefault("binance.ws.backoff.jitter", 0.2)

	v.SetDefault("binance.rest.base_url", "https://api.binance.com")
	v.SetDefault("binance.rest.timeout", 10*time.Second)
	v.SetDefault("binance.rest.backfill_limit", 200)
	v.SetDefault("binance.rest.rate_limit", 5.0)
	v.SetDefault("binance.rest.max_attempts", 4)

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.sqlite_path", "data/candles.db")
	v.SetDefault("storage.open_write_interval", 10*time.Second)
	v.SetDefault("storage.cleanup.enabled", true)
	v.SetDefault("storage.cleanup.retention_days", 90)
	v.SetDefault("storage.cleanup.min_candles_per_tf", 200)
	v.SetDefault("storage.cleanup.hour_utc", 3)

	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)

	v.SetDefault("indicators.rsi.enabled", true)
	v.SetDefault("indicators.rsi.period", 14)
	v.SetDefault("indicators.rsi.timeframes", []string{"4h", "1d", "1w", "1M"})
	v.SetDefault("indicators.rsi.overbought", 70.0)
	v.SetDefault("indicators.rsi.oversold", 30.0)
	v.SetDefault("indicators.rsi.extreme_overbought", 85.0)
	v.SetDefault("indicators.rsi.extreme_oversold", 15.0)
	v.SetDefault("indicators.rsi.recovery_low", 35.0)
	v.SetDefault("indicators.rsi.recovery_high", 65.0)
	v.SetDefault("indicators.rsi.lookback", 114)

	v.SetDefault("indicators.breakout.enabled", true)
	v.SetDefault("indicators.breakout.timeframes", []string{"1d", "1w"})
	v.SetDefault("indicators.breakout.margin_pct", 0.1)

	v.SetDefault("indicators.divergence.enabled", true)
	v.SetDefault("indicators.divergence.timeframes", []string{"4h", "1d", "1w"})
	v.SetDefault("indicators.divergence.lookback", 80)
	v.SetDefault("indicators.divergence.pivot_left", 5)
	v.SetDefault("indicators.divergence.pivot_right", 5)
	v.SetDefault("indicators.divergence.range_min", 5)
	v.SetDefault("indicators.divergence.range_max", 60)
	v.SetDefault("indicators.divergence.bullish_rsi_max", 40.0)
	v.SetDefault("indicators.divergence.bearish_rsi_min", 60.0)
	v.SetDefault("indicators.divergence.pivot_history", 50)

	v.SetDefault("alerts.poll_interval", 5*time.Second)
	v.SetDefault("alerts.consolidation_interval", 6*time.Second)
	v.SetDefault("alerts.cleanup_every", 10)
	v.SetDefault("alerts.dedup_ttl", time.Hour)
	v.SetDefault("alerts.consolidate_multi_tf", true)
	v.SetDefault("alerts.flush_timeout", 10*time.Second)
	v.SetDefault("alerts.throttling.max_alerts_per_hour", 20)
	v.SetDefault("alerts.circuit_breaker.enabled", true)
	v.SetDefault("alerts.circuit_breaker.max_alerts_per_minute", 5)

	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.telegram.base_url", "https://api.telegram.org")
	v.SetDefault("notify.redis.addr", "localhost:6379")
	v.SetDefault("notify.redis.channel", "candlealert:alerts")
	v.SetDefault("notify.kafka.brokers", "localhost:9092")
	v.SetDefault("notify.kafka.topic", "candlealert_alerts")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "dev")
}
