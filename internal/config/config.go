package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Env      string `mapstructure:"env"`
	Pairs    []string
	Poloniex ExchangeConfig
	Bittrex  ExchangeConfig
	Feed     FeedConfig
	Arb      ArbConfig
	History  HistoryConfig
	Redis    RedisConfig
	Log      LogConfig
	UsdRates map[string]float64
}

// ExchangeConfig holds one exchange's endpoints and fee schedule.
type ExchangeConfig struct {
	HTTPURL  string  `mapstructure:"http_url"`
	WSURL    string  `mapstructure:"ws_url"`
	TakerFee float64 `mapstructure:"taker_fee"`
}

// FeedConfig holds feed cadence and order-book sizing settings.
type FeedConfig struct {
	Depth             int `mapstructure:"depth"`
	PollIntervalSec   int `mapstructure:"poll_interval_sec"`
	TickerIntervalSec int `mapstructure:"ticker_interval_sec"`
	TradeIntervalSec  int `mapstructure:"trade_interval_sec"`
	FetchTimeoutSec   int `mapstructure:"fetch_timeout_sec"`
	RetryIntervalSec  int `mapstructure:"retry_interval_sec"`
	PendingLimit      int `mapstructure:"pending_limit"`
	PendingMaxAgeSec  int `mapstructure:"pending_max_age_sec"`
}

func (f FeedConfig) PollInterval() time.Duration   { return secs(f.PollIntervalSec) }
func (f FeedConfig) TickerInterval() time.Duration { return secs(f.TickerIntervalSec) }
func (f FeedConfig) TradeInterval() time.Duration  { return secs(f.TradeIntervalSec) }
func (f FeedConfig) FetchTimeout() time.Duration   { return secs(f.FetchTimeoutSec) }
func (f FeedConfig) RetryInterval() time.Duration  { return secs(f.RetryIntervalSec) }
func (f FeedConfig) PendingMaxAge() time.Duration  { return secs(f.PendingMaxAgeSec) }

// ArbConfig holds arbitrage engine settings.
type ArbConfig struct {
	MaxPosition        float64 `mapstructure:"max_position"`
	StalenessWindowSec int     `mapstructure:"staleness_window_sec"`
	MonitorIntervalSec int     `mapstructure:"monitor_interval_sec"`
}

func (a ArbConfig) StalenessWindow() time.Duration { return secs(a.StalenessWindowSec) }
func (a ArbConfig) MonitorInterval() time.Duration { return secs(a.MonitorIntervalSec) }

// HistoryConfig holds trade-history retention settings.
type HistoryConfig struct {
	Capacity       int `mapstructure:"capacity"`
	GranularitySec int `mapstructure:"granularity_sec"`
}

func (h HistoryConfig) Granularity() time.Duration { return secs(h.GranularitySec) }

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig holds log output settings.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Console    bool   `mapstructure:"console"`
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// Load reads configuration from environment variables prefixed with CTF_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CTF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "development")
	v.SetDefault("pairs", "BTC-LTC,BTC-ETH")
	v.SetDefault("usd_rates", "BTC=60000,USDT=1")

	// Exchange defaults
	v.SetDefault("poloniex.http_url", "https://poloniex.com")
	v.SetDefault("poloniex.ws_url", "wss://api2.poloniex.com")
	v.SetDefault("poloniex.taker_fee", 0.0025)
	v.SetDefault("bittrex.http_url", "https://api.bittrex.com/api/v1.1")
	v.SetDefault("bittrex.ws_url", "")
	v.SetDefault("bittrex.taker_fee", 0.0025)

	// Feed defaults
	v.SetDefault("feed.depth", 50)
	v.SetDefault("feed.poll_interval_sec", 2)
	v.SetDefault("feed.ticker_interval_sec", 5)
	v.SetDefault("feed.trade_interval_sec", 10)
	v.SetDefault("feed.fetch_timeout_sec", 10)
	v.SetDefault("feed.retry_interval_sec", 1)
	v.SetDefault("feed.pending_limit", 64)
	v.SetDefault("feed.pending_max_age_sec", 5)

	// Arb defaults
	v.SetDefault("arb.max_position", 1.0)
	v.SetDefault("arb.staleness_window_sec", 30)
	v.SetDefault("arb.monitor_interval_sec", 1)

	// History defaults
	v.SetDefault("history.capacity", 200)
	v.SetDefault("history.granularity_sec", 60)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.file", "logs/tickerarb.log")
	v.SetDefault("log.max_size_mb", 5)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.console", true)

	cfg := &Config{}

	cfg.Env = v.GetString("env")
	cfg.Pairs = splitList(v.GetString("pairs"))
	cfg.UsdRates = parseRates(v.GetString("usd_rates"))

	cfg.Poloniex = ExchangeConfig{
		HTTPURL:  v.GetString("poloniex.http_url"),
		WSURL:    v.GetString("poloniex.ws_url"),
		TakerFee: v.GetFloat64("poloniex.taker_fee"),
	}

	cfg.Bittrex = ExchangeConfig{
		HTTPURL:  v.GetString("bittrex.http_url"),
		WSURL:    v.GetString("bittrex.ws_url"),
		TakerFee: v.GetFloat64("bittrex.taker_fee"),
	}

	cfg.Feed = FeedConfig{
		Depth:             v.GetInt("feed.depth"),
		PollIntervalSec:   v.GetInt("feed.poll_interval_sec"),
		TickerIntervalSec: v.GetInt("feed.ticker_interval_sec"),
		TradeIntervalSec:  v.GetInt("feed.trade_interval_sec"),
		FetchTimeoutSec:   v.GetInt("feed.fetch_timeout_sec"),
		RetryIntervalSec:  v.GetInt("feed.retry_interval_sec"),
		PendingLimit:      v.GetInt("feed.pending_limit"),
		PendingMaxAgeSec:  v.GetInt("feed.pending_max_age_sec"),
	}

	cfg.Arb = ArbConfig{
		MaxPosition:        v.GetFloat64("arb.max_position"),
		StalenessWindowSec: v.GetInt("arb.staleness_window_sec"),
		MonitorIntervalSec: v.GetInt("arb.monitor_interval_sec"),
	}

	cfg.History = HistoryConfig{
		Capacity:       v.GetInt("history.capacity"),
		GranularitySec: v.GetInt("history.granularity_sec"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	cfg.Log = LogConfig{
		File:       v.GetString("log.file"),
		MaxSizeMB:  v.GetInt("log.max_size_mb"),
		MaxBackups: v.GetInt("log.max_backups"),
		MaxAgeDays: v.GetInt("log.max_age_days"),
		Console:    v.GetBool("log.console"),
	}

	return cfg, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseRates parses "BTC=60000,USDT=1" into a currency→rate map. Malformed
// entries are skipped.
func parseRates(s string) map[string]float64 {
	out := make(map[string]float64)
	for _, entry := range splitList(s) {
		cur, val, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			continue
		}
		out[strings.TrimSpace(cur)] = rate
	}
	return out
}
