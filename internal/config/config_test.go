package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "development" {
		t.Errorf("expected env=development, got %s", cfg.Env)
	}

	if len(cfg.Pairs) != 2 || cfg.Pairs[0] != "BTC-LTC" {
		t.Errorf("unexpected default pairs: %v", cfg.Pairs)
	}

	// The transport appends /public itself; the base URL must not carry it.
	if cfg.Poloniex.HTTPURL != "https://poloniex.com" {
		t.Errorf("unexpected poloniex base url: %s", cfg.Poloniex.HTTPURL)
	}

	if cfg.Feed.Depth != 50 {
		t.Errorf("expected feed depth 50, got %d", cfg.Feed.Depth)
	}

	if cfg.Arb.StalenessWindowSec != 30 {
		t.Errorf("expected staleness window 30s, got %d", cfg.Arb.StalenessWindowSec)
	}

	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("expected redis addr localhost:6379, got %s", cfg.Redis.Addr)
	}

	if cfg.UsdRates["BTC"] != 60000 {
		t.Errorf("unexpected default usd rates: %v", cfg.UsdRates)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("CTF_ENV", "production")
	os.Setenv("CTF_PAIRS", "BTC-XMR, BTC-DASH ,USDT-BTC")
	os.Setenv("CTF_POLONIEX_TAKER_FEE", "0.001")
	defer os.Unsetenv("CTF_ENV")
	defer os.Unsetenv("CTF_PAIRS")
	defer os.Unsetenv("CTF_POLONIEX_TAKER_FEE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "production" {
		t.Errorf("expected env=production, got %s", cfg.Env)
	}

	if len(cfg.Pairs) != 3 || cfg.Pairs[1] != "BTC-DASH" {
		t.Errorf("unexpected pairs: %v", cfg.Pairs)
	}

	if cfg.Poloniex.TakerFee != 0.001 {
		t.Errorf("expected taker fee 0.001, got %f", cfg.Poloniex.TakerFee)
	}
}

func TestParseRates(t *testing.T) {
	rates := parseRates("BTC=50000,USDT=1,garbage,ETH=")
	if len(rates) != 2 {
		t.Fatalf("expected 2 rates, got %v", rates)
	}
	if rates["BTC"] != 50000 || rates["USDT"] != 1 {
		t.Errorf("unexpected rates: %v", rates)
	}
}

func TestDurations(t *testing.T) {
	f := FeedConfig{PollIntervalSec: 2, PendingMaxAgeSec: 5}
	if f.PollInterval().Seconds() != 2 {
		t.Errorf("unexpected poll interval: %v", f.PollInterval())
	}
	if f.PendingMaxAge().Seconds() != 5 {
		t.Errorf("unexpected pending max age: %v", f.PendingMaxAge())
	}
}
