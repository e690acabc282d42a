package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// Default Configuration Tests
// =============================================================================

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration should validate, got %v", err)
	}
}

func TestLoadConfig_NoPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("expected sqlite3 default driver, got %q", cfg.Database.Driver)
	}
	if cfg.RateLimit.Backend != "memory" {
		t.Errorf("expected memory default backend, got %q", cfg.RateLimit.Backend)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/prism.toml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

// =============================================================================
// File Loading Tests
// =============================================================================

func TestLoadFromFile_OverlaysDefaults(t *testing.T) {
	content := `
[database]
dsn = "/var/lib/prism/prism.db"

[searchconsole]
account = "prod"
sites = ["https://example.com/", "https://example.org/"]

[scheduler]
batch_size = 5
rate_limit_backoff = "10s"

[pipeline]
halt_after_empty_days = 14

[ratelimit]
backend = "redis"
redis_addr = "redis:6379"

[daemon]
interval = "1h"

[logging]
level = "debug"
format = "text"
`
	path := filepath.Join(t.TempDir(), "prism.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config should validate, got %v", err)
	}

	// Explicit values override.
	if cfg.Database.DSN != "/var/lib/prism/prism.db" {
		t.Errorf("unexpected DSN %q", cfg.Database.DSN)
	}
	if cfg.SearchConsole.Account != "prod" || len(cfg.SearchConsole.Sites) != 2 {
		t.Errorf("unexpected searchconsole config %+v", cfg.SearchConsole)
	}
	if cfg.Scheduler.BatchSize != 5 {
		t.Errorf("expected batch size 5, got %d", cfg.Scheduler.BatchSize)
	}
	if cfg.Scheduler.RateLimitBackoff != 10*time.Second {
		t.Errorf("expected 10s backoff, got %v", cfg.Scheduler.RateLimitBackoff)
	}
	if cfg.Pipeline.HaltAfterEmptyDays != 14 {
		t.Errorf("expected halt threshold 14, got %d", cfg.Pipeline.HaltAfterEmptyDays)
	}
	if cfg.RateLimit.Backend != "redis" || cfg.RateLimit.RedisAddr != "redis:6379" {
		t.Errorf("unexpected ratelimit config %+v", cfg.RateLimit)
	}
	if cfg.Daemon.Interval != time.Hour {
		t.Errorf("expected 1h interval, got %v", cfg.Daemon.Interval)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}

	// Untouched sections keep their defaults.
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("expected default driver preserved, got %q", cfg.Database.Driver)
	}
	if cfg.Scheduler.MaxAttempts != 5 {
		t.Errorf("expected default max attempts preserved, got %d", cfg.Scheduler.MaxAttempts)
	}
	if cfg.Daemon.LookbackDays != 30 {
		t.Errorf("expected default lookback preserved, got %d", cfg.Daemon.LookbackDays)
	}
}

func TestLoadFromFile_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prism.toml")
	if err := os.WriteFile(path, []byte("[[[broken"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected parse error")
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidate_RejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty driver", func(c *Config) { c.Database.Driver = "" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"unknown ratelimit backend", func(c *Config) { c.RateLimit.Backend = "etcd" }},
		{"zero ratelimit limit", func(c *Config) { c.RateLimit.Limit = 0 }},
		{"zero ratelimit window", func(c *Config) { c.RateLimit.Window = 0 }},
		{"redis without addr", func(c *Config) {
			c.RateLimit.Backend = "redis"
			c.RateLimit.RedisAddr = ""
		}},
		{"zero history size", func(c *Config) { c.Progress.HistorySize = 0 }},
		{"zero daemon interval", func(c *Config) { c.Daemon.Interval = 0 }},
		{"zero lookback days", func(c *Config) { c.Daemon.LookbackDays = 0 }},
		{"bad logging level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad logging format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = 70000 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_MetricsPortIgnoredWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Metrics.Port = 0

	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled metrics should skip port validation, got %v", err)
	}
}
