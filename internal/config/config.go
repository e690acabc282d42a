package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/0xFlo/prism-sub006/internal/audit"
	"github.com/0xFlo/prism-sub006/internal/db"
	"github.com/0xFlo/prism-sub006/internal/pipeline"
	"github.com/0xFlo/prism-sub006/internal/scheduler"
)

// Config represents the application configuration
type Config struct {
	Database      db.Config           `toml:"database"`
	SearchConsole SearchConsoleConfig `toml:"searchconsole"`
	Scheduler     scheduler.Config    `toml:"scheduler"`
	Pipeline      pipeline.Config     `toml:"pipeline"`
	Audit         audit.Config        `toml:"audit"`
	RateLimit     RateLimitConfig     `toml:"ratelimit"`
	Progress      ProgressConfig      `toml:"progress"`
	Daemon        DaemonConfig        `toml:"daemon"`
	Metrics       MetricsConfig       `toml:"metrics"`
	Logging       LoggingConfig       `toml:"logging"`
}

// SearchConsoleConfig holds upstream API settings and credentials.
// Account doubles as the rate limiter tenant key.
type SearchConsoleConfig struct {
	Endpoint     string   `toml:"endpoint"`
	TokenURL     string   `toml:"token_url"`
	Account      string   `toml:"account"`
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RefreshToken string   `toml:"refresh_token"`
	Sites        []string `toml:"sites"`
}

// RateLimitConfig selects and sizes the rate limiter backend
type RateLimitConfig struct {
	Backend   string        `toml:"backend"` // memory or redis
	Limit     int           `toml:"limit"`   // checks per window per tenant
	Window    time.Duration `toml:"window"`
	RedisAddr string        `toml:"redis_addr"`
	RedisDB   int           `toml:"redis_db"`
}

// ProgressConfig holds progress tracker settings
type ProgressConfig struct {
	HistorySize int `toml:"history_size"`
}

// DaemonConfig holds daemon mode settings
type DaemonConfig struct {
	Interval time.Duration `toml:"interval"`

	// How many days back each daemon run covers
	LookbackDays int `toml:"lookback_days"`
}

// MetricsConfig holds metrics/monitoring settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "prism.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			SkipMigrations:  false,
		},
		SearchConsole: SearchConsoleConfig{
			Endpoint: "", // library default
			TokenURL: "",
			Account:  "default",
		},
		Scheduler: scheduler.DefaultConfig(),
		Pipeline:  pipeline.DefaultConfig(),
		Audit:     audit.DefaultConfig(),
		RateLimit: RateLimitConfig{
			Backend:   "memory",
			Limit:     60,
			Window:    time.Minute,
			RedisAddr: "localhost:6379",
		},
		Progress: ProgressConfig{
			HistorySize: 20,
		},
		Daemon: DaemonConfig{
			Interval:     6 * time.Hour,
			LookbackDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return config, nil
}

// LoadConfig loads configuration from a file if provided, falling back
// to defaults otherwise
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	return LoadFromFile(path)
}

// Validate checks the configuration for invalid combinations
func (c *Config) Validate() error {
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must not be empty")
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must not be empty")
	}

	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("ratelimit backend must be memory or redis, got %q", c.RateLimit.Backend)
	}

	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("ratelimit limit must be positive, got %d", c.RateLimit.Limit)
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit window must be positive, got %v", c.RateLimit.Window)
	}

	if c.RateLimit.Backend == "redis" && c.RateLimit.RedisAddr == "" {
		return fmt.Errorf("ratelimit redis backend requires redis_addr")
	}

	if c.Progress.HistorySize <= 0 {
		return fmt.Errorf("progress history size must be positive, got %d", c.Progress.HistorySize)
	}

	if c.Daemon.Interval <= 0 {
		return fmt.Errorf("daemon interval must be positive, got %v", c.Daemon.Interval)
	}

	if c.Daemon.LookbackDays <= 0 {
		return fmt.Errorf("daemon lookback days must be positive, got %d", c.Daemon.LookbackDays)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port %d", c.Metrics.Port)
	}

	return nil
}
