// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

// Package config loads and validates Garrison configuration using Koanf v2
// with layered sources: built-in defaults, an optional YAML file, and
// environment variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Garrison server.
type Config struct {
	Sources  []SourceConfig `koanf:"sources"`
	Database DatabaseConfig `koanf:"database"`
	Geo      GeoConfig      `koanf:"geo"`
	Monitor  MonitorConfig  `koanf:"monitor"`
	Notify   NotifyConfig   `koanf:"notify"`
	RCON     RCONConfig     `koanf:"rcon"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// SourceConfig describes one monitored game server log source. Sources are
// configured in the YAML file only; there is no sane flat env encoding for a
// list of them.
type SourceConfig struct {
	// Name tags every observation ingested from this source (e.g. "ttt1").
	Name string `koanf:"name"`

	// Path is the live log file to tail in continuous mode.
	Path string `koanf:"path"`

	// HistoricalGlob optionally matches historical log files for batch
	// import at startup (e.g. "/logs/ttt1/console-*.log").
	HistoricalGlob string `koanf:"historical_glob"`
}

// DatabaseConfig holds identity store settings.
type DatabaseConfig struct {
	// Path is the DuckDB database file. Parent directories are created on
	// startup.
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB memory usage (e.g. "512MB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count; 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// GeoConfig holds geolocation enrichment settings.
type GeoConfig struct {
	// Enabled toggles enrichment entirely. When disabled, observations are
	// stored without geo snapshots and no anonymizer alerts fire.
	Enabled bool `koanf:"enabled"`

	// BaseURL is the lookup endpoint. The provider speaks the
	// ipgeolocation.io JSON dialect (country_name, isp, security block).
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates against the lookup service.
	APIKey string `koanf:"api_key"`

	// CacheTTL bounds how long a lookup result is reused before the
	// provider is consulted again. Failures are never cached.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// Timeout bounds a single lookup call.
	Timeout time.Duration `koanf:"timeout"`

	// RequestsPerMinute rate-limits outbound lookups (free-tier quotas).
	RequestsPerMinute int `koanf:"requests_per_minute"`
}

// MonitorConfig holds log monitor settings shared by all sources.
type MonitorConfig struct {
	// PollInterval is how often each source checks its file for appended
	// bytes.
	PollInterval time.Duration `koanf:"poll_interval"`

	// BatchImportOnStart runs a batch import of each source's
	// historical_glob files before tailing begins.
	BatchImportOnStart bool `koanf:"batch_import_on_start"`

	// RetentionDays is the connection-event retention window. Rows older
	// than this are pruned by the maintenance tick; 0 disables pruning.
	RetentionDays int `koanf:"retention_days"`

	// PruneInterval is how often the retention pruner runs.
	PruneInterval time.Duration `koanf:"prune_interval"`
}

// NotifyConfig holds alert delivery settings.
type NotifyConfig struct {
	// WebhookURL receives alert payloads as JSON POSTs. Empty disables the
	// webhook notifier; alerts are still recorded in the store.
	WebhookURL string `koanf:"webhook_url"`

	// Headers are added to every webhook request (e.g. auth).
	Headers map[string]string `koanf:"headers"`

	// RateLimit is the minimum spacing between webhook deliveries.
	RateLimit time.Duration `koanf:"rate_limit"`
}

// RCONConfig holds ban-enforcement transport settings.
type RCONConfig struct {
	// Enabled toggles the enforcement capability. Store-only bans still
	// work when disabled.
	Enabled bool `koanf:"enabled"`

	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Password string        `koanf:"password"`
	Timeout  time.Duration `koanf:"timeout"`
}

// ServerConfig holds the status/query HTTP API settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitReqs requests per RateLimitWindow per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Sources: nil,
		Database: DatabaseConfig{
			Path:      "/data/garrison.duckdb",
			MaxMemory: "512MB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		Geo: GeoConfig{
			Enabled:           false,
			BaseURL:           "https://api.ipgeolocation.io/ipgeo",
			APIKey:            "",
			CacheTTL:          time.Hour,
			Timeout:           10 * time.Second,
			RequestsPerMinute: 45,
		},
		Monitor: MonitorConfig{
			PollInterval:       2 * time.Second,
			BatchImportOnStart: false,
			RetentionDays:      30,
			PruneInterval:      6 * time.Hour,
		},
		Notify: NotifyConfig{
			WebhookURL: "",
			Headers:    map[string]string{},
			RateLimit:  500 * time.Millisecond,
		},
		RCON: RCONConfig{
			Enabled:  false,
			Host:     "127.0.0.1",
			Port:     2306,
			Password: "",
			Timeout:  10 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3861,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for internally inconsistent or unusable
// values. It returns the first problem found.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateSources,
		c.validateDatabase,
		c.validateGeo,
		c.validateMonitor,
		c.validateRCON,
		c.validateServer,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateSources() error {
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, src.Name)
		}
		seen[src.Name] = struct{}{}
		if src.Path == "" && src.HistoricalGlob == "" {
			return fmt.Errorf("sources[%d] (%s): path or historical_glob is required", i, src.Name)
		}
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("database.threads must be >= 0, got %d", c.Database.Threads)
	}
	return nil
}

func (c *Config) validateGeo() error {
	if !c.Geo.Enabled {
		return nil
	}
	if c.Geo.BaseURL == "" {
		return fmt.Errorf("geo.base_url is required when geo.enabled=true")
	}
	if c.Geo.APIKey == "" {
		return fmt.Errorf("geo.api_key is required when geo.enabled=true")
	}
	if c.Geo.CacheTTL <= 0 {
		return fmt.Errorf("geo.cache_ttl must be positive, got %s", c.Geo.CacheTTL)
	}
	if c.Geo.RequestsPerMinute <= 0 {
		return fmt.Errorf("geo.requests_per_minute must be positive, got %d", c.Geo.RequestsPerMinute)
	}
	return nil
}

func (c *Config) validateMonitor() error {
	if c.Monitor.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("monitor.poll_interval must be at least 100ms, got %s", c.Monitor.PollInterval)
	}
	if c.Monitor.RetentionDays < 0 {
		return fmt.Errorf("monitor.retention_days must be >= 0, got %d", c.Monitor.RetentionDays)
	}
	return nil
}

func (c *Config) validateRCON() error {
	if !c.RCON.Enabled {
		return nil
	}
	if c.RCON.Host == "" {
		return fmt.Errorf("rcon.host is required when rcon.enabled=true")
	}
	if c.RCON.Port <= 0 || c.RCON.Port > 65535 {
		return fmt.Errorf("rcon.port must be in 1-65535, got %d", c.RCON.Port)
	}
	if c.RCON.Password == "" {
		return fmt.Errorf("rcon.password is required when rcon.enabled=true")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	return nil
}
