// Package config loads the server configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Export   ExportConfig   `yaml:"export"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr                string `yaml:"addr"`
	StaticDir           string `yaml:"static_dir"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

// DatabaseConfig holds the SQLite file location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig controls feed import and the periodic sweep.
type SyncConfig struct {
	// Enabled starts the periodic sweep at boot. Defaults to true only
	// when APP_ENV=production.
	Enabled *bool `yaml:"enabled"`

	// Schedule is a robfig/cron spec, e.g. "@hourly" or "*/30 * * * *".
	Schedule string `yaml:"schedule"`

	// Timezone is the IANA zone used to pin imported dates.
	Timezone string `yaml:"timezone"`

	// CheckinHour is the local hour imported instants are pinned to
	// before truncation to a calendar date.
	// Nil means the default; 0 is a valid midnight pin.
	CheckinHour *int `yaml:"checkin_hour"`

	BulkWorkers         int `yaml:"bulk_workers"`
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds"`
	HorizonDays         int `yaml:"horizon_days"`
	FeedCacheMinutes    int `yaml:"feed_cache_minutes"`
}

// ExportConfig controls the public outbound feed.
type ExportConfig struct {
	// HostID is appended to exported event UIDs.
	HostID          string  `yaml:"host_id"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateBurst       int     `yaml:"rate_burst"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns an in-memory default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8099"
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = "./static"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		// Manual syncs answer synchronously and may wait on a slow feed.
		c.Server.WriteTimeoutSeconds = 90
	}
	if c.Database.Path == "" {
		c.Database.Path = "/data/gestionale-affitti.db"
	}
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "@hourly"
	}
	if c.Sync.Timezone == "" {
		c.Sync.Timezone = "Europe/Rome"
	}
	if h := c.Sync.CheckinHour; h == nil || *h < 0 || *h > 23 {
		hour := 18
		c.Sync.CheckinHour = &hour
	}
	if c.Sync.BulkWorkers <= 0 {
		c.Sync.BulkWorkers = 5
	}
	if c.Sync.FetchTimeoutSeconds <= 0 {
		c.Sync.FetchTimeoutSeconds = 30
	}
	if c.Sync.HorizonDays <= 0 {
		c.Sync.HorizonDays = 365
	}
	if c.Sync.FeedCacheMinutes <= 0 {
		c.Sync.FeedCacheMinutes = 24 * 60
	}
	if c.Export.HostID == "" {
		c.Export.HostID = "gestionale-affitti"
	}
	if c.Export.RateLimitPerSec <= 0 {
		c.Export.RateLimitPerSec = 1
	}
	if c.Export.RateBurst <= 0 {
		c.Export.RateBurst = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Load reads the YAML file at path. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, err
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}

	applyEnv(&cfg)
	cfg.Normalize()
	return &cfg, nil
}

// SyncEnabled reports whether the periodic sweep should run.
func (c *Config) SyncEnabled() bool {
	if c.Sync.Enabled != nil {
		return *c.Sync.Enabled
	}
	return strings.EqualFold(getEnv("APP_ENV", ""), "production")
}

// Location resolves the sync timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Sync.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CheckinHour returns the local hour imported dates are pinned to.
func (c *Config) CheckinHour() int {
	if c.Sync.CheckinHour == nil {
		return 18
	}
	return *c.Sync.CheckinHour
}

// FetchTimeout returns the feed HTTP client timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Sync.FetchTimeoutSeconds) * time.Second
}

func applyEnv(cfg *Config) {
	if v, ok := getenvBool("SYNC_ENABLED"); ok {
		cfg.Sync.Enabled = &v
	}
	if v := getEnv("SYNC_SCHEDULE", ""); v != "" {
		cfg.Sync.Schedule = v
	}
	if v := getEnv("SYNC_TIMEZONE", ""); v != "" {
		cfg.Sync.Timezone = v
	}
	if v := getEnv("SYNC_BULK_WORKERS", ""); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Sync.BulkWorkers = i
		}
	}
	if v := getEnv("DATA_PATH", ""); v != "" {
		cfg.Database.Path = v
	}
	if v := getEnv("ADDR", ""); v != "" {
		cfg.Server.Addr = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		cfg.Log.Level = v
	}
}

// getEnv returns an environment variable value or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getenvBool(name string) (bool, bool) {
	switch strings.ToLower(getEnv(name, "")) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
