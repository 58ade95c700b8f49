// Package infra handles configuration loading and infrastructure wiring.
package infra

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ruslano69/tdtp-explorer/pkg/core/dataset"
	"github.com/ruslano69/tdtp-explorer/pkg/core/query"
)

// Config is the top-level configuration structure for tdtpexplore.
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Source     dataset.SourceConfig `yaml:"source"`
	Metadata   MetadataConfig       `yaml:"metadata"`
	Columns    query.ColumnMap      `yaml:"columns"` // empty entries fall back to the default names
	Redis      RedisConfig          `yaml:"redis"`   // optional; count cache + cycle events
	CountCache CacheConfig          `yaml:"count_cache"`
	Events     EventsConfig         `yaml:"events"`
	Export     ExportConfig         `yaml:"export"`
	Logging    LoggingConfig        `yaml:"logging"`
}

// ServerConfig controls the HTTP listener and session lifecycle.
type ServerConfig struct {
	Addr          string        `yaml:"addr"`           // default ":8501"
	ReadTimeout   time.Duration `yaml:"read_timeout"`   // default 10s
	WriteTimeout  time.Duration `yaml:"write_timeout"`  // default 60s, exports stream through it
	PageSize      int           `yaml:"page_size"`      // default 10
	SessionTTL    time.Duration `yaml:"session_ttl"`    // default 30m; 0 = never expire
	SweepInterval time.Duration `yaml:"sweep_interval"` // default 1m
}

// MetadataConfig points at the filter vocabulary document.
type MetadataConfig struct {
	Path string `yaml:"path"` // default "filter_metadata.json"
}

// RedisConfig is a minimal Redis connection spec. Empty Addr disables Redis
// outside dev mode.
type RedisConfig struct {
	Addr     string `yaml:"addr"`     // host:port
	Password string `yaml:"password"` // empty = no auth; override via TDTPEXPLORE_REDIS_PASSWORD
	DB       int    `yaml:"db"`       // 0-based
}

// CacheConfig controls the filtered-count cache.
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`          // default true
	TTL             time.Duration `yaml:"ttl"`              // default 10m
	BreakerFailures uint32        `yaml:"breaker_failures"` // Redis only; default 5
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"` // Redis only; default 30s
}

// EventsConfig controls cycle event publishing. Requires Redis.
type EventsConfig struct {
	Enabled bool          `yaml:"enabled"` // default true
	TTL     time.Duration `yaml:"ttl"`     // lifetime of the per-session state key; default 1h
}

// ExportConfig caps spreadsheet exports.
type ExportConfig struct {
	MaxRows int64 `yaml:"max_rows"` // default 10000
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error; default info
	Format string `yaml:"format"` // console | json; default console
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8501"
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 60 * time.Second
	cfg.Server.PageSize = 10
	cfg.Server.SessionTTL = 30 * time.Minute
	cfg.Server.SweepInterval = time.Minute
	cfg.Source.Type = "parquet"
	cfg.Source.Path = "kickstarter_projects.parquet"
	cfg.Metadata.Path = "filter_metadata.json"
	cfg.CountCache.Enabled = true
	cfg.CountCache.TTL = 10 * time.Minute
	cfg.CountCache.BreakerFailures = 5
	cfg.CountCache.BreakerCooldown = 30 * time.Second
	cfg.Events.Enabled = true
	cfg.Events.TTL = time.Hour
	cfg.Export.MaxRows = 10000
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"
	return cfg
}

// LoadConfig reads the YAML config at path over the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	// REDIS_PASSWORD: config file takes precedence; env var is the fallback
	if cfg.Redis.Password == "" {
		cfg.Redis.Password = os.Getenv("TDTPEXPLORE_REDIS_PASSWORD")
	}
	cfg.Columns = cfg.Columns.WithDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.PageSize <= 0 {
		return fmt.Errorf("config: server.page_size must be positive, got %d", c.Server.PageSize)
	}
	if c.Server.SweepInterval <= 0 {
		return fmt.Errorf("config: server.sweep_interval must be positive")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(c.Logging.Level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("config: logging.level: %w", err)
	}
	return lvl, nil
}
