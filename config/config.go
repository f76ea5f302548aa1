/*
Package config loads the server's settings.

SOURCES (later wins):
  1. Defaults
  2. YAML file (missing file means defaults)
  3. POINTS_* environment variables
  4. Command line flags (applied by cmd/server)

EXAMPLE FILE:
  server:
    addr: ":8080"
  remote:
    base_url: "https://ledger.example.com"
    timeout: 10s
  engine:
    user_id: "fan-42"
    stall_threshold: 3
    tiers:
      starter: 500
      allStar: 2000
  scheduler:
    interval: 30s
    min_gap: 5s
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/points-ledger/pkg/logger"
	"github.com/warp/points-ledger/points"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Remote    RemoteConfig    `yaml:"remote"`
	Cache     CacheConfig     `yaml:"cache"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RemoteConfig points at the ledger service. An empty BaseURL runs an
// in-process twin instead.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig selects the local cache. An empty Path keeps it in memory.
type CacheConfig struct {
	Path string `yaml:"path"`
}

type EngineConfig struct {
	UserID         string           `yaml:"user_id"`
	PageSize       int              `yaml:"page_size"`
	StallThreshold int              `yaml:"stall_threshold"`
	Tiers          map[string]int64 `yaml:"tiers"` // tier name -> minimum lifetime points
}

type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"` // 0 disables periodic reconciliation
	MinGap   time.Duration `yaml:"min_gap"`  // minimum spacing between triggered passes
	Burst    int           `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Remote: RemoteConfig{Timeout: 10 * time.Second},
		Engine: EngineConfig{
			UserID:         "demo-fan",
			PageSize:       points.DefaultPageSize,
			StallThreshold: points.DefaultStallThreshold,
		},
		Scheduler: SchedulerConfig{
			Interval: 30 * time.Second,
			MinGap:   5 * time.Second,
			Burst:    1,
		},
		Log: LogConfig{Level: "info", Format: logger.FormatJSON},
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := lookup(key); ok && v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = i
		}
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
		return nil
	}

	str("POINTS_ADDR", &cfg.Server.Addr)
	if v, ok := lookup("POINTS_ALLOWED_ORIGINS"); ok && v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	str("POINTS_REMOTE_URL", &cfg.Remote.BaseURL)
	str("POINTS_CACHE_PATH", &cfg.Cache.Path)
	str("POINTS_USER_ID", &cfg.Engine.UserID)
	str("POINTS_LOG_LEVEL", &cfg.Log.Level)
	str("POINTS_LOG_FORMAT", &cfg.Log.Format)

	for _, err := range []error{
		dur("POINTS_REMOTE_TIMEOUT", &cfg.Remote.Timeout),
		num("POINTS_PAGE_SIZE", &cfg.Engine.PageSize),
		num("POINTS_STALL_THRESHOLD", &cfg.Engine.StallThreshold),
		dur("POINTS_RECONCILE_INTERVAL", &cfg.Scheduler.Interval),
		dur("POINTS_RECONCILE_MIN_GAP", &cfg.Scheduler.MinGap),
	} {
		if err != nil {
			return fmt.Errorf("invalid environment override: %w", err)
		}
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Engine.UserID == "" {
		return fmt.Errorf("engine.user_id is required")
	}
	if c.Engine.PageSize < 1 || c.Engine.PageSize > points.MaxPageSize {
		return fmt.Errorf("engine.page_size must be between 1 and %d", points.MaxPageSize)
	}
	if c.Engine.StallThreshold < 1 {
		return fmt.Errorf("engine.stall_threshold must be >= 1")
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}
	if c.Scheduler.Interval < 0 || c.Scheduler.MinGap < 0 {
		return fmt.Errorf("scheduler durations must not be negative")
	}
	if c.Scheduler.Burst < 1 {
		return fmt.Errorf("scheduler.burst must be >= 1")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if len(c.Engine.Tiers) > 0 {
		if _, err := c.TierTable(); err != nil {
			return err
		}
	}
	return nil
}

// TierTable builds the engine's tier table. Tiers not named in the config
// keep their default minimums.
func (c Config) TierTable() (points.TierTable, error) {
	mins := make(map[points.TierLevel]int64, len(points.DefaultTiers))
	for _, t := range points.DefaultTiers {
		mins[t.Level] = t.Min
	}
	for name, floor := range c.Engine.Tiers {
		level, err := points.ParseTierLevel(name)
		if err != nil {
			return nil, fmt.Errorf("engine.tiers: %w", err)
		}
		mins[level] = floor
	}
	return points.NewTierTable(mins)
}
