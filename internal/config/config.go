// Package config loads bring-up configuration.
// Priority: defaults < config file < env vars.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/boxos/boxcore/pkg/schema"
)

// Config holds all boxcore configuration.
type Config struct {
	Log       LogConfig     `yaml:"log"`
	Core      CoreConfig    `yaml:"core"`
	Breaker   BreakerConfig `yaml:"breaker"`
	Journal   JournalConfig `yaml:"journal"`
	Workflows []string      `yaml:"workflows"` // workflow document paths
	Jobs      []JobConfig   `yaml:"jobs"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// CoreConfig sizes the routing core.
type CoreConfig struct {
	PoolSize           int `yaml:"pool_size"`            // in-flight entry limit
	DeckQueueCapacity  int `yaml:"deck_queue_capacity"`  // per-deck, power of two
	TimerCapacity      int `yaml:"timer_capacity"`       // timer table slots
	PassIntervalMillis int `yaml:"pass_interval_millis"` // idle-loop pass period
}

// BreakerConfig controls the per-deck circuit breaker.
type BreakerConfig struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	CooldownTicks    uint64 `yaml:"cooldown_ticks"`
}

// JournalConfig controls the lifecycle journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// JobConfig is one cron-triggered workflow.
type JobConfig struct {
	ID       string `yaml:"id"`
	Workflow string `yaml:"workflow"`
	Cron     string `yaml:"cron"`
	Disabled bool   `yaml:"disabled"`
}

// Default returns the default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Core: CoreConfig{
			PoolSize:           256,
			DeckQueueCapacity:  64,
			TimerCapacity:      64,
			PassIntervalMillis: 1,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			CooldownTicks:    1000,
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    filepath.Join(home, ".boxcore", "journal.db"),
		},
	}
}

// Load reads a config file and overlays it on the defaults, then applies env
// var overrides. A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, schema.NewErrorf(schema.ErrIO, "read config %s: %s", path, err.Error()).WithCause(err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, schema.NewErrorf(schema.ErrInvalidParameter,
				"parse config %s: %s", path, err.Error()).WithCause(err)
		}
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnv applies environment variable overrides.
func (c *Config) loadEnv() {
	if v := os.Getenv("BOXCORE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BOXCORE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("BOXCORE_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
		c.Journal.Enabled = true
	}
	if v := os.Getenv("BOXCORE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Core.PoolSize = n
		}
	}
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return schema.NewErrorf(schema.ErrInvalidParameter, "unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return schema.NewErrorf(schema.ErrInvalidParameter, "unknown log format %q", c.Log.Format)
	}
	if c.Core.PoolSize <= 0 {
		return schema.NewError(schema.ErrInvalidParameter, "pool_size must be positive")
	}
	if q := c.Core.DeckQueueCapacity; q <= 0 || q&(q-1) != 0 {
		return schema.NewErrorf(schema.ErrInvalidParameter,
			"deck_queue_capacity %d is not a power of two", q)
	}
	if c.Core.TimerCapacity <= 0 {
		return schema.NewError(schema.ErrInvalidParameter, "timer_capacity must be positive")
	}
	if c.Core.PassIntervalMillis <= 0 {
		return schema.NewError(schema.ErrInvalidParameter, "pass_interval_millis must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return schema.NewError(schema.ErrInvalidParameter, "failure_threshold must be positive")
	}
	seen := make(map[string]bool, len(c.Jobs))
	for _, j := range c.Jobs {
		if j.ID == "" || j.Workflow == "" || j.Cron == "" {
			return schema.NewError(schema.ErrInvalidParameter, "job needs id, workflow and cron")
		}
		if seen[j.ID] {
			return schema.NewErrorf(schema.ErrInvalidParameter, "duplicate job id %q", j.ID)
		}
		seen[j.ID] = true
	}
	return nil
}
