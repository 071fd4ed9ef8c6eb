package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig          `yaml:"server"`
	Database    DatabaseConfig        `yaml:"database"`
	Redis       RedisConfig           `yaml:"redis"`
	Rollups     RollupsConfig         `yaml:"rollups"`
	Views       ViewsConfig           `yaml:"views"`
	Maintenance MaintenanceConfig     `yaml:"maintenance"`
	Queues      QueuesConfig          `yaml:"queues"`
	Tasks       map[string]TaskConfig `yaml:"tasks"`
}

type ServerConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	LoggingLevel    string   `yaml:"logging_level"`
	LoggingFormat   string   `yaml:"logging_format"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL            string   `yaml:"url"`
	MaxConns       int32    `yaml:"max_conns"`
	MinConns       int32    `yaml:"min_conns"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	QueryTimeout   Duration `yaml:"query_timeout"`
}

// RedisConfig enables the multi-replica leader lock. An empty addr selects
// the process-local lock.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	LockKey  string   `yaml:"lock_key"`
	LockTTL  Duration `yaml:"lock_ttl"`
}

// RollupsConfig switches granularities on and off. Unset means enabled.
type RollupsConfig struct {
	Hourly  *bool `yaml:"hourly"`
	Daily   *bool `yaml:"daily"`
	Weekly  *bool `yaml:"weekly"`
	Monthly *bool `yaml:"monthly"`
}

// Enabled reports whether a granularity's scheduled rollup should run.
func (r RollupsConfig) Enabled(granularity string) bool {
	var flag *bool
	switch granularity {
	case "hourly":
		flag = r.Hourly
	case "daily":
		flag = r.Daily
	case "weekly":
		flag = r.Weekly
	case "monthly":
		flag = r.Monthly
	default:
		return false
	}
	return flag == nil || *flag
}

type ViewsConfig struct {
	// ConcurrentRefresh selects non-locking refreshes. Unset means enabled.
	ConcurrentRefresh *bool `yaml:"concurrent_refresh"`
}

func (v ViewsConfig) Concurrent() bool {
	return v.ConcurrentRefresh == nil || *v.ConcurrentRefresh
}

type MaintenanceConfig struct {
	// RetentionDays for raw rows; aggregates keep twice as long. Zero uses
	// the built-in default.
	RetentionDays         int      `yaml:"retention_days"`
	VacuumTables          []string `yaml:"vacuum_tables"`
	ReindexTables         []string `yaml:"reindex_tables"`
	AggregationStaleAfter Duration `yaml:"aggregation_stale_after"`
	RawStaleAfter         Duration `yaml:"raw_stale_after"`
}

type QueuesConfig struct {
	// Routes maps a task name prefix to a queue name.
	Routes map[string]string `yaml:"routes"`

	// Workers is the goroutine count per queue.
	Workers map[string]int `yaml:"workers"`

	Capacity int `yaml:"capacity"`
}

// TaskConfig overrides one task's retry, backoff, time limit or cadence
// defaults. Keys in the tasks map are task names such as "rollup.hourly".
type TaskConfig struct {
	MaxRetries    *int      `yaml:"max_retries"`
	BackoffBase   *Duration `yaml:"backoff_base"`
	SoftTimeLimit *Duration `yaml:"soft_time_limit"`
	HardTimeLimit *Duration `yaml:"hard_time_limit"`
	Every         *Duration `yaml:"every"`
	Disabled      bool      `yaml:"disabled"`
}

// Duration wraps time.Duration so YAML values can be written as "30s" or
// "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Normalize()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Normalize resolves os.environ/ references so secrets stay out of config
// files.
func (c *Config) Normalize() {
	c.Database.URL = resolveEnvString(c.Database.URL)
	c.Redis.Addr = resolveEnvString(c.Redis.Addr)
	c.Redis.Password = resolveEnvString(c.Redis.Password)
}

// ApplyDefaults fills zero fields whose defaults live at this level. Store
// and executor sizing defaults stay with their own packages.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":9090"
	}
	if c.Server.LoggingLevel == "" {
		c.Server.LoggingLevel = "info"
	}
	if c.Server.LoggingFormat == "" {
		c.Server.LoggingFormat = "json"
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		c.Server.ShutdownTimeout = Duration{30 * time.Second}
	}
}

func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Server.LoggingLevel] {
		return fmt.Errorf("invalid logging_level: %s (must be debug, info, warn, or error)", c.Server.LoggingLevel)
	}

	if c.Server.LoggingFormat != "json" && c.Server.LoggingFormat != "text" {
		return fmt.Errorf("invalid logging_format: %s (must be json or text)", c.Server.LoggingFormat)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	if c.Database.MaxConns < 0 || c.Database.MinConns < 0 {
		return fmt.Errorf("database pool sizes must not be negative")
	}
	if c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min_conns %d exceeds max_conns %d", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Redis.DB < 0 {
		return fmt.Errorf("invalid redis db: %d", c.Redis.DB)
	}

	if c.Maintenance.RetentionDays < 0 {
		return fmt.Errorf("invalid retention_days: %d", c.Maintenance.RetentionDays)
	}

	if c.Queues.Capacity < 0 {
		return fmt.Errorf("invalid queue capacity: %d", c.Queues.Capacity)
	}
	for queue, workers := range c.Queues.Workers {
		if workers < 0 {
			return fmt.Errorf("queue %s: invalid worker count: %d", queue, workers)
		}
	}

	for name, task := range c.Tasks {
		if task.MaxRetries != nil && *task.MaxRetries < 0 {
			return fmt.Errorf("task %s: invalid max_retries: %d", name, *task.MaxRetries)
		}
		if task.Every != nil && task.Every.Duration < 0 {
			return fmt.Errorf("task %s: invalid every: %s", name, task.Every)
		}
		if task.SoftTimeLimit != nil && task.HardTimeLimit != nil &&
			task.HardTimeLimit.Duration < task.SoftTimeLimit.Duration {
			return fmt.Errorf("task %s: hard_time_limit %s undercuts soft_time_limit %s",
				name, task.HardTimeLimit, task.SoftTimeLimit)
		}
	}

	return nil
}
