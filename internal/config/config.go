// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Compliance ComplianceConfig `mapstructure:"compliance"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	DB         DBConfig         `mapstructure:"db"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Selector   SelectorConfig   `mapstructure:"selector"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ComplianceConfig governs robots handling and politeness pacing.
type ComplianceConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	MinDelaySeconds  int    `mapstructure:"min_delay_seconds"`
	RobotsCacheTTL   int    `mapstructure:"robots_cache_ttl_seconds"`
	RobotsTimeoutSec int    `mapstructure:"robots_timeout_seconds"`
}

// FetchConfig configures the static HTTP fetcher.
type FetchConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs int  `mapstructure:"settle_delay_ms"`
}

// JobsConfig governs the worker loop and job budgets.
type JobsConfig struct {
	Workers          int `mapstructure:"workers"`
	QueueDepth       int `mapstructure:"queue_depth"`
	MaxRetries       int `mapstructure:"max_retries"`
	HardBudgetSec    int `mapstructure:"hard_budget_seconds"`
	SoftBudgetSec    int `mapstructure:"soft_budget_seconds"`
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig sets paths for page snapshot archiving.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for job completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SelectorConfig toggles the LLM selector generation capability. The
// capability is decided once at startup; when the key is empty the pipeline
// runs heuristics only.
type SelectorConfig struct {
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	Model           string `mapstructure:"model"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("compliance.user_agent",
		"SiteLensDiscovery/1.0 (Research; +https://github.com/sitelens/discovery)")
	v.SetDefault("compliance.min_delay_seconds", 2)
	v.SetDefault("compliance.robots_cache_ttl_seconds", 3600)
	v.SetDefault("compliance.robots_timeout_seconds", 10)
	v.SetDefault("fetch.timeout_seconds", 20)
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.settle_delay_ms", 2000)
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.max_retries", 3)
	v.SetDefault("jobs.hard_budget_seconds", 300)
	v.SetDefault("jobs.soft_budget_seconds", 240)
	v.SetDefault("jobs.heartbeat_seconds", 15)
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("selector.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Compliance.UserAgent == "" {
		return fmt.Errorf("compliance.user_agent must be set")
	}
	if c.Compliance.MinDelaySeconds <= 0 {
		return fmt.Errorf("compliance.min_delay_seconds must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be > 0")
	}
	if c.Jobs.SoftBudgetSec > c.Jobs.HardBudgetSec {
		return fmt.Errorf("jobs.soft_budget_seconds must not exceed jobs.hard_budget_seconds")
	}
	return nil
}

// MinDelay returns the per-origin politeness interval.
func (c Config) MinDelay() time.Duration {
	return time.Duration(c.Compliance.MinDelaySeconds) * time.Second
}

// RobotsTTL returns the robots cache time-to-live.
func (c Config) RobotsTTL() time.Duration {
	return time.Duration(c.Compliance.RobotsCacheTTL) * time.Second
}

// HardBudget returns the job-level wall-clock budget.
func (c Config) HardBudget() time.Duration {
	return time.Duration(c.Jobs.HardBudgetSec) * time.Second
}

// SoftBudget returns the advisory job budget used for warnings.
func (c Config) SoftBudget() time.Duration {
	return time.Duration(c.Jobs.SoftBudgetSec) * time.Second
}
