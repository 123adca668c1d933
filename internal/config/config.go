// Package config handles configuration loading and management for dispatch.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestration core.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Router    RouterConfig    `mapstructure:"router"`
	Arbiter   ArbiterConfig   `mapstructure:"arbiter"`
	Mailbox   MailboxConfig   `mapstructure:"mailbox"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
}

// SchedulerConfig holds DAG scheduler settings.
type SchedulerConfig struct {
	// PoolSize bounds concurrent subtask dispatch. Zero means one worker
	// per distinct capability tag in the workflow.
	PoolSize int `mapstructure:"pool_size"`
	// MaxRetries is the retry budget per subtask for retryable errors.
	MaxRetries int `mapstructure:"max_retries"`
	// BackoffBase is the first retry delay; subsequent delays double.
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	// BackoffMax caps the retry delay.
	BackoffMax time.Duration `mapstructure:"backoff_max"`
	// DefaultTimeout bounds a single agent invocation when the capability
	// has no specific timeout configured.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// CapabilityTimeouts overrides the invocation timeout per capability tag.
	CapabilityTimeouts map[string]time.Duration `mapstructure:"capability_timeouts"`
}

// Timeout returns the invocation timeout for the given capability.
func (c SchedulerConfig) Timeout(capability string) time.Duration {
	if d, ok := c.CapabilityTimeouts[capability]; ok && d > 0 {
		return d
	}
	return c.DefaultTimeout
}

// RouterConfig holds skill router settings.
type RouterConfig struct {
	// StalenessThreshold is the maximum heartbeat age for routing eligibility.
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
}

// ArbiterConfig holds authority arbiter settings.
type ArbiterConfig struct {
	// MatrixPath is the path to the domain-authority matrix YAML file.
	MatrixPath string `mapstructure:"matrix_path"`
	// WatchMatrix enables hot-reload of the matrix file on change.
	WatchMatrix bool `mapstructure:"watch_matrix"`
}

// MailboxConfig holds inter-agent mailbox settings.
type MailboxConfig struct {
	// Secret is the shared MAC key known to all legitimate agents.
	// Rotating it invalidates in-flight unread messages.
	Secret string `mapstructure:"secret"`
}

// MemoryConfig holds shared memory store settings.
type MemoryConfig struct {
	// ScopeCap is the maximum entry count per scope before pruning.
	ScopeCap int `mapstructure:"scope_cap"`
	// ImportanceWeight scales the importance term of the recall score.
	ImportanceWeight float64 `mapstructure:"importance_weight"`
	// RecencyWeight scales the recency term of the recall score.
	RecencyWeight float64 `mapstructure:"recency_weight"`
	// RecencyHalfLife controls how fast the recency term decays.
	RecencyHalfLife time.Duration `mapstructure:"recency_half_life"`
}

// PlannerConfig holds external planner settings.
type PlannerConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string `mapstructure:"api_key"`
	// Model is the Claude model used for decomposition.
	Model string `mapstructure:"model"`
	// UseAWSBedrock routes planner calls through AWS Bedrock.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock"`
	// AWSRegion is the AWS region for Bedrock.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS profile name.
	AWSProfile string `mapstructure:"aws_profile"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DataDir is the directory holding the sqlite databases.
	// Empty uses the XDG default.
	DataDir string `mapstructure:"data_dir"`
}

// ServerConfig holds admin HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address for the admin surface.
	Addr string `mapstructure:"addr"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (DISPATCH_MAILBOX_SECRET, ANTHROPIC_API_KEY)
// 2. Project config (.dispatch.yaml in current directory or a parent)
// 3. User config (~/.config/dispatch/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("planner.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("mailbox.secret", "DISPATCH_MAILBOX_SECRET")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Planner.APIKey = expandEnv(cfg.Planner.APIKey)
	cfg.Mailbox.Secret = expandEnv(cfg.Mailbox.Secret)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Planner.APIKey = expandEnv(cfg.Planner.APIKey)
	cfg.Mailbox.Secret = expandEnv(cfg.Mailbox.Secret)

	return cfg, nil
}

// DefaultDataDir returns the XDG data directory for dispatch databases.
func DefaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "dispatch")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.pool_size", 0)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.backoff_base", "250ms")
	v.SetDefault("scheduler.backoff_max", "10s")
	v.SetDefault("scheduler.default_timeout", "2m")

	v.SetDefault("router.staleness_threshold", "30s")

	v.SetDefault("arbiter.matrix_path", "authority.yaml")
	v.SetDefault("arbiter.watch_matrix", true)

	v.SetDefault("mailbox.secret", "")

	v.SetDefault("memory.scope_cap", 200)
	v.SetDefault("memory.importance_weight", 0.6)
	v.SetDefault("memory.recency_weight", 0.4)
	v.SetDefault("memory.recency_half_life", "168h")

	v.SetDefault("planner.api_key", "")
	v.SetDefault("planner.model", "")
	v.SetDefault("planner.use_aws_bedrock", false)

	v.SetDefault("storage.data_dir", "")

	v.SetDefault("server.addr", ":8432")
}

// getUserConfigDir returns the XDG config directory for dispatch.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dispatch")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "dispatch")
	}
	return filepath.Join(home, ".config", "dispatch")
}

// findProjectConfig searches for .dispatch.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		candidate := filepath.Join(dir, ".dispatch.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnv expands ${VAR} references in a config value.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}
