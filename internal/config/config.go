// Package config handles configuration loading and management for taskpilot.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/taskpilot/taskpilot/pkg/models"
)

// Config holds all configuration for taskpilot.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Defaults   DefaultsConfig   `mapstructure:"defaults"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
	// UseBedrock routes calls through AWS Bedrock instead of the direct API.
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// DefaultsConfig holds default values for taskpilot runs.
type DefaultsConfig struct {
	// WorkDir is the root directory for file tools.
	WorkDir string `mapstructure:"work_dir"`
	// MaxRepairs bounds the decomposition repair re-prompt loop.
	MaxRepairs int `mapstructure:"max_repairs"`
	// MaxTokens caps completion length per LLM call.
	MaxTokens int `mapstructure:"max_tokens"`
}

// ExecutionConfig holds the retry and concurrency policy.
type ExecutionConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	Strategy       string        `mapstructure:"strategy"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Jitter         bool          `mapstructure:"jitter"`
	Parallel       bool          `mapstructure:"parallel"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// CheckpointConfig holds checkpoint file settings.
type CheckpointConfig struct {
	// Dir is where checkpoints and signal files live.
	Dir string `mapstructure:"dir"`
	// AutoSave writes a checkpoint after every task state change.
	AutoSave bool `mapstructure:"auto_save"`
}

// Policy converts the execution section into a models.ExecutionPolicy,
// falling back to defaults for unset or invalid values.
func (c *Config) Policy() models.ExecutionPolicy {
	p := models.DefaultPolicy()
	if c.Execution.MaxRetries >= 0 {
		p.MaxRetries = c.Execution.MaxRetries
	}
	if s := models.RetryStrategy(c.Execution.Strategy); s.Valid() {
		p.Strategy = s
	}
	if c.Execution.BaseDelay > 0 {
		p.BaseDelay = c.Execution.BaseDelay
	}
	if c.Execution.MaxDelay > 0 {
		p.MaxDelay = c.Execution.MaxDelay
	}
	p.Jitter = c.Execution.Jitter
	p.Parallel = c.Execution.Parallel
	if c.Execution.MaxConcurrency > 0 {
		p.MaxConcurrency = c.Execution.MaxConcurrency
	}
	return p
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.taskpilot.yaml in current directory or parent)
// 3. User config (~/.config/taskpilot/config.yaml)
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

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.use_bedrock", "CLAUDE_CODE_USE_BEDROCK")
	v.BindEnv("anthropic.aws_region", "AWS_REGION")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

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

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// WriteDefault writes a commented default config file to path. Fails if
// the file already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	cfg := Default()
	out := map[string]any{
		"anthropic": map[string]any{
			"api_key":     "${ANTHROPIC_API_KEY}",
			"model":       cfg.Anthropic.Model,
			"use_bedrock": cfg.Anthropic.UseBedrock,
		},
		"defaults": map[string]any{
			"work_dir":    cfg.Defaults.WorkDir,
			"max_repairs": cfg.Defaults.MaxRepairs,
			"max_tokens":  cfg.Defaults.MaxTokens,
		},
		"execution": map[string]any{
			"max_retries":     cfg.Execution.MaxRetries,
			"strategy":        cfg.Execution.Strategy,
			"base_delay":      cfg.Execution.BaseDelay.String(),
			"max_delay":       cfg.Execution.MaxDelay.String(),
			"jitter":          cfg.Execution.Jitter,
			"parallel":        cfg.Execution.Parallel,
			"max_concurrency": cfg.Execution.MaxConcurrency,
		},
		"checkpoint": map[string]any{
			"dir":       cfg.Checkpoint.Dir,
			"auto_save": cfg.Checkpoint.AutoSave,
		},
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("defaults.work_dir", ".")
	v.SetDefault("defaults.max_repairs", 1)
	v.SetDefault("defaults.max_tokens", 4096)

	v.SetDefault("execution.max_retries", 3)
	v.SetDefault("execution.strategy", "exponential")
	v.SetDefault("execution.base_delay", "1s")
	v.SetDefault("execution.max_delay", "30s")
	v.SetDefault("execution.jitter", true)
	v.SetDefault("execution.parallel", false)
	v.SetDefault("execution.max_concurrency", 4)

	v.SetDefault("checkpoint.dir", ".taskpilot")
	v.SetDefault("checkpoint.auto_save", true)
}

// getUserConfigDir returns the XDG config directory for taskpilot.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskpilot")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskpilot")
	}
	return filepath.Join(home, ".config", "taskpilot")
}

// findProjectConfig searches for .taskpilot.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".taskpilot.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			APIKey: "",
		},
		Defaults: DefaultsConfig{
			WorkDir:    ".",
			MaxRepairs: 1,
			MaxTokens:  4096,
		},
		Execution: ExecutionConfig{
			MaxRetries:     3,
			Strategy:       "exponential",
			BaseDelay:      time.Second,
			MaxDelay:       30 * time.Second,
			Jitter:         true,
			Parallel:       false,
			MaxConcurrency: 4,
		},
		Checkpoint: CheckpointConfig{
			Dir:      ".taskpilot",
			AutoSave: true,
		},
	}
}
