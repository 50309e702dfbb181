package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskpilot/taskpilot/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View or initialize taskpilot configuration.

Configuration is stored at ~/.config/taskpilot/config.yaml
Project-specific overrides can be placed in .taskpilot.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		displayConfig(cfg)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetUserConfigPath()
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}

func displayConfig(cfg *config.Config) {
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}
	model := cfg.Anthropic.Model
	if model == "" {
		model = "(client default)"
	}

	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.model: %s\n", model)
	fmt.Printf("anthropic.use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	fmt.Printf("defaults.work_dir: %s\n", cfg.Defaults.WorkDir)
	fmt.Printf("defaults.max_repairs: %d\n", cfg.Defaults.MaxRepairs)
	fmt.Printf("defaults.max_tokens: %d\n", cfg.Defaults.MaxTokens)
	fmt.Printf("execution.max_retries: %d\n", cfg.Execution.MaxRetries)
	fmt.Printf("execution.strategy: %s\n", cfg.Execution.Strategy)
	fmt.Printf("execution.base_delay: %s\n", cfg.Execution.BaseDelay)
	fmt.Printf("execution.max_delay: %s\n", cfg.Execution.MaxDelay)
	fmt.Printf("execution.jitter: %t\n", cfg.Execution.Jitter)
	fmt.Printf("execution.parallel: %t\n", cfg.Execution.Parallel)
	fmt.Printf("execution.max_concurrency: %d\n", cfg.Execution.MaxConcurrency)
	fmt.Printf("checkpoint.dir: %s\n", cfg.Checkpoint.Dir)
	fmt.Printf("checkpoint.auto_save: %t\n", cfg.Checkpoint.AutoSave)

	if cfg.Anthropic.APIKey == "" && !cfg.Anthropic.UseBedrock {
		fmt.Fprintln(os.Stderr, "\nSet ANTHROPIC_API_KEY or enable anthropic.use_bedrock before running.")
	}
}
