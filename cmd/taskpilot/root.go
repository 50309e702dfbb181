package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskpilot",
	Short: "Goal-to-execution task orchestration engine",
	Long: `Taskpilot turns a natural-language goal into an executed plan.

It decomposes the goal into typed tasks with Claude, resolves the
dependency graph, assigns a tool to each task, and executes the plan
sequentially or in parallel batches with retries, checkpointing, and
pause/cancel control.

Core capabilities:
- Decomposes goals into a validated task DAG
- Infers implicit dependencies from task inputs and outputs
- Flags bottleneck tasks before execution starts
- Retries failures with configurable backoff and alternative tools
- Checkpoints runs to flat files so they can be resumed`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env is fine; explicit env vars still apply.
		_ = godotenv.Load()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
