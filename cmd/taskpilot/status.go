package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/engine"
	"github.com/taskpilot/taskpilot/pkg/models"
)

var statusCheckpoint string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the last checkpointed run",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusCheckpoint, "checkpoint", "", "Checkpoint file path (default <checkpoint.dir>/checkpoint.json)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cpPath := checkpointPath(cfg, statusCheckpoint)
	if _, err := os.Stat(cpPath); os.IsNotExist(err) {
		fmt.Println("No checkpoint found. Run 'taskpilot run <goal>' to start.")
		return nil
	}

	cp, err := engine.LoadCheckpoint(cpPath)
	if err != nil {
		return err
	}

	var completed, failed, skipped, cancelled, remaining int
	for _, task := range cp.Tasks {
		switch task.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			failed++
		case models.TaskStatusSkipped:
			skipped++
		case models.TaskStatusCancelled:
			cancelled++
		default:
			remaining++
		}
	}
	progress := 0.0
	if len(cp.Tasks) > 0 {
		progress = float64(completed) / float64(len(cp.Tasks)) * 100
	}

	fmt.Printf("Plan %s: %q\n", cp.PlanID, cp.Goal)
	fmt.Printf("  State: %s (saved %s)\n", cp.State, cp.SavedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Progress: %d/%d (%.0f%%) failed=%d skipped=%d cancelled=%d\n",
		completed, len(cp.Tasks), progress, failed, skipped, cancelled)
	fmt.Println()
	printTaskTable(cp.Tasks)

	for _, task := range cp.Tasks {
		if task.Status == models.TaskStatusFailed {
			fmt.Printf("\n%s %s: %s\n", sprintStatus(task.Status), task.ID, task.Error)
		}
	}
	return nil
}
