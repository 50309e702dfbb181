package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/engine"
	"github.com/taskpilot/taskpilot/pkg/models"
)

var (
	runParallel   bool
	runCheckpoint string
	runYes        bool
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Plan a goal and execute it",
	Long: `Decompose a goal into a task plan and execute it to completion.

Execution is sequential by default; --parallel dispatches independent
tasks batch by batch under the configured concurrency bound. The run is
checkpointed so it can be resumed with 'taskpilot resume'.

A running engine can be controlled externally by creating files named
pause, resume, or cancel in the signals directory under the checkpoint
directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runParallel, "parallel", false, "Execute independent tasks in parallel batches")
	runCmd.Flags().StringVar(&runCheckpoint, "checkpoint", "", "Checkpoint file path (default <checkpoint.dir>/checkpoint.json)")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Skip the confirmation prompt")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	completer, err := newCompleter(cfg)
	if err != nil {
		return err
	}
	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	policy := cfg.Policy()
	if runParallel {
		policy.Parallel = true
	}
	cpPath := checkpointPath(cfg, runCheckpoint)

	// The hooks close over the engine so they can checkpoint mid-run.
	var e *engine.Engine
	e = engine.New(registry,
		engine.WithPolicy(policy),
		engine.WithCompleter(completer),
		engine.WithDecomposer(newDecomposer(cfg, completer)),
		engine.WithHooks(engine.Hooks{
			OnTaskStart: func(task *models.Task) {
				fmt.Printf("%s %s: %s\n", sprintStatus(task.Status), task.ID, task.Description)
			},
			OnTaskComplete: func(task *models.Task) {
				fmt.Printf("%s %s\n", sprintStatus(task.Status), task.ID)
				autoSave(cfg, e, cpPath)
			},
			OnTaskFail: func(task *models.Task, err error) {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", sprintStatus(task.Status), task.ID, err)
				autoSave(cfg, e, cpPath)
			},
		}),
	)

	ctx := cmd.Context()
	plan, err := e.Plan(ctx, args[0])
	if err != nil {
		return err
	}

	printTaskTable(plan.Tasks)
	fmt.Printf("\nPlan %s: %d tasks, %.0fs estimated\n", plan.ID, len(plan.Tasks), plan.TotalEstimatedSeconds())
	if !runYes && !confirm("Execute this plan?") {
		fmt.Println("Aborted.")
		return nil
	}

	watcher, err := engine.WatchSignals(signalsDir(cfg), e)
	if err != nil {
		log.Printf("[run] signal watcher unavailable: %v", err)
	} else {
		defer watcher.Close()
		watcher.ClearSignals()
	}

	execErr := e.ExecutePlan(ctx, plan)
	if err := e.SaveCheckpoint(cpPath); err != nil {
		log.Printf("[run] checkpoint save failed: %v", err)
	} else {
		fmt.Printf("Checkpoint written to %s\n", cpPath)
	}

	fmt.Println()
	fmt.Print(e.Summary())
	printTokenUsage(completer)
	return execErr
}

// autoSave writes a checkpoint after a task settles, if enabled.
func autoSave(cfg *config.Config, e *engine.Engine, path string) {
	if !cfg.Checkpoint.AutoSave || e == nil {
		return
	}
	if err := e.SaveCheckpoint(path); err != nil {
		log.Printf("[run] auto checkpoint failed: %v", err)
	}
}
