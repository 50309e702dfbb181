package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/engine"
)

var resumeCheckpoint string

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted run from its checkpoint",
	Long: `Load a checkpoint and execute the remaining work.

Completed tasks keep their results and are not re-run; tasks that were
interrupted mid-flight are re-dispatched from scratch.`,
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeCheckpoint, "checkpoint", "", "Checkpoint file path (default <checkpoint.dir>/checkpoint.json)")
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cpPath := checkpointPath(cfg, resumeCheckpoint)
	cp, err := engine.LoadCheckpoint(cpPath)
	if err != nil {
		return err
	}

	completer, err := newCompleter(cfg)
	if err != nil {
		return err
	}
	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	e := engine.New(registry,
		engine.WithPolicy(cp.Policy),
		engine.WithCompleter(completer),
		engine.WithDecomposer(newDecomposer(cfg, completer)),
	)
	if err := e.Restore(cp); err != nil {
		return err
	}

	plan := e.CurrentPlan()
	fmt.Printf("Resuming plan %s: %q\n", plan.ID, plan.Goal)
	printTaskTable(plan.Tasks)

	watcher, err := engine.WatchSignals(signalsDir(cfg), e)
	if err != nil {
		log.Printf("[resume] signal watcher unavailable: %v", err)
	} else {
		defer watcher.Close()
		watcher.ClearSignals()
	}

	execErr := e.ExecutePlan(cmd.Context(), plan)
	if err := e.SaveCheckpoint(cpPath); err != nil {
		log.Printf("[resume] checkpoint save failed: %v", err)
	}

	fmt.Println()
	fmt.Print(e.Summary())
	printTokenUsage(completer)
	return execErr
}
