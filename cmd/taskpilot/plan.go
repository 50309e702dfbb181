package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/graph"
	"github.com/taskpilot/taskpilot/internal/resolver"
)

var (
	planMermaid bool
	planASCII   bool
)

var planCmd = &cobra.Command{
	Use:   "plan <goal>",
	Short: "Decompose a goal into a task plan without executing it",
	Long: `Decompose a goal into typed tasks, resolve the dependency graph,
and report bottlenecks and the critical path. Nothing is executed.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planMermaid, "mermaid", false, "Print the dependency graph as mermaid")
	planCmd.Flags().BoolVar(&planASCII, "ascii", true, "Print the dependency graph as ASCII batches")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	completer, err := newCompleter(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	decomposer := newDecomposer(cfg, completer)
	tasks, err := decomposer.Decompose(ctx, args[0])
	if err != nil {
		return fmt.Errorf("decompose goal: %w", err)
	}

	res := resolver.New(resolver.DefaultScoring())
	inferred, err := res.InferImplicitDependencies(tasks)
	if err != nil {
		return fmt.Errorf("resolve dependencies: %w", err)
	}
	for _, warning := range res.ValidateTimeEstimates(tasks) {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}

	g, err := graph.Build(tasks)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}

	printTaskTable(tasks)
	if len(inferred.Added) > 0 {
		fmt.Printf("\nInferred dependencies: %d\n", len(inferred.Added))
		for _, edge := range inferred.Added {
			fmt.Printf("  %s -> %s\n", edge.From, edge.To)
		}
	}

	path, total := g.CriticalPath()
	fmt.Printf("\nCritical path (%.0fs):", total)
	for _, t := range path {
		fmt.Printf(" %s", t.ID)
	}
	fmt.Println()

	if bottlenecks := res.IdentifyBottlenecks(g); len(bottlenecks) > 0 {
		fmt.Println("\nBottlenecks:")
		for _, b := range bottlenecks {
			marker := ""
			if b.OnCriticalPath {
				marker = " (critical path)"
			}
			fmt.Printf("  %s score=%d downstream=%d%s\n", b.TaskID, b.Score, b.Downstream, marker)
		}
	}

	if planMermaid {
		fmt.Println("\n" + g.ExportMermaid())
	} else if planASCII {
		fmt.Println("\n" + g.ExportASCII())
	}
	printTokenUsage(completer)
	return nil
}
