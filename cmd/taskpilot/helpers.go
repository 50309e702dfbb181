package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/decompose"
	"github.com/taskpilot/taskpilot/internal/llm"
	"github.com/taskpilot/taskpilot/internal/tools"
	"github.com/taskpilot/taskpilot/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	statusSprint = map[models.TaskStatus]func(a ...interface{}) string{
		models.TaskStatusCompleted: color.New(color.FgGreen).SprintFunc(),
		models.TaskStatusFailed:    color.New(color.FgRed).SprintFunc(),
		models.TaskStatusSkipped:   color.New(color.FgYellow).SprintFunc(),
		models.TaskStatusCancelled: color.New(color.FgMagenta).SprintFunc(),
		models.TaskStatusRunning:   color.New(color.FgCyan).SprintFunc(),
	}
)

// sprintStatus renders a task status with its color, defaulting to plain.
func sprintStatus(s models.TaskStatus) string {
	if f, ok := statusSprint[s]; ok {
		return f(string(s))
	}
	return string(s)
}

// newCompleter builds the LLM client from config.
func newCompleter(cfg *config.Config) (*llm.Client, error) {
	return llm.NewClient(llm.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
}

// newDecomposer builds the decomposer with the configured repair budget.
func newDecomposer(cfg *config.Config, completer llm.Completer) *decompose.Decomposer {
	return decompose.New(completer, decompose.WithMaxRepairs(cfg.Defaults.MaxRepairs))
}

// newRegistry builds the tool registry with the built-in tools rooted at
// the configured working directory.
func newRegistry(cfg *config.Config) (*tools.Registry, error) {
	workDir := cfg.Defaults.WorkDir
	if workDir == "" || workDir == "." {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		workDir = cwd
	}
	r := tools.NewRegistry()
	if err := tools.RegisterBuiltins(r, workDir); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}
	return r, nil
}

// checkpointPath resolves the checkpoint file location for a run.
func checkpointPath(cfg *config.Config, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(cfg.Checkpoint.Dir, "checkpoint.json")
}

// signalsDir returns the directory watched for pause/resume/cancel files.
func signalsDir(cfg *config.Config) string {
	return filepath.Join(cfg.Checkpoint.Dir, "signals")
}

// printTaskTable renders the plan's tasks as a static table.
func printTaskTable(tasks []*models.Task) {
	fmt.Println(headerStyle.Render("Tasks"))
	for _, t := range tasks {
		deps := "-"
		if len(t.DependsOn) > 0 {
			deps = strings.Join(t.DependsOn, ",")
		}
		tool := t.AssignedTool
		if tool == "" {
			tool = "-"
		}
		fmt.Printf("  %-14s %-8s %-8s %6.0fs  %-12s deps=%s\n",
			t.ID, t.Type, sprintStatus(t.Status), t.EstimatedSeconds, tool, deps)
		fmt.Printf("    %s\n", dimStyle.Render(t.Description))
	}
}

// printTokenUsage reports the LLM tokens consumed by a run.
func printTokenUsage(c *llm.Client) {
	u := c.Usage()
	if u.Calls == 0 {
		return
	}
	fmt.Println(dimStyle.Render(fmt.Sprintf("llm: %d calls, %d input tokens, %d output tokens", u.Calls, u.InputTokens, u.OutputTokens)))
}

// confirm asks a y/N question on stdin.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
