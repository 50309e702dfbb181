package engine

import (
	"fmt"
	"strings"

	"github.com/taskpilot/taskpilot/pkg/models"
)

// Stats is a point-in-time summary of a run. Reading it is O(n) over the
// plan's tasks, has no side effects, and is safe to call concurrently.
type Stats struct {
	// State is the engine state at read time.
	State State `json:"state"`
	// Total is the number of tasks in the plan.
	Total int `json:"total"`
	// Completed counts successfully finished tasks.
	Completed int `json:"completed"`
	// Failed counts terminally failed tasks.
	Failed int `json:"failed"`
	// Skipped counts tasks never dispatched because a dependency failed.
	Skipped int `json:"skipped"`
	// Cancelled counts tasks cancelled before reaching a terminal state.
	Cancelled int `json:"cancelled"`
	// Remaining counts tasks not yet settled.
	Remaining int `json:"remaining"`
	// Progress is the completed fraction in percent.
	Progress float64 `json:"progress"`
}

// Stats summarizes the current run.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Stats{State: e.state}
	if e.plan == nil {
		return s
	}

	s.Total = len(e.plan.Tasks)
	for _, task := range e.plan.Tasks {
		switch task.Status {
		case models.TaskStatusCompleted:
			s.Completed++
		case models.TaskStatusFailed:
			s.Failed++
		case models.TaskStatusSkipped:
			s.Skipped++
		case models.TaskStatusCancelled:
			s.Cancelled++
		default:
			s.Remaining++
		}
	}
	if s.Total > 0 {
		s.Progress = float64(s.Completed) / float64(s.Total) * 100
	}
	return s
}

// Summary renders the run outcome: counts plus the root-cause error of
// each failed branch. Skipped tasks are downstream casualties and are not
// repeated as causes.
func (e *Engine) Summary() string {
	stats := e.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "state=%s completed=%d failed=%d skipped=%d cancelled=%d remaining=%d (%.0f%%)\n",
		stats.State, stats.Completed, stats.Failed, stats.Skipped, stats.Cancelled, stats.Remaining, stats.Progress)

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.plan == nil {
		return b.String()
	}
	for _, task := range e.plan.Tasks {
		if task.Status == models.TaskStatusFailed {
			fmt.Fprintf(&b, "failed: %s (%d attempts): %s\n", task.ID, task.Attempts, task.Error)
		}
	}
	return b.String()
}
