package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/taskpilot/taskpilot/internal/graph"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// checkpointVersion is the schema version written to every checkpoint.
// Load refuses files written under a different version.
const checkpointVersion = 1

// ErrCheckpointMismatch indicates a checkpoint that does not match the
// expected schema version or plan.
var ErrCheckpointMismatch = errors.New("checkpoint does not match")

// Checkpoint is a flat snapshot of a run, sufficient to resume it.
type Checkpoint struct {
	// Version is the checkpoint schema version.
	Version int `json:"version"`
	// PlanID identifies the plan this checkpoint belongs to.
	PlanID string `json:"plan_id"`
	// Goal is the plan's original goal.
	Goal string `json:"goal"`
	// State is the engine state at save time.
	State State `json:"state"`
	// Policy is the execution policy in effect.
	Policy models.ExecutionPolicy `json:"policy"`
	// Tasks are per-task snapshots, including status and results.
	Tasks []*models.Task `json:"tasks"`
	// SavedAt is when the checkpoint was written.
	SavedAt time.Time `json:"saved_at"`
}

// SaveCheckpoint writes the engine's current plan state to path. The file
// is written to a temp name and renamed so a crash never leaves a torn
// checkpoint behind.
func (e *Engine) SaveCheckpoint(path string) error {
	e.mu.RLock()
	if e.plan == nil {
		e.mu.RUnlock()
		return fmt.Errorf("no plan to checkpoint")
	}
	cp := Checkpoint{
		Version: checkpointVersion,
		PlanID:  e.plan.ID,
		Goal:    e.plan.Goal,
		State:   e.state,
		Policy:  e.policy,
		Tasks:   e.plan.Tasks,
		SavedAt: time.Now(),
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	e.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads and validates a checkpoint file. The schema version
// must match and the task set must form a consistent DAG; anything else is
// ErrCheckpointMismatch.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.Version != checkpointVersion {
		return nil, fmt.Errorf("%w: schema version %d, want %d", ErrCheckpointMismatch, cp.Version, checkpointVersion)
	}
	if cp.PlanID == "" {
		return nil, fmt.Errorf("%w: missing plan id", ErrCheckpointMismatch)
	}
	if _, err := graph.Build(cp.Tasks); err != nil {
		return nil, fmt.Errorf("%w: inconsistent task set: %v", ErrCheckpointMismatch, err)
	}
	return &cp, nil
}

// Restore loads a checkpoint into the engine. If the engine already holds
// a plan, the checkpoint must belong to the same plan with the same task
// IDs; otherwise the checkpoint's plan is installed. Completed tasks keep
// their results, so a subsequent ExecutePlan only runs unfinished work.
func (e *Engine) Restore(cp *Checkpoint) error {
	if cp.Version != checkpointVersion {
		return fmt.Errorf("%w: schema version %d, want %d", ErrCheckpointMismatch, cp.Version, checkpointVersion)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.plan != nil {
		if e.plan.ID != cp.PlanID {
			return fmt.Errorf("%w: checkpoint is for plan %s, engine holds %s", ErrCheckpointMismatch, cp.PlanID, e.plan.ID)
		}
		have := make(map[string]bool, len(e.plan.Tasks))
		for _, t := range e.plan.Tasks {
			have[t.ID] = true
		}
		if len(cp.Tasks) != len(have) {
			return fmt.Errorf("%w: checkpoint has %d tasks, plan has %d", ErrCheckpointMismatch, len(cp.Tasks), len(have))
		}
		for _, t := range cp.Tasks {
			if !have[t.ID] {
				return fmt.Errorf("%w: checkpoint task %s not in plan", ErrCheckpointMismatch, t.ID)
			}
		}
	}

	// Running tasks were interrupted mid-flight; they go back to pending so
	// the resumed run re-dispatches them.
	for _, t := range cp.Tasks {
		if t.Status == models.TaskStatusRunning || t.Status == models.TaskStatusReady {
			t.Status = models.TaskStatusPending
			t.StartedAt = nil
		}
	}

	e.plan = &models.ExecutionPlan{
		ID:        cp.PlanID,
		Goal:      cp.Goal,
		Tasks:     cp.Tasks,
		Status:    models.PlanStatusDraft,
		CreatedAt: cp.SavedAt,
	}
	e.policy = cp.Policy
	e.state = StateIdle
	return nil
}
