package models

import "time"

// PlanStatus represents the overall state of an execution plan.
type PlanStatus string

const (
	// PlanStatusDraft indicates the plan has been built but not started.
	PlanStatusDraft PlanStatus = "draft"
	// PlanStatusRunning indicates the plan is being executed.
	PlanStatusRunning PlanStatus = "running"
	// PlanStatusCompleted indicates every task completed successfully.
	PlanStatusCompleted PlanStatus = "completed"
	// PlanStatusFailed indicates at least one task failed.
	PlanStatusFailed PlanStatus = "failed"
	// PlanStatusCancelled indicates the run was cancelled.
	PlanStatusCancelled PlanStatus = "cancelled"
)

// ExecutionPlan is a goal plus the ordered tasks produced for it.
type ExecutionPlan struct {
	// ID uniquely identifies this plan.
	ID string `json:"id"`
	// Goal is the natural-language goal the plan was built from.
	Goal string `json:"goal"`
	// Tasks are the plan's tasks in creation order.
	Tasks []*Task `json:"tasks"`
	// Status is the overall plan state.
	Status PlanStatus `json:"status"`
	// CurrentStep is the index of the task most recently dispatched.
	CurrentStep int `json:"current_step"`
	// CreatedAt is when the plan was built.
	CreatedAt time.Time `json:"created_at"`
}

// TaskByID returns the task with the given ID, or nil if not found.
func (p *ExecutionPlan) TaskByID(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// ReadyTasks returns the tasks whose status is pending and whose
// dependencies have all completed.
func (p *ExecutionPlan) ReadyTasks() []*Task {
	byID := make(map[string]*Task, len(p.Tasks))
	for _, t := range p.Tasks {
		byID[t.ID] = t
	}

	var ready []*Task
	for _, t := range p.Tasks {
		if t.Status != TaskStatusPending {
			continue
		}
		satisfied := true
		for _, dep := range t.DependsOn {
			d, ok := byID[dep]
			if !ok || d.Status != TaskStatusCompleted {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, t)
		}
	}
	return ready
}

// TotalEstimatedSeconds sums the time estimates across all tasks.
func (p *ExecutionPlan) TotalEstimatedSeconds() float64 {
	var total float64
	for _, t := range p.Tasks {
		total += t.EstimatedSeconds
	}
	return total
}
