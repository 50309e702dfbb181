package models

import "time"

// TaskType classifies what kind of work a task represents.
type TaskType string

const (
	// TaskTypeThink is a pure reasoning task answered by the LLM directly.
	TaskTypeThink TaskType = "think"
	// TaskTypePlan is a task that is recursively decomposed into a sub-plan.
	TaskTypePlan TaskType = "plan"
	// TaskTypeRead is a task that reads files or other inputs.
	TaskTypeRead TaskType = "read"
	// TaskTypeWrite is a task that produces or modifies files.
	TaskTypeWrite TaskType = "write"
	// TaskTypeExecute is a task that runs commands.
	TaskTypeExecute TaskType = "execute"
	// TaskTypeTest is a task that verifies prior work.
	TaskTypeTest TaskType = "test"
)

// Valid returns true if the task type is a known value.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeThink, TaskTypePlan, TaskTypeRead, TaskTypeWrite, TaskTypeExecute, TaskTypeTest:
		return true
	default:
		return false
	}
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not been scheduled yet.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates all dependencies are satisfied.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusRunning indicates the task is being executed.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed after exhausting retries.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusSkipped indicates the task was never dispatched because a
	// dependency failed.
	TaskStatusSkipped TaskStatus = "skipped"
	// TaskStatusCancelled indicates execution was cancelled before the task
	// reached a terminal state.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal,
// forward-only transition. Terminal states admit no transitions.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == TaskStatusCancelled {
		return true // cancel is allowed from any non-terminal state
	}
	switch s {
	case TaskStatusPending:
		return next == TaskStatusReady || next == TaskStatusSkipped
	case TaskStatusReady:
		return next == TaskStatusRunning || next == TaskStatusSkipped
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	default:
		return false
	}
}

// RiskLevel classifies how dangerous a task or tool is.
type RiskLevel string

const (
	// RiskLow is for read-only or purely computational work.
	RiskLow RiskLevel = "low"
	// RiskMedium is for work that modifies local state.
	RiskMedium RiskLevel = "medium"
	// RiskHigh is for work that executes commands or is hard to undo.
	RiskHigh RiskLevel = "high"
)

// Valid returns true if the risk level is a known value.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// Capabilities is the set of capability flags shared by task requirements
// and tool declarations. A tool is eligible for a task when its capability
// set covers the task's requirement.
type Capabilities struct {
	// Read indicates file or data read access.
	Read bool `json:"read,omitempty"`
	// Write indicates file or data write access.
	Write bool `json:"write,omitempty"`
	// Execute indicates command execution.
	Execute bool `json:"execute,omitempty"`
	// Search indicates content or file search.
	Search bool `json:"search,omitempty"`
}

// Covers returns true if c is a superset of req.
func (c Capabilities) Covers(req Capabilities) bool {
	if req.Read && !c.Read {
		return false
	}
	if req.Write && !c.Write {
		return false
	}
	if req.Execute && !c.Execute {
		return false
	}
	if req.Search && !c.Search {
		return false
	}
	return true
}

// IsZero returns true if no capability flag is set.
func (c Capabilities) IsZero() bool {
	return c == Capabilities{}
}

// TaskRequirement declares what a task needs from its executor. It replaces
// loosely typed per-task requirement maps with one explicit structure.
type TaskRequirement struct {
	// AgentType names the preferred executor class, if any.
	AgentType string `json:"agent_type,omitempty"`
	// Params maps tool parameter names to their bound values.
	Params map[string]string `json:"params,omitempty"`
	// Inputs are artifact names this task consumes.
	Inputs []string `json:"inputs,omitempty"`
	// Outputs are artifact names this task produces.
	Outputs []string `json:"outputs,omitempty"`
	// Capabilities are the capability flags a tool must cover.
	Capabilities Capabilities `json:"capabilities,omitempty"`
}

// Task represents a unit of work in an execution plan.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Description explains what the task should accomplish.
	Description string `json:"description"`
	// Type classifies the task for dispatch routing.
	Type TaskType `json:"type"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// EstimatedSeconds is the estimated execution time in seconds.
	EstimatedSeconds float64 `json:"estimated_seconds"`
	// Risk classifies how dangerous this task is.
	Risk RiskLevel `json:"risk"`
	// Requirement declares what this task needs from its executor.
	Requirement TaskRequirement `json:"requirement,omitempty"`
	// AssignedTool is the name of the tool selected for this task, if any.
	AssignedTool string `json:"assigned_tool,omitempty"`
	// Result holds the output of a completed task.
	Result string `json:"result,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// Attempts is the number of execution attempts made so far.
	Attempts int `json:"attempts,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when execution began, if it has.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Transition moves the task to the next status, enforcing the forward-only
// state machine. It returns false and leaves the task unchanged if the
// transition is not legal.
func (t *Task) Transition(next TaskStatus) bool {
	if !t.Status.CanTransition(next) {
		return false
	}
	t.Status = next
	now := time.Now()
	switch next {
	case TaskStatusRunning:
		t.StartedAt = &now
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		t.CompletedAt = &now
	}
	return true
}

// DependsOnTask returns true if the task lists id as a direct dependency.
func (t *Task) DependsOnTask(id string) bool {
	for _, dep := range t.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}
