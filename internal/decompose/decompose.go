// Package decompose turns a natural-language goal into a validated set of
// typed tasks by calling the LLM collaborator. The boundary is strict
// parse-then-validate: malformed output is an error, never a partial plan.
package decompose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/taskpilot/taskpilot/internal/graph"
	"github.com/taskpilot/taskpilot/internal/llm"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// ErrMalformedResponse indicates the LLM response could not be parsed or
// validated against the task schema.
var ErrMalformedResponse = errors.New("malformed decomposition response")

// decomposedTask is the JSON structure the model must return per task.
type decomposedTask struct {
	ID               string   `json:"id" validate:"required"`
	Description      string   `json:"description" validate:"required"`
	Type             string   `json:"type" validate:"required,oneof=THINK PLAN READ WRITE EXECUTE TEST"`
	DependsOn        []string `json:"depends_on"`
	EstimatedSeconds float64  `json:"estimated_seconds" validate:"required,gt=0"`
	Risk             string   `json:"risk" validate:"required,oneof=LOW MEDIUM HIGH"`
	Inputs           []string `json:"inputs"`
	Outputs          []string `json:"outputs"`
}

var validate = validator.New()

// Decomposer breaks down goals into task sets via the LLM collaborator.
// Repeated calls for the same goal are not guaranteed to return equal task
// sets; callers must not rely on cross-call equality.
type Decomposer struct {
	completer llm.Completer
	// maxRepairs bounds the re-prompt loop after a malformed response.
	// Zero disables repair: the first malformed response is fatal.
	maxRepairs int
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithMaxRepairs sets how many repair re-prompts are attempted after a
// malformed response. The default is 1.
func WithMaxRepairs(n int) Option {
	return func(d *Decomposer) {
		if n >= 0 {
			d.maxRepairs = n
		}
	}
}

// New creates a Decomposer backed by the given completer.
func New(completer llm.Completer, opts ...Option) *Decomposer {
	d := &Decomposer{completer: completer, maxRepairs: 1}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decompose asks the LLM to break the goal into tasks and returns the
// validated set. On a malformed response it re-prompts up to maxRepairs
// times with the validation error attached; if every attempt fails, it
// returns an error wrapping ErrMalformedResponse. It never substitutes an
// empty or fabricated plan.
func (d *Decomposer) Decompose(ctx context.Context, goal string) ([]*models.Task, error) {
	prompt := fmt.Sprintf(decompositionPrompt, goal)

	var lastErr error
	for attempt := 0; attempt <= d.maxRepairs; attempt++ {
		response, err := d.completer.Complete(ctx, llm.Request{Prompt: prompt})
		if err != nil {
			return nil, fmt.Errorf("decomposition call: %w", err)
		}

		tasks, err := ParseResponse(response)
		if err == nil {
			return tasks, nil
		}
		lastErr = err

		if attempt < d.maxRepairs {
			log.Printf("[decompose] attempt %d produced a malformed response, re-prompting: %v", attempt+1, err)
			prompt = fmt.Sprintf(repairPrompt, truncate(response, 2000), err.Error())
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, lastErr)
}

// ParseResponse parses and validates the model's JSON response into tasks.
// Every failure mode is an error: missing JSON, schema violations, unknown
// or duplicate IDs, non-positive estimates, and cyclic dependencies.
func ParseResponse(response string) ([]*models.Task, error) {
	jsonStr, err := llm.ExtractJSON(response)
	if err != nil {
		return nil, err
	}

	var decomposed []decomposedTask
	if err := json.Unmarshal([]byte(jsonStr), &decomposed); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	if len(decomposed) == 0 {
		return nil, fmt.Errorf("empty task list returned")
	}

	seen := make(map[string]bool, len(decomposed))
	for i, dt := range decomposed {
		if err := validate.Struct(dt); err != nil {
			return nil, fmt.Errorf("task %d failed schema validation: %w", i, err)
		}
		if seen[dt.ID] {
			return nil, fmt.Errorf("duplicate task id %q", dt.ID)
		}
		seen[dt.ID] = true
	}

	now := time.Now()
	tasks := make([]*models.Task, len(decomposed))
	for i, dt := range decomposed {
		for _, dep := range dt.DependsOn {
			if !seen[dep] {
				return nil, fmt.Errorf("unknown dependency %q for task %q", dep, dt.ID)
			}
			if dep == dt.ID {
				return nil, fmt.Errorf("task %q depends on itself", dt.ID)
			}
		}

		tasks[i] = &models.Task{
			ID:               dt.ID,
			Description:      dt.Description,
			Type:             taskType(dt.Type),
			Status:           models.TaskStatusPending,
			DependsOn:        dt.DependsOn,
			EstimatedSeconds: dt.EstimatedSeconds,
			Risk:             riskLevel(dt.Risk),
			Requirement: models.TaskRequirement{
				Inputs:       dt.Inputs,
				Outputs:      dt.Outputs,
				Capabilities: defaultCapabilities(taskType(dt.Type)),
			},
			CreatedAt: now,
		}
	}

	// Cycle validation happens here so a cyclic decomposition is repairable
	// before any scheduling structure is built.
	if _, err := graph.Build(tasks); err != nil {
		return nil, fmt.Errorf("validate dependencies: %w", err)
	}

	return tasks, nil
}

// taskType maps the uppercase wire value onto the model enum.
func taskType(s string) models.TaskType {
	return models.TaskType(strings.ToLower(s))
}

// riskLevel maps the uppercase wire value onto the model enum.
func riskLevel(s string) models.RiskLevel {
	return models.RiskLevel(strings.ToLower(s))
}

// defaultCapabilities derives the capability requirement implied by a task
// type when the model does not say otherwise.
func defaultCapabilities(t models.TaskType) models.Capabilities {
	switch t {
	case models.TaskTypeRead:
		return models.Capabilities{Read: true}
	case models.TaskTypeWrite:
		return models.Capabilities{Read: true, Write: true}
	case models.TaskTypeExecute:
		return models.Capabilities{Execute: true}
	case models.TaskTypeTest:
		return models.Capabilities{Read: true, Execute: true}
	default:
		return models.Capabilities{}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
