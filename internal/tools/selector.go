package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/taskpilot/taskpilot/internal/llm"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// Selector assigns a registered tool to each task. Selection is three-tier:
// an explicit tool name wins, then an exact capability match, then
// LLM-assisted auto-selection among the remaining eligible candidates.
type Selector struct {
	registry  *Registry
	completer llm.Completer
}

// NewSelector creates a Selector. The completer may be nil, which disables
// the LLM-assisted tier.
func NewSelector(registry *Registry, completer llm.Completer) *Selector {
	return &Selector{registry: registry, completer: completer}
}

// SelectForTask picks a tool for the task. If explicitName is non-empty it
// must be registered and capability-eligible; otherwise the selector looks
// for an exact capability match, and finally asks the LLM to choose among
// eligible candidates. Returns ErrNoToolAvailable when every tier fails.
func (s *Selector) SelectForTask(ctx context.Context, task *models.Task, explicitName string) (Tool, error) {
	// Tier 1: explicit assignment.
	if explicitName != "" {
		tool, err := s.registry.Get(explicitName)
		if err != nil {
			return nil, err
		}
		if !tool.Metadata().EligibleFor(task.Requirement) {
			return nil, fmt.Errorf("%w: explicit tool %s lacks required capabilities", ErrNoToolAvailable, explicitName)
		}
		return tool, nil
	}

	eligible := s.eligibleFor(task)
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoToolAvailable, task.ID)
	}

	// Tier 2: exact capability match.
	for _, tool := range eligible {
		if tool.Metadata().Capabilities == task.Requirement.Capabilities {
			return tool, nil
		}
	}

	// Tier 3: LLM-assisted auto-selection among the candidates.
	if s.completer != nil {
		if tool, err := s.autoSelect(ctx, task, eligible); err == nil {
			return tool, nil
		} else {
			log.Printf("[selector] auto-selection failed for task %s: %v", task.ID, err)
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNoToolAvailable, task.ID)
}

// eligibleFor returns the registered tools whose capabilities cover the
// task's requirement, sorted by name for determinism.
func (s *Selector) eligibleFor(task *models.Task) []Tool {
	var eligible []Tool
	for _, meta := range s.registry.List() {
		if meta.EligibleFor(task.Requirement) {
			tool, err := s.registry.Get(meta.Name)
			if err == nil {
				eligible = append(eligible, tool)
			}
		}
	}
	return eligible
}

// autoSelect asks the LLM to pick the best tool among candidates.
func (s *Selector) autoSelect(ctx context.Context, task *models.Task, candidates []Tool) (Tool, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Pick the single best tool for this task.\n\nTask: %s\nType: %s\n\nTools:\n", task.Description, task.Type)
	for _, tool := range candidates {
		meta := tool.Metadata()
		fmt.Fprintf(&b, "- %s: %s\n", meta.Name, meta.Description)
	}
	b.WriteString("\nRespond with ONLY the tool name, nothing else.")

	response, err := s.completer.Complete(ctx, llm.Request{Prompt: b.String(), MaxTokens: 64})
	if err != nil {
		return nil, fmt.Errorf("auto-selection call: %w", err)
	}

	name := strings.TrimSpace(response)
	for _, tool := range candidates {
		if tool.Metadata().Name == name {
			return tool, nil
		}
	}
	return nil, fmt.Errorf("model chose %q, which is not a candidate", name)
}

// ValidateToolForTask checks a tool against a task and returns whether it
// is usable plus a list of concrete issues. Non-strict mode requires the
// capability superset and every required parameter; strict mode also
// requires the tool's optional parameters to be bound.
func (s *Selector) ValidateToolForTask(tool Tool, task *models.Task, strict bool) (bool, []string) {
	meta := tool.Metadata()
	var issues []string

	if !meta.EligibleFor(task.Requirement) {
		issues = append(issues, fmt.Sprintf("tool %s does not cover the task's capability requirement", meta.Name))
	}
	for _, param := range meta.RequiredParams {
		if _, ok := task.Requirement.Params[param]; !ok {
			issues = append(issues, fmt.Sprintf("missing required parameter %q for tool %s", param, meta.Name))
		}
	}
	if strict {
		for _, param := range meta.OptionalParams {
			if _, ok := task.Requirement.Params[param]; !ok {
				issues = append(issues, fmt.Sprintf("missing optional parameter %q for tool %s (strict mode)", param, meta.Name))
			}
		}
	}

	return len(issues) == 0, issues
}

// batchAssignment is the JSON shape the model returns for batched selection.
type batchAssignment map[string]string

// SelectForTasks assigns a tool to every task. With batchMode, a single
// LLM call describes all tasks together so the model can make consistent
// choices; on any batch failure (or with batchMode false) it falls back to
// per-task selection. Successfully selected tools are written to
// task.AssignedTool; per-task errors are returned keyed by task ID.
func (s *Selector) SelectForTasks(ctx context.Context, tasks []*models.Task, batchMode bool) map[string]error {
	errs := make(map[string]error)

	if batchMode && s.completer != nil {
		if ok := s.selectBatch(ctx, tasks); ok {
			return errs
		}
		log.Printf("[selector] batch selection failed, falling back to per-task selection")
	}

	for _, task := range tasks {
		if task.AssignedTool != "" {
			continue
		}
		if !dispatchNeedsTool(task) {
			continue
		}
		tool, err := s.SelectForTask(ctx, task, "")
		if err != nil {
			errs[task.ID] = err
			continue
		}
		task.AssignedTool = tool.Metadata().Name
	}
	return errs
}

// selectBatch issues one LLM call for all tool-needing tasks. Returns true
// only if every returned assignment names a registered, eligible tool.
func (s *Selector) selectBatch(ctx context.Context, tasks []*models.Task) bool {
	var need []*models.Task
	for _, task := range tasks {
		if task.AssignedTool == "" && dispatchNeedsTool(task) {
			need = append(need, task)
		}
	}
	if len(need) == 0 {
		return true
	}

	var b strings.Builder
	b.WriteString("Assign the best tool to each task. Consider the tasks together so related tasks get consistent tools.\n\nTools:\n")
	for _, meta := range s.registry.List() {
		fmt.Fprintf(&b, "- %s: %s\n", meta.Name, meta.Description)
	}
	b.WriteString("\nTasks:\n")
	for _, task := range need {
		fmt.Fprintf(&b, "- id=%s type=%s: %s\n", task.ID, task.Type, task.Description)
	}
	b.WriteString("\nReturn ONLY a JSON object mapping task id to tool name, no other text.")

	response, err := s.completer.Complete(ctx, llm.Request{Prompt: b.String()})
	if err != nil {
		log.Printf("[selector] batch call failed: %v", err)
		return false
	}

	jsonStr, err := llm.ExtractJSON(response)
	if err != nil {
		return false
	}
	var assignment batchAssignment
	if err := json.Unmarshal([]byte(jsonStr), &assignment); err != nil {
		return false
	}

	// Validate the whole batch before applying any of it.
	chosen := make(map[string]string, len(need))
	for _, task := range need {
		name, ok := assignment[task.ID]
		if !ok {
			return false
		}
		tool, err := s.registry.Get(name)
		if err != nil || !tool.Metadata().EligibleFor(task.Requirement) {
			return false
		}
		chosen[task.ID] = name
	}
	for _, task := range need {
		task.AssignedTool = chosen[task.ID]
	}
	return true
}

// SuggestAlternatives returns up to count eligible tools for the task,
// excluding the primary and any tool names recorded as already failed.
// Ranking prefers lower failure rate, then lower risk, then name order.
func (s *Selector) SuggestAlternatives(task *models.Task, primary string, count int, excludeFailed []string) []models.ToolMetadata {
	excluded := map[string]bool{primary: true}
	for _, name := range excludeFailed {
		excluded[name] = true
	}

	var candidates []models.ToolMetadata
	for _, meta := range s.registry.List() {
		if excluded[meta.Name] || !meta.EligibleFor(task.Requirement) {
			continue
		}
		candidates = append(candidates, meta)
	}

	riskRank := map[models.RiskLevel]int{models.RiskLow: 0, models.RiskMedium: 1, models.RiskHigh: 2}
	sort.SliceStable(candidates, func(i, j int) bool {
		fi, fj := s.failureRate(candidates[i].Name), s.failureRate(candidates[j].Name)
		if fi != fj {
			return fi < fj
		}
		if riskRank[candidates[i].Risk] != riskRank[candidates[j].Risk] {
			return riskRank[candidates[i].Risk] < riskRank[candidates[j].Risk]
		}
		return candidates[i].Name < candidates[j].Name
	})

	if count > 0 && len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

func (s *Selector) failureRate(name string) float64 {
	if stats := s.registry.Stats(name); stats != nil {
		return stats.FailureRate()
	}
	return 0
}

// dispatchNeedsTool reports whether a task of this type is executed through
// a tool rather than by the LLM or recursive decomposition.
func dispatchNeedsTool(task *models.Task) bool {
	switch task.Type {
	case models.TaskTypeThink, models.TaskTypePlan:
		return false
	default:
		return true
	}
}
