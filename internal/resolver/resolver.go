// Package resolver enriches a decomposed task set with implicit
// dependencies and flags structural bottlenecks before scheduling.
package resolver

import (
	"fmt"
	"log"

	"github.com/taskpilot/taskpilot/internal/graph"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// Edge is a directed dependency between two tasks.
type Edge struct {
	// From is the task that must complete first.
	From string
	// To is the task that depends on From.
	To string
}

// InferenceResult reports what implicit-dependency inference did.
type InferenceResult struct {
	// Added are the edges inferred from input/output overlap.
	Added []Edge
	// Dropped are inferred edges that would have created a cycle. They are
	// logged and discarded; dropping them is never fatal.
	Dropped []Edge
}

// Resolver adds implicit dependencies and scores bottlenecks.
type Resolver struct {
	scoring ScoringConfig
}

// New creates a Resolver with the given scoring configuration.
func New(scoring ScoringConfig) *Resolver {
	return &Resolver{scoring: scoring}
}

// InferImplicitDependencies adds an edge A -> B for every pair where B's
// declared inputs overlap A's declared outputs and no explicit edge exists.
// Each candidate edge is validated against the whole graph: an edge that
// would create a cycle is dropped and logged rather than applied. Tasks are
// mutated in place (DependsOn grows); the task set itself never shrinks.
func (r *Resolver) InferImplicitDependencies(tasks []*models.Task) (InferenceResult, error) {
	var result InferenceResult

	// Validate the explicit edges first: inference must not paper over an
	// already-broken task set.
	if _, err := graph.Build(tasks); err != nil {
		return result, fmt.Errorf("task set invalid before inference: %w", err)
	}

	for _, producer := range tasks {
		if len(producer.Requirement.Outputs) == 0 {
			continue
		}
		produced := make(map[string]bool, len(producer.Requirement.Outputs))
		for _, out := range producer.Requirement.Outputs {
			produced[out] = true
		}

		for _, consumer := range tasks {
			if consumer.ID == producer.ID || consumer.DependsOnTask(producer.ID) {
				continue
			}
			overlap := false
			for _, in := range consumer.Requirement.Inputs {
				if produced[in] {
					overlap = true
					break
				}
			}
			if !overlap {
				continue
			}

			edge := Edge{From: producer.ID, To: consumer.ID}
			consumer.DependsOn = append(consumer.DependsOn, producer.ID)
			if _, err := graph.Build(tasks); err != nil {
				// Revert: this inferred edge would corrupt the graph.
				consumer.DependsOn = consumer.DependsOn[:len(consumer.DependsOn)-1]
				result.Dropped = append(result.Dropped, edge)
				log.Printf("[resolver] dropped inferred edge %s -> %s: %v", edge.From, edge.To, err)
				continue
			}
			result.Added = append(result.Added, edge)
		}
	}

	return result, nil
}

// maxPlausibleSeconds flags estimates above one day as implausible.
const maxPlausibleSeconds = 86400

// ValidateTimeEstimates returns a warning per task whose estimate is
// non-positive or implausibly large. Warnings are advisory; the task set is
// still usable.
func (r *Resolver) ValidateTimeEstimates(tasks []*models.Task) []string {
	var warnings []string
	for _, task := range tasks {
		switch {
		case task.EstimatedSeconds <= 0:
			warnings = append(warnings, fmt.Sprintf("task %s has non-positive estimate %.1fs", task.ID, task.EstimatedSeconds))
		case task.EstimatedSeconds > maxPlausibleSeconds:
			warnings = append(warnings, fmt.Sprintf("task %s has implausibly large estimate %.0fs", task.ID, task.EstimatedSeconds))
		}
	}
	return warnings
}
