package resolver

import (
	"sort"

	"github.com/taskpilot/taskpilot/internal/graph"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// ScoringConfig holds the bottleneck scoring weights. The formula is a
// heuristic, so every weight is tunable rather than hard-coded.
type ScoringConfig struct {
	// DownstreamWeight multiplies the count of transitive dependents.
	DownstreamWeight int `mapstructure:"downstream_weight"`
	// CriticalPathBonus is added when the task lies on the critical path.
	CriticalPathBonus int `mapstructure:"critical_path_bonus"`
	// RiskWeights adds a per-risk-level contribution.
	RiskWeights map[models.RiskLevel]int `mapstructure:"risk_weights"`
	// Threshold is the inclusive score at which a task is flagged.
	Threshold int `mapstructure:"threshold"`
}

// DefaultScoring returns the scoring weights used when none are configured.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		DownstreamWeight:  10,
		CriticalPathBonus: 50,
		RiskWeights: map[models.RiskLevel]int{
			models.RiskLow:    5,
			models.RiskMedium: 15,
			models.RiskHigh:   30,
		},
		Threshold: 50,
	}
}

// Bottleneck is a task whose failure or delay disproportionately impacts
// the rest of the plan.
type Bottleneck struct {
	// TaskID identifies the flagged task.
	TaskID string
	// Score is the computed bottleneck score.
	Score int
	// Downstream is the count of transitive dependents.
	Downstream int
	// OnCriticalPath is true if the task lies on the critical path.
	OnCriticalPath bool
}

// IdentifyBottlenecks scores every task and returns those whose score meets
// the configured threshold (inclusive). Results are ordered by descending
// score, ties by task creation order.
func (r *Resolver) IdentifyBottlenecks(g *graph.TaskGraph) []Bottleneck {
	criticalPath, _ := g.CriticalPath()
	onPath := make(map[string]bool, len(criticalPath))
	for _, task := range criticalPath {
		onPath[task.ID] = true
	}

	var flagged []Bottleneck
	for _, task := range g.Tasks() {
		downstream := len(g.TransitiveDependents(task.ID))

		score := r.scoring.DownstreamWeight * downstream
		if onPath[task.ID] {
			score += r.scoring.CriticalPathBonus
		}
		score += r.scoring.RiskWeights[task.Risk]

		if score >= r.scoring.Threshold {
			flagged = append(flagged, Bottleneck{
				TaskID:         task.ID,
				Score:          score,
				Downstream:     downstream,
				OnCriticalPath: onPath[task.ID],
			})
		}
	}

	sort.SliceStable(flagged, func(i, j int) bool {
		return flagged[i].Score > flagged[j].Score
	})
	return flagged
}
