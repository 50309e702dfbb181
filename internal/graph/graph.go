// Package graph provides the validated dependency DAG over a task set and
// the scheduling orders derived from it.
package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/taskpilot/taskpilot/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task set.
var ErrCycleDetected = errors.New("circular dependency detected")

// TaskGraph is a directed acyclic graph of task dependencies. It is
// validated at construction and never mutated afterwards, so reads are safe
// from any goroutine without locking.
type TaskGraph struct {
	// tasks maps task ID to the task itself.
	tasks map[string]*models.Task
	// order preserves original creation order for deterministic tie-breaking.
	order []string
	// deps maps task ID to the IDs it depends on.
	deps map[string][]string
	// dependents maps task ID to the IDs that depend on it.
	dependents map[string][]string
}

// Build constructs and validates a TaskGraph from a slice of tasks.
// It fails if a task depends on itself, on an unknown task, or if the
// dependency relation contains a cycle. Cycle detection runs here, before
// any scheduling output can be produced.
func Build(tasks []*models.Task) (*TaskGraph, error) {
	g := &TaskGraph{
		tasks:      make(map[string]*models.Task, len(tasks)),
		order:      make([]string, 0, len(tasks)),
		deps:       make(map[string][]string, len(tasks)),
		dependents: make(map[string][]string, len(tasks)),
	}

	for _, task := range tasks {
		if _, dup := g.tasks[task.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %s", task.ID)
		}
		g.tasks[task.ID] = task
		g.order = append(g.order, task.ID)
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if depID == task.ID {
				return nil, fmt.Errorf("task %s depends on itself", task.ID)
			}
			if _, exists := g.tasks[depID]; !exists {
				return nil, fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
			g.deps[task.ID] = append(g.deps[task.ID], depID)
			g.dependents[depID] = append(g.dependents[depID], task.ID)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: %s", ErrCycleDetected, strings.Join(cycle, " -> "))
	}

	return g, nil
}

// findCycle runs a depth-first search with three-color marking and returns
// the cycle path if one exists, nil otherwise. Iteration follows creation
// order so the reported cycle is deterministic.
func (g *TaskGraph) findCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)
	colors := make(map[string]int, len(g.tasks))

	var cycle []string
	var visit func(id string, path []string) bool
	visit = func(id string, path []string) bool {
		colors[id] = gray
		path = append(path, id)

		for _, depID := range g.deps[id] {
			switch colors[depID] {
			case gray:
				// Back edge: slice the path down to where the cycle starts.
				start := 0
				for i, p := range path {
					if p == depID {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, path[start:]...), depID)
				return true
			case white:
				if visit(depID, path) {
					return true
				}
			}
		}

		colors[id] = black
		return false
	}

	for _, id := range g.order {
		if colors[id] == white {
			if visit(id, nil) {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalOrder returns the tasks in an order where every dependency
// precedes its dependents. Ties are broken by original creation order, so
// the result is deterministic for a given task set.
func (g *TaskGraph) TopologicalOrder() []*models.Task {
	indegree := make(map[string]int, len(g.tasks))
	for _, id := range g.order {
		indegree[id] = len(g.deps[id])
	}

	// frontier holds zero-indegree tasks in creation order.
	var frontier []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	result := make([]*models.Task, 0, len(g.tasks))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		result = append(result, g.tasks[id])

		// Release dependents in creation order to keep ties deterministic.
		released := make(map[string]bool)
		for _, depID := range g.dependents[id] {
			indegree[depID]--
			if indegree[depID] == 0 {
				released[depID] = true
			}
		}
		for _, cand := range g.order {
			if released[cand] {
				frontier = append(frontier, cand)
			}
		}
	}
	return result
}

// ParallelBatches partitions the tasks into execution batches. Batch i
// contains exactly the tasks whose dependencies all live in batches < i:
// every task is placed as early as its dependencies allow.
func (g *TaskGraph) ParallelBatches() [][]*models.Task {
	depth := make(map[string]int, len(g.tasks))
	var depthOf func(id string) int
	depthOf = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		d := 0
		for _, depID := range g.deps[id] {
			if pd := depthOf(depID) + 1; pd > d {
				d = pd
			}
		}
		depth[id] = d
		return d
	}

	maxDepth := 0
	for _, id := range g.order {
		if d := depthOf(id); d > maxDepth {
			maxDepth = d
		}
	}

	batches := make([][]*models.Task, maxDepth+1)
	for _, id := range g.order {
		d := depth[id]
		batches[d] = append(batches[d], g.tasks[id])
	}
	return batches
}

// CriticalPath returns the root-to-leaf path that maximizes the sum of
// estimated task time, and that sum in seconds. The computation is dynamic
// programming over the topological order; path length in hops plays no role.
func (g *TaskGraph) CriticalPath() ([]*models.Task, float64) {
	if len(g.tasks) == 0 {
		return nil, 0
	}

	// best[id] is the maximum time-sum of any dependency chain ending at id,
	// including id's own estimate. prev[id] is the dependency realizing it.
	best := make(map[string]float64, len(g.tasks))
	prev := make(map[string]string, len(g.tasks))

	for _, task := range g.TopologicalOrder() {
		best[task.ID] = task.EstimatedSeconds
		for _, depID := range g.deps[task.ID] {
			if cand := best[depID] + task.EstimatedSeconds; cand > best[task.ID] {
				best[task.ID] = cand
				prev[task.ID] = depID
			}
		}
	}

	endID := ""
	var endSum float64
	for _, id := range g.order {
		if endID == "" || best[id] > endSum {
			endID, endSum = id, best[id]
		}
	}

	var path []*models.Task
	for id := endID; id != ""; {
		path = append([]*models.Task{g.tasks[id]}, path...)
		id = prev[id]
	}
	return path, endSum
}

// Roots returns the tasks with no dependencies, in creation order.
func (g *TaskGraph) Roots() []*models.Task {
	var roots []*models.Task
	for _, id := range g.order {
		if len(g.deps[id]) == 0 {
			roots = append(roots, g.tasks[id])
		}
	}
	return roots
}

// Leaves returns the tasks with no dependents, in creation order.
func (g *TaskGraph) Leaves() []*models.Task {
	var leaves []*models.Task
	for _, id := range g.order {
		if len(g.dependents[id]) == 0 {
			leaves = append(leaves, g.tasks[id])
		}
	}
	return leaves
}

// Task returns the task for a given ID, or nil if not found.
func (g *TaskGraph) Task(id string) *models.Task {
	return g.tasks[id]
}

// Tasks returns all tasks in creation order.
func (g *TaskGraph) Tasks() []*models.Task {
	out := make([]*models.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Size returns the number of tasks in the graph.
func (g *TaskGraph) Size() int {
	return len(g.tasks)
}

// Dependencies returns the IDs the given task depends on.
func (g *TaskGraph) Dependencies(id string) []string {
	return g.deps[id]
}

// Dependents returns the IDs that directly depend on the given task.
func (g *TaskGraph) Dependents(id string) []string {
	return g.dependents[id]
}

// TransitiveDependents returns every task ID reachable downstream of the
// given task, direct or indirect.
func (g *TaskGraph) TransitiveDependents(id string) []string {
	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		for _, dep := range g.dependents[id] {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)

	var out []string
	for _, cand := range g.order {
		if seen[cand] {
			out = append(out, cand)
		}
	}
	return out
}
