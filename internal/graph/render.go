package graph

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/taskpilot/taskpilot/pkg/models"
)

// riskSprint maps risk levels to terminal color functions for ASCII output.
var riskSprint = map[models.RiskLevel]func(a ...interface{}) string{
	models.RiskLow:    color.New(color.FgGreen).SprintFunc(),
	models.RiskMedium: color.New(color.FgYellow).SprintFunc(),
	models.RiskHigh:   color.New(color.FgRed).SprintFunc(),
}

// mermaidClass maps risk levels to mermaid style class names.
var mermaidClass = map[models.RiskLevel]string{
	models.RiskLow:    "low",
	models.RiskMedium: "medium",
	models.RiskHigh:   "high",
}

// ExportMermaid renders the graph as a mermaid flowchart, one node per task
// styled by risk level. The output is deterministic for a given task set.
func (g *TaskGraph) ExportMermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	for _, id := range g.order {
		task := g.tasks[id]
		label := task.Description
		if len(label) > 40 {
			label = label[:40] + "..."
		}
		label = strings.ReplaceAll(label, `"`, "'")
		fmt.Fprintf(&b, "    %s[\"%s\"]:::%s\n", nodeID(id), label, mermaidClass[task.Risk])
	}

	for _, id := range g.order {
		for _, depID := range g.deps[id] {
			fmt.Fprintf(&b, "    %s --> %s\n", nodeID(depID), nodeID(id))
		}
	}

	b.WriteString("    classDef low fill:#9f9\n")
	b.WriteString("    classDef medium fill:#ff9\n")
	b.WriteString("    classDef high fill:#f99\n")
	return b.String()
}

// ExportASCII renders the graph batch by batch with risk-colored task lines.
// Each batch groups the tasks that can run concurrently.
func (g *TaskGraph) ExportASCII() string {
	var b strings.Builder
	for i, batch := range g.ParallelBatches() {
		fmt.Fprintf(&b, "batch %d:\n", i)
		for _, task := range batch {
			line := fmt.Sprintf("  [%s] %s (%.0fs)", task.Risk, task.Description, task.EstimatedSeconds)
			if sprint, ok := riskSprint[task.Risk]; ok {
				line = sprint(line)
			}
			b.WriteString(line)
			if len(g.deps[task.ID]) > 0 {
				fmt.Fprintf(&b, "  <- %s", strings.Join(g.deps[task.ID], ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// nodeID makes a task ID safe for use as a mermaid node identifier.
func nodeID(id string) string {
	r := strings.NewReplacer("-", "_", " ", "_", ".", "_")
	return "t_" + r.Replace(id)
}
