package tools

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taskpilot/taskpilot/pkg/models"
)

// Registry is the catalog of registered tools. It is constructed once,
// populated at startup, and injected wherever tools are needed; lookups
// during execution are read-mostly.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	stats map[string]*models.ToolStats
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		stats: make(map[string]*models.ToolStats),
	}
}

// Register adds a tool to the catalog. Names are unique; registering a
// taken name fails rather than overwriting.
func (r *Registry) Register(tool Tool) error {
	name := tool.Metadata().Name
	if name == "" {
		return fmt.Errorf("tool has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = tool
	r.stats[name] = &models.ToolStats{}
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

// List returns the metadata of every registered tool, sorted by name.
func (r *Registry) List() []models.ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Size returns the number of registered tools.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// RecordInvocation updates the rolling performance stats for a tool.
func (r *Registry) RecordInvocation(name string, d time.Duration, failed bool) {
	r.mu.RLock()
	stats := r.stats[name]
	r.mu.RUnlock()
	if stats != nil {
		stats.Record(d, failed)
	}
}

// Stats returns the rolling stats for a tool, or nil if not registered.
func (r *Registry) Stats(name string) *models.ToolStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats[name]
}
