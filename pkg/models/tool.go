package models

import (
	"sync"
	"time"
)

// ToolMetadata describes an invocable tool in the registry.
type ToolMetadata struct {
	// Name uniquely identifies the tool.
	Name string `json:"name"`
	// Description explains what the tool does, for selection prompts.
	Description string `json:"description"`
	// Capabilities are the capability flags this tool provides.
	Capabilities Capabilities `json:"capabilities"`
	// RequiredParams are parameter names that must be present on every call.
	RequiredParams []string `json:"required_params,omitempty"`
	// OptionalParams are parameter names the tool understands but does not require.
	OptionalParams []string `json:"optional_params,omitempty"`
	// Risk classifies how dangerous invoking this tool is.
	Risk RiskLevel `json:"risk"`
}

// EligibleFor returns true if the tool's capabilities cover the task's
// declared requirement.
func (m ToolMetadata) EligibleFor(req TaskRequirement) bool {
	return m.Capabilities.Covers(req.Capabilities)
}

// ToolStats tracks rolling performance statistics for a tool.
type ToolStats struct {
	mu            sync.Mutex
	invocations   int
	failures      int
	totalDuration time.Duration
}

// Record adds one invocation to the rolling stats.
func (s *ToolStats) Record(d time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invocations++
	s.totalDuration += d
	if failed {
		s.failures++
	}
}

// Snapshot returns the current counters and the average call duration.
func (s *ToolStats) Snapshot() (invocations, failures int, avg time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invocations > 0 {
		avg = s.totalDuration / time.Duration(s.invocations)
	}
	return s.invocations, s.failures, avg
}

// FailureRate returns the fraction of invocations that failed.
func (s *ToolStats) FailureRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invocations == 0 {
		return 0
	}
	return float64(s.failures) / float64(s.invocations)
}
