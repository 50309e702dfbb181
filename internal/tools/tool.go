// Package tools provides the tool registry, the built-in tools, and the
// selector that assigns a tool to each task.
package tools

import (
	"context"
	"errors"

	"github.com/taskpilot/taskpilot/pkg/models"
)

// ErrDuplicateTool indicates a registration under an already-taken name.
var ErrDuplicateTool = errors.New("tool name already registered")

// ErrUnknownTool indicates a lookup for a name that was never registered.
var ErrUnknownTool = errors.New("unknown tool")

// ErrNoToolAvailable indicates no registered tool qualifies for a task,
// even after LLM-assisted selection.
var ErrNoToolAvailable = errors.New("no tool available for task")

// Params are the key/value arguments for a tool invocation.
type Params map[string]string

// Result is the normalized outcome of a tool invocation.
type Result struct {
	// Content is the tool's output.
	Content string
	// IsError marks a failed invocation; Content then holds the message.
	IsError bool
}

// Tool is an invocable capability. Every tool takes a context so callers
// can bound its runtime; implementations backed by synchronous code simply
// ignore cancellation mid-call.
type Tool interface {
	// Metadata describes the tool for registration and selection.
	Metadata() models.ToolMetadata
	// Execute runs the tool with the given parameters.
	Execute(ctx context.Context, params Params) (Result, error)
}

// Func adapts a plain function to the Tool interface, normalizing ad-hoc
// calling conventions into the registry's contract.
type Func struct {
	// Meta describes the adapted tool.
	Meta models.ToolMetadata
	// Run is the function invoked by Execute.
	Run func(ctx context.Context, params Params) (Result, error)
}

// Metadata implements Tool.
func (f Func) Metadata() models.ToolMetadata { return f.Meta }

// Execute implements Tool.
func (f Func) Execute(ctx context.Context, params Params) (Result, error) {
	return f.Run(ctx, params)
}

// errorResult builds a failed Result with the given message.
func errorResult(msg string) Result {
	return Result{Content: msg, IsError: true}
}
