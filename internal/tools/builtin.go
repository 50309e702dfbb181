package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/taskpilot/taskpilot/pkg/models"
)

// RegisterBuiltins adds the standard tool set to the registry, rooted at
// workDir for all file operations.
func RegisterBuiltins(r *Registry, workDir string) error {
	builtins := []Tool{
		&readFileTool{workDir: workDir},
		&writeFileTool{workDir: workDir},
		&runCommandTool{workDir: workDir},
		&searchFilesTool{workDir: workDir},
		&listDirTool{workDir: workDir},
	}
	for _, tool := range builtins {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// resolvePath keeps relative paths rooted at the working directory.
func resolvePath(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

type readFileTool struct {
	workDir string
}

func (t *readFileTool) Metadata() models.ToolMetadata {
	return models.ToolMetadata{
		Name:           "read_file",
		Description:    "Read a file from the filesystem. Returns contents with line numbers.",
		Capabilities:   models.Capabilities{Read: true},
		RequiredParams: []string{"path"},
		Risk:           models.RiskLow,
	}
}

func (t *readFileTool) Execute(_ context.Context, params Params) (Result, error) {
	path, ok := params["path"]
	if !ok {
		return errorResult("missing required parameter: path"), nil
	}

	content, err := os.ReadFile(resolvePath(t.workDir, path))
	if err != nil {
		return errorResult(fmt.Sprintf("failed to read file: %v", err)), nil
	}

	var b strings.Builder
	for i, line := range strings.Split(string(content), "\n") {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
	}
	return Result{Content: b.String()}, nil
}

type writeFileTool struct {
	workDir string
}

func (t *writeFileTool) Metadata() models.ToolMetadata {
	return models.ToolMetadata{
		Name:           "write_file",
		Description:    "Write content to a file, creating parent directories if needed.",
		Capabilities:   models.Capabilities{Read: true, Write: true},
		RequiredParams: []string{"path", "content"},
		Risk:           models.RiskMedium,
	}
}

func (t *writeFileTool) Execute(_ context.Context, params Params) (Result, error) {
	path, ok := params["path"]
	if !ok {
		return errorResult("missing required parameter: path"), nil
	}
	content, ok := params["content"]
	if !ok {
		return errorResult("missing required parameter: content"), nil
	}

	full := resolvePath(t.workDir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errorResult(fmt.Sprintf("failed to create directory: %v", err)), nil
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return errorResult(fmt.Sprintf("failed to write file: %v", err)), nil
	}
	return Result{Content: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}

type runCommandTool struct {
	workDir string
}

func (t *runCommandTool) Metadata() models.ToolMetadata {
	return models.ToolMetadata{
		Name:           "run_command",
		Description:    "Execute a shell command and return its combined output.",
		Capabilities:   models.Capabilities{Execute: true, Read: true},
		RequiredParams: []string{"command"},
		OptionalParams: []string{"dir"},
		Risk:           models.RiskHigh,
	}
}

func (t *runCommandTool) Execute(ctx context.Context, params Params) (Result, error) {
	command, ok := params["command"]
	if !ok {
		return errorResult("missing required parameter: command"), nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.workDir
	if dir, ok := params["dir"]; ok {
		cmd.Dir = resolvePath(t.workDir, dir)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return errorResult(fmt.Sprintf("command failed: %v\n%s", err, out)), nil
	}
	return Result{Content: string(out)}, nil
}

type searchFilesTool struct {
	workDir string
}

func (t *searchFilesTool) Metadata() models.ToolMetadata {
	return models.ToolMetadata{
		Name:           "search_files",
		Description:    "Search file contents under a directory using a regex pattern.",
		Capabilities:   models.Capabilities{Read: true, Search: true},
		RequiredParams: []string{"pattern"},
		OptionalParams: []string{"dir"},
		Risk:           models.RiskLow,
	}
}

func (t *searchFilesTool) Execute(_ context.Context, params Params) (Result, error) {
	pattern, ok := params["pattern"]
	if !ok {
		return errorResult("missing required parameter: pattern"), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid pattern: %v", err)), nil
	}

	root := t.workDir
	if dir, ok := params["dir"]; ok {
		root = resolvePath(t.workDir, dir)
	}

	var b strings.Builder
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil // unreadable files are skipped, not fatal
		}
		for i, line := range strings.Split(string(content), "\n") {
			if re.MatchString(line) {
				rel, _ := filepath.Rel(root, path)
				fmt.Fprintf(&b, "%s:%d:%s\n", rel, i+1, line)
			}
		}
		return nil
	})
	if walkErr != nil {
		return errorResult(fmt.Sprintf("search failed: %v", walkErr)), nil
	}
	if b.Len() == 0 {
		return Result{Content: "no matches"}, nil
	}
	return Result{Content: b.String()}, nil
}

type listDirTool struct {
	workDir string
}

func (t *listDirTool) Metadata() models.ToolMetadata {
	return models.ToolMetadata{
		Name:           "list_dir",
		Description:    "List the contents of a directory.",
		Capabilities:   models.Capabilities{Read: true},
		RequiredParams: []string{"path"},
		Risk:           models.RiskLow,
	}
}

func (t *listDirTool) Execute(_ context.Context, params Params) (Result, error) {
	path, ok := params["path"]
	if !ok {
		return errorResult("missing required parameter: path"), nil
	}

	entries, err := os.ReadDir(resolvePath(t.workDir, path))
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list directory: %v", err)), nil
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "%s/\n", entry.Name())
		} else {
			fmt.Fprintf(&b, "%s\n", entry.Name())
		}
	}
	return Result{Content: b.String()}, nil
}
