package doctor

import (
	"context"
	"os/exec"
)

// lookPathFunc is the function used to find executables on PATH.
// Package-level variable to allow test overrides.
var lookPathFunc = exec.LookPath

// ToolsCheck verifies that the gh and tmux executables can be found.
type ToolsCheck struct {
	tools map[string]string
	order []string
}

// NewToolsCheck creates a tools check for the configured executable paths.
func NewToolsCheck(ghPath, tmuxPath string) *ToolsCheck {
	return &ToolsCheck{
		tools: map[string]string{"gh": ghPath, "tmux": tmuxPath},
		order: []string{"gh", "tmux"},
	}
}

func (c *ToolsCheck) Name() string {
	return "Tools"
}

func (c *ToolsCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	for _, name := range c.order {
		path, err := lookPathFunc(c.tools[name])
		if err != nil {
			result.Items = append(result.Items, fail(name, c.tools[name]+" not found"))
			continue
		}
		result.Items = append(result.Items, pass(name, path))
	}

	return result
}
