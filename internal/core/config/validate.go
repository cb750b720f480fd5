package config

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/hay-kot/criterio"

	"github.com/colonyops/hivesync/internal/core/terminal"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// ValidateDeep performs comprehensive validation of the configuration including
// executables, regex patterns, the bridge address and file accessibility. The
// configPath argument specifies the config file location to validate (empty
// string skips config file check). This calls Validate() first for basic
// structural validation, then adds I/O checks.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		c.validateFileAccess(configPath),
		c.validatePane(),
		c.validateAccounts(),
		criterio.Run("bridge.url", c.Bridge.URL, websocketURL),
	)
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	for _, id := range c.AgentIDs() {
		if len(c.Agents[id].Accounts) == 0 {
			warnings = append(warnings, ValidationWarning{
				Category: "Agents",
				Item:     id,
				Message:  "agent has no accounts and will never receive tracker assignments",
			})
		}
	}

	if !c.Bridge.IsEnabled() {
		warnings = append(warnings, ValidationWarning{
			Category: "Bridge",
			Message:  "bridge source is disabled",
		})
	}

	return warnings
}

// validateFileAccess checks config file, data directory, and executables.
func (c *Config) validateFileAccess(configPath string) error {
	return criterio.ValidateStruct(
		validateConfigFile(configPath),
		criterio.Run("issues.gh_path", c.Issues.GhPath, executableExists),
		criterio.Run("pane.tmux_path", c.Pane.TmuxPath, executableExists),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
	)
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

// executableExists validates that the path resolves to an executable.
func executableExists(path string) error {
	if path == "" {
		return nil
	}
	if _, err := exec.LookPath(path); err != nil {
		return fmt.Errorf("executable not found: %s", path)
	}
	return nil
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}

// validatePane checks the task pattern compiles with a capture group.
func (c *Config) validatePane() error {
	if _, err := terminal.NewClassifier(c.Pane.Keywords, c.Pane.TaskPattern); err != nil {
		return criterio.NewFieldErrors("pane.task_pattern", err)
	}
	return nil
}

// validateAccounts rejects an account mapped to more than one agent, since
// tracker assignees could then not be attributed.
func (c *Config) validateAccounts() error {
	var errs criterio.FieldErrorsBuilder

	owners := map[string]string{}
	for _, id := range c.AgentIDs() {
		for i, acct := range c.Agents[id].Accounts {
			field := fmt.Sprintf("agents.%s.accounts[%d]", id, i)
			key := strings.ToLower(strings.TrimSpace(acct))
			if key == "" {
				errs = errs.Append(field, fmt.Errorf("account cannot be empty"))
				continue
			}
			if owner, ok := owners[key]; ok && owner != id {
				errs = errs.Append(field, fmt.Errorf("account %q is already mapped to agent %q", acct, owner))
				continue
			}
			owners[key] = id
		}
	}

	return errs.ToError()
}

func websocketURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
