// Package config handles configuration loading and validation for hivesync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/colonyops/hivesync/internal/core/bridge"
	"github.com/colonyops/hivesync/internal/core/terminal"
)

// File names inside the data directory.
const (
	SnapshotFileName = "sync_state.json"
	EventLogFileName = "sync_events.jsonl"
)

// Config holds the application configuration.
type Config struct {
	Agents           map[string]Agent `yaml:"agents"`
	Timeout          time.Duration    `yaml:"timeout"`
	SnapshotInterval time.Duration    `yaml:"snapshot_interval"`
	PendingCeiling   int              `yaml:"pending_ceiling"`
	QueueSize        int              `yaml:"queue_size"`
	AdvisoryWindow   time.Duration    `yaml:"advisory_window"`
	Issues           IssuesConfig     `yaml:"issues"`
	Pane             PaneConfig       `yaml:"pane"`
	Bridge           BridgeConfig     `yaml:"bridge"`
	DataDir          string           `yaml:"-"` // set by caller, not from config file
}

// Agent maps one managed agent to its pane and its issue tracker accounts.
type Agent struct {
	Channel  string   `yaml:"channel"`
	Accounts []string `yaml:"accounts"`
}

// IssuesConfig configures the issue tracker source.
type IssuesConfig struct {
	GhPath       string        `yaml:"gh_path"`
	Repo         string        `yaml:"repo"`
	Limit        int           `yaml:"limit"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// PaneConfig configures the tmux pane source.
type PaneConfig struct {
	TmuxPath     string            `yaml:"tmux_path"`
	PollInterval time.Duration     `yaml:"poll_interval"`
	Workers      int               `yaml:"workers"`
	TaskPattern  string            `yaml:"task_pattern"`
	Keywords     terminal.Keywords `yaml:"keywords"`
}

// BridgeConfig configures the message bridge source.
type BridgeConfig struct {
	Enabled        *bool         `yaml:"enabled"`
	URL            string        `yaml:"url"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

// IsEnabled reports whether the bridge source should run. Defaults to true.
func (b BridgeConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// DefaultAgents returns the built-in agent roster.
func DefaultAgents() map[string]Agent {
	return map[string]Agent{
		"boss":    {Channel: "multiagent:0.0", Accounts: []string{"ai-boss", "boss-ai", "ai-organization-boss"}},
		"worker1": {Channel: "multiagent:0.1", Accounts: []string{"ai-worker1", "frontend-ai", "ai-frontend"}},
		"worker2": {Channel: "multiagent:0.2", Accounts: []string{"ai-worker2", "backend-ai", "ai-backend"}},
		"worker3": {Channel: "multiagent:0.3", Accounts: []string{"ai-worker3", "design-ai", "ai-design"}},
	}
}

// DefaultConfig returns a Config with sensible defaults. Agents and keyword
// sets are filled by applyDefaults only when the file leaves them empty, so a
// configured roster replaces the built-in one instead of merging with it.
func DefaultConfig() Config {
	return Config{
		Timeout:          10 * time.Second,
		SnapshotInterval: 60 * time.Second,
		PendingCeiling:   16,
		QueueSize:        256,
		AdvisoryWindow:   10 * time.Second,
		Issues: IssuesConfig{
			GhPath:       "gh",
			Limit:        50,
			PollInterval: 30 * time.Second,
		},
		Pane: PaneConfig{
			TmuxPath:     "tmux",
			PollInterval: 3 * time.Second,
			Workers:      4,
			TaskPattern:  terminal.DefaultTaskPattern,
		},
		Bridge: BridgeConfig{
			URL:            bridge.DefaultURL,
			PollInterval:   10 * time.Second,
			BackoffInitial: time.Second,
			BackoffMax:     60 * time.Second,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.DataDir = dataDir
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if len(c.Agents) == 0 {
		c.Agents = DefaultAgents()
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = defaults.SnapshotInterval
	}
	if c.PendingCeiling == 0 {
		c.PendingCeiling = defaults.PendingCeiling
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.AdvisoryWindow == 0 {
		c.AdvisoryWindow = defaults.AdvisoryWindow
	}

	if c.Issues.GhPath == "" {
		c.Issues.GhPath = defaults.Issues.GhPath
	}
	if c.Issues.Limit == 0 {
		c.Issues.Limit = defaults.Issues.Limit
	}
	if c.Issues.PollInterval == 0 {
		c.Issues.PollInterval = defaults.Issues.PollInterval
	}

	if c.Pane.TmuxPath == "" {
		c.Pane.TmuxPath = defaults.Pane.TmuxPath
	}
	if c.Pane.PollInterval == 0 {
		c.Pane.PollInterval = defaults.Pane.PollInterval
	}
	if c.Pane.Workers == 0 {
		c.Pane.Workers = defaults.Pane.Workers
	}
	if c.Pane.TaskPattern == "" {
		c.Pane.TaskPattern = defaults.Pane.TaskPattern
	}
	kw := terminal.DefaultKeywords()
	if len(c.Pane.Keywords.Working) == 0 {
		c.Pane.Keywords.Working = kw.Working
	}
	if len(c.Pane.Keywords.Completed) == 0 {
		c.Pane.Keywords.Completed = kw.Completed
	}
	if len(c.Pane.Keywords.Error) == 0 {
		c.Pane.Keywords.Error = kw.Error
	}
	if len(c.Pane.Keywords.Idle) == 0 {
		c.Pane.Keywords.Idle = kw.Idle
	}

	if c.Bridge.URL == "" {
		c.Bridge.URL = defaults.Bridge.URL
	}
	if c.Bridge.PollInterval == 0 {
		c.Bridge.PollInterval = defaults.Bridge.PollInterval
	}
	if c.Bridge.BackoffInitial == 0 {
		c.Bridge.BackoffInitial = defaults.Bridge.BackoffInitial
	}
	if c.Bridge.BackoffMax == 0 {
		c.Bridge.BackoffMax = defaults.Bridge.BackoffMax
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}
	for _, id := range c.AgentIDs() {
		if c.Agents[id].Channel == "" {
			return fmt.Errorf("agent %q must have a channel", id)
		}
	}

	for name, d := range map[string]time.Duration{
		"timeout":                c.Timeout,
		"snapshot_interval":      c.SnapshotInterval,
		"advisory_window":        c.AdvisoryWindow,
		"issues.poll_interval":   c.Issues.PollInterval,
		"pane.poll_interval":     c.Pane.PollInterval,
		"bridge.poll_interval":   c.Bridge.PollInterval,
		"bridge.backoff_initial": c.Bridge.BackoffInitial,
		"bridge.backoff_max":     c.Bridge.BackoffMax,
	} {
		if d < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}

	if c.PendingCeiling < 1 {
		return fmt.Errorf("pending_ceiling must be at least 1")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1")
	}
	if c.Issues.Limit < 1 {
		return fmt.Errorf("issues.limit must be at least 1")
	}
	if c.Pane.Workers < 1 {
		return fmt.Errorf("pane.workers must be at least 1")
	}
	if c.Bridge.BackoffInitial > c.Bridge.BackoffMax {
		return fmt.Errorf("bridge.backoff_initial cannot exceed bridge.backoff_max")
	}

	return nil
}

// AgentIDs returns the configured agent ids in sorted order.
func (c *Config) AgentIDs() []string {
	ids := make([]string, 0, len(c.Agents))
	for id := range c.Agents {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Channels returns the agent id to channel handle mapping.
func (c *Config) Channels() map[string]string {
	out := make(map[string]string, len(c.Agents))
	for id, a := range c.Agents {
		out[id] = a.Channel
	}
	return out
}

// Accounts returns the agent id to issue tracker account mapping.
func (c *Config) Accounts() map[string][]string {
	out := make(map[string][]string, len(c.Agents))
	for id, a := range c.Agents {
		out[id] = slices.Clone(a.Accounts)
	}
	return out
}

// SnapshotFile returns the path of the state snapshot.
func (c *Config) SnapshotFile() string {
	return filepath.Join(c.DataDir, SnapshotFileName)
}

// EventLogFile returns the path of the append-only event log.
func (c *Config) EventLogFile() string {
	return filepath.Join(c.DataDir, "logs", EventLogFileName)
}
