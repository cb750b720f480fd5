package doctor

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/colonyops/hivesync/internal/core/bridge"
	"github.com/colonyops/hivesync/internal/core/github"
)

// IssueLister is the part of the gh client the tracker check uses.
type IssueLister interface {
	ListIssues(ctx context.Context, limit int) ([]github.Issue, []error, error)
}

// TrackerCheck verifies that open issues can be listed.
type TrackerCheck struct {
	issues IssueLister
	limit  int
}

// NewTrackerCheck creates a tracker check.
func NewTrackerCheck(issues IssueLister, limit int) *TrackerCheck {
	return &TrackerCheck{issues: issues, limit: limit}
}

func (c *TrackerCheck) Name() string {
	return "Issue tracker"
}

func (c *TrackerCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	list, skipped, err := c.issues.ListIssues(ctx, c.limit)
	if err != nil {
		result.Items = append(result.Items, fail("gh issue list", err.Error()))
		return result
	}

	result.Items = append(result.Items, pass("gh issue list", fmt.Sprintf("%d open issues", len(list))))
	if len(skipped) > 0 {
		result.Items = append(result.Items, warn("malformed records", fmt.Sprintf("%d skipped", len(skipped))))
	}
	return result
}

// PaneProber is the part of the tmux client the pane check uses.
type PaneProber interface {
	HasTarget(ctx context.Context, target string) bool
}

// PanesCheck verifies that every agent's pane exists. A missing pane is a
// warning since the daemon skips unreadable panes.
type PanesCheck struct {
	tmux     PaneProber
	channels map[string]string
}

// NewPanesCheck creates a pane check. channels maps agent id to tmux target.
func NewPanesCheck(tmux PaneProber, channels map[string]string) *PanesCheck {
	return &PanesCheck{tmux: tmux, channels: channels}
}

func (c *PanesCheck) Name() string {
	return "Agent panes"
}

func (c *PanesCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	ids := make([]string, 0, len(c.channels))
	for id := range c.channels {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		target := c.channels[id]
		if c.tmux.HasTarget(ctx, target) {
			result.Items = append(result.Items, pass(id, target))
		} else {
			result.Items = append(result.Items, warn(id, target+" not found"))
		}
	}
	return result
}

// BridgeProber is the part of the bridge session the bridge check uses.
type BridgeProber interface {
	Run(ctx context.Context) error
	Ready() <-chan struct{}
	GetStatus(ctx context.Context) (bridge.StatusResult, error)
}

// BridgeCheck verifies that the bridge accepts a connection and answers a
// status request. A nil prober means the bridge is disabled.
type BridgeCheck struct {
	prober  BridgeProber
	url     string
	timeout time.Duration
}

// NewBridgeCheck creates a bridge check.
func NewBridgeCheck(prober BridgeProber, url string, timeout time.Duration) *BridgeCheck {
	return &BridgeCheck{prober: prober, url: url, timeout: timeout}
}

func (c *BridgeCheck) Name() string {
	return "Message bridge"
}

func (c *BridgeCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	if c.prober == nil {
		result.Items = append(result.Items, warn("bridge", "disabled"))
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	go func() { _ = c.prober.Run(ctx) }()

	select {
	case <-c.prober.Ready():
	case <-ctx.Done():
		result.Items = append(result.Items, fail("connect", c.url+" unreachable"))
		return result
	}
	result.Items = append(result.Items, pass("connect", c.url))

	status, err := c.prober.GetStatus(ctx)
	if err != nil {
		result.Items = append(result.Items, fail(bridge.MethodGetStatus, err.Error()))
		return result
	}
	result.Items = append(result.Items, pass(bridge.MethodGetStatus, fmt.Sprintf("%d workers", len(status.Workers))))
	return result
}
