// Package bridgeadapter exposes the message bridge session as an advisory
// source of agent status and task.
package bridgeadapter

import (
	"context"
	"fmt"

	"github.com/colonyops/hivesync/internal/core/adapter"
	"github.com/colonyops/hivesync/internal/core/bridge"
	"github.com/colonyops/hivesync/internal/core/state"
)

// Client is the subset of the bridge session the adapter uses.
type Client interface {
	Connected() bool
	GetStatus(ctx context.Context) (bridge.StatusResult, error)
	UpdateWorker(ctx context.Context, id, status, task string) error
}

// Adapter polls the bridge for worker status and publishes canonical state
// back to it.
type Adapter struct {
	client Client
	agents map[string]bool
}

// New creates an Adapter reporting only the given agents.
func New(client Client, agentIDs []string) *Adapter {
	agents := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		agents[id] = true
	}
	return &Adapter{
		client: client,
		agents: agents,
	}
}

func (a *Adapter) Source() state.Source { return state.SourceBridge }

// Poll returns ErrUnavailable immediately while the session is down.
func (a *Adapter) Poll(ctx context.Context) (adapter.ExternalView, error) {
	view := adapter.NewView(state.SourceBridge)

	if !a.client.Connected() {
		return view, fmt.Errorf("%w: %w", adapter.ErrUnavailable, bridge.ErrDisconnected)
	}

	res, err := a.client.GetStatus(ctx)
	if err != nil {
		return view, fmt.Errorf("%w: %w", adapter.ErrUnavailable, err)
	}

	for id, raw := range res.Workers {
		if !a.agents[id] {
			continue
		}

		w, err := bridge.DecodeWorker(raw)
		if err != nil {
			view.Dropped = append(view.Dropped, fmt.Errorf("%w: worker %s: %w", adapter.ErrMalformed, id, err))
			continue
		}
		st, ok := state.ParseStatus(w.Status)
		if !ok {
			view.Dropped = append(view.Dropped, fmt.Errorf("%w: worker %s: unknown status %q", adapter.ErrMalformed, id, w.Status))
			continue
		}

		view.Agents[id] = adapter.Observation{
			AgentID:   id,
			Status:    st,
			HasStatus: true,
			Task:      string(w.CurrentIssue),
			HasTask:   true,
		}
	}

	return view, nil
}

// Apply publishes the status and task carried by a publish write.
func (a *Adapter) Apply(ctx context.Context, agentID string, w state.Write) error {
	if w.Op != state.OpPublish {
		return fmt.Errorf("%w: unsupported op %q", adapter.ErrWriteFailed, w.Op)
	}
	if err := a.client.UpdateWorker(ctx, agentID, string(w.Status), w.TaskID); err != nil {
		return fmt.Errorf("%w: %w", adapter.ErrWriteFailed, err)
	}
	return nil
}
