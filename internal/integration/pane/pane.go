// Package pane adapts tmux agent panes to the adapter interface. Status and
// task are scraped from visible pane text; the title is read directly.
package pane

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/hivesync/internal/core/adapter"
	"github.com/colonyops/hivesync/internal/core/logging"
	"github.com/colonyops/hivesync/internal/core/state"
	"github.com/colonyops/hivesync/internal/core/terminal"
	"github.com/colonyops/hivesync/internal/integration"
)

// excerptLines is how many trailing lines of pane text are kept for the
// event log.
const excerptLines = 5

// Controller is the subset of the tmux client the adapter uses.
type Controller interface {
	Capture(ctx context.Context, target string) (string, error)
	Title(ctx context.Context, target string) (string, error)
	SetTitle(ctx context.Context, target, title string) error
	Send(ctx context.Context, target, text string) error
}

// Adapter reads and writes the pane of every configured agent.
type Adapter struct {
	ctrl       Controller
	classifier *terminal.Classifier
	pool       *integration.WorkerPool
	channels   map[string]string
	timeout    time.Duration
	log        zerolog.Logger
}

// New creates an Adapter. channels maps agent id to tmux target. Every tmux
// call made while polling is bounded by timeout; zero leaves calls bounded
// only by the poll context.
func New(ctrl Controller, classifier *terminal.Classifier, pool *integration.WorkerPool, channels map[string]string, timeout time.Duration) *Adapter {
	return &Adapter{
		ctrl:       ctrl,
		classifier: classifier,
		pool:       pool,
		channels:   maps.Clone(channels),
		timeout:    timeout,
		log:        logging.Component("pane"),
	}
}

func (a *Adapter) Source() state.Source { return state.SourcePane }

// Poll captures every pane concurrently. A pane that cannot be read is
// left out of the view; the poll fails only when no pane could be read.
func (a *Adapter) Poll(ctx context.Context) (adapter.ExternalView, error) {
	view := adapter.NewView(state.SourcePane)

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)

	for agentID, target := range a.channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.pool.RunContext(ctx, func() {
				obs, err := a.observe(ctx, agentID, target)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					a.log.Warn().Err(err).Str("agent_id", agentID).Str("source", string(state.SourcePane)).Msg("skipping pane")
					return
				}
				view.Agents[agentID] = obs
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(view.Agents) == 0 && len(errs) > 0 {
		return view, fmt.Errorf("%w: %w", adapter.ErrUnavailable, errors.Join(errs...))
	}
	return view, nil
}

func (a *Adapter) observe(ctx context.Context, agentID, target string) (adapter.Observation, error) {
	content, err := a.read(ctx, target, a.ctrl.Capture)
	if err != nil {
		return adapter.Observation{}, err
	}
	title, err := a.read(ctx, target, a.ctrl.Title)
	if err != nil {
		return adapter.Observation{}, err
	}

	obs := adapter.Observation{
		AgentID:   agentID,
		Status:    a.classifier.Status(content),
		HasStatus: true,
		Title:     title,
		HasTitle:  true,
		Excerpt:   terminal.Excerpt(content, excerptLines),
	}
	if task, ok := a.classifier.Task(content); ok {
		obs.Task = task
		obs.HasTask = true
	}

	return obs, nil
}

// read runs one controller call under the per-call timeout.
func (a *Adapter) read(ctx context.Context, target string, fn func(context.Context, string) (string, error)) (string, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return fn(ctx, target)
}

// Apply sets the pane title or types text into the pane.
func (a *Adapter) Apply(ctx context.Context, agentID string, w state.Write) error {
	target, ok := a.channels[agentID]
	if !ok {
		return fmt.Errorf("%w: no channel for %s", adapter.ErrWriteFailed, agentID)
	}

	var err error
	switch w.Op {
	case state.OpSetTitle:
		err = a.ctrl.SetTitle(ctx, target, w.Text)
	case state.OpSend:
		err = a.ctrl.Send(ctx, target, w.Text)
	default:
		return fmt.Errorf("%w: unsupported op %q", adapter.ErrWriteFailed, w.Op)
	}

	if err != nil {
		return fmt.Errorf("%w: %w", adapter.ErrWriteFailed, err)
	}
	return nil
}
