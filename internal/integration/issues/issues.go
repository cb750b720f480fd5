// Package issues adapts the gh issue tracker to the adapter interface.
package issues

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/colonyops/hivesync/internal/core/adapter"
	"github.com/colonyops/hivesync/internal/core/github"
	"github.com/colonyops/hivesync/internal/core/state"
)

// Tracker is the subset of the gh client the adapter uses.
type Tracker interface {
	ListIssues(ctx context.Context, limit int) ([]github.Issue, []error, error)
	Comment(ctx context.Context, number int, body string) error
	Close(ctx context.Context, number int) error
	Assign(ctx context.Context, number int, login string) error
}

// Adapter polls open issues and maps their assignees onto agents.
type Adapter struct {
	tracker  Tracker
	limit    int
	accounts atomic.Pointer[map[string][]string]
}

// New creates an Adapter. accounts maps agent id to external account names.
func New(tracker Tracker, limit int, accounts map[string][]string) *Adapter {
	a := &Adapter{
		tracker: tracker,
		limit:   limit,
	}
	a.SetAccounts(accounts)
	return a
}

// SetAccounts replaces the agent to account mapping. Safe to call while
// polls are running.
func (a *Adapter) SetAccounts(accounts map[string][]string) {
	m := maps.Clone(accounts)
	if m == nil {
		m = map[string][]string{}
	}
	a.accounts.Store(&m)
}

// Accounts returns the accounts mapped to agentID.
func (a *Adapter) Accounts(agentID string) []string {
	return (*a.accounts.Load())[agentID]
}

func (a *Adapter) Source() state.Source { return state.SourceIssues }

// Poll lists open issues and returns, for every mapped agent, the issues
// assigned to any of its accounts.
func (a *Adapter) Poll(ctx context.Context) (adapter.ExternalView, error) {
	view := adapter.NewView(state.SourceIssues)

	list, skipped, err := a.tracker.ListIssues(ctx, a.limit)
	if err != nil {
		return view, fmt.Errorf("%w: %w", adapter.ErrUnavailable, err)
	}
	for _, e := range skipped {
		view.Dropped = append(view.Dropped, fmt.Errorf("%w: %w", adapter.ErrMalformed, e))
	}

	owners := map[string]string{}
	accounts := *a.accounts.Load()
	for agentID, accts := range accounts {
		view.Agents[agentID] = adapter.Observation{AgentID: agentID}
		for _, acct := range accts {
			owners[strings.ToLower(acct)] = agentID
		}
	}

	for _, iss := range list {
		task := adapter.Task{
			ID:        strconv.Itoa(iss.Number),
			Title:     iss.Title,
			Body:      iss.Body,
			Assignees: iss.Assignees,
			State:     iss.State,
			UpdatedAt: iss.UpdatedAt,
		}

		matched := map[string]bool{}
		for _, login := range iss.Assignees {
			agentID, ok := owners[strings.ToLower(login)]
			if !ok || matched[agentID] {
				continue
			}
			matched[agentID] = true

			obs := view.Agents[agentID]
			obs.Candidates = append(obs.Candidates, task)
			view.Agents[agentID] = obs
		}
	}

	return view, nil
}

// Apply performs a comment, close or assign on the task named by w.
func (a *Adapter) Apply(ctx context.Context, agentID string, w state.Write) error {
	number, err := strconv.Atoi(w.TaskID)
	if err != nil || number <= 0 {
		return fmt.Errorf("%w: invalid task id %q", adapter.ErrWriteFailed, w.TaskID)
	}

	switch w.Op {
	case state.OpComment:
		err = a.tracker.Comment(ctx, number, w.Text)
	case state.OpClose:
		err = a.tracker.Close(ctx, number)
	case state.OpAssign:
		accts := a.Accounts(agentID)
		if len(accts) == 0 {
			return fmt.Errorf("%w: no account mapped for %s", adapter.ErrWriteFailed, agentID)
		}
		err = a.tracker.Assign(ctx, number, accts[0])
	default:
		return fmt.Errorf("%w: unsupported op %q", adapter.ErrWriteFailed, w.Op)
	}

	if err != nil {
		return fmt.Errorf("%w: %w", adapter.ErrWriteFailed, err)
	}
	return nil
}
