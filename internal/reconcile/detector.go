// Package reconcile turns polled external state into events and applies
// them to the state store, issuing corrective writes to stale systems.
package reconcile

import (
	"cmp"
	"slices"
	"strconv"

	"github.com/colonyops/hivesync/internal/core/adapter"
	"github.com/colonyops/hivesync/internal/core/event"
	"github.com/colonyops/hivesync/internal/core/state"
	"github.com/colonyops/hivesync/internal/core/terminal"
)

// Detect compares one poll result against the published view and returns
// one event per diverging field, ordered by agent id. Agents not in the
// view are ignored. The first observation of an agent by a source yields a
// single baseline event instead.
func Detect(view *state.View, ext adapter.ExternalView) []event.Event {
	ids := make([]string, 0, len(ext.Agents))
	for id := range ext.Agents {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out []event.Event
	for _, id := range ids {
		rec, ok := view.Get(id)
		if !ok {
			continue
		}
		obs := ext.Agents[id]

		if !rec.Seen(ext.Source) {
			out = append(out, baseline(rec, ext, obs))
			continue
		}

		switch ext.Source {
		case state.SourceIssues:
			out = append(out, detectIssues(rec, ext, obs)...)
		case state.SourcePane:
			out = append(out, detectPane(rec, ext, obs)...)
		case state.SourceBridge:
			out = append(out, detectBridge(rec, ext, obs)...)
		}
	}
	return out
}

func baseline(rec state.Record, ext adapter.ExternalView, obs adapter.Observation) event.Event {
	var p event.Payload

	switch ext.Source {
	case state.SourceIssues:
		p.HasTask = true
		if t, ok := pickTask(rec, obs.Candidates); ok {
			p.NewTask = t.ID
			p.TaskTitle = t.Title
			p.Assignees = t.Assignees
		}
	case state.SourcePane:
		p.HasStatus = obs.HasStatus
		p.NewStatus = obs.Status
		p.Excerpt = obs.Excerpt
	case state.SourceBridge:
		p.HasStatus = obs.HasStatus
		p.NewStatus = obs.Status
		p.HasTask = obs.HasTask && obs.Task != ""
		p.NewTask = obs.Task
	}

	return event.New(ext.Source, event.KindBaseline, rec.ID, ext.ObservedAt, p)
}

// openCandidates drops the task this process closed itself unless the
// tracker reports activity on it after the close.
func openCandidates(rec state.Record, candidates []adapter.Task) []adapter.Task {
	if rec.ClosedTask == "" {
		return candidates
	}
	return slices.DeleteFunc(slices.Clone(candidates), func(t adapter.Task) bool {
		return t.ID == rec.ClosedTask && !t.UpdatedAt.After(rec.ClosedAt)
	})
}

// pickTask returns the most recently updated candidate, lowest number first
// on ties.
func pickTask(rec state.Record, candidates []adapter.Task) (adapter.Task, bool) {
	cands := openCandidates(rec, candidates)
	if len(cands) == 0 {
		return adapter.Task{}, false
	}
	return slices.MinFunc(cands, func(a, b adapter.Task) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return compareTaskIDs(a.ID, b.ID)
	}), true
}

func compareTaskIDs(a, b string) int {
	an, aerr := strconv.Atoi(a)
	bn, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return cmp.Compare(an, bn)
	}
	return cmp.Compare(a, b)
}

func detectIssues(rec state.Record, ext adapter.ExternalView, obs adapter.Observation) []event.Event {
	cands := openCandidates(rec, obs.Candidates)

	if rec.Task != "" && slices.ContainsFunc(cands, func(t adapter.Task) bool { return t.ID == rec.Task }) {
		return nil
	}

	if t, ok := pickTask(rec, cands); ok {
		return []event.Event{event.New(state.SourceIssues, event.KindTaskAssigned, rec.ID, ext.ObservedAt, event.Payload{
			OldTask:   rec.Task,
			NewTask:   t.ID,
			TaskTitle: t.Title,
			TaskBody:  t.Body,
			Assignees: t.Assignees,
		})}
	}

	// An assignment this process pushed to the tracker may not be listed yet.
	if rec.Task == "" || rec.HasPending(state.SourceIssues, state.OpAssign, rec.Task) {
		return nil
	}

	return []event.Event{event.New(state.SourceIssues, event.KindTaskUnassigned, rec.ID, ext.ObservedAt, event.Payload{
		OldTask: rec.Task,
	})}
}

func detectPane(rec state.Record, ext adapter.ExternalView, obs adapter.Observation) []event.Event {
	var out []event.Event

	if obs.HasStatus && obs.Status != rec.Status {
		out = append(out, event.New(state.SourcePane, event.KindStatusChanged, rec.ID, ext.ObservedAt, event.Payload{
			Field:     event.FieldStatus,
			OldStatus: rec.Status,
			NewStatus: obs.Status,
			Excerpt:   obs.Excerpt,
		}))
	}

	if obs.HasTitle && !rec.HasPendingOp(state.SourcePane, state.OpSetTitle) &&
		obs.Title != terminal.Marker(rec.ID, rec.Status, rec.Task) {
		out = append(out, event.New(state.SourcePane, event.KindExternalUpdate, rec.ID, ext.ObservedAt, event.Payload{
			Field: event.FieldTitle,
			Title: obs.Title,
		}))
	}

	if obs.HasTask && obs.HasStatus && obs.Status == state.StatusWorking &&
		obs.Task != rec.Task && obs.Task != rec.ClosedTask {
		out = append(out, event.New(state.SourcePane, event.KindExternalUpdate, rec.ID, ext.ObservedAt, event.Payload{
			Field:   event.FieldTask,
			OldTask: rec.Task,
			NewTask: obs.Task,
			Excerpt: obs.Excerpt,
		}))
	}

	return out
}

func detectBridge(rec state.Record, ext adapter.ExternalView, obs adapter.Observation) []event.Event {
	// A pending publish means the bridge has not been told the current state yet.
	if rec.HasPendingOp(state.SourceBridge, state.OpPublish) {
		return nil
	}

	var out []event.Event

	if obs.HasStatus && obs.Status != rec.Status {
		out = append(out, event.New(state.SourceBridge, event.KindExternalUpdate, rec.ID, ext.ObservedAt, event.Payload{
			Field:     event.FieldStatus,
			OldStatus: rec.Status,
			NewStatus: obs.Status,
		}))
	}

	// The bridge cannot unassign; only the tracker is authoritative for that.
	if obs.HasTask && obs.Task != "" && obs.Task != rec.Task && obs.Task != rec.ClosedTask {
		out = append(out, event.New(state.SourceBridge, event.KindExternalUpdate, rec.ID, ext.ObservedAt, event.Payload{
			Field:   event.FieldTask,
			OldTask: rec.Task,
			NewTask: obs.Task,
		}))
	}

	return out
}
