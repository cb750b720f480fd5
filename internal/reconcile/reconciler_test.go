package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/hivesync/internal/core/adapter"
	"github.com/colonyops/hivesync/internal/core/event"
	"github.com/colonyops/hivesync/internal/core/state"
	"github.com/colonyops/hivesync/internal/core/terminal"
)

func TestReconcile_StartupBaseline(t *testing.T) {
	h := newHarness(t)
	h.assign("42", "Fix login")

	outs := h.all()

	assert.Equal(t, map[Outcome]int{OutcomeBaseline: 3}, countOutcomes(outs))
	assert.Zero(t, h.writeCount(), "baseline must not write to any system")
	assert.Empty(t, h.log.events, "baseline is not an applied event")

	rec := h.record()
	assert.Equal(t, "42", rec.Task)
	assert.Equal(t, state.StatusIdle, rec.Status)
	assert.False(t, rec.LastSync.IsZero())
	for _, src := range state.Sources {
		assert.True(t, rec.Seen(src), "source %s", src)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.baseline()

	assert.Empty(t, h.all())
	assert.Empty(t, h.all())
	assert.Zero(t, h.writeCount())
}

func TestReconcile_AssignmentPushesTask(t *testing.T) {
	h := newHarness(t)
	h.baseline()
	h.assign("42", "Fix login")
	h.issues.set(agent, func(o *adapter.Observation) {
		o.Candidates[0].Body = "The login form rejects valid passwords."
	})

	outs := h.round(state.SourceIssues)
	require.Equal(t, []Outcome{OutcomeApplied}, outs)

	rec := h.record()
	assert.Equal(t, "42", rec.Task)
	assert.Equal(t, state.StatusWorking, rec.Status)
	assert.Equal(t, h.now, rec.AssignedAt)
	assert.Empty(t, rec.Pending)

	paneWrites := h.pane.writes()
	require.Len(t, paneWrites, 2)
	assert.Equal(t, state.OpSend, paneWrites[0].Op)
	assert.Equal(t, "Issue #42: Fix login\n\nThe login form rejects valid passwords.", paneWrites[0].Text)
	assert.Equal(t, state.OpSetTitle, paneWrites[1].Op)
	assert.Equal(t, terminal.Marker(agent, state.StatusWorking, "42"), paneWrites[1].Text)

	issueWrites := h.issues.writes()
	require.Len(t, issueWrites, 1)
	assert.Equal(t, state.OpComment, issueWrites[0].Op)
	assert.Equal(t, "42", issueWrites[0].TaskID)
	assert.Contains(t, issueWrites[0].Text, "WORKER1")

	bridgeWrites := h.bridge.writes()
	require.Len(t, bridgeWrites, 1)
	assert.Equal(t, state.OpPublish, bridgeWrites[0].Op)
	assert.Equal(t, state.StatusWorking, bridgeWrites[0].Status)
	assert.Equal(t, "42", bridgeWrites[0].TaskID)

	require.Len(t, h.log.events, 1)
	assert.Equal(t, event.KindTaskAssigned, h.log.events[0].Kind)

	// every system now agrees
	assert.Empty(t, h.all())
}

func TestReconcile_PaneCompletionClosesTask(t *testing.T) {
	h := newHarness(t)
	h.baseline()
	h.assign("42", "Fix login")
	h.round(state.SourceIssues)

	h.pane.set(agent, func(o *adapter.Observation) { o.Status = state.StatusCompleted })
	outs := h.round(state.SourcePane)
	require.Equal(t, []Outcome{OutcomeApplied}, outs)

	rec := h.record()
	assert.Equal(t, state.StatusCompleted, rec.Status)
	assert.Empty(t, rec.Task)
	assert.Equal(t, "42", rec.ClosedTask)

	issueWrites := h.issues.writes()
	require.Len(t, issueWrites, 3)
	assert.Equal(t, state.OpComment, issueWrites[1].Op)
	assert.Equal(t, state.StatusCompleted, issueWrites[1].Status)
	assert.Equal(t, state.OpClose, issueWrites[2].Op)
	assert.Equal(t, "42", issueWrites[2].TaskID)

	assert.Empty(t, h.all())
}

func TestReconcile_ClosedTaskNotResurrected(t *testing.T) {
	h := newHarness(t)
	h.issues.lagging = true
	h.baseline()
	h.assign("42", "Fix login")
	h.round(state.SourceIssues)

	h.pane.set(agent, func(o *adapter.Observation) { o.Status = state.StatusCompleted })
	h.round(state.SourcePane)

	// the tracker still lists the task it was told to close
	assert.Empty(t, h.round(state.SourceIssues))
	assert.Empty(t, h.record().Task)

	// new activity on the task after the close counts as a reassignment
	h.issues.set(agent, func(o *adapter.Observation) { o.Candidates[0].UpdatedAt = h.now })
	outs := h.round(state.SourceIssues)
	require.Equal(t, []Outcome{OutcomeApplied}, outs)

	rec := h.record()
	assert.Equal(t, "42", rec.Task)
	assert.Empty(t, rec.ClosedTask)
}

func TestReconcile_Unassigned(t *testing.T) {
	h := newHarness(t)
	h.baseline()
	h.assign("42", "Fix login")
	h.round(state.SourceIssues)

	h.issues.set(agent, func(o *adapter.Observation) { o.Candidates = nil })
	outs := h.round(state.SourceIssues)
	require.Equal(t, []Outcome{OutcomeApplied}, outs)

	rec := h.record()
	assert.Empty(t, rec.Task)
	assert.Equal(t, state.StatusWorking, rec.Status)
	assert.Equal(t, []state.Op{state.OpComment}, h.issues.ops(), "unassignment writes nothing back to the tracker")
}

func TestReconcile_BridgeYieldsToRecentPaneReading(t *testing.T) {
	h := newHarness(t)
	h.baseline()

	h.pane.set(agent, func(o *adapter.Observation) { o.Status = state.StatusWorking })
	require.Equal(t, []Outcome{OutcomeApplied}, h.round(state.SourcePane))

	h.bridge.set(agent, func(o *adapter.Observation) { o.Status = state.StatusError })
	before := h.writeCount()

	outs := h.round(state.SourceBridge)
	require.Equal(t, []Outcome{OutcomeDiscarded}, outs)
	assert.Equal(t, state.StatusWorking, h.record().Status)
	assert.Equal(t, before, h.writeCount(), "discarded events issue no writes")

	// once the pane reading is older than the window the bridge is heard
	h.now = h.now.Add(31 * time.Second)
	outs = h.round(state.SourceBridge)
	require.Equal(t, []Outcome{OutcomeApplied}, outs)
	assert.Equal(t, state.StatusError, h.record().Status)
}

func TestReconcile_AdvisoryOrdering(t *testing.T) {
	h := newHarness(t)
	h.baseline()
	h.now = h.now.Add(time.Minute)

	t0 := h.now
	newer := event.New(state.SourcePane, event.KindExternalUpdate, agent, t0, event.Payload{
		Field: event.FieldTask, NewTask: "7",
	})
	require.Equal(t, OutcomeApplied, h.apply(newer))
	assert.Equal(t, "7", h.record().Task)

	ops := h.issues.ops()
	require.Len(t, ops, 1)
	assert.Equal(t, state.OpAssign, ops[0])

	older := event.New(state.SourcePane, event.KindExternalUpdate, agent, t0.Add(-5*time.Second), event.Payload{
		Field: event.FieldTask, OldTask: "7", NewTask: "8",
	})
	assert.Equal(t, OutcomeDiscarded, h.apply(older))
	assert.Equal(t, "7", h.record().Task)

	// the tracker now lists the pushed assignment, so nothing diverges
	assert.Empty(t, h.round(state.SourceIssues))
}

func TestReconcile_ConflictDeterministic(t *testing.T) {
	orders := map[string][]state.Source{
		"pane first":   {state.SourcePane, state.SourceIssues},
		"issues first": {state.SourceIssues, state.SourcePane},
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.baseline()

			// the pane reading is taken before the agent saw the assignment
			h.assign("42", "Fix login")
			h.pane.set(agent, func(o *adapter.Observation) { o.Status = state.StatusCompleted })

			outs := h.round(order...)
			counts := countOutcomes(outs)
			assert.Equal(t, 1, counts[OutcomeDeferred], "pane reading deferred exactly once")
			assert.Equal(t, 1, counts[OutcomeApplied])
			assert.Equal(t, 1, counts[OutcomeDiscarded], "completion of the previous task is dropped")

			rec := h.record()
			assert.Equal(t, "42", rec.Task, "assignment keeps its task")
			assert.Equal(t, state.StatusWorking, rec.Status)
			assert.NotContains(t, h.issues.ops(), state.OpClose)

			// the agent picked up the prompt, so the pane agrees
			assert.Empty(t, h.round(state.SourcePane))
			rec = h.record()
			assert.Equal(t, "42", rec.Task)
			assert.Equal(t, state.StatusWorking, rec.Status)
		})
	}
}

func TestReconcile_DeferredIdleBeforeAssignment(t *testing.T) {
	h := newHarness(t)
	h.baseline()
	h.pane.set(agent, func(o *adapter.Observation) { o.Status = state.StatusError })
	require.Equal(t, []Outcome{OutcomeApplied}, h.round(state.SourcePane))

	// the pane recovered to idle just before the assignment was picked up
	h.assign("42", "Fix login")
	h.pane.set(agent, func(o *adapter.Observation) { o.Status = state.StatusIdle })

	counts := countOutcomes(h.round(state.SourceIssues, state.SourcePane))
	assert.Equal(t, 1, counts[OutcomeDeferred])
	assert.Equal(t, 2, counts[OutcomeApplied])

	rec := h.record()
	assert.Equal(t, "42", rec.Task)
	assert.Equal(t, state.StatusIdle, rec.Status, "status only, the task is kept")
}

func TestReconcile_StaleEventDiscarded(t *testing.T) {
	h := newHarness(t)
	h.baseline()

	ev := event.New(state.SourcePane, event.KindStatusChanged, agent, h.now, event.Payload{
		Field:     event.FieldStatus,
		OldStatus: state.StatusError,
		NewStatus: state.StatusCompleted,
	})
	assert.Equal(t, OutcomeDiscarded, h.apply(ev))
	assert.Equal(t, state.StatusIdle, h.record().Status)
	assert.Empty(t, h.log.events)
}

func TestReconcile_UnknownAgentIgnored(t *testing.T) {
	h := newHarness(t)
	ev := event.New(state.SourcePane, event.KindStatusChanged, "worker9", h.now, event.Payload{
		NewStatus: state.StatusWorking,
	})
	assert.Equal(t, OutcomeIgnored, h.apply(ev))
}

func TestReconcile_TitleDriftRestored(t *testing.T) {
	h := newHarness(t)
	h.baseline()

	h.pane.set(agent, func(o *adapter.Observation) { o.Title, o.HasTitle = "bash", true })
	require.Equal(t, []Outcome{OutcomeApplied}, h.round(state.SourcePane))

	writes := h.pane.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, state.OpSetTitle, writes[0].Op)
	assert.Equal(t, terminal.Marker(agent, state.StatusIdle, ""), writes[0].Text)

	assert.Empty(t, h.round(state.SourcePane))
}

func TestReconcile_FailedWritesRetryInOrder(t *testing.T) {
	h := newHarness(t)
	h.baseline()
	h.issues.applyErr = errors.New("gh: rate limited")

	h.assign("42", "Fix login")
	require.Equal(t, []Outcome{OutcomeApplied}, h.round(state.SourceIssues))
	assert.Equal(t, 1, h.issues.calls)

	h.pane.set(agent, func(o *adapter.Observation) { o.Status = state.StatusCompleted })
	require.Equal(t, []Outcome{OutcomeApplied}, h.round(state.SourcePane))

	rec := h.record()
	require.Len(t, rec.Pending, 3)
	assert.Equal(t, 2, rec.Pending[0].Attempts)
	assert.Zero(t, rec.Pending[1].Attempts, "later writes to a failing target wait")
	assert.Equal(t, 2, h.issues.calls)

	// state and the other systems moved on regardless
	assert.Equal(t, state.StatusCompleted, rec.Status)
	assert.Equal(t, state.OpPublish, h.bridge.ops()[len(h.bridge.ops())-1])

	h.issues.applyErr = nil
	stale := event.New(state.SourcePane, event.KindStatusChanged, agent, h.now, event.Payload{
		OldStatus: state.StatusError, NewStatus: state.StatusIdle,
	})
	h.apply(stale)

	assert.Empty(t, h.record().Pending)
	writes := h.issues.writes()
	require.Len(t, writes, 3)
	assert.Equal(t, state.StatusWorking, writes[0].Status)
	assert.Equal(t, state.StatusCompleted, writes[1].Status)
	assert.Equal(t, state.OpClose, writes[2].Op)
}

func TestReconcile_TimedOutWriteStaysPending(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Timeout = 20 * time.Millisecond })
	h.baseline()
	h.issues.hang = true

	h.assign("42", "Fix login")
	require.Equal(t, []Outcome{OutcomeApplied}, h.round(state.SourceIssues))

	rec := h.record()
	require.Len(t, rec.Pending, 1)
	assert.Equal(t, state.SourceIssues, rec.Pending[0].Target)
	assert.Equal(t, state.OpComment, rec.Pending[0].Op)
	assert.Equal(t, 1, rec.Pending[0].Attempts)
	assert.Equal(t, 1, h.issues.calls)
	assert.Equal(t, []state.Op{state.OpSend, state.OpSetTitle}, h.pane.ops(), "other targets are not held up")

	h.issues.hang = false
	h.apply(event.New(state.SourcePane, event.KindStatusChanged, agent, h.now, event.Payload{
		OldStatus: state.StatusError, NewStatus: state.StatusIdle,
	}))
	assert.Empty(t, h.record().Pending)
	assert.Equal(t, []state.Op{state.OpComment}, h.issues.ops())
}

func TestReconcile_PendingWritesBounded(t *testing.T) {
	const ceiling = 3
	h := newHarness(t, func(o *Options) { o.PendingCeiling = ceiling })
	h.baseline()
	h.issues.applyErr = errors.New("gh: unavailable")

	prev := ""
	for _, task := range []string{"1", "2", "3", "4", "5"} {
		ev := event.New(state.SourceIssues, event.KindTaskAssigned, agent, h.now, event.Payload{
			OldTask: prev, NewTask: task,
		})
		require.Equal(t, OutcomeApplied, h.apply(ev))
		assert.LessOrEqual(t, len(h.record().Pending), ceiling)
		prev = task
		h.now = h.now.Add(time.Second)
	}

	rec := h.record()
	require.Len(t, rec.Pending, ceiling)
	assert.Equal(t, "3", rec.Pending[0].TaskID, "oldest comments dropped")
	assert.Equal(t, state.OpComment, rec.Pending[2].Op)
	assert.Equal(t, "5", rec.Pending[2].TaskID)

	sends := 0
	for _, op := range h.pane.ops() {
		if op == state.OpSend {
			sends++
		}
	}
	assert.Equal(t, 5, sends, "new writes are attempted before the ceiling applies")
}

func TestReconcile_CeilingBelowWritesPerEvent(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.PendingCeiling = 1 })
	h.baseline()
	h.issues.applyErr = errors.New("gh: unavailable")

	h.assign("42", "Fix login")
	require.Equal(t, []Outcome{OutcomeApplied}, h.round(state.SourceIssues))

	assert.Equal(t, []state.Op{state.OpSend, state.OpSetTitle}, h.pane.ops())
	assert.Contains(t, h.bridge.ops(), state.OpPublish)
	assert.Equal(t, 1, h.issues.calls)

	rec := h.record()
	require.Len(t, rec.Pending, 1)
	assert.Equal(t, state.OpComment, rec.Pending[0].Op)
}

func TestReconcile_WritesSkippedWithoutAdapter(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Adapters = o.Adapters[:2]
	})
	h.round(state.SourceIssues, state.SourcePane)
	h.assign("42", "Fix login")

	require.Equal(t, []Outcome{OutcomeApplied}, h.round(state.SourceIssues))
	assert.Empty(t, h.record().Pending)
	assert.Empty(t, h.bridge.writes())
}

func TestReconcile_Converges(t *testing.T) {
	h := newHarness(t)
	h.baseline()

	h.assign("42", "Fix login")
	h.bridge.set(agent, func(o *adapter.Observation) { o.Status = state.StatusError })
	h.pane.set(agent, func(o *adapter.Observation) { o.Title, o.HasTitle = "zsh", true })

	for range 5 {
		if len(h.all()) == 0 {
			break
		}
	}
	require.Empty(t, h.all())

	rec := h.record()
	marker := terminal.Marker(agent, rec.Status, rec.Task)

	pane := h.pane.view(h.now).Agents[agent]
	assert.Equal(t, marker, pane.Title)

	br := h.bridge.view(h.now).Agents[agent]
	assert.Equal(t, rec.Status, br.Status)
	assert.Equal(t, rec.Task, br.Task)

	assert.Equal(t, "42", rec.Task)
	assert.Empty(t, rec.Pending)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "applied", OutcomeApplied.String())
	assert.Equal(t, "deferred", OutcomeDeferred.String())
	assert.Equal(t, "ignored", Outcome(99).String())
}
