package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/colonyops/hivesync/internal/core/adapter"
	"github.com/colonyops/hivesync/internal/core/event"
	"github.com/colonyops/hivesync/internal/core/logging"
	"github.com/colonyops/hivesync/internal/core/state"
	"github.com/colonyops/hivesync/internal/core/terminal"
)

// Outcome is what the reconciler did with one event.
type Outcome int

const (
	// OutcomeIgnored means the event named an unknown agent or repeated a baseline.
	OutcomeIgnored Outcome = iota
	OutcomeBaseline
	OutcomeApplied
	OutcomeDeferred
	OutcomeDiscarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBaseline:
		return "baseline"
	case OutcomeApplied:
		return "applied"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "ignored"
	}
}

// EventLog records applied events.
type EventLog interface {
	Append(ev event.Event) error
}

// Options configures a Reconciler.
type Options struct {
	Store          *state.Store
	Queue          *event.Queue
	Adapters       []adapter.Adapter
	EventLog       EventLog
	PendingCeiling int
	Timeout        time.Duration
	AdvisoryWindow time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

type touch struct {
	source state.Source
	at     time.Time
}

// Reconciler is the only writer of the state store. It consumes events in
// queue order and runs each one to completion before taking the next.
type Reconciler struct {
	store    *state.Store
	queue    *event.Queue
	adapters map[state.Source]adapter.Adapter
	evlog    EventLog
	ceiling  int
	timeout  time.Duration
	window   time.Duration
	now      func() time.Time
	log      zerolog.Logger

	// touches remembers, per agent and field, the last source that changed it.
	touches map[string]map[string]touch
}

// New creates a Reconciler.
func New(opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	adapters := make(map[state.Source]adapter.Adapter, len(opts.Adapters))
	for _, a := range opts.Adapters {
		adapters[a.Source()] = a
	}

	return &Reconciler{
		store:    opts.Store,
		queue:    opts.Queue,
		adapters: adapters,
		evlog:    opts.EventLog,
		ceiling:  opts.PendingCeiling,
		timeout:  opts.Timeout,
		window:   opts.AdvisoryWindow,
		now:      opts.Now,
		log:      logging.Component("reconciler"),
		touches:  make(map[string]map[string]touch),
	}
}

// Run consumes the queue until it is closed and drained, or ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		ev, err := r.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, event.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		r.Apply(ctx, ev)
	}
}

// Apply runs one reconciliation pass for ev.
func (r *Reconciler) Apply(ctx context.Context, ev event.Event) Outcome {
	ctx = logging.WithEventID(logging.WithAgentID(ctx, ev.AgentID), ev.ID)

	rec, ok := r.store.Get(ev.AgentID)
	if !ok {
		r.log.Debug().Ctx(ctx).Str("source", string(ev.Source)).Msg("event for unknown agent")
		return OutcomeIgnored
	}

	outcome, writes := r.decide(rec, ev)

	for _, w := range writes {
		r.enqueue(rec, w)
	}
	r.flush(ctx, rec)
	r.trim(ctx, rec)

	if outcome == OutcomeApplied || outcome == OutcomeBaseline {
		rec.LastSync = r.now()
	}
	r.store.Publish()

	l := r.log.With().
		Str("source", string(ev.Source)).
		Str("kind", string(ev.Kind)).
		Str("outcome", outcome.String()).
		Logger()

	switch outcome {
	case OutcomeApplied:
		l.Info().Ctx(ctx).
			Str("status", string(rec.Status)).
			Str("task", rec.Task).
			Msg("event applied")
		if r.evlog != nil {
			if err := r.evlog.Append(ev); err != nil {
				l.Error().Ctx(ctx).Err(err).Msg("failed to append event log")
			}
		}
	case OutcomeDeferred, OutcomeDiscarded:
		l.Debug().Ctx(ctx).Msg("event not applied")
	}

	return outcome
}

func (r *Reconciler) decide(rec *state.Record, ev event.Event) (Outcome, []state.Write) {
	if ev.Kind == event.KindBaseline {
		return r.applyBaseline(rec, ev), nil
	}

	switch ev.Source {
	case state.SourceIssues:
		switch ev.Kind {
		case event.KindTaskAssigned:
			return r.applyAssigned(rec, ev)
		case event.KindTaskUnassigned:
			return r.applyUnassigned(rec, ev)
		}
	case state.SourcePane:
		switch {
		case ev.Kind == event.KindStatusChanged:
			return r.applyPaneStatus(rec, ev)
		case ev.Kind == event.KindExternalUpdate && ev.Payload.Field == event.FieldTitle:
			return r.applyTitleDrift(rec, ev)
		case ev.Kind == event.KindExternalUpdate:
			return r.applyAdvisory(rec, ev)
		}
	case state.SourceBridge:
		if ev.Kind == event.KindExternalUpdate {
			return r.applyAdvisory(rec, ev)
		}
	}

	return OutcomeIgnored, nil
}

func (r *Reconciler) applyBaseline(rec *state.Record, ev event.Event) Outcome {
	if rec.Seen(ev.Source) {
		return OutcomeIgnored
	}
	rec.MarkSeen(ev.Source)

	p := ev.Payload
	switch ev.Source {
	case state.SourceIssues:
		if p.HasTask {
			rec.Task = p.NewTask
			r.touch(rec.ID, event.FieldTask, ev)
		}
	case state.SourcePane:
		if p.HasStatus {
			rec.Status = p.NewStatus
			r.touch(rec.ID, event.FieldStatus, ev)
		}
	case state.SourceBridge:
		// Advisory: only fill what no other source has provided.
		if p.HasStatus && rec.Status == state.StatusUnknown {
			rec.Status = p.NewStatus
			r.touch(rec.ID, event.FieldStatus, ev)
		}
		if p.HasTask && rec.Task == "" && !rec.Seen(state.SourceIssues) {
			rec.Task = p.NewTask
			r.touch(rec.ID, event.FieldTask, ev)
		}
	}
	return OutcomeBaseline
}

func (r *Reconciler) applyAssigned(rec *state.Record, ev event.Event) (Outcome, []state.Write) {
	p := ev.Payload
	if (!ev.Deferred && p.OldTask != rec.Task) || p.NewTask == rec.Task {
		return OutcomeDiscarded, nil
	}

	prevStatus := rec.Status
	rec.Task = p.NewTask
	rec.Status = state.StatusWorking
	rec.AssignedAt = r.now()
	if rec.ClosedTask == p.NewTask {
		rec.ClosedTask = ""
		rec.ClosedAt = time.Time{}
	}
	r.touch(rec.ID, event.FieldTask, ev)
	r.touch(rec.ID, event.FieldStatus, ev)

	writes := []state.Write{
		r.newWrite(state.Write{
			Target:         state.SourcePane,
			Op:             state.OpSend,
			TaskID:         rec.Task,
			Text:           terminal.Prompt(rec.Task, p.TaskTitle, p.TaskBody),
			FromAssignment: true,
		}),
	}
	writes = append(writes, r.statusWrites(rec, prevStatus)...)
	writes = append(writes, r.stateWrites(rec)...)
	return OutcomeApplied, writes
}

func (r *Reconciler) applyUnassigned(rec *state.Record, ev event.Event) (Outcome, []state.Write) {
	if rec.Task == "" || (!ev.Deferred && ev.Payload.OldTask != rec.Task) {
		return OutcomeDiscarded, nil
	}

	rec.Task = ""
	r.touch(rec.ID, event.FieldTask, ev)
	return OutcomeApplied, r.stateWrites(rec)
}

func (r *Reconciler) applyPaneStatus(rec *state.Record, ev event.Event) (Outcome, []state.Write) {
	if !ev.Deferred && r.assignmentInFlight(rec, ev) {
		r.queue.Requeue(ev.AsDeferred())
		return OutcomeDeferred, nil
	}

	p := ev.Payload
	if (!ev.Deferred && p.OldStatus != rec.Status) || p.NewStatus == rec.Status {
		return OutcomeDiscarded, nil
	}

	// A deferred reading taken before the assignment describes the previous
	// task. Completion of that task says nothing about the new one; any other
	// reading sets the status and the assignment keeps its task.
	if ev.Deferred && ev.ObservedAt.Before(rec.AssignedAt) {
		if p.NewStatus == state.StatusCompleted {
			return OutcomeDiscarded, nil
		}
		rec.Status = p.NewStatus
		r.touch(rec.ID, event.FieldStatus, ev)
		return OutcomeApplied, r.stateWrites(rec)
	}

	return OutcomeApplied, r.setStatus(rec, p.NewStatus, ev)
}

// assignmentInFlight reports whether a pane status reading may predate an
// assignment that is queued, not yet delivered, or only just applied.
func (r *Reconciler) assignmentInFlight(rec *state.Record, ev event.Event) bool {
	return r.queue.PendingAssignments(rec.ID) > 0 ||
		rec.HasPendingAssignment() ||
		ev.ObservedAt.Before(rec.AssignedAt)
}

func (r *Reconciler) applyTitleDrift(rec *state.Record, ev event.Event) (Outcome, []state.Write) {
	marker := terminal.Marker(rec.ID, rec.Status, rec.Task)
	if ev.Payload.Title == marker || rec.HasPendingOp(state.SourcePane, state.OpSetTitle) {
		return OutcomeDiscarded, nil
	}
	return OutcomeApplied, []state.Write{r.titleWrite(rec)}
}

func (r *Reconciler) applyAdvisory(rec *state.Record, ev event.Event) (Outcome, []state.Write) {
	p := ev.Payload

	if t, ok := r.touches[rec.ID][p.Field]; ok {
		prio, evPrio := t.source.Priority(), ev.Source.Priority()
		switch {
		case prio > evPrio && t.at.After(ev.ObservedAt.Add(-r.window)):
			return OutcomeDiscarded, nil
		case prio == evPrio && t.at.After(ev.ObservedAt):
			return OutcomeDiscarded, nil
		}
	}

	switch p.Field {
	case event.FieldStatus:
		if p.NewStatus == rec.Status {
			return OutcomeDiscarded, nil
		}
		return OutcomeApplied, r.setStatus(rec, p.NewStatus, ev)

	case event.FieldTask:
		if p.NewTask == "" || p.NewTask == rec.Task {
			return OutcomeDiscarded, nil
		}
		rec.Task = p.NewTask
		r.touch(rec.ID, event.FieldTask, ev)

		writes := []state.Write{r.newWrite(state.Write{
			Target: state.SourceIssues,
			Op:     state.OpAssign,
			TaskID: rec.Task,
		})}
		return OutcomeApplied, append(writes, r.stateWrites(rec)...)
	}

	return OutcomeIgnored, nil
}

// setStatus changes the status and returns the writes that follow from it.
func (r *Reconciler) setStatus(rec *state.Record, status state.Status, ev event.Event) []state.Write {
	prev := rec.Status
	rec.Status = status
	r.touch(rec.ID, event.FieldStatus, ev)

	writes := r.statusWrites(rec, prev)
	if status == state.StatusCompleted && rec.Task != "" {
		rec.ClosedTask = rec.Task
		rec.ClosedAt = r.now()
		rec.Task = ""
		r.touch(rec.ID, event.FieldTask, ev)
	}
	return append(writes, r.stateWrites(rec)...)
}

// statusWrites returns the tracker writes for a transition into the
// current status. It must be called before a completed task is cleared.
func (r *Reconciler) statusWrites(rec *state.Record, prev state.Status) []state.Write {
	if rec.Task == "" {
		return nil
	}

	now := r.now()
	switch rec.Status {
	case state.StatusWorking:
		if prev == state.StatusWorking && rec.HasPending(state.SourceIssues, state.OpComment, rec.Task) {
			return nil
		}
		return []state.Write{r.newWrite(state.Write{
			Target: state.SourceIssues,
			Op:     state.OpComment,
			TaskID: rec.Task,
			Text:   workingComment(rec.ID, rec.Task, now),
			Status: state.StatusWorking,
		})}
	case state.StatusCompleted:
		return []state.Write{
			r.newWrite(state.Write{
				Target: state.SourceIssues,
				Op:     state.OpComment,
				TaskID: rec.Task,
				Text:   completedComment(rec.ID, rec.Task, now),
				Status: state.StatusCompleted,
			}),
			r.newWrite(state.Write{
				Target: state.SourceIssues,
				Op:     state.OpClose,
				TaskID: rec.Task,
			}),
		}
	}
	return nil
}

// stateWrites pushes the canonical status and task to the pane title and
// the bridge.
func (r *Reconciler) stateWrites(rec *state.Record) []state.Write {
	return []state.Write{
		r.titleWrite(rec),
		r.newWrite(state.Write{
			Target: state.SourceBridge,
			Op:     state.OpPublish,
			TaskID: rec.Task,
			Status: rec.Status,
		}),
	}
}

func (r *Reconciler) titleWrite(rec *state.Record) state.Write {
	return r.newWrite(state.Write{
		Target: state.SourcePane,
		Op:     state.OpSetTitle,
		TaskID: rec.Task,
		Text:   terminal.Marker(rec.ID, rec.Status, rec.Task),
		Status: rec.Status,
	})
}

func (r *Reconciler) newWrite(w state.Write) state.Write {
	w.ID = uuid.NewString()
	w.CreatedAt = r.now()
	return w
}

func (r *Reconciler) touch(agentID, field string, ev event.Event) {
	m, ok := r.touches[agentID]
	if !ok {
		m = make(map[string]touch)
		r.touches[agentID] = m
	}
	m[field] = touch{source: ev.Source, at: ev.ObservedAt}
}

// enqueue adds w to the record's pending writes. Title and publish writes
// carry the whole state, so a newer one replaces any older one.
func (r *Reconciler) enqueue(rec *state.Record, w state.Write) {
	if _, ok := r.adapters[w.Target]; !ok {
		return
	}
	if w.Op == state.OpSetTitle || w.Op == state.OpPublish {
		rec.RemovePendingOp(w.Target, w.Op)
	}
	rec.AddPending(w)
}

// trim enforces the pending ceiling on writes that survived a flush, so
// every write is attempted at least once before it can be dropped.
func (r *Reconciler) trim(ctx context.Context, rec *state.Record) {
	for _, d := range rec.TrimPending(r.ceiling) {
		r.log.Error().Ctx(ctx).
			Str("write_id", d.ID).
			Str("target", string(d.Target)).
			Str("op", string(d.Op)).
			Str("task", d.TaskID).
			Int("attempts", d.Attempts).
			Msg("pending write limit exceeded, dropping oldest write")
	}
}

// flush attempts every pending write in order. A failed write stays queued
// for the next pass, and later writes to the same target wait with it.
func (r *Reconciler) flush(ctx context.Context, rec *state.Record) {
	if len(rec.Pending) == 0 {
		return
	}

	failed := map[state.Source]bool{}
	kept := rec.Pending[:0:0]

	for _, w := range rec.Pending {
		a, ok := r.adapters[w.Target]
		if !ok {
			continue
		}
		if failed[w.Target] {
			kept = append(kept, w)
			continue
		}

		err := r.write(ctx, a, rec.ID, w)
		if err == nil {
			continue
		}

		w.Attempts++
		failed[w.Target] = true
		kept = append(kept, w)
		r.log.Warn().Ctx(ctx).Err(err).
			Str("write_id", w.ID).
			Str("target", string(w.Target)).
			Str("op", string(w.Op)).
			Int("attempts", w.Attempts).
			Msg("corrective write failed, will retry")
	}

	rec.Pending = kept
}

func (r *Reconciler) write(ctx context.Context, a adapter.Adapter, agentID string, w state.Write) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	return a.Apply(wctx, agentID, w)
}
