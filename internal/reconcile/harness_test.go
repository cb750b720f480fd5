package reconcile

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/colonyops/hivesync/internal/core/adapter"
	"github.com/colonyops/hivesync/internal/core/event"
	"github.com/colonyops/hivesync/internal/core/state"
)

const agent = "worker1"

// fakeAdapter serves canned observations and applies writes to them the way
// the real system would eventually reflect them.
type fakeAdapter struct {
	mu       sync.Mutex
	src      state.Source
	agents   map[string]adapter.Observation
	pollErr  error
	applyErr error
	calls    int
	applied  []state.Write

	// lagging keeps closed tasks listed, like a tracker that has not caught up.
	lagging bool

	// hang makes Poll and Apply block until their context ends.
	hang bool
}

func newFakeAdapter(src state.Source) *fakeAdapter {
	return &fakeAdapter{src: src, agents: map[string]adapter.Observation{}}
}

func (f *fakeAdapter) Source() state.Source { return f.src }

func (f *fakeAdapter) Poll(ctx context.Context) (adapter.ExternalView, error) {
	if f.hang {
		<-ctx.Done()
		return adapter.ExternalView{}, fmt.Errorf("%w: %w", adapter.ErrUnavailable, ctx.Err())
	}
	if f.pollErr != nil {
		return adapter.ExternalView{}, f.pollErr
	}
	return f.view(time.Now()), nil
}

func (f *fakeAdapter) view(at time.Time) adapter.ExternalView {
	f.mu.Lock()
	defer f.mu.Unlock()

	ext := adapter.NewView(f.src)
	ext.ObservedAt = at
	for id, obs := range f.agents {
		obs.Candidates = slices.Clone(obs.Candidates)
		ext.Agents[id] = obs
	}
	return ext
}

func (f *fakeAdapter) Apply(ctx context.Context, agentID string, w state.Write) error {
	f.mu.Lock()
	f.calls++
	hang := f.hang
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return fmt.Errorf("%w: %w", adapter.ErrWriteFailed, ctx.Err())
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, w)

	obs := f.agents[agentID]
	switch w.Op {
	case state.OpSetTitle:
		obs.Title, obs.HasTitle = w.Text, true
	case state.OpSend:
		obs.Status, obs.HasStatus = state.StatusWorking, true
	case state.OpPublish:
		obs.Status, obs.HasStatus = w.Status, true
		obs.Task, obs.HasTask = w.TaskID, true
	case state.OpClose:
		if !f.lagging {
			obs.Candidates = slices.DeleteFunc(obs.Candidates, func(t adapter.Task) bool { return t.ID == w.TaskID })
		}
	case state.OpAssign:
		obs.Candidates = append(obs.Candidates, adapter.Task{ID: w.TaskID, UpdatedAt: w.CreatedAt})
	}
	f.agents[agentID] = obs
	return nil
}

func (f *fakeAdapter) set(agentID string, fn func(o *adapter.Observation)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obs := f.agents[agentID]
	obs.AgentID = agentID
	fn(&obs)
	f.agents[agentID] = obs
}

func (f *fakeAdapter) ops() []state.Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]state.Op, 0, len(f.applied))
	for _, w := range f.applied {
		out = append(out, w.Op)
	}
	return out
}

func (f *fakeAdapter) writes() []state.Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.applied)
}

type memLog struct {
	events []event.Event
}

func (m *memLog) Append(ev event.Event) error {
	m.events = append(m.events, ev)
	return nil
}

// harness drives the detector and reconciler synchronously against fake
// adapters with a controlled clock.
type harness struct {
	t      *testing.T
	now    time.Time
	store  *state.Store
	queue  *event.Queue
	rec    *Reconciler
	issues *fakeAdapter
	pane   *fakeAdapter
	bridge *fakeAdapter
	log    *memLog
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()

	h := &harness{
		t:      t,
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		store:  state.NewStore(state.NewRecord(agent, "multiagent:0.1")),
		queue:  event.NewQueue(64),
		issues: newFakeAdapter(state.SourceIssues),
		pane:   newFakeAdapter(state.SourcePane),
		bridge: newFakeAdapter(state.SourceBridge),
		log:    &memLog{},
	}

	o := Options{
		Store:          h.store,
		Queue:          h.queue,
		Adapters:       []adapter.Adapter{h.issues, h.pane, h.bridge},
		EventLog:       h.log,
		PendingCeiling: 8,
		Timeout:        time.Second,
		AdvisoryWindow: 30 * time.Second,
		Now:            func() time.Time { return h.now },
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.rec = New(o)

	h.issues.set(agent, func(o *adapter.Observation) {})
	h.pane.set(agent, func(o *adapter.Observation) {
		o.Status, o.HasStatus = state.StatusIdle, true
	})
	h.bridge.set(agent, func(o *adapter.Observation) {
		o.Status, o.HasStatus = state.StatusIdle, true
		o.HasTask = true
	})
	return h
}

func (h *harness) fake(src state.Source) *fakeAdapter {
	switch src {
	case state.SourceIssues:
		return h.issues
	case state.SourcePane:
		return h.pane
	default:
		return h.bridge
	}
}

// round polls the given sources at the same instant, in order, and then
// reconciles everything queued one second later.
func (h *harness) round(srcs ...state.Source) []Outcome {
	h.t.Helper()

	at := h.now
	for _, src := range srcs {
		for _, ev := range Detect(h.store.View(), h.fake(src).view(at)) {
			require.NoError(h.t, h.queue.Push(context.Background(), ev))
		}
	}
	h.now = h.now.Add(time.Second)
	return h.drain()
}

func (h *harness) all() []Outcome {
	return h.round(state.SourceIssues, state.SourcePane, state.SourceBridge)
}

func (h *harness) drain() []Outcome {
	h.t.Helper()

	var out []Outcome
	for h.queue.Len() > 0 {
		ev, err := h.queue.Pop(context.Background())
		require.NoError(h.t, err)
		out = append(out, h.rec.Apply(context.Background(), ev))
	}
	return out
}

func (h *harness) apply(ev event.Event) Outcome {
	out := h.rec.Apply(context.Background(), ev)
	h.drain()
	return out
}

// baseline runs the startup round and requires it to be side-effect free.
func (h *harness) baseline() {
	h.t.Helper()
	for _, o := range h.all() {
		require.Equal(h.t, OutcomeBaseline, o)
	}
	require.Empty(h.t, h.writeCount())
}

func (h *harness) record() state.Record {
	rec, ok := h.store.View().Get(agent)
	require.True(h.t, ok)
	return rec
}

func (h *harness) writeCount() int {
	return len(h.issues.writes()) + len(h.pane.writes()) + len(h.bridge.writes())
}

func (h *harness) assign(id, title string) {
	h.issues.set(agent, func(o *adapter.Observation) {
		o.Candidates = append(o.Candidates, adapter.Task{
			ID:        id,
			Title:     title,
			Assignees: []string{"ai-worker1"},
			State:     "OPEN",
			UpdatedAt: h.now,
		})
	})
}

func countOutcomes(outs []Outcome) map[Outcome]int {
	m := map[Outcome]int{}
	for _, o := range outs {
		m[o]++
	}
	return m
}
