package bridgeadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/hivesync/internal/core/adapter"
	"github.com/colonyops/hivesync/internal/core/bridge"
	"github.com/colonyops/hivesync/internal/core/state"
)

type update struct {
	id, status, task string
}

type fakeClient struct {
	connected bool
	result    bridge.StatusResult
	err       error
	updates   []update
	updateErr error
}

func (f *fakeClient) Connected() bool { return f.connected }

func (f *fakeClient) GetStatus(context.Context) (bridge.StatusResult, error) {
	return f.result, f.err
}

func (f *fakeClient) UpdateWorker(_ context.Context, id, status, task string) error {
	f.updates = append(f.updates, update{id, status, task})
	return f.updateErr
}

func TestAdapter_Poll(t *testing.T) {
	fc := &fakeClient{
		connected: true,
		result: bridge.StatusResult{
			Success: true,
			Workers: map[string]json.RawMessage{
				"worker1": json.RawMessage(`{"status": "working", "current_issue": 42}`),
				"worker2": json.RawMessage(`{"status": "idle", "current_issue": null}`),
				"worker3": json.RawMessage(`{"status": "sleeping"}`),
				"boss":    json.RawMessage(`[]`),
				"other":   json.RawMessage(`{"status": "idle"}`),
			},
		},
	}
	a := New(fc, []string{"boss", "worker1", "worker2", "worker3"})

	view, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.SourceBridge, view.Source)
	require.Len(t, view.Agents, 2)

	assert.Equal(t, adapter.Observation{
		AgentID: "worker1", Status: state.StatusWorking, HasStatus: true, Task: "42", HasTask: true,
	}, view.Agents["worker1"])
	assert.Equal(t, adapter.Observation{
		AgentID: "worker2", Status: state.StatusIdle, HasStatus: true, HasTask: true,
	}, view.Agents["worker2"])

	require.Len(t, view.Dropped, 2, "unknown status and undecodable worker")
	for _, e := range view.Dropped {
		assert.ErrorIs(t, e, adapter.ErrMalformed)
	}
}

func TestAdapter_PollUnavailable(t *testing.T) {
	t.Run("disconnected", func(t *testing.T) {
		a := New(&fakeClient{}, []string{"worker1"})
		_, err := a.Poll(context.Background())
		assert.ErrorIs(t, err, adapter.ErrUnavailable)
		assert.ErrorIs(t, err, bridge.ErrDisconnected)
	})

	t.Run("call failure", func(t *testing.T) {
		a := New(&fakeClient{connected: true, err: fmt.Errorf("boom")}, []string{"worker1"})
		_, err := a.Poll(context.Background())
		assert.ErrorIs(t, err, adapter.ErrUnavailable)
	})
}

func TestAdapter_Apply(t *testing.T) {
	fc := &fakeClient{connected: true}
	a := New(fc, []string{"worker1"})

	err := a.Apply(context.Background(), "worker1", state.Write{Op: state.OpPublish, Status: state.StatusWorking, TaskID: "42"})
	require.NoError(t, err)
	assert.Equal(t, []update{{"worker1", "working", "42"}}, fc.updates)

	err = a.Apply(context.Background(), "worker1", state.Write{Op: state.OpClose})
	assert.ErrorIs(t, err, adapter.ErrWriteFailed)

	fc.updateErr = bridge.ErrDisconnected
	err = a.Apply(context.Background(), "worker1", state.Write{Op: state.OpPublish, Status: state.StatusIdle})
	assert.ErrorIs(t, err, adapter.ErrWriteFailed)
	assert.ErrorIs(t, err, bridge.ErrDisconnected)
}
