package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/hivesync/internal/core/bridge"
	"github.com/colonyops/hivesync/internal/core/github"
	"github.com/colonyops/hivesync/internal/core/tmux"
	"github.com/colonyops/hivesync/pkg/executil"
)

func TestToolsCheck(t *testing.T) {
	orig := lookPathFunc
	t.Cleanup(func() { lookPathFunc = orig })

	lookPathFunc = func(file string) (string, error) {
		if file == "tmux" {
			return "", &exec.Error{Name: file, Err: fmt.Errorf("not found")}
		}
		return "/usr/bin/" + file, nil
	}

	result := NewToolsCheck("gh", "tmux").Run(context.Background())

	assert.Equal(t, "Tools", result.Name)
	require.Len(t, result.Items, 2)
	assert.Equal(t, StatusPass, result.Items[0].Status)
	assert.Equal(t, "/usr/bin/gh", result.Items[0].Detail)
	assert.Equal(t, StatusFail, result.Items[1].Status)
}

func TestTrackerCheck(t *testing.T) {
	t.Run("lists issues", func(t *testing.T) {
		exec := &executil.RecordingExecutor{
			Outputs: map[string][]byte{"gh": []byte(`[{"number":1,"title":"a","state":"OPEN","assignees":[]},{"number":0}]`)},
		}
		result := NewTrackerCheck(github.New(exec, "gh", ""), 5).Run(context.Background())

		require.Len(t, result.Items, 2)
		assert.Equal(t, StatusPass, result.Items[0].Status)
		assert.Equal(t, "1 open issues", result.Items[0].Detail)
		assert.Equal(t, StatusWarn, result.Items[1].Status)
	})

	t.Run("gh fails", func(t *testing.T) {
		exec := &executil.RecordingExecutor{Errors: map[string]error{"gh": errors.New("not logged in")}}
		result := NewTrackerCheck(github.New(exec, "gh", ""), 5).Run(context.Background())

		require.Len(t, result.Items, 1)
		assert.Equal(t, StatusFail, result.Items[0].Status)
		assert.Contains(t, result.Items[0].Detail, "not logged in")
	})
}

func TestPanesCheck(t *testing.T) {
	exec := &executil.RecordingExecutor{
		Handler: func(cmd string, args []string) ([]byte, error) {
			if slices.Contains(args, "multiagent:0.1") {
				return []byte("%1\n"), nil
			}
			return nil, errors.New("can't find pane")
		},
	}
	channels := map[string]string{"worker1": "multiagent:0.1", "worker2": "multiagent:0.2"}

	result := NewPanesCheck(tmux.New(exec, "tmux"), channels).Run(context.Background())

	require.Len(t, result.Items, 2)
	assert.Equal(t, "worker1", result.Items[0].Label)
	assert.Equal(t, StatusPass, result.Items[0].Status)
	assert.Equal(t, "worker2", result.Items[1].Label)
	assert.Equal(t, StatusWarn, result.Items[1].Status)
}

type fakeProber struct {
	connect bool
	status  bridge.StatusResult
	err     error
	ready   chan struct{}
}

func (f *fakeProber) Run(ctx context.Context) error {
	if f.connect {
		close(f.ready)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeProber) Ready() <-chan struct{} { return f.ready }

func (f *fakeProber) GetStatus(context.Context) (bridge.StatusResult, error) {
	return f.status, f.err
}

func TestBridgeCheck(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		result := NewBridgeCheck(nil, "", time.Second).Run(context.Background())
		require.Len(t, result.Items, 1)
		assert.Equal(t, StatusWarn, result.Items[0].Status)
	})

	t.Run("unreachable", func(t *testing.T) {
		p := &fakeProber{ready: make(chan struct{})}
		result := NewBridgeCheck(p, "ws://localhost:1", 20*time.Millisecond).Run(context.Background())
		require.Len(t, result.Items, 1)
		assert.Equal(t, StatusFail, result.Items[0].Status)
	})

	t.Run("healthy", func(t *testing.T) {
		p := &fakeProber{
			connect: true,
			ready:   make(chan struct{}),
			status:  bridge.StatusResult{Success: true, Workers: map[string]json.RawMessage{"worker1": nil}},
		}
		result := NewBridgeCheck(p, "ws://localhost:8765", time.Second).Run(context.Background())
		require.Len(t, result.Items, 2)
		assert.Equal(t, StatusPass, result.Items[1].Status)
		assert.Equal(t, "1 workers", result.Items[1].Detail)
	})
}

func TestSummary(t *testing.T) {
	results := []Result{
		{Items: []CheckItem{pass("a", ""), warn("b", "")}},
		{Items: []CheckItem{fail("c", ""), pass("d", "")}},
	}
	passed, warned, failed := Summary(results)
	assert.Equal(t, 2, passed)
	assert.Equal(t, 1, warned)
	assert.Equal(t, 1, failed)
}
