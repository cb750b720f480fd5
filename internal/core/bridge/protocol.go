package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	MethodGetStatus    = "ai_org/get_status"
	MethodUpdateWorker = "ai_org/update_worker"
)

// IssueRef is an issue identifier the bridge may send as a number, a
// string or null.
type IssueRef string

func (r *IssueRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*r = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = IssueRef(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("issue ref: %w", err)
		}
		i, err := n.Int64()
		if err != nil {
			return fmt.Errorf("issue ref: %w", err)
		}
		*r = IssueRef(strconv.FormatInt(i, 10))
	}
	return nil
}

// MarshalJSON writes numeric references as numbers, everything else as a
// string, and the empty reference as null.
func (r IssueRef) MarshalJSON() ([]byte, error) {
	if r == "" {
		return []byte("null"), nil
	}
	if n, err := strconv.ParseInt(string(r), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(r))
}

// Worker is the bridge's view of one agent.
type Worker struct {
	Status       string   `json:"status"`
	CurrentIssue IssueRef `json:"current_issue"`
}

// StatusResult is the result of MethodGetStatus. Workers that could not be
// decoded are kept raw so the caller can drop them individually.
type StatusResult struct {
	Success bool                       `json:"success"`
	Error   string                     `json:"error,omitempty"`
	Workers map[string]json.RawMessage `json:"workers"`
}

// ErrRejected is returned when the bridge answers with success=false.
var ErrRejected = errors.New("bridge rejected request")

// GetStatus queries the bridge for every worker it knows.
func (s *Session) GetStatus(ctx context.Context) (StatusResult, error) {
	var res StatusResult
	if err := s.Call(ctx, MethodGetStatus, nil, &res); err != nil {
		return StatusResult{}, err
	}
	if !res.Success {
		return StatusResult{}, fmt.Errorf("%s: %w: %s", MethodGetStatus, ErrRejected, res.Error)
	}
	return res, nil
}

// DecodeWorker decodes one raw worker entry from a StatusResult.
func DecodeWorker(raw json.RawMessage) (Worker, error) {
	var w Worker
	if err := json.Unmarshal(raw, &w); err != nil {
		return Worker{}, err
	}
	return w, nil
}

// UpdateWorker pushes the canonical status and task for a worker.
func (s *Session) UpdateWorker(ctx context.Context, id, status, task string) error {
	params := struct {
		WorkerID     string   `json:"worker_id"`
		Status       string   `json:"status"`
		CurrentIssue IssueRef `json:"current_issue"`
	}{id, status, IssueRef(task)}

	var res struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := s.Call(ctx, MethodUpdateWorker, params, &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s: %w: %s", MethodUpdateWorker, ErrRejected, res.Error)
	}
	return nil
}
