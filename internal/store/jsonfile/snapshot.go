// Package jsonfile persists daemon state as plain files: a periodically
// rewritten JSON snapshot of the state store and an append-only NDJSON
// event log.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/colonyops/hivesync/internal/core/state"
)

// SnapshotVersion is the on-disk snapshot format version.
const SnapshotVersion = 1

// ErrSnapshotCorrupt is returned when the snapshot exists but cannot be read.
var ErrSnapshotCorrupt = errors.New("snapshot corrupt")

// AgentSnapshot is the persisted form of one agent record.
type AgentSnapshot struct {
	ChannelHandle  string        `json:"channel_handle"`
	AssignedTask   *string       `json:"assigned_task"`
	Status         state.Status  `json:"status"`
	LastSync       time.Time     `json:"last_sync"`
	PendingUpdates []state.Write `json:"pending_updates"`
	AssignedAt     time.Time     `json:"assigned_at,omitzero"`
	ClosedTask     string        `json:"closed_task,omitempty"`
	ClosedAt       time.Time     `json:"closed_at,omitzero"`
}

// Snapshot is the root JSON structure stored on disk.
type Snapshot struct {
	Version   int                      `json:"version"`
	Timestamp time.Time                `json:"timestamp"`
	Agents    map[string]AgentSnapshot `json:"agents"`
}

// NewSnapshot converts a published store view.
func NewSnapshot(view *state.View) Snapshot {
	snap := Snapshot{
		Version:   SnapshotVersion,
		Timestamp: time.Now().UTC(),
		Agents:    make(map[string]AgentSnapshot, view.Len()),
	}
	for _, id := range view.IDs() {
		rec, _ := view.Get(id)

		as := AgentSnapshot{
			ChannelHandle:  rec.Channel,
			Status:         rec.Status,
			LastSync:       rec.LastSync,
			PendingUpdates: rec.Pending,
			AssignedAt:     rec.AssignedAt,
			ClosedTask:     rec.ClosedTask,
			ClosedAt:       rec.ClosedAt,
		}
		if as.PendingUpdates == nil {
			as.PendingUpdates = []state.Write{}
		}
		if rec.Task != "" {
			task := rec.Task
			as.AssignedTask = &task
		}
		snap.Agents[id] = as
	}
	return snap
}

// Restore overlays persisted values onto records. Agents missing from
// records are ignored and the record's channel handle is kept. Restored
// records count as baselined for every source.
func (s Snapshot) Restore(records []*state.Record) {
	for _, rec := range records {
		as, ok := s.Agents[rec.ID]
		if !ok {
			continue
		}
		if as.AssignedTask != nil {
			rec.Task = *as.AssignedTask
		}
		if st, ok := state.ParseStatus(string(as.Status)); ok {
			rec.Status = st
		}
		rec.LastSync = as.LastSync
		rec.Pending = append([]state.Write(nil), as.PendingUpdates...)
		rec.AssignedAt = as.AssignedAt
		rec.ClosedTask = as.ClosedTask
		rec.ClosedAt = as.ClosedAt
		rec.MarkSeen(state.Sources...)
	}
}

// SnapshotStore reads and writes the snapshot file.
type SnapshotStore struct {
	path string
	mu   sync.Mutex
}

// NewSnapshotStore creates a store for the snapshot at path.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Path returns the snapshot file path.
func (s *SnapshotStore) Path() string {
	return s.path
}

// Load reads the snapshot. It returns nil without error when no snapshot
// exists, and an error wrapping ErrSnapshotCorrupt when it cannot be decoded.
func (s *SnapshotStore) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSnapshotCorrupt, snap.Version)
	}
	if snap.Agents == nil {
		snap.Agents = map[string]AgentSnapshot{}
	}

	return &snap, nil
}

// Save writes the snapshot to disk atomically.
func (s *SnapshotStore) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, s.path)
}

// Quarantine moves an unreadable snapshot aside so the next save starts a
// fresh file. It returns the backup path.
func (s *SnapshotStore) Quarantine() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := fmt.Sprintf("%s.corrupt.%s", s.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(s.path, backup); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to back up corrupt snapshot: %w", err)
	}
	return backup, nil
}
