// Package state holds the canonical per-agent view that the reconciler
// maintains against the external systems of record.
package state

import (
	"slices"
	"time"
)

// Status is the lifecycle state of an agent.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusUnknown   Status = "unknown"
)

// ParseStatus converts a raw status string. Unrecognised values map to
// StatusUnknown and ok is false.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusIdle, StatusWorking, StatusCompleted, StatusError, StatusUnknown:
		return st, true
	default:
		return StatusUnknown, false
	}
}

// Source identifies one of the external systems of record.
type Source string

const (
	SourceIssues Source = "issue-tracker"
	SourcePane   Source = "pane"
	SourceBridge Source = "bridge"
)

// Sources lists every source in priority order, most authoritative first.
var Sources = []Source{SourceIssues, SourcePane, SourceBridge}

// Priority ranks a source; higher values are more authoritative.
func (s Source) Priority() int {
	switch s {
	case SourceIssues:
		return 3
	case SourcePane:
		return 2
	case SourceBridge:
		return 1
	default:
		return 0
	}
}

// Op is the kind of corrective write.
type Op string

const (
	OpComment  Op = "comment"
	OpClose    Op = "close"
	OpAssign   Op = "assign"
	OpSetTitle Op = "set-title"
	OpSend     Op = "send"
	OpPublish  Op = "publish"
)

// Write is a corrective write the reconciler pushes to a stale system.
type Write struct {
	ID        string    `json:"id"`
	Target    Source    `json:"target"`
	Op        Op        `json:"op"`
	TaskID    string    `json:"task_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`

	// FromAssignment marks writes issued because of an issue-tracker
	// assignment. While one is pending, pane status readings are deferred.
	FromAssignment bool `json:"from_assignment,omitempty"`
}

// Record is the canonical state of one managed agent.
type Record struct {
	ID       string
	Channel  string
	Task     string
	Status   Status
	LastSync time.Time
	Pending  []Write

	// AssignedAt is when the last issue-tracker assignment was applied.
	AssignedAt time.Time
	// ClosedTask and ClosedAt remember the last task this process closed, so
	// a lagging tracker listing does not resurrect it.
	ClosedTask string
	ClosedAt   time.Time

	seen map[Source]bool
}

// NewRecord returns a record in its initial, not yet baselined state.
func NewRecord(id, channel string) *Record {
	return &Record{
		ID:      id,
		Channel: channel,
		Status:  StatusUnknown,
		seen:    map[Source]bool{},
	}
}

// Seen reports whether src has established a baseline for this record.
func (r *Record) Seen(src Source) bool {
	return r.seen[src]
}

// MarkSeen records that src has established a baseline.
func (r *Record) MarkSeen(src ...Source) {
	if r.seen == nil {
		r.seen = map[Source]bool{}
	}
	for _, s := range src {
		r.seen[s] = true
	}
}

// HasPendingAssignment reports whether a write caused by an assignment has
// not been confirmed yet.
func (r *Record) HasPendingAssignment() bool {
	return slices.ContainsFunc(r.Pending, func(w Write) bool { return w.FromAssignment })
}

// HasPending reports whether a write matching target, op and task is pending.
func (r *Record) HasPending(target Source, op Op, task string) bool {
	return slices.ContainsFunc(r.Pending, func(w Write) bool {
		return w.Target == target && w.Op == op && w.TaskID == task
	})
}

// HasPendingOp reports whether any write with target and op is pending.
func (r *Record) HasPendingOp(target Source, op Op) bool {
	return slices.ContainsFunc(r.Pending, func(w Write) bool {
		return w.Target == target && w.Op == op
	})
}

// RemovePendingOp drops every pending write with target and op.
func (r *Record) RemovePendingOp(target Source, op Op) {
	r.Pending = slices.DeleteFunc(r.Pending, func(w Write) bool {
		return w.Target == target && w.Op == op
	})
}

// AddPending appends w to the pending writes.
func (r *Record) AddPending(w Write) {
	r.Pending = append(r.Pending, w)
}

// TrimPending drops the oldest pending writes while more than ceiling remain.
// Dropped writes are returned so the caller can report them.
func (r *Record) TrimPending(ceiling int) []Write {
	if ceiling <= 0 || len(r.Pending) <= ceiling {
		return nil
	}
	over := len(r.Pending) - ceiling
	dropped := slices.Clone(r.Pending[:over])
	r.Pending = slices.Clone(r.Pending[over:])
	return dropped
}

// Clone returns a deep copy.
func (r *Record) Clone() Record {
	c := *r
	c.Pending = slices.Clone(r.Pending)
	c.seen = make(map[Source]bool, len(r.seen))
	for k, v := range r.seen {
		c.seen[k] = v
	}
	return c
}
