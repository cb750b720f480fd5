// Package event defines the divergence events produced by change detectors
// and the ordered queue that carries them to the reconciler.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/hivesync/internal/core/state"
)

// Kind classifies a divergence.
type Kind string

const (
	KindStatusChanged  Kind = "status-changed"
	KindTaskAssigned   Kind = "task-assigned"
	KindTaskUnassigned Kind = "task-unassigned"
	KindExternalUpdate Kind = "external-update"

	// KindBaseline carries the first observation of an agent from a source.
	// It populates the record without side effects and is never logged.
	KindBaseline Kind = "baseline"
)

// Fields named by external-update payloads.
const (
	FieldStatus = "status"
	FieldTask   = "task"
	FieldTitle  = "title"
)

// Payload holds the source-specific fields of an event. Only the fields
// relevant to the event kind are set.
type Payload struct {
	Field     string       `json:"field,omitempty"`
	OldStatus state.Status `json:"old_status,omitempty"`
	NewStatus state.Status `json:"new_status,omitempty"`
	OldTask   string       `json:"old_task,omitempty"`
	NewTask   string       `json:"new_task,omitempty"`
	TaskTitle string       `json:"task_title,omitempty"`
	TaskBody  string       `json:"-"`
	Assignees []string     `json:"assignees,omitempty"`
	Title     string       `json:"title,omitempty"`
	Excerpt   string       `json:"excerpt,omitempty"`

	// HasStatus and HasTask tell baseline events which fields were observed.
	HasStatus bool `json:"-"`
	HasTask   bool `json:"-"`
}

// Event is an immutable description of one observed divergence.
type Event struct {
	ID         string       `json:"event_id"`
	Source     state.Source `json:"source"`
	Kind       Kind         `json:"kind"`
	AgentID    string       `json:"agent_id"`
	ObservedAt time.Time    `json:"observed_at"`
	Payload    Payload      `json:"payload"`

	// Deferred is set on the copy re-enqueued by the reconciler.
	Deferred bool `json:"deferred,omitempty"`
}

// New creates an event with a fresh id.
func New(src state.Source, kind Kind, agentID string, observedAt time.Time, p Payload) Event {
	return Event{
		ID:         uuid.NewString(),
		Source:     src,
		Kind:       kind,
		AgentID:    agentID,
		ObservedAt: observedAt,
		Payload:    p,
	}
}

// IsAssignment reports whether e is an issue-tracker assignment change.
func (e Event) IsAssignment() bool {
	return e.Source == state.SourceIssues &&
		(e.Kind == KindTaskAssigned || e.Kind == KindTaskUnassigned)
}

// AsDeferred returns a copy of e marked as deferred.
func (e Event) AsDeferred() Event {
	e.Deferred = true
	e.Payload.Assignees = append([]string(nil), e.Payload.Assignees...)
	return e
}
