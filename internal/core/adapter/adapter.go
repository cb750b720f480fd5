// Package adapter defines the uniform read/write boundary every external
// system of record is wrapped behind.
package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/colonyops/hivesync/internal/core/state"
)

var (
	// ErrUnavailable is returned by Poll when the external system could not
	// be reached or its output could not be read at all.
	ErrUnavailable = errors.New("adapter unavailable")

	// ErrWriteFailed is returned by Apply when a corrective write is rejected.
	ErrWriteFailed = errors.New("adapter write failed")

	// ErrMalformed marks a single unparsable record inside a poll response.
	ErrMalformed = errors.New("malformed external data")
)

// Adapter wraps one external system. Implementations do not interpret
// divergence; they only read and write.
type Adapter interface {
	Source() state.Source
	Poll(ctx context.Context) (ExternalView, error)
	Apply(ctx context.Context, agentID string, w state.Write) error
}

// Task is an issue-tracker task as seen by the tracker.
type Task struct {
	ID        string
	Title     string
	Body      string
	Assignees []string
	State     string
	UpdatedAt time.Time
}

// Observation is what one source currently reports for one agent. Fields
// a source cannot observe are left unset and their Has flag false.
type Observation struct {
	AgentID string

	Status    state.Status
	HasStatus bool

	Task    string
	HasTask bool

	// Title is the pane title, set by the pane source only.
	Title    string
	HasTitle bool

	// Candidates are the open tasks assigned to the agent, set by the
	// issue-tracker source only.
	Candidates []Task

	// Excerpt is a short tail of scraped text kept for the audit log.
	Excerpt string
}

// ExternalView is the result of one poll.
type ExternalView struct {
	Source     state.Source
	ObservedAt time.Time
	Agents     map[string]Observation

	// Dropped holds the records left out of Agents because they could not
	// be parsed. Each error wraps ErrMalformed.
	Dropped []error
}

// NewView creates an empty view for src stamped with the current time.
func NewView(src state.Source) ExternalView {
	return ExternalView{
		Source:     src,
		ObservedAt: time.Now(),
		Agents:     make(map[string]Observation),
	}
}
