package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextHook extracts agent_id and event_id from context and adds them to log events.
type ContextHook struct{}

// Run adds contextual fields to the zerolog event.
func (h ContextHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == context.Background() || ctx == nil {
		return
	}

	if agentID := GetAgentID(ctx); agentID != "" {
		e.Str("agent_id", agentID)
	}

	if eventID := GetEventID(ctx); eventID != "" {
		e.Str("event_id", eventID)
	}
}
