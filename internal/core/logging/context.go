package logging

import "context"

type contextKey string

const (
	agentIDKey contextKey = "agent_id"
	eventIDKey contextKey = "event_id"
)

// WithAgentID adds an agent ID to the context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// WithEventID adds an event ID to the context.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, eventIDKey, eventID)
}

// GetAgentID retrieves the agent ID from the context.
// Returns empty string if not present.
func GetAgentID(ctx context.Context) string {
	if id, ok := ctx.Value(agentIDKey).(string); ok {
		return id
	}
	return ""
}

// GetEventID retrieves the event ID from the context.
// Returns empty string if not present.
func GetEventID(ctx context.Context) string {
	if id, ok := ctx.Value(eventIDKey).(string); ok {
		return id
	}
	return ""
}
