package terminal

import (
	"strings"

	"github.com/colonyops/hivesync/internal/core/state"
)

var statusIcons = map[state.Status]string{
	state.StatusWorking:   "🔥",
	state.StatusCompleted: "🟢",
	state.StatusError:     "🔴",
	state.StatusIdle:      "🟡",
	state.StatusUnknown:   "⚪",
}

// Marker renders the pane title for an agent's canonical state, e.g.
// "🔥 working │ worker1 │ Issue #42".
func Marker(agentID string, status state.Status, task string) string {
	icon, ok := statusIcons[status]
	if !ok {
		icon = statusIcons[state.StatusUnknown]
	}
	parts := []string{icon + " " + string(status), agentID}
	if task != "" {
		parts = append(parts, "Issue #"+task)
	}
	return strings.Join(parts, " │ ")
}

// Prompt renders the text sent into an agent's pane when a task is assigned:
// the task reference and title, then the description after a blank line.
func Prompt(task, title, body string) string {
	head := "Issue #" + task
	if title != "" {
		head += ": " + title
	}
	body = strings.TrimSpace(strings.ReplaceAll(body, "\r\n", "\n"))
	if body == "" {
		return head
	}
	return head + "\n\n" + body
}
