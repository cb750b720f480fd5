package reconcile

import (
	"fmt"
	"strings"
	"time"
)

func workingComment(agentID, task string, at time.Time) string {
	return fmt.Sprintf(`📊 **Progress update**

%s is working on issue #%s.

- Reported at: %s
- Posted automatically by hivesync`, strings.ToUpper(agentID), task, at.Format(time.DateTime))
}

func completedComment(agentID, task string, at time.Time) string {
	return fmt.Sprintf(`✅ **Completion report**

%s finished issue #%s.

- Completed at: %s
- Posted automatically by hivesync

Closing this issue.`, strings.ToUpper(agentID), task, at.Format(time.DateTime))
}
