// Package terminal interprets scraped terminal pane text: it normalises
// dynamic content, classifies agent status by keyword, extracts task ids and
// renders the pane title markers written back by the reconciler.
package terminal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/colonyops/hivesync/internal/core/state"
)

// DefaultTaskPattern matches task references such as "Issue #42". The first
// capture group is the task id.
const DefaultTaskPattern = `(?i)issue #(\d+)`

// Keywords are the phrase sets used to classify pane content. Matching is
// case-insensitive on whole words.
type Keywords struct {
	Working   []string `yaml:"working"`
	Completed []string `yaml:"completed"`
	Error     []string `yaml:"error"`
	Idle      []string `yaml:"idle"`
}

// DefaultKeywords returns the built-in keyword sets.
func DefaultKeywords() Keywords {
	return Keywords{
		Working:   []string{"stewing", "brewing", "doing", "working", "processing", "thinking", "esc to interrupt", "ctrl+c to interrupt"},
		Completed: []string{"completed", "finished", "done", "success"},
		Error:     []string{"error", "failed", "problem"},
		Idle:      []string{"welcome to claude code", "cwd:", "waiting for input"},
	}
}

type category struct {
	status state.Status
	re     *regexp.Regexp
}

// Classifier maps pane text to a status and task id.
type Classifier struct {
	categories []category
	task       *regexp.Regexp
}

// NewClassifier compiles the keyword sets and task pattern.
func NewClassifier(kw Keywords, taskPattern string) (*Classifier, error) {
	if taskPattern == "" {
		taskPattern = DefaultTaskPattern
	}
	task, err := regexp.Compile(taskPattern)
	if err != nil {
		return nil, fmt.Errorf("task pattern: %w", err)
	}
	if task.NumSubexp() < 1 {
		return nil, fmt.Errorf("task pattern %q must have a capture group", taskPattern)
	}

	c := &Classifier{task: task}
	for _, set := range []struct {
		status state.Status
		words  []string
	}{
		{state.StatusWorking, kw.Working},
		{state.StatusCompleted, kw.Completed},
		{state.StatusError, kw.Error},
		{state.StatusIdle, kw.Idle},
	} {
		if re := keywordRegexp(set.words); re != nil {
			c.categories = append(c.categories, category{status: set.status, re: re})
		}
	}
	return c, nil
}

// keywordRegexp builds a single case-insensitive alternation that only
// matches whole words.
func keywordRegexp(words []string) *regexp.Regexp {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` + strings.Join(quoted, "|") + `)(?:[^\p{L}\p{N}_]|$)`)
}

// Status classifies content. Categories are checked in priority order
// working, completed, error, idle and the first match wins. Content without
// any keyword, including a cleared pane, is idle.
func (c *Classifier) Status(content string) state.Status {
	normalized := NormalizeContent(content)
	for _, cat := range c.categories {
		if cat.re.MatchString(normalized) {
			return cat.status
		}
	}
	return state.StatusIdle
}

// Task returns the id from the last task reference in content.
func (c *Classifier) Task(content string) (string, bool) {
	matches := c.task.FindAllStringSubmatch(StripANSI(content), -1)
	if len(matches) == 0 {
		return "", false
	}
	last := matches[len(matches)-1]
	return last[1], true
}

// spinnerRunes are characters stripped during content normalization.
var spinnerRunes = []rune{
	'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏', // braille
	'·', '✳', '✽', '✶', '✻', '✢', // asterisk spinners
}

var (
	// Progress bar patterns: [====>   ] 45%
	progressBarPattern = regexp.MustCompile(`\[=*>?\s*\]\s*\d+%`)

	// Multiple blank lines
	blankLinesPattern = regexp.MustCompile(`\n{3,}`)
)

// StripANSI removes terminal escape sequences.
func StripANSI(content string) string {
	return ansi.Strip(content)
}

// NormalizeContent removes escape codes, control characters, spinner glyphs
// and trailing whitespace so keyword matching sees plain text.
func NormalizeContent(content string) string {
	result := StripANSI(content)
	result = stripControlChars(result)

	for _, r := range spinnerRunes {
		result = strings.ReplaceAll(result, string(r), "")
	}

	result = progressBarPattern.ReplaceAllString(result, "[PROGRESS]")

	lines := strings.Split(result, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	result = strings.Join(lines, "\n")

	return blankLinesPattern.ReplaceAllString(result, "\n\n")
}

// stripControlChars removes ASCII control characters except tab, newline, CR.
func stripControlChars(content string) string {
	var result strings.Builder
	result.Grow(len(content))
	for _, r := range content {
		if (r >= 32 && r != 127) || r == '\t' || r == '\n' || r == '\r' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Excerpt returns the last n non-blank lines of normalised content.
func Excerpt(content string, n int) string {
	lines := strings.Split(NormalizeContent(content), "\n")
	out := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		out = append(out, lines[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return strings.Join(out, "\n")
}
