// Package styles provides the shared lipgloss styles for CLI output.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/colonyops/hivesync/internal/core/state"
)

// Palette defines a minimal semantic palette.
type Palette struct {
	Primary    lipgloss.Color
	Foreground lipgloss.Color
	Muted      lipgloss.Color
	Success    lipgloss.Color
	Warning    lipgloss.Color
	Error      lipgloss.Color
}

// TokyoNight is the default palette.
var TokyoNight = Palette{
	Primary:    lipgloss.Color("#7aa2f7"),
	Foreground: lipgloss.Color("#c0caf5"),
	Muted:      lipgloss.Color("#565f89"),
	Success:    lipgloss.Color("#9ece6a"),
	Warning:    lipgloss.Color("#e0af68"),
	Error:      lipgloss.Color("#f7768e"),
}

var (
	HeaderStyle  lipgloss.Style
	MutedStyle   lipgloss.Style
	SuccessStyle lipgloss.Style
	WarningStyle lipgloss.Style
	ErrorStyle   lipgloss.Style

	statusStyles map[state.Status]lipgloss.Style
)

func init() {
	SetPalette(TokyoNight)
}

// SetPalette rebuilds all styles from p.
func SetPalette(p Palette) {
	HeaderStyle = lipgloss.NewStyle().Foreground(p.Primary).Bold(true)
	MutedStyle = lipgloss.NewStyle().Foreground(p.Muted)
	SuccessStyle = lipgloss.NewStyle().Foreground(p.Success)
	WarningStyle = lipgloss.NewStyle().Foreground(p.Warning)
	ErrorStyle = lipgloss.NewStyle().Foreground(p.Error).Bold(true)

	statusStyles = map[state.Status]lipgloss.Style{
		state.StatusWorking:   lipgloss.NewStyle().Foreground(p.Warning),
		state.StatusCompleted: SuccessStyle,
		state.StatusError:     ErrorStyle,
		state.StatusIdle:      lipgloss.NewStyle().Foreground(p.Foreground),
		state.StatusUnknown:   MutedStyle,
	}
}

// Status renders s in its status colour.
func Status(s state.Status) string {
	st, ok := statusStyles[s]
	if !ok {
		st = MutedStyle
	}
	return st.Render(string(s))
}
