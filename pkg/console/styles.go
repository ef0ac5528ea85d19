package console

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

var (
	colorUser      = lipgloss.Color("#61afaf")
	colorAssistant = lipgloss.Color("#eb8755")
	colorMuted     = lipgloss.Color("#83715f")
)

// Styles holds the text styles used by the console.
type Styles struct {
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	Notice         lipgloss.Style
	Failure        *color.Color
}

// DefaultStyles builds styles whose color profile matches w, so plain
// writers get plain text.
func DefaultStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)
	return Styles{
		UserLabel:      r.NewStyle().Bold(true).Foreground(colorUser),
		AssistantLabel: r.NewStyle().Bold(true).Foreground(colorAssistant),
		Notice:         r.NewStyle().Italic(true).Foreground(colorMuted),
		Failure:        color.New(color.FgRed),
	}
}
