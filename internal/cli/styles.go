package cli

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/crev/internal/model"
)

// Color palette.
var (
	colorRed    = lipgloss.Color("#ff5555")
	colorGreen  = lipgloss.Color("#50fa7b")
	colorYellow = lipgloss.Color("#f1fa8c")
	colorBlue   = lipgloss.Color("#8be9fd")
	colorPurple = lipgloss.Color("#bd93f9")
	colorDim    = lipgloss.Color("#6272a4")
	colorFg     = lipgloss.Color("#f8f8f2")
	colorOrange = lipgloss.Color("#ffb86c")
	colorBorder = lipgloss.Color("#44475a")
)

// styles are bound to the renderer of the writer they print to, so reports
// written to a pipe or a buffer come out without escape codes.
type styles struct {
	r *lipgloss.Renderer

	banner   lipgloss.Style
	file     lipgloss.Style
	rule     lipgloss.Style
	dim      lipgloss.Style
	text     lipgloss.Style
	good     lipgloss.Style
	warn     lipgloss.Style
	excerpt  lipgloss.Style
	severity map[model.Severity]lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		r: r,
		banner: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1),
		file: r.NewStyle().
			Foreground(colorBlue).
			Bold(true),
		rule:    r.NewStyle().Foreground(colorPurple),
		dim:     r.NewStyle().Foreground(colorDim),
		text:    r.NewStyle().Foreground(colorFg),
		good:    r.NewStyle().Foreground(colorGreen).Bold(true),
		warn:    r.NewStyle().Foreground(colorYellow),
		excerpt: r.NewStyle().PaddingLeft(6),
		severity: map[model.Severity]lipgloss.Style{
			model.SeverityCritical: r.NewStyle().Foreground(colorRed).Bold(true),
			model.SeverityHigh:     r.NewStyle().Foreground(colorOrange).Bold(true),
			model.SeverityMedium:   r.NewStyle().Foreground(colorYellow),
			model.SeverityLow:      r.NewStyle().Foreground(colorBlue),
		},
	}
}

func (s styles) sev(v model.Severity) lipgloss.Style {
	if st, ok := s.severity[v]; ok {
		return st
	}
	return s.dim
}

// scoreStyle colours a score by band.
func (s styles) score(v float64) lipgloss.Style {
	switch {
	case v >= 80:
		return s.good
	case v >= 60:
		return s.warn
	default:
		return s.severity[model.SeverityCritical]
	}
}
