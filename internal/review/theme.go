package review

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

type reviewTheme struct {
	color        bool
	title        lipgloss.Style
	label        lipgloss.Style
	value        lipgloss.Style
	option       lipgloss.Style
	optionActive lipgloss.Style
	description  lipgloss.Style
	help         lipgloss.Style
	key          lipgloss.Style
	approved     lipgloss.Style
	rejected     lipgloss.Style

	prefixActive   string
	prefixInactive string
}

func newReviewTheme(color bool) reviewTheme {
	if !color {
		return reviewTheme{
			color:          false,
			title:          lipgloss.NewStyle().Bold(true),
			label:          lipgloss.NewStyle().Faint(true),
			value:          lipgloss.NewStyle(),
			option:         lipgloss.NewStyle().PaddingLeft(2),
			optionActive:   lipgloss.NewStyle().PaddingLeft(2).Bold(true),
			description:    lipgloss.NewStyle().Faint(true).PaddingLeft(6),
			help:           lipgloss.NewStyle().Faint(true),
			key:            lipgloss.NewStyle().Bold(true),
			approved:       lipgloss.NewStyle(),
			rejected:       lipgloss.NewStyle(),
			prefixActive:   ">",
			prefixInactive: " ",
		}
	}

	accent := lipgloss.Color("#58d4ff")
	muted := lipgloss.Color("#9fb3c8")
	green := lipgloss.Color("#9ece6a")
	red := lipgloss.Color("#f7768e")

	return reviewTheme{
		color:          true,
		title:          lipgloss.NewStyle().Foreground(accent).Bold(true),
		label:          lipgloss.NewStyle().Faint(true),
		value:          lipgloss.NewStyle().Foreground(accent).Bold(true),
		option:         lipgloss.NewStyle().PaddingLeft(2),
		optionActive:   lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("#0b1215")).Background(accent).Bold(true),
		description:    lipgloss.NewStyle().Foreground(muted).PaddingLeft(6),
		help:           lipgloss.NewStyle().Faint(true),
		key:            lipgloss.NewStyle().Foreground(accent).Bold(true),
		approved:       lipgloss.NewStyle().Foreground(green).Bold(true),
		rejected:       lipgloss.NewStyle().Foreground(red).Bold(true),
		prefixActive:   lipgloss.NewStyle().Foreground(accent).Render("❯"),
		prefixInactive: " ",
	}
}

func (t reviewTheme) keyCap(k string) string {
	return t.key.Render(k)
}

// marker renders the per-policy verdict glyph shown in the list.
func (t reviewTheme) marker(d Decision) string {
	if !t.color {
		switch d {
		case DecisionApproved:
			return "+"
		case DecisionRejected:
			return "x"
		case DecisionSkipped:
			return "-"
		default:
			return "."
		}
	}
	switch d {
	case DecisionApproved:
		return t.approved.Render("✓")
	case DecisionRejected:
		return t.rejected.Render("✗")
	case DecisionSkipped:
		return t.label.Render("−")
	default:
		return t.label.Render("·")
	}
}

func supportsColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	type fd interface {
		Fd() uintptr
	}
	f, ok := w.(fd)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
