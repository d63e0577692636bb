package review

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aumai/policyminer/internal/mine"
)

// maxVisiblePolicies bounds the list window so long sets stay readable in a
// small terminal.
const maxVisiblePolicies = 10

type reviewModel struct {
	theme     reviewTheme
	setName   string
	policies  []mine.MinedPolicy
	decisions []Decision

	cursor int
	offset int
	done   bool
}

func newReviewModel(set *mine.PolicySet, theme reviewTheme) *reviewModel {
	return &reviewModel{
		theme:     theme,
		setName:   set.Name,
		policies:  set.Policies,
		decisions: make([]Decision, len(set.Policies)),
	}
}

func (m *reviewModel) Init() tea.Cmd {
	return nil
}

func (m *reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := strings.ToLower(msg.String())
		switch key {
		case "ctrl+c", "esc", "q":
			m.done = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.setCursor(m.cursor - 1)
			}
		case "down", "j":
			if m.cursor < len(m.policies)-1 {
				m.setCursor(m.cursor + 1)
			}
		case "a", "y", "enter":
			return m.mark(DecisionApproved)
		case "r", "n":
			return m.mark(DecisionRejected)
		case "s":
			return m.mark(DecisionSkipped)
		}
	case tea.QuitMsg:
		m.done = true
		return m, nil
	}
	return m, nil
}

func (m *reviewModel) View() string {
	title := m.theme.title.Render(fmt.Sprintf("Policy Review: %s", m.setName))
	progress := m.progressLine()

	rows := []string{title, m.theme.help.Render(progress), ""}

	if m.offset > 0 {
		rows = append(rows, m.theme.help.Render(fmt.Sprintf("  … %d earlier", m.offset)))
	}

	end := m.offset + maxVisiblePolicies
	if end > len(m.policies) {
		end = len(m.policies)
	}
	for i := m.offset; i < end; i++ {
		marker := m.theme.marker(m.decisions[i])
		line := fmt.Sprintf("%s %s %s", marker, m.theme.label.Render(m.policies[i].PolicyID), m.policies[i].Description)
		if i == m.cursor {
			rows = append(rows, m.theme.optionActive.Render(m.theme.prefixActive+" "+line))
		} else {
			rows = append(rows, m.theme.option.Render(m.theme.prefixInactive+" "+line))
		}
		rows = append(rows, m.theme.description.Render(metricsLine(m.policies[i])))
	}

	if remaining := len(m.policies) - end; remaining > 0 {
		rows = append(rows, m.theme.help.Render(fmt.Sprintf("  … %d more", remaining)))
	}

	help := fmt.Sprintf("%s approve, %s reject, %s skip. Use ↑/↓ to move; %s finishes.",
		m.theme.keyCap("a"), m.theme.keyCap("r"), m.theme.keyCap("s"), m.theme.keyCap("q"))
	rows = append(rows, "", m.theme.help.Render(help))

	return "\n" + lipgloss.JoinVertical(lipgloss.Left, rows...) + "\n"
}

// mark records the verdict for the policy under the cursor and jumps to the
// next pending policy. When nothing is left pending the review ends.
func (m *reviewModel) mark(d Decision) (tea.Model, tea.Cmd) {
	if len(m.policies) == 0 {
		m.done = true
		return m, tea.Quit
	}
	m.decisions[m.cursor] = d
	if next, ok := m.nextPending(m.cursor); ok {
		m.setCursor(next)
		return m, nil
	}
	m.done = true
	return m, tea.Quit
}

func (m *reviewModel) nextPending(from int) (int, bool) {
	n := len(m.policies)
	for step := 1; step <= n; step++ {
		idx := (from + step) % n
		if m.decisions[idx] == DecisionPending {
			return idx, true
		}
	}
	return 0, false
}

func (m *reviewModel) setCursor(idx int) {
	m.cursor = idx
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+maxVisiblePolicies {
		m.offset = m.cursor - maxVisiblePolicies + 1
	}
}

func (m *reviewModel) progressLine() string {
	approved, rejected, skipped := 0, 0, 0
	for _, d := range m.decisions {
		switch d {
		case DecisionApproved:
			approved++
		case DecisionRejected:
			rejected++
		case DecisionSkipped:
			skipped++
		}
	}
	decided := approved + rejected + skipped
	return fmt.Sprintf("%d/%d reviewed (%d approved, %d rejected, %d skipped)",
		decided, len(m.policies), approved, rejected, skipped)
}

func (m *reviewModel) result() *Result {
	return buildResult(m.policies, m.decisions)
}
