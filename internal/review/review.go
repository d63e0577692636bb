// Package review walks a human through a mined policy set, one verdict per
// policy. Attached to a real terminal it runs a bubbletea list; otherwise it
// falls back to plain line prompts, which also covers piped input.
package review

import (
	"context"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/aumai/policyminer/internal/mine"
)

// Decision is the reviewer's verdict for a single policy.
type Decision int

const (
	DecisionPending Decision = iota
	DecisionApproved
	DecisionRejected
	DecisionSkipped
)

// Result summarizes one review pass. Policies left pending when the reviewer
// quits early are counted as skipped.
type Result struct {
	Approved []mine.MinedPolicy
	Rejected int
	Skipped  int
}

// Session binds a reviewer to an input/output pair. Nil streams default to
// the process terminal.
type Session struct {
	in  io.Reader
	out io.Writer
}

func NewSession(in io.Reader, out io.Writer) *Session {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Session{in: in, out: out}
}

// Review collects a verdict for every policy in the set. Empty sets return
// an empty result without prompting.
func (s *Session) Review(ctx context.Context, set *mine.PolicySet) (*Result, error) {
	if set == nil || len(set.Policies) == 0 {
		return &Result{}, nil
	}

	if useUI(s.in, s.out) {
		res, err := s.reviewWithUI(ctx, set)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// TUI could not start or finish; the line prompter still works.
	}

	return newPromptReviewer(s.in, s.out).review(ctx, set)
}

func (s *Session) reviewWithUI(ctx context.Context, set *mine.PolicySet) (*Result, error) {
	theme := newReviewTheme(supportsColor(s.out))
	model := newReviewModel(set, theme)
	prog := tea.NewProgram(model, tea.WithInput(s.in), tea.WithOutput(s.out), tea.WithContext(ctx))

	final, err := prog.Run()
	if err != nil {
		return nil, err
	}
	m, ok := final.(*reviewModel)
	if !ok {
		return nil, fmt.Errorf("unexpected review model type %T", final)
	}
	return m.result(), nil
}

// ApprovedSet builds a new policy set holding only the approved policies,
// keeping the source set's run metadata.
func ApprovedSet(set *mine.PolicySet, res *Result) *mine.PolicySet {
	out := &mine.PolicySet{
		Name:        set.Name,
		SourceLogs:  set.SourceLogs,
		Policies:    make([]mine.MinedPolicy, len(res.Approved)),
		GeneratedAt: set.GeneratedAt,
	}
	copy(out.Policies, res.Approved)
	return out
}

func buildResult(policies []mine.MinedPolicy, decisions []Decision) *Result {
	res := &Result{}
	for i, d := range decisions {
		switch d {
		case DecisionApproved:
			res.Approved = append(res.Approved, policies[i])
		case DecisionRejected:
			res.Rejected++
		default:
			res.Skipped++
		}
	}
	return res
}

func metricsLine(p mine.MinedPolicy) string {
	return fmt.Sprintf("support %.2f, confidence %.2f, lift %.2f", p.Support, p.Confidence, p.Lift)
}

// useUI reports whether both streams are real terminals that bubbletea can
// drive. Piped input or captured output drops to the line prompter.
func useUI(in io.Reader, out io.Writer) bool {
	type fd interface {
		Fd() uintptr
	}
	fin, okIn := in.(fd)
	fout, okOut := out.(fd)
	if !okIn || !okOut {
		return false
	}
	return term.IsTerminal(int(fin.Fd())) && term.IsTerminal(int(fout.Fd()))
}
