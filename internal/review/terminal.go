package review

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aumai/policyminer/internal/mine"
)

// promptReviewer asks one question per policy over plain line IO. It is the
// path scripted runs and non-terminal streams take.
type promptReviewer struct {
	in          *bufio.Reader
	out         io.Writer
	color       bool
	accentColor string
}

func newPromptReviewer(in io.Reader, out io.Writer) *promptReviewer {
	return &promptReviewer{
		in:          bufio.NewReader(in),
		out:         out,
		color:       supportsColor(out),
		accentColor: "\033[38;5;45m",
	}
}

func (p *promptReviewer) review(ctx context.Context, set *mine.PolicySet) (*Result, error) {
	decisions := make([]Decision, len(set.Policies))
	for i, policy := range set.Policies {
		if err := p.renderPolicy(i+1, len(set.Policies), policy); err != nil {
			return nil, err
		}
		decision, quit, err := p.ask(ctx)
		if err != nil {
			return nil, err
		}
		if quit {
			break
		}
		decisions[i] = decision
	}
	return buildResult(set.Policies, decisions), nil
}

func (p *promptReviewer) ask(ctx context.Context) (Decision, bool, error) {
	question := fmt.Sprintf("%s %s %s ", p.promptArrow(), p.bold("Approve this policy?"), p.muted("[y/n/s/q]"))

	for {
		if _, err := fmt.Fprint(p.out, question); err != nil {
			return DecisionPending, false, err
		}
		line, err := p.readLine()
		if err != nil {
			return DecisionPending, false, err
		}
		if ctx.Err() != nil {
			return DecisionPending, false, ctx.Err()
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return DecisionApproved, false, nil
		case "n", "no":
			return DecisionRejected, false, nil
		case "", "s", "skip":
			return DecisionSkipped, false, nil
		case "q", "quit":
			return DecisionPending, true, nil
		default:
			if _, err := fmt.Fprintf(p.out, "%s Please respond with %s, %s, %s, or %s.\n", p.muted("•"), p.bold("y"), p.bold("n"), p.bold("s"), p.bold("q")); err != nil {
				return DecisionPending, false, err
			}
		}
	}
}

func (p *promptReviewer) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *promptReviewer) renderPolicy(num, total int, policy mine.MinedPolicy) error {
	if _, err := fmt.Fprintln(p.out); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(p.out, "%s %s\n", p.accent("╭"), p.bold(fmt.Sprintf("Policy %d of %d", num, total))); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(p.out, "│ %s %s\n", p.label("Rule"), p.accent(policy.Description)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(p.out, "│ %s %s\n", p.label("Stats"), metricsLine(policy)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(p.out, "%s\n\n", p.accent("╰──────────────────────────────────────")); err != nil {
		return err
	}
	return nil
}

func (p *promptReviewer) accent(text string) string {
	return p.wrap(p.accentColor, text)
}

func (p *promptReviewer) bold(text string) string {
	return p.wrap("\033[1m", text)
}

func (p *promptReviewer) muted(text string) string {
	return p.wrap("\033[2m", text)
}

func (p *promptReviewer) label(text string) string {
	return p.muted(text + ":")
}

func (p *promptReviewer) promptArrow() string {
	if p.color {
		return p.accent("›")
	}
	return ">"
}

func (p *promptReviewer) wrap(code, text string) string {
	if !p.color || code == "" {
		return text
	}
	return code + text + "\033[0m"
}
