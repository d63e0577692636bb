package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/aumai/policyminer/internal/render"
	"github.com/aumai/policyminer/internal/review"
)

func runReview(cmdName string, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet(cmdName+" review", flag.ContinueOnError)
	policies := fs.String("policies", "", "Path to a JSON policies file")
	output := fs.String("output", "", "Write the approved subset to this path")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(fs.Args()) > 0 {
		return fmt.Errorf("unexpected extra arguments: %v", fs.Args())
	}
	if strings.TrimSpace(*policies) == "" {
		return fmt.Errorf("--policies is required")
	}

	set, err := render.ReadJSONFile(*policies)
	if err != nil {
		return fmt.Errorf("load policy set: %w", err)
	}

	sess := review.NewSession(stdin, stdout)
	res, err := sess.Review(context.Background(), set)
	if err != nil {
		return fmt.Errorf("review: %w", err)
	}

	fmt.Fprintf(stdout, "Review complete: %d approved, %d rejected, %d skipped.\n",
		len(res.Approved), res.Rejected, res.Skipped)

	approved := review.ApprovedSet(set, res)
	if path := strings.TrimSpace(*output); path != "" {
		if err := render.WriteJSONFile(approved, path); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Saved approved policy set to %s\n", path)
		return nil
	}

	if len(res.Approved) > 0 {
		fmt.Fprintln(stdout, render.Text(approved, render.DefaultMaxPolicies))
	}
	return nil
}
