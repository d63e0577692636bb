package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aumai/policyminer/internal/configstore"
	"github.com/aumai/policyminer/internal/mine"
	"github.com/aumai/policyminer/internal/render"
)

func runFormat(cmdName string, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet(cmdName+" format", flag.ContinueOnError)
	policies := fs.String("policies", "", "Path to a JSON policies file")
	outputFormat := fs.String("output-format", configstore.FormatText, "Output format: text, markdown, or json")
	maxPolicies := fs.Int("max-policies", render.DefaultMaxPolicies, "Maximum number of policies to render")
	output := fs.String("output", "", "Write the rendering to this path instead of stdout")

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

	var rendered string
	switch strings.ToLower(strings.TrimSpace(*outputFormat)) {
	case configstore.FormatText:
		rendered = render.Text(set, *maxPolicies)
	case configstore.FormatMarkdown:
		rendered = render.Markdown(set, *maxPolicies)
	case configstore.FormatJSON:
		encoded, err := mine.EncodePolicySet(set)
		if err != nil {
			return err
		}
		rendered = string(encoded)
	default:
		return fmt.Errorf("output format must be one of text, markdown, json; got %q", *outputFormat)
	}

	if path := strings.TrimSpace(*output); path != "" {
		if err := os.WriteFile(path, []byte(rendered+"\n"), 0o644); err != nil {
			return fmt.Errorf("write rendering: %w", err)
		}
		fmt.Fprintf(stdout, "Saved rendering to %s\n", path)
		return nil
	}

	fmt.Fprintln(stdout, rendered)
	return nil
}
