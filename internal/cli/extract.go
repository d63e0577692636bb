package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aumai/policyminer/internal/cedar"
	"github.com/aumai/policyminer/internal/configstore"
	"github.com/aumai/policyminer/internal/ingest"
	"github.com/aumai/policyminer/internal/mine"
	"github.com/aumai/policyminer/internal/redact"
	"github.com/aumai/policyminer/internal/render"
)

// summaryMaxPolicies caps the report printed after an extract run. The full
// set still lands in the output file.
const summaryMaxPolicies = 10

type stringListFlag []string

func (s *stringListFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringListFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}

type extractOptions struct {
	logs       string
	output     string
	cedarPath  string
	mining     mine.Options
	redactions map[string]string
}

func runExtract(cmdName string, args []string, stdout io.Writer) error {
	opts, err := parseExtractArgs(cmdName, args)
	if err != nil {
		return err
	}

	reader := ingest.Reader{}
	if len(opts.redactions) > 0 {
		masker := redact.NewManager()
		for id, value := range opts.redactions {
			if _, err := masker.Upsert(id, id, value); err != nil {
				return fmt.Errorf("redaction %s: %w", id, err)
			}
		}
		reader.Masker = masker
	}

	result, err := reader.ParseFile(opts.logs)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Parsed %d valid log entries.\n", len(result.Logs))
	if result.Skipped > 0 {
		fmt.Fprintf(stdout, "Skipped %d malformed records.\n", result.Skipped)
	}

	set := mine.Extract(result.Logs, opts.mining)
	fmt.Fprintf(stdout, "Mined %d policies.\n", len(set.Policies))

	if err := render.WriteJSONFile(set, opts.output); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Saved policy set to %s\n", opts.output)

	if opts.cedarPath != "" {
		src := cedar.Export(set)
		if err := cedar.Validate(src); err != nil {
			return fmt.Errorf("validate cedar export: %w", err)
		}
		if err := os.WriteFile(opts.cedarPath, []byte(src), 0o644); err != nil {
			return fmt.Errorf("write cedar export: %w", err)
		}
		fmt.Fprintf(stdout, "Saved Cedar policies to %s\n", opts.cedarPath)
	}

	fmt.Fprintln(stdout, render.Text(set, summaryMaxPolicies))
	return nil
}

// parseExtractArgs resolves the extract flag set. Threshold defaults come
// from the config file when --config is given, otherwise from the built-in
// extractor defaults; flags given explicitly win over both.
func parseExtractArgs(cmdName string, args []string) (extractOptions, error) {
	fs := flag.NewFlagSet(cmdName+" extract", flag.ContinueOnError)
	defaults := mine.DefaultOptions()

	logs := fs.String("logs", "", "Path to a JSONL behavior log file (.gz, .zst, and .br are decompressed)")
	output := fs.String("output", "", "Output JSON path (defaults to policies.json next to the log file)")
	configPath := fs.String("config", strings.TrimSpace(os.Getenv("MINER_CONFIG")), "TOML config file supplying threshold defaults (optional)")
	minSupport := fs.Float64("min-support", defaults.MinSupport, "Minimum support threshold (0.0 - 1.0)")
	minConfidence := fs.Float64("min-confidence", defaults.MinConfidence, "Minimum confidence threshold (0.0 - 1.0)")
	minLift := fs.Float64("min-lift", defaults.MinLift, "Minimum lift threshold")
	name := fs.String("name", defaults.Name, "Name for the mined policy set")
	cedarPath := fs.String("cedar", "", "Also export the mined set as Cedar policies to this path")
	var redactSpecs stringListFlag
	fs.Var(&redactSpecs, "redact", "Mask a sensitive context value at ingest, id=value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return extractOptions{}, err
	}
	if len(fs.Args()) > 0 {
		return extractOptions{}, fmt.Errorf("unexpected extra arguments: %v", fs.Args())
	}
	if strings.TrimSpace(*logs) == "" {
		return extractOptions{}, fmt.Errorf("--logs is required")
	}

	mining := defaults
	redactions := make(map[string]string)
	if path := strings.TrimSpace(*configPath); path != "" {
		cfg, err := configstore.LoadFile(path)
		if err != nil {
			return extractOptions{}, err
		}
		mining = cfg.MiningOptions()
		for id, value := range cfg.Redactions {
			redactions[id] = value
		}
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if explicit["min-support"] {
		mining.MinSupport = *minSupport
	}
	if explicit["min-confidence"] {
		mining.MinConfidence = *minConfidence
	}
	if explicit["min-lift"] {
		mining.MinLift = *minLift
	}
	if explicit["name"] {
		mining.Name = *name
	}

	for _, spec := range redactSpecs {
		id, value, ok := strings.Cut(spec, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" || value == "" {
			return extractOptions{}, fmt.Errorf("invalid redaction %q; expected id=value", spec)
		}
		redactions[id] = value
	}

	dest := strings.TrimSpace(*output)
	if dest == "" {
		dest = filepath.Join(filepath.Dir(*logs), "policies.json")
	}

	return extractOptions{
		logs:       *logs,
		output:     dest,
		cedarPath:  strings.TrimSpace(*cedarPath),
		mining:     mining,
		redactions: redactions,
	}, nil
}
