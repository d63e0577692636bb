// Package cli implements the policyminer command frontend: extract, format,
// review, and serve subcommands plus version and usage plumbing.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aumai/policyminer/internal/minerd"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersionInfo records the build metadata stamped in by the linker so the
// version subcommand can report it. Blank values keep the defaults.
func SetVersionInfo(v, c, d string) {
	if strings.TrimSpace(v) != "" {
		version = v
	}
	if strings.TrimSpace(c) != "" {
		commit = c
	}
	if strings.TrimSpace(d) != "" {
		buildDate = d
	}
}

// Main dispatches the subcommand named by the provided argv slice. When args
// is empty, os.Args is used to mirror standard command invocation.
func Main(args []string) error {
	if len(args) == 0 {
		args = os.Args
	}
	name := commandName(args)
	if len(args) < 2 {
		fmt.Println(usage(name))
		return nil
	}

	sub := args[1]
	rest := args[2:]
	switch sub {
	case "extract":
		return runExtract(name, rest, os.Stdout)
	case "format":
		return runFormat(name, rest, os.Stdout)
	case "review":
		return runReview(name, rest, os.Stdin, os.Stdout)
	case "serve":
		return minerd.Main(append([]string{name + " serve"}, rest...))
	case "version", "--version":
		printVersion(os.Stdout)
		return nil
	case "help", "-h", "--help":
		fmt.Println(usage(name))
		return nil
	default:
		return fmt.Errorf("unknown command %q; run '%s help' for usage", sub, name)
	}
}

func commandName(args []string) string {
	if len(args) == 0 {
		return "policyminer"
	}
	name := strings.TrimSpace(args[0])
	if name == "" {
		return "policyminer"
	}
	return filepath.Base(name)
}

func usage(cmdName string) string {
	return fmt.Sprintf(`Usage: %s <command> [flags]

Mine permission policies from agent behavior logs.

Commands:
  extract   Mine association rules from a behavior log file and save the policy set.
  format    Render a saved policy set as text, markdown, or JSON.
  review    Step through a saved policy set and keep the approved rules.
  serve     Run the miner daemon with the HTTP and websocket API.
  version   Print build version information.
  help      Show this message.

Run '%s <command> --help' for command flags.`, cmdName, cmdName)
}

func printVersion(w io.Writer) {
	shortHash := commit
	if len(shortHash) > 7 {
		shortHash = shortHash[:7]
	}
	fmt.Fprintf(w, "version: %s\n", version)
	fmt.Fprintf(w, "git hash: %s\n", shortHash)
	fmt.Fprintf(w, "build date: %s\n", buildDate)
}
