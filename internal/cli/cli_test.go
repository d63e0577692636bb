package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestCommandNameFallbacks(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "nil args", args: nil, want: "policyminer"},
		{name: "blank argv0", args: []string{"   "}, want: "policyminer"},
		{name: "full path", args: []string{"/usr/local/bin/policyminer"}, want: "policyminer"},
		{name: "renamed binary", args: []string{"miner"}, want: "miner"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := commandName(tc.args); got != tc.want {
				t.Fatalf("commandName(%v) = %q, want %q", tc.args, got, tc.want)
			}
		})
	}
}

func TestMainRejectsUnknownCommand(t *testing.T) {
	t.Parallel()
	err := Main([]string{"policyminer", "bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestUsageListsCommands(t *testing.T) {
	t.Parallel()
	text := usage("policyminer")
	for _, want := range []string{"extract", "format", "review", "serve", "version"} {
		if !strings.Contains(text, want) {
			t.Fatalf("usage missing %q:\n%s", want, text)
		}
	}
}

func TestPrintVersionShortensHash(t *testing.T) {
	// printVersion reads package globals, so run sequentially and restore.
	origVersion, origCommit, origDate := version, commit, buildDate
	defer func() { version, commit, buildDate = origVersion, origCommit, origDate }()

	SetVersionInfo("1.2.3", "abcdef1234567890", "2026-08-25")
	var buf bytes.Buffer
	printVersion(&buf)

	out := buf.String()
	if !strings.Contains(out, "version: 1.2.3\n") {
		t.Fatalf("missing version line: %s", out)
	}
	if !strings.Contains(out, "git hash: abcdef1\n") {
		t.Fatalf("expected 7 character hash: %s", out)
	}
	if !strings.Contains(out, "build date: 2026-08-25\n") {
		t.Fatalf("missing build date: %s", out)
	}
}

func TestSetVersionInfoKeepsValuesOnBlank(t *testing.T) {
	origVersion, origCommit, origDate := version, commit, buildDate
	defer func() { version, commit, buildDate = origVersion, origCommit, origDate }()

	version, commit, buildDate = "0.9.0", "aaaaaaa", "2026-01-01"
	SetVersionInfo("", " ", "")
	if version != "0.9.0" || commit != "aaaaaaa" || buildDate != "2026-01-01" {
		t.Fatalf("blank values must not overwrite: %s %s %s", version, commit, buildDate)
	}
}
