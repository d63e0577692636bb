package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aumai/policyminer/internal/mine"
	"github.com/aumai/policyminer/internal/render"
)

// writePolicySet persists a small fixture set and returns its path.
func writePolicySet(t *testing.T, dir string, policies int) string {
	t.Helper()
	set := &mine.PolicySet{
		Name:        "Test Policies",
		SourceLogs:  10,
		GeneratedAt: "2025-01-01T00:00:00",
	}
	for i := 0; i < policies; i++ {
		set.Policies = append(set.Policies, mine.MinedPolicy{
			PolicyID:    fmt.Sprintf("policy_%04d", i+1),
			Antecedent:  map[string]string{"role": "manager"},
			Consequent:  "approve",
			Support:     0.8,
			Confidence:  0.9,
			Lift:        1.5,
			Description: "If role is manager, then action approve.",
		})
	}
	path := filepath.Join(dir, "policies.json")
	if err := render.WriteJSONFile(set, path); err != nil {
		t.Fatalf("write fixture set: %v", err)
	}
	return path
}

func TestFormatTextDefault(t *testing.T) {
	t.Parallel()
	path := writePolicySet(t, t.TempDir(), 1)

	var out bytes.Buffer
	if err := runFormat("policyminer", []string{"--policies", path}, &out); err != nil {
		t.Fatalf("format failed: %v", err)
	}
	if !strings.Contains(out.String(), "Policy Set: Test Policies") {
		t.Fatalf("missing text header: %s", out.String())
	}
	if !strings.Contains(out.String(), "policy_0001") {
		t.Fatalf("missing policy row: %s", out.String())
	}
}

func TestFormatMarkdown(t *testing.T) {
	t.Parallel()
	path := writePolicySet(t, t.TempDir(), 1)

	var out bytes.Buffer
	if err := runFormat("policyminer", []string{"--policies", path, "--output-format", "markdown"}, &out); err != nil {
		t.Fatalf("format failed: %v", err)
	}
	if !strings.Contains(out.String(), "# Test Policies") {
		t.Fatalf("missing markdown heading: %s", out.String())
	}
	if !strings.Contains(out.String(), "| policy_0001 |") {
		t.Fatalf("missing table row: %s", out.String())
	}

	// Format names are case-insensitive.
	out.Reset()
	if err := runFormat("policyminer", []string{"--policies", path, "--output-format", "MARKDOWN"}, &out); err != nil {
		t.Fatalf("uppercase format failed: %v", err)
	}
}

func TestFormatJSONRoundTrips(t *testing.T) {
	t.Parallel()
	path := writePolicySet(t, t.TempDir(), 2)

	var out bytes.Buffer
	if err := runFormat("policyminer", []string{"--policies", path, "--output-format", "json"}, &out); err != nil {
		t.Fatalf("format failed: %v", err)
	}
	var doc struct {
		Name     string            `json:"name"`
		Policies []json.RawMessage `json:"policies"`
	}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if doc.Name != "Test Policies" || len(doc.Policies) != 2 {
		t.Fatalf("unexpected JSON output: %+v", doc)
	}
}

func TestFormatRejectsUnknownFormat(t *testing.T) {
	t.Parallel()
	path := writePolicySet(t, t.TempDir(), 1)

	var out bytes.Buffer
	err := runFormat("policyminer", []string{"--policies", path, "--output-format", "yaml"}, &out)
	if err == nil || !strings.Contains(err.Error(), "output format must be one of") {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestFormatMaxPoliciesTruncates(t *testing.T) {
	t.Parallel()
	path := writePolicySet(t, t.TempDir(), 3)

	var out bytes.Buffer
	if err := runFormat("policyminer", []string{"--policies", path, "--max-policies", "1"}, &out); err != nil {
		t.Fatalf("format failed: %v", err)
	}
	if !strings.Contains(out.String(), "policy_0001") || strings.Contains(out.String(), "policy_0002") {
		t.Fatalf("expected truncation after 1 policy: %s", out.String())
	}
	if !strings.Contains(out.String(), "Total policies: 3") {
		t.Fatalf("total should count the full set: %s", out.String())
	}
}

func TestFormatWritesOutputFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writePolicySet(t, dir, 1)
	dest := filepath.Join(dir, "report.md")

	var out bytes.Buffer
	if err := runFormat("policyminer", []string{"--policies", path, "--output-format", "markdown", "--output", dest}, &out); err != nil {
		t.Fatalf("format failed: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read rendering: %v", err)
	}
	if !strings.Contains(string(data), "# Test Policies") {
		t.Fatalf("unexpected file contents: %s", data)
	}
	if !strings.Contains(out.String(), "Saved rendering to "+dest) {
		t.Fatalf("missing saved line: %s", out.String())
	}
}

func TestFormatRequiresPolicies(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	err := runFormat("policyminer", nil, &out)
	if err == nil || !strings.Contains(err.Error(), "--policies is required") {
		t.Fatalf("expected missing policies error, got %v", err)
	}
}

func TestFormatRejectsMalformedFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("NOT VALID JSON"), 0o644); err != nil {
		t.Fatalf("write bad file: %v", err)
	}

	var out bytes.Buffer
	err := runFormat("policyminer", []string{"--policies", path}, &out)
	if err == nil || !strings.Contains(err.Error(), "load policy set") {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestFormatMissingFile(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	err := runFormat("policyminer", []string{"--policies", filepath.Join(t.TempDir(), "nope.json")}, &out)
	if err == nil {
		t.Fatalf("expected error for missing policies file")
	}
}
