// Package render turns a mined policy set into the plain-text and Markdown
// reports consumed by operators, and persists sets to JSON files.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aumai/policyminer/internal/mine"
)

// DefaultMaxPolicies caps report length when the caller does not say
// otherwise.
const DefaultMaxPolicies = 50

// Text renders a plain-text report. Policies appear in stored order and are
// silently truncated after maxPolicies entries; a non-positive limit means
// DefaultMaxPolicies.
func Text(set *mine.PolicySet, maxPolicies int) string {
	lines := []string{
		fmt.Sprintf("Policy Set: %s", set.Name),
		fmt.Sprintf("Source logs: %d", set.SourceLogs),
		fmt.Sprintf("Generated at: %s", set.GeneratedAt),
		fmt.Sprintf("Total policies: %d", len(set.Policies)),
		strings.Repeat("-", 60),
	}
	for _, policy := range capPolicies(set.Policies, maxPolicies) {
		lines = append(lines, fmt.Sprintf("[%s] %s", policy.PolicyID, policy.Description))
		lines = append(lines, fmt.Sprintf("  support=%.4f confidence=%.4f lift=%.4f",
			policy.Support, policy.Confidence, policy.Lift))
	}
	return strings.Join(lines, "\n")
}

// Markdown renders the set as a summary block plus one table row per policy,
// truncated the same way Text is.
func Markdown(set *mine.PolicySet, maxPolicies int) string {
	lines := []string{
		fmt.Sprintf("# %s", set.Name),
		"",
		fmt.Sprintf("- **Source logs:** %d", set.SourceLogs),
		fmt.Sprintf("- **Generated at:** %s", set.GeneratedAt),
		fmt.Sprintf("- **Total policies:** %d", len(set.Policies)),
		"",
		"| ID | Antecedent | Consequent | Support | Confidence | Lift |",
		"|----|-----------|-----------|---------|------------|------|",
	}
	for _, policy := range capPolicies(set.Policies, maxPolicies) {
		lines = append(lines, fmt.Sprintf("| %s | %s | %s | %.4f | %.4f | %.4f |",
			policy.PolicyID, antecedentString(policy.Antecedent), policy.Consequent,
			policy.Support, policy.Confidence, policy.Lift))
	}
	return strings.Join(lines, "\n")
}

func capPolicies(policies []mine.MinedPolicy, maxPolicies int) []mine.MinedPolicy {
	if maxPolicies <= 0 {
		maxPolicies = DefaultMaxPolicies
	}
	if maxPolicies < len(policies) {
		return policies[:maxPolicies]
	}
	return policies
}

func antecedentString(antecedent map[string]string) string {
	keys := make([]string, 0, len(antecedent))
	for key := range antecedent {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, antecedent[key]))
	}
	return strings.Join(parts, ", ")
}

// WriteJSONFile atomically persists the set as indented JSON: the document is
// staged in a temp file in the target directory and renamed into place.
func WriteJSONFile(set *mine.PolicySet, path string) error {
	data, err := mine.EncodePolicySet(set)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleaned := false
	defer func() {
		if !cleaned {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write policy set: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync policy set: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename policy set: %w", err)
	}
	cleaned = true
	return nil
}

// ReadJSONFile loads and validates a persisted policy set.
func ReadJSONFile(path string) (*mine.PolicySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy set: %w", err)
	}
	set, err := mine.DecodePolicySet(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}
