// Package mine turns recorded agent behavior logs into ranked governance
// policies: single-attribute association rules scored by support, confidence,
// and lift.
package mine

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FieldError reports a record field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// BehaviorLog is a single recorded agent action: who acted, under what
// situational context, and with what outcome. Records are immutable once
// constructed; the extractor only reads them. Duplicate log IDs are tolerated
// within a batch and counted independently.
type BehaviorLog struct {
	LogID     string         `json:"log_id"`
	AgentID   string         `json:"agent_id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Context   map[string]any `json:"context,omitempty"`
	Outcome   string         `json:"outcome"`
}

// NewBehaviorLog validates raw and fills defaults, returning the normalized
// record. LogID, AgentID, and Action are trimmed and must be non-blank. A zero
// Timestamp defaults to the current time and a blank Outcome defaults to
// "success". The context mapping may be nil or empty.
func NewBehaviorLog(raw BehaviorLog) (BehaviorLog, error) {
	out := raw
	out.LogID = strings.TrimSpace(raw.LogID)
	out.AgentID = strings.TrimSpace(raw.AgentID)
	out.Action = strings.TrimSpace(raw.Action)

	switch {
	case out.LogID == "":
		return BehaviorLog{}, &FieldError{Field: "log_id", Reason: "must not be blank"}
	case out.AgentID == "":
		return BehaviorLog{}, &FieldError{Field: "agent_id", Reason: "must not be blank"}
	case out.Action == "":
		return BehaviorLog{}, &FieldError{Field: "action", Reason: "must not be blank"}
	}

	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	if out.Outcome == "" {
		out.Outcome = "success"
	}
	return out, nil
}

// MinedPolicy is one surviving association rule. The antecedent holds exactly
// one context attribute and its string-coerced value; the consequent is the
// action the rule predicts.
type MinedPolicy struct {
	PolicyID    string            `json:"policy_id"`
	Antecedent  map[string]string `json:"antecedent"`
	Consequent  string            `json:"consequent"`
	Support     float64           `json:"support"`
	Confidence  float64           `json:"confidence"`
	Lift        float64           `json:"lift"`
	Description string            `json:"description"`
}

func (p *MinedPolicy) validate(path string) error {
	if len(p.Antecedent) != 1 {
		return &FieldError{Field: path + ".antecedent", Reason: "must hold exactly one attribute"}
	}
	if p.Support < 0 || p.Support > 1 {
		return &FieldError{Field: path + ".support", Reason: "must be between 0 and 1"}
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return &FieldError{Field: path + ".confidence", Reason: "must be between 0 and 1"}
	}
	if p.Lift < 0 {
		return &FieldError{Field: path + ".lift", Reason: "must not be negative"}
	}
	return nil
}

// PolicySet is the full ranked output of one extraction run plus its run
// metadata. Policy order is significant and survives serialization. A set is
// never mutated after construction; derived views return new slices.
type PolicySet struct {
	Name        string        `json:"name"`
	SourceLogs  int           `json:"source_logs"`
	Policies    []MinedPolicy `json:"policies"`
	GeneratedAt string        `json:"generated_at"`
}

// TopPolicies returns the n highest-confidence policies as a new slice. The
// stored order is not trusted (a set may have been decoded from an external
// source), so the view re-sorts stably by descending confidence without
// touching the receiver.
func (s *PolicySet) TopPolicies(n int) []MinedPolicy {
	if n < 0 {
		n = 0
	}
	out := make([]MinedPolicy, len(s.Policies))
	copy(out, s.Policies)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if n < len(out) {
		out = out[:n]
	}
	return out
}
