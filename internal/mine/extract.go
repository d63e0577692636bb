package mine

import (
	"fmt"
	"sort"
	"time"
)

// Options controls the thresholds and run metadata for one extraction. The
// thresholds are hard filters, not soft scores; the engine applies them as
// given without clamping, so an out-of-range value simply matches nothing.
type Options struct {
	// MinSupport is the minimum fraction of all records that must carry both
	// the antecedent and the consequent.
	MinSupport float64

	// MinConfidence is the minimum fraction of antecedent-bearing records
	// that must also carry the consequent.
	MinConfidence float64

	// MinLift is the minimum ratio of confidence to the consequent's
	// unconditional baseline frequency.
	MinLift float64

	// Name labels the resulting policy set. Empty means the default label.
	Name string
}

// DefaultOptions returns the thresholds applied when the caller supplies
// none.
func DefaultOptions() Options {
	return Options{
		MinSupport:    0.05,
		MinConfidence: 0.6,
		MinLift:       1.0,
		Name:          "Mined Policy Set",
	}
}

type pairKey struct {
	key   string
	value string
}

type tripleKey struct {
	key    string
	value  string
	action string
}

// Extract mines every single-attribute association rule that clears the
// configured thresholds from logs. It is a pure function of its inputs: all
// working state is local to one call, so independent extractions may run
// concurrently without coordination. Empty input yields an empty set with
// SourceLogs zero, not an error.
func Extract(logs []BehaviorLog, opts Options) *PolicySet {
	if opts.Name == "" {
		opts.Name = DefaultOptions().Name
	}
	set := &PolicySet{
		Name:        opts.Name,
		SourceLogs:  len(logs),
		Policies:    []MinedPolicy{},
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	total := len(logs)
	if total == 0 {
		return set
	}

	actionCounts := make(map[string]int)
	antecedentCounts := make(map[pairKey]int)
	coCounts := make(map[tripleKey]int)
	// Map iteration order is randomized, so the counting pass also records
	// each triple's first appearance. Scoring walks that slice to keep the
	// stable sort below deterministic for a given input order.
	order := make([]tripleKey, 0)

	for _, rec := range logs {
		actionCounts[rec.Action]++
		for _, key := range contextKeys(rec.Context) {
			value := coerceValue(rec.Context[key])
			antecedentCounts[pairKey{key: key, value: value}]++
			tk := tripleKey{key: key, value: value, action: rec.Action}
			if coCounts[tk] == 0 {
				order = append(order, tk)
			}
			coCounts[tk]++
		}
	}

	for _, tk := range order {
		co := coCounts[tk]

		support := float64(co) / float64(total)
		if support < opts.MinSupport {
			continue
		}

		antecedent := antecedentCounts[pairKey{key: tk.key, value: tk.value}]
		confidence := 0.0
		if antecedent > 0 {
			confidence = float64(co) / float64(antecedent)
		}
		if confidence < opts.MinConfidence {
			continue
		}

		// The baseline cannot be zero for an observed triple, but the branch
		// stays in case the counting pass ever changes.
		baseline := float64(actionCounts[tk.action]) / float64(total)
		lift := 0.0
		if baseline > 0 {
			lift = confidence / baseline
		}
		if lift < opts.MinLift {
			continue
		}

		set.Policies = append(set.Policies, MinedPolicy{
			Antecedent:  map[string]string{tk.key: tk.value},
			Consequent:  tk.action,
			Support:     round6(support),
			Confidence:  round6(confidence),
			Lift:        round6(lift),
			Description: describe(tk.key, tk.value, tk.action, support, confidence, lift),
		})
	}

	sort.SliceStable(set.Policies, func(i, j int) bool {
		return set.Policies[i].Confidence > set.Policies[j].Confidence
	})

	// IDs follow the final ranked order, not discovery order.
	for i := range set.Policies {
		set.Policies[i].PolicyID = fmt.Sprintf("policy_%04d", i+1)
	}

	return set
}

// contextKeys returns the record's context attribute names in sorted order so
// a single canonical enumeration order exists regardless of map layout.
func contextKeys(context map[string]any) []string {
	if len(context) == 0 {
		return nil
	}
	keys := make([]string, 0, len(context))
	for key := range context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
