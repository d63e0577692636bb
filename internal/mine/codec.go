package mine

import (
	"encoding/json"
	"fmt"
)

// EncodePolicySet renders a set as indented JSON with the stable top-level
// shape: name, source_logs, policies, generated_at. Policy order is preserved
// exactly as stored.
func EncodePolicySet(set *PolicySet) ([]byte, error) {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode policy set: %w", err)
	}
	return data, nil
}

type policySetDoc struct {
	Name        *string      `json:"name"`
	SourceLogs  *int         `json:"source_logs"`
	Policies    *[]policyDoc `json:"policies"`
	GeneratedAt *string      `json:"generated_at"`
}

type policyDoc struct {
	PolicyID    *string           `json:"policy_id"`
	Antecedent  map[string]string `json:"antecedent"`
	Consequent  *string           `json:"consequent"`
	Support     *float64          `json:"support"`
	Confidence  *float64          `json:"confidence"`
	Lift        *float64          `json:"lift"`
	Description *string           `json:"description"`
}

// DecodePolicySet parses a JSON document into a PolicySet, rejecting missing
// required fields, wrong types, and out-of-range numerics. A malformed
// document fails whole; there is no partial recovery.
func DecodePolicySet(data []byte) (*PolicySet, error) {
	var doc policySetDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode policy set: %w", err)
	}

	switch {
	case doc.Name == nil:
		return nil, &FieldError{Field: "name", Reason: "missing"}
	case doc.SourceLogs == nil:
		return nil, &FieldError{Field: "source_logs", Reason: "missing"}
	case doc.Policies == nil:
		return nil, &FieldError{Field: "policies", Reason: "missing"}
	case doc.GeneratedAt == nil:
		return nil, &FieldError{Field: "generated_at", Reason: "missing"}
	}
	if *doc.SourceLogs < 0 {
		return nil, &FieldError{Field: "source_logs", Reason: "must not be negative"}
	}

	set := &PolicySet{
		Name:        *doc.Name,
		SourceLogs:  *doc.SourceLogs,
		Policies:    make([]MinedPolicy, 0, len(*doc.Policies)),
		GeneratedAt: *doc.GeneratedAt,
	}
	for i, pd := range *doc.Policies {
		policy, err := decodePolicy(pd, fmt.Sprintf("policies[%d]", i))
		if err != nil {
			return nil, err
		}
		set.Policies = append(set.Policies, policy)
	}
	return set, nil
}

func decodePolicy(doc policyDoc, path string) (MinedPolicy, error) {
	switch {
	case doc.PolicyID == nil:
		return MinedPolicy{}, &FieldError{Field: path + ".policy_id", Reason: "missing"}
	case doc.Antecedent == nil:
		return MinedPolicy{}, &FieldError{Field: path + ".antecedent", Reason: "missing"}
	case doc.Consequent == nil:
		return MinedPolicy{}, &FieldError{Field: path + ".consequent", Reason: "missing"}
	case doc.Support == nil:
		return MinedPolicy{}, &FieldError{Field: path + ".support", Reason: "missing"}
	case doc.Confidence == nil:
		return MinedPolicy{}, &FieldError{Field: path + ".confidence", Reason: "missing"}
	case doc.Lift == nil:
		return MinedPolicy{}, &FieldError{Field: path + ".lift", Reason: "missing"}
	case doc.Description == nil:
		return MinedPolicy{}, &FieldError{Field: path + ".description", Reason: "missing"}
	}

	policy := MinedPolicy{
		PolicyID:    *doc.PolicyID,
		Antecedent:  doc.Antecedent,
		Consequent:  *doc.Consequent,
		Support:     *doc.Support,
		Confidence:  *doc.Confidence,
		Lift:        *doc.Lift,
		Description: *doc.Description,
	}
	if err := policy.validate(path); err != nil {
		return MinedPolicy{}, err
	}
	return policy, nil
}
