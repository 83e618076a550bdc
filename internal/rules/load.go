// (C) 2025 GoodData Corporation
package rules

import (
	"encoding/json"
	"fmt"
	"os"
)

// fileRule is the on-disk JSON shape for one rule tuple, the external
// rule-input schema from the external interfaces section: a 4-tuple of
// (predicate_tag, predicate_args, action_tag, action_args).
type fileRule struct {
	Predicate     string   `json:"predicate"`
	PredicateArgs []string `json:"predicateArgs"`
	Action        string   `json:"action"`
	ActionArgs    []string `json:"actionArgs"`
}

// LoadFile reads a JSON rule list from path and compiles it.
func LoadFile(path string) (*Compiled, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: reading %s: %w", path, err)
	}
	var fileRules []fileRule
	if err := json.Unmarshal(data, &fileRules); err != nil {
		return nil, fmt.Errorf("rules: parsing %s: %w", path, err)
	}

	rs := make([]Rule, len(fileRules))
	for i, fr := range fileRules {
		rs[i] = Rule{
			Predicate:     PredicateTag(fr.Predicate),
			PredicateArgs: fr.PredicateArgs,
			Action:        ActionTag(fr.Action),
			ActionArgs:    fr.ActionArgs,
		}
	}
	return Compile(rs)
}
