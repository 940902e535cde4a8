package composition

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const ruleSetSchemaV1 = "swynix.mes.composition_spec.v1"

// RuleSet is the ordered composition specification for one alloy. Order
// matters: the evaluator reports deviations in rule order, and downstream
// reports depend on that being stable.
type RuleSet struct {
	Schema     string `json:"schema" yaml:"schema"`
	Alloy      string `json:"alloy" yaml:"alloy"`
	RevisionNo int    `json:"revision_no" yaml:"revision_no"`
	Rules      []Rule `json:"rules" yaml:"rules"`
}

func (s RuleSet) Validate() error {
	if strings.TrimSpace(s.Schema) != ruleSetSchemaV1 {
		return fmt.Errorf("schema must be %q", ruleSetSchemaV1)
	}
	if strings.TrimSpace(s.Alloy) == "" {
		return errors.New("alloy is required")
	}
	if s.RevisionNo < 0 {
		return errors.New("revision_no must be >= 0")
	}
	if len(s.Rules) == 0 {
		return errors.New("rules must be non-empty")
	}
	for i, rule := range s.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	return nil
}

// ParseRuleSet decodes and validates a YAML rule set document.
func ParseRuleSet(raw []byte) (RuleSet, error) {
	var set RuleSet
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return RuleSet{}, fmt.Errorf("decode rule set: %w", err)
	}
	if err := set.Validate(); err != nil {
		return RuleSet{}, err
	}
	return set, nil
}
