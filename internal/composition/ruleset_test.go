package composition

import (
	"strings"
	"testing"
)

const testRuleSetYAML = `
schema: swynix.mes.composition_spec.v1
alloy: AA8011
revision_no: 3
rules:
  - condition_type: range_limit
    mandatory: true
    element_1: Fe
    min_percent: 0.60
    max_percent: 1.00
  - condition_type: sum_limit
    mandatory: true
    element_1: Fe
    element_2: Si
    max_percent: 1.80
  - condition_type: remainder
    mandatory: true
    element_1: Al
    min_percent: 97.30
  - condition_type: free_text
    notes: Ti-B rod feed per caster setup sheet.
`

func TestParseRuleSet(t *testing.T) {
	set, err := ParseRuleSet([]byte(testRuleSetYAML))
	if err != nil {
		t.Fatalf("ParseRuleSet() err=%v", err)
	}
	if set.Alloy != "AA8011" {
		t.Fatalf("Alloy=%q, want AA8011", set.Alloy)
	}
	if set.RevisionNo != 3 {
		t.Fatalf("RevisionNo=%d, want 3", set.RevisionNo)
	}
	if len(set.Rules) != 4 {
		t.Fatalf("len(Rules)=%d, want 4", len(set.Rules))
	}
}

func TestParseRuleSet_BadSchema(t *testing.T) {
	raw := strings.Replace(testRuleSetYAML, "swynix.mes.composition_spec.v1", "swynix.mes.composition_spec.v2", 1)
	if _, err := ParseRuleSet([]byte(raw)); err == nil {
		t.Fatalf("expected schema error")
	}
}

func TestParseRuleSet_RuleErrorIsIndexed(t *testing.T) {
	raw := strings.Replace(testRuleSetYAML, "min_percent: 97.30", "min_percent: 130.0", 1)
	_, err := ParseRuleSet([]byte(raw))
	if err == nil {
		t.Fatalf("expected rule error")
	}
	if !strings.Contains(err.Error(), "rules[2]") {
		t.Fatalf("err=%q, want rules[2] prefix", err)
	}
}

func TestRuleSetValidate_Empty(t *testing.T) {
	set := RuleSet{Schema: ruleSetSchemaV1, Alloy: "AA1050", RevisionNo: 1}
	if err := set.Validate(); err == nil {
		t.Fatalf("expected error for empty rules")
	}
}
