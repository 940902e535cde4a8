package composition

import (
	"fmt"
	"strings"
)

const (
	ConditionRangeLimit = "range_limit"
	ConditionSumLimit   = "sum_limit"
	ConditionRatio      = "ratio"
	ConditionRemainder  = "remainder"
	ConditionFreeText   = "free_text"
)

// Rule is one line of a composition specification. Which fields apply
// depends on ConditionType; Validate enforces that only the matching fields
// are populated so a stored rule can never be ambiguous.
type Rule struct {
	ConditionType string `json:"condition_type" yaml:"condition_type"`
	Mandatory     bool   `json:"mandatory" yaml:"mandatory"`

	Element1 string `json:"element_1,omitempty" yaml:"element_1,omitempty"`
	Element2 string `json:"element_2,omitempty" yaml:"element_2,omitempty"`
	Element3 string `json:"element_3,omitempty" yaml:"element_3,omitempty"`

	MinPercent *float64 `json:"min_percent,omitempty" yaml:"min_percent,omitempty"`
	MaxPercent *float64 `json:"max_percent,omitempty" yaml:"max_percent,omitempty"`

	RatioTarget    *float64 `json:"ratio_target,omitempty" yaml:"ratio_target,omitempty"`
	RatioTolerance *float64 `json:"ratio_tolerance,omitempty" yaml:"ratio_tolerance,omitempty"`

	Notes string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Elements returns the canonical symbols of every element the rule names,
// in declaration order.
func (r Rule) Elements() []string {
	out := make([]string, 0, 3)
	for _, raw := range []string{r.Element1, r.Element2, r.Element3} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		out = append(out, NormalizeElement(raw))
	}
	return out
}

func (r Rule) Validate() error {
	kind := strings.ToLower(strings.TrimSpace(r.ConditionType))
	switch kind {
	case ConditionRangeLimit:
		if strings.TrimSpace(r.Element1) == "" {
			return fmt.Errorf("range_limit requires element_1")
		}
		if strings.TrimSpace(r.Element2) != "" || strings.TrimSpace(r.Element3) != "" {
			return fmt.Errorf("range_limit takes a single element")
		}
		if r.MinPercent == nil && r.MaxPercent == nil {
			return fmt.Errorf("range_limit requires min_percent or max_percent")
		}
		if err := validateBounds(r.MinPercent, r.MaxPercent); err != nil {
			return fmt.Errorf("range_limit: %w", err)
		}
		if r.RatioTarget != nil || r.RatioTolerance != nil {
			return fmt.Errorf("range_limit must not carry ratio fields")
		}
	case ConditionSumLimit:
		if strings.TrimSpace(r.Element1) == "" || strings.TrimSpace(r.Element2) == "" {
			return fmt.Errorf("sum_limit requires at least element_1 and element_2")
		}
		if r.MinPercent == nil && r.MaxPercent == nil {
			return fmt.Errorf("sum_limit requires min_percent or max_percent")
		}
		if err := validateBounds(r.MinPercent, r.MaxPercent); err != nil {
			return fmt.Errorf("sum_limit: %w", err)
		}
		if r.RatioTarget != nil || r.RatioTolerance != nil {
			return fmt.Errorf("sum_limit must not carry ratio fields")
		}
	case ConditionRatio:
		if strings.TrimSpace(r.Element1) == "" || strings.TrimSpace(r.Element2) == "" {
			return fmt.Errorf("ratio requires element_1 and element_2")
		}
		if r.RatioTarget == nil {
			return fmt.Errorf("ratio requires ratio_target")
		}
		if *r.RatioTarget <= 0 {
			return fmt.Errorf("ratio_target must be > 0")
		}
		if r.RatioTolerance != nil && *r.RatioTolerance < 0 {
			return fmt.Errorf("ratio_tolerance must be >= 0")
		}
		if r.MinPercent != nil || r.MaxPercent != nil {
			return fmt.Errorf("ratio must not carry min/max percent")
		}
	case ConditionRemainder:
		if strings.TrimSpace(r.Element1) == "" {
			return fmt.Errorf("remainder requires element_1")
		}
		if strings.TrimSpace(r.Element2) != "" || strings.TrimSpace(r.Element3) != "" {
			return fmt.Errorf("remainder takes a single element")
		}
		if r.MinPercent == nil {
			return fmt.Errorf("remainder requires min_percent")
		}
		if *r.MinPercent < 0 || *r.MinPercent > 100 {
			return fmt.Errorf("remainder min_percent must be within [0, 100]")
		}
		if r.MaxPercent != nil || r.RatioTarget != nil || r.RatioTolerance != nil {
			return fmt.Errorf("remainder only takes min_percent")
		}
	case ConditionFreeText:
		if strings.TrimSpace(r.Notes) == "" {
			return fmt.Errorf("free_text requires notes")
		}
		if r.MinPercent != nil || r.MaxPercent != nil || r.RatioTarget != nil || r.RatioTolerance != nil {
			return fmt.Errorf("free_text must not carry numeric bounds")
		}
	case "":
		return fmt.Errorf("condition_type is required")
	default:
		return fmt.Errorf("condition_type unsupported: %q", kind)
	}
	return nil
}

func validateBounds(min, max *float64) error {
	if min != nil && *min < 0 {
		return fmt.Errorf("min_percent must be >= 0")
	}
	if max != nil && *max < 0 {
		return fmt.Errorf("max_percent must be >= 0")
	}
	if min != nil && max != nil && *min > *max {
		return fmt.Errorf("min_percent must be <= max_percent")
	}
	return nil
}
