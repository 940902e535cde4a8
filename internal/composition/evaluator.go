package composition

import (
	"strconv"
	"strings"
)

type OverallStatus string

const (
	OverallOK        OverallStatus = "ok"
	OverallOutOfSpec OverallStatus = "out_of_spec"
	OverallPending   OverallStatus = "pending"
)

// Verdict is the result of evaluating one sample against a rule set. It is
// a projection: recomputed whenever readings or the rule set change, never
// stored as authoritative.
type Verdict struct {
	Overall OverallStatus `json:"overall"`

	// PerElement is tri-state: true within spec, false violated, nil not
	// measured (a rule named the element but the sample has no reading).
	PerElement map[string]*bool `json:"per_element"`

	// Deviations preserves rule order so repeated evaluations of the same
	// inputs produce byte-identical reports.
	Deviations []string `json:"deviations"`

	// Notes carries free-text rule content verbatim; informational only.
	Notes []string `json:"notes,omitempty"`

	RulesEvaluated int `json:"rules_evaluated"`
	RulesSkipped   int `json:"rules_skipped"`
}

// Evaluate checks readings against rules in order. Readings use canonical
// element symbols mapped to weight percent; an absent key means the element
// was not measured. Missing data skips a rule rather than failing it.
func Evaluate(readings map[string]float64, rules []Rule) Verdict {
	readings = NormalizeReadings(readings)
	verdict := Verdict{
		PerElement: make(map[string]*bool),
		Deviations: []string{},
	}

	mandatoryFailed := false

	for _, rule := range rules {
		kind := strings.ToLower(strings.TrimSpace(rule.ConditionType))
		switch kind {
		case ConditionFreeText:
			if note := strings.TrimSpace(rule.Notes); note != "" {
				verdict.Notes = append(verdict.Notes, note)
			}
			continue

		case ConditionRangeLimit:
			elem := NormalizeElement(rule.Element1)
			value, measured := readings[elem]
			if !measured {
				markElement(verdict.PerElement, elem, nil)
				verdict.RulesSkipped++
				continue
			}
			verdict.RulesEvaluated++
			op, bound, ok := checkBounds(value, rule.MinPercent, rule.MaxPercent)
			markElement(verdict.PerElement, elem, &ok)
			if !ok {
				verdict.Deviations = append(verdict.Deviations,
					elem+" = "+formatPercent(value)+"%, expected "+op+" "+formatPercent(bound)+"%")
				if rule.Mandatory {
					mandatoryFailed = true
				}
			}

		case ConditionSumLimit:
			elems := rule.Elements()
			sum := 0.0
			complete := true
			for _, elem := range elems {
				value, measured := readings[elem]
				if !measured {
					complete = false
					break
				}
				sum += value
			}
			if !complete {
				verdict.RulesSkipped++
				continue
			}
			verdict.RulesEvaluated++
			op, bound, ok := checkBounds(sum, rule.MinPercent, rule.MaxPercent)
			if !ok {
				verdict.Deviations = append(verdict.Deviations,
					strings.Join(elems, " + ")+" = "+formatPercent(sum)+"%, expected "+op+" "+formatPercent(bound)+"%")
				if rule.Mandatory {
					mandatoryFailed = true
				}
			}

		case ConditionRatio:
			num := NormalizeElement(rule.Element1)
			den := NormalizeElement(rule.Element2)
			numVal, numOK := readings[num]
			denVal, denOK := readings[den]
			if !numOK || !denOK || denVal == 0 {
				verdict.RulesSkipped++
				continue
			}
			verdict.RulesEvaluated++
			ratio := numVal / denVal
			target := *rule.RatioTarget
			tolerance := 0.0
			if rule.RatioTolerance != nil {
				tolerance = *rule.RatioTolerance
			}
			diff := ratio - target
			if diff < 0 {
				diff = -diff
			}
			if diff > tolerance {
				verdict.Deviations = append(verdict.Deviations,
					num+"/"+den+" = "+formatRatio(ratio)+", expected "+formatRatio(target))
				if rule.Mandatory {
					mandatoryFailed = true
				}
			}

		case ConditionRemainder:
			elem := NormalizeElement(rule.Element1)
			value, measured := readings[elem]
			if !measured {
				others := 0.0
				counted := 0
				for symbol, reading := range readings {
					if symbol == elem {
						continue
					}
					others += reading
					counted++
				}
				if counted == 0 {
					markElement(verdict.PerElement, elem, nil)
					verdict.RulesSkipped++
					continue
				}
				value = 100 - others
			}
			verdict.RulesEvaluated++
			min := *rule.MinPercent
			ok := value >= min
			markElement(verdict.PerElement, elem, &ok)
			if !ok {
				verdict.Deviations = append(verdict.Deviations,
					elem+" = "+formatPercent(value)+"%, expected >= "+formatPercent(min)+"%")
				if rule.Mandatory {
					mandatoryFailed = true
				}
			}

		default:
			// Malformed rules are rejected at parse time; an unknown type
			// reaching here contributes nothing.
			verdict.RulesSkipped++
		}
	}

	switch {
	case verdict.RulesEvaluated == 0:
		verdict.Overall = OverallPending
	case mandatoryFailed:
		verdict.Overall = OverallOutOfSpec
	default:
		verdict.Overall = OverallOK
	}
	return verdict
}

// checkBounds compares value to whichever bounds are set. On violation it
// returns the operator and the bound that was crossed for the message.
func checkBounds(value float64, min, max *float64) (op string, bound float64, ok bool) {
	if min != nil && value < *min {
		return ">=", *min, false
	}
	if max != nil && value > *max {
		return "<=", *max, false
	}
	return "", 0, true
}

// markElement records the tri-state result, never letting a later pass
// overwrite an earlier failure.
func markElement(per map[string]*bool, elem string, result *bool) {
	prev, seen := per[elem]
	if seen && prev != nil && !*prev {
		return
	}
	if seen && prev != nil && result == nil {
		return
	}
	per[elem] = result
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatRatio(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
