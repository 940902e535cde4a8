package composition

import "testing"

func ptrFloat(v float64) *float64 { return &v }

func TestNormalizeElement(t *testing.T) {
	cases := map[string]string{
		"iron":     "Fe",
		"fe":       "Fe",
		"Fe":       "Fe",
		"Silicon":  "Si",
		"aluminum": "Al",
		"xx":       "Xx",
		"":         "",
	}
	for in, want := range cases {
		if got := NormalizeElement(in); got != want {
			t.Fatalf("NormalizeElement(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestRuleValidate_RangeLimit(t *testing.T) {
	rule := Rule{ConditionType: ConditionRangeLimit, Element1: "Fe", MaxPercent: ptrFloat(0.35), Mandatory: true}
	if err := rule.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	noBounds := Rule{ConditionType: ConditionRangeLimit, Element1: "Fe"}
	if err := noBounds.Validate(); err == nil {
		t.Fatalf("expected error without bounds")
	}

	twoElems := rule
	twoElems.Element2 = "Si"
	if err := twoElems.Validate(); err == nil {
		t.Fatalf("expected error for second element")
	}

	inverted := Rule{ConditionType: ConditionRangeLimit, Element1: "Fe", MinPercent: ptrFloat(0.5), MaxPercent: ptrFloat(0.3)}
	if err := inverted.Validate(); err == nil {
		t.Fatalf("expected error for min > max")
	}

	withRatio := rule
	withRatio.RatioTarget = ptrFloat(1.5)
	if err := withRatio.Validate(); err == nil {
		t.Fatalf("expected error for ratio fields on range_limit")
	}
}

func TestRuleValidate_SumLimit(t *testing.T) {
	rule := Rule{ConditionType: ConditionSumLimit, Element1: "Fe", Element2: "Si", MaxPercent: ptrFloat(1.0)}
	if err := rule.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	single := Rule{ConditionType: ConditionSumLimit, Element1: "Fe", MaxPercent: ptrFloat(1.0)}
	if err := single.Validate(); err == nil {
		t.Fatalf("expected error for sum over one element")
	}
}

func TestRuleValidate_Ratio(t *testing.T) {
	rule := Rule{ConditionType: ConditionRatio, Element1: "Fe", Element2: "Si", RatioTarget: ptrFloat(1.5), RatioTolerance: ptrFloat(0.2)}
	if err := rule.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	noTarget := Rule{ConditionType: ConditionRatio, Element1: "Fe", Element2: "Si"}
	if err := noTarget.Validate(); err == nil {
		t.Fatalf("expected error without ratio_target")
	}

	zeroTarget := Rule{ConditionType: ConditionRatio, Element1: "Fe", Element2: "Si", RatioTarget: ptrFloat(0)}
	if err := zeroTarget.Validate(); err == nil {
		t.Fatalf("expected error for zero ratio_target")
	}

	withBounds := rule
	withBounds.MaxPercent = ptrFloat(1.0)
	if err := withBounds.Validate(); err == nil {
		t.Fatalf("expected error for percent bounds on ratio")
	}
}

func TestRuleValidate_Remainder(t *testing.T) {
	rule := Rule{ConditionType: ConditionRemainder, Element1: "Al", MinPercent: ptrFloat(98.0), Mandatory: true}
	if err := rule.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	over := Rule{ConditionType: ConditionRemainder, Element1: "Al", MinPercent: ptrFloat(101)}
	if err := over.Validate(); err == nil {
		t.Fatalf("expected error for min above 100")
	}

	withMax := rule
	withMax.MaxPercent = ptrFloat(99.9)
	if err := withMax.Validate(); err == nil {
		t.Fatalf("expected error for max_percent on remainder")
	}
}

func TestRuleValidate_FreeText(t *testing.T) {
	rule := Rule{ConditionType: ConditionFreeText, Notes: "grain refiner added at launder"}
	if err := rule.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	empty := Rule{ConditionType: ConditionFreeText}
	if err := empty.Validate(); err == nil {
		t.Fatalf("expected error for empty notes")
	}

	unknown := Rule{ConditionType: "spectral"}
	if err := unknown.Validate(); err == nil {
		t.Fatalf("expected error for unknown condition type")
	}
}

func TestRuleElements(t *testing.T) {
	rule := Rule{ConditionType: ConditionSumLimit, Element1: "iron", Element2: "si", MaxPercent: ptrFloat(1)}
	got := rule.Elements()
	if len(got) != 2 || got[0] != "Fe" || got[1] != "Si" {
		t.Fatalf("Elements()=%v, want [Fe Si]", got)
	}
}
