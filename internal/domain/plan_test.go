package domain

import (
	"errors"
	"testing"
	"time"
)

func testCastingPlan() ScheduledPlan {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return ScheduledPlan{
		ID:     "plan-1",
		CastNo: "C-2603-001",
		Kind:   PlanKindCasting,
		Interval: Interval{
			Resource: "CASTER-1",
			Start:    start,
			End:      start.Add(6 * time.Hour),
		},
		Status:          PlanStatusPlanned,
		Furnace:         "F-1",
		Alloy:           "AA8011",
		ProductItem:     "coil-1450",
		WidthMM:         1450,
		FinalGaugeMM:    6.5,
		PlannedWeightMT: 22,
	}
}

func TestScheduledPlanValidate(t *testing.T) {
	plan := testCastingPlan()
	if err := plan.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	noAlloy := testCastingPlan()
	noAlloy.Alloy = ""
	if err := noAlloy.Validate(); err == nil {
		t.Fatalf("expected error for casting plan without alloy")
	}

	badWidth := testCastingPlan()
	badWidth.WidthMM = 0
	if err := badWidth.Validate(); err == nil {
		t.Fatalf("expected error for zero width")
	}

	downtime := testCastingPlan()
	downtime.Kind = PlanKindDowntime
	downtime.Alloy = ""
	downtime.ProductItem = ""
	downtime.WidthMM = 0
	downtime.FinalGaugeMM = 0
	downtime.DowntimeType = "maintenance"
	if err := downtime.Validate(); err != nil {
		t.Fatalf("Validate() downtime err=%v", err)
	}
	downtime.DowntimeType = ""
	if err := downtime.Validate(); err == nil {
		t.Fatalf("expected error for downtime plan without type")
	}

	badKind := testCastingPlan()
	badKind.Kind = "service"
	if err := badKind.Validate(); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestScheduledPlanTransitions(t *testing.T) {
	plan := testCastingPlan()
	steps := []PlanStatus{
		PlanStatusReleased,
		PlanStatusMelting,
		PlanStatusMetalReady,
		PlanStatusCasting,
		PlanStatusCoilsComplete,
	}
	for _, next := range steps {
		if err := plan.TransitionTo(next); err != nil {
			t.Fatalf("TransitionTo(%s) err=%v", next, err)
		}
	}
	if err := plan.TransitionTo(PlanStatusCancelled); err == nil {
		t.Fatalf("expected terminal status to reject further transitions")
	}

	skipping := testCastingPlan()
	err := skipping.TransitionTo(PlanStatusCasting)
	var rejection *GuardRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("err=%T, want *GuardRejection", err)
	}
	if rejection.Current != string(PlanStatusPlanned) {
		t.Fatalf("Current=%q, want planned", rejection.Current)
	}
}

func TestScheduledPlanCancelGuard(t *testing.T) {
	plan := testCastingPlan()
	if err := plan.TransitionTo(PlanStatusReleased); err != nil {
		t.Fatalf("TransitionTo(released) err=%v", err)
	}

	plan.MeltingBatchID = "batch-1"
	err := plan.TransitionTo(PlanStatusCancelled)
	var rejection *GuardRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("err=%T, want *GuardRejection", err)
	}
	if plan.Status != PlanStatusReleased {
		t.Fatalf("Status=%q, want released after rejected cancel", plan.Status)
	}

	plan.MeltingBatchID = ""
	if err := plan.TransitionTo(PlanStatusCancelled); err != nil {
		t.Fatalf("TransitionTo(cancelled) err=%v", err)
	}
}

func TestScheduledPlanMovable(t *testing.T) {
	plan := testCastingPlan()
	if !plan.Movable() {
		t.Fatalf("planned plan must be movable")
	}

	plan.Status = PlanStatusReleased
	if !plan.Movable() {
		t.Fatalf("released plan without batch must be movable")
	}

	plan.MeltingBatchID = "batch-1"
	if plan.Movable() {
		t.Fatalf("plan with melting batch must not be movable")
	}

	plan.MeltingBatchID = ""
	plan.Status = PlanStatusMelting
	if plan.Movable() {
		t.Fatalf("melting plan must not be movable")
	}
}
