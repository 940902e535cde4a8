package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/swynix/mes-go/internal/domain"
	"github.com/swynix/mes-go/internal/schedule"
)

func TestProposalResponse(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	proposal := schedule.Proposal{
		Resource:  "CASTER-1",
		Suggested: domain.Interval{Resource: "CASTER-1", Start: start, End: start.Add(45 * time.Minute)},
		Affected: []schedule.PlanShift{
			{
				PlanID:    "plan-b",
				From:      domain.Interval{Resource: "CASTER-1", Start: start, End: start.Add(2 * time.Hour)},
				To:        domain.Interval{Resource: "CASTER-1", Start: start.Add(45 * time.Minute), End: start.Add(2*time.Hour + 45*time.Minute)},
				ShiftedBy: 45 * time.Minute,
			},
		},
		ShiftDelta:  45 * time.Minute,
		ShiftFrom:   start,
		Fingerprint: "abc",
	}

	out := proposalResponse(proposal)
	if out.ShiftDeltaSeconds != 2700 {
		t.Fatalf("ShiftDeltaSeconds=%d, want 2700", out.ShiftDeltaSeconds)
	}
	if len(out.Affected) != 1 || out.Affected[0].ShiftedBySeconds != 2700 {
		t.Fatalf("Affected=%v, want one 2700s shift", out.Affected)
	}
	if out.ShiftFrom == nil || !out.ShiftFrom.Equal(start) {
		t.Fatalf("ShiftFrom=%v, want %v", out.ShiftFrom, start)
	}
	if out.Fingerprint != "abc" {
		t.Fatalf("Fingerprint=%q, want abc", out.Fingerprint)
	}

	none := proposalResponse(schedule.Proposal{Resource: "CASTER-1", Fingerprint: "def"})
	if none.ShiftFrom != nil {
		t.Fatalf("ShiftFrom=%v, want nil without shifts", none.ShiftFrom)
	}
	if none.Affected == nil || len(none.Affected) != 0 {
		t.Fatalf("Affected=%v, want empty non-nil slice", none.Affected)
	}
}

func TestPlanResponseKindFields(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	casting := domain.ScheduledPlan{
		ID:       "plan-1",
		Kind:     domain.PlanKindCasting,
		Interval: domain.Interval{Resource: "CASTER-1", Start: start, End: start.Add(time.Hour)},
		Alloy:    "AA8011",
	}
	out := planResponse(casting)
	if out["alloy"] != "AA8011" {
		t.Fatalf("alloy=%v, want AA8011", out["alloy"])
	}
	if _, ok := out["downtime_type"]; ok {
		t.Fatalf("casting plan must not expose downtime fields")
	}

	downtime := casting
	downtime.Kind = domain.PlanKindDowntime
	downtime.DowntimeType = "maintenance"
	out = planResponse(downtime)
	if out["downtime_type"] != "maintenance" {
		t.Fatalf("downtime_type=%v, want maintenance", out["downtime_type"])
	}
	if _, ok := out["alloy"]; ok {
		t.Fatalf("downtime plan must not expose casting fields")
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Resource string `json:"resource"`
	}

	req := httptest.NewRequest(http.MethodPost, "http://example.test/schedule/propose", strings.NewReader(`{"resource":"CASTER-1"}`))
	if err := decodeJSON(req, &dst); err != nil {
		t.Fatalf("decodeJSON() err=%v", err)
	}
	if dst.Resource != "CASTER-1" {
		t.Fatalf("Resource=%q, want CASTER-1", dst.Resource)
	}

	req = httptest.NewRequest(http.MethodPost, "http://example.test/schedule/propose", strings.NewReader(`{"resource":"CASTER-1","bogus":1}`))
	if err := decodeJSON(req, &dst); err == nil {
		t.Fatalf("expected error for unknown field")
	}

	req = httptest.NewRequest(http.MethodPost, "http://example.test/schedule/propose", strings.NewReader(`{"resource":"a"}{"resource":"b"}`))
	if err := decodeJSON(req, &dst); err == nil {
		t.Fatalf("expected error for trailing JSON value")
	}
}

func TestClampInt(t *testing.T) {
	if got := clampInt(0, 1, 500); got != 1 {
		t.Fatalf("clampInt(0)=%d, want 1", got)
	}
	if got := clampInt(1000, 1, 500); got != 500 {
		t.Fatalf("clampInt(1000)=%d, want 500", got)
	}
	if got := clampInt(42, 1, 500); got != 42 {
		t.Fatalf("clampInt(42)=%d, want 42", got)
	}
}
