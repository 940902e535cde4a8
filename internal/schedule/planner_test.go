package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/swynix/mes-go/internal/domain"
)

const testResource = "CASTER-1"

var testNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func testPlan(id string, start, end time.Time, rank int64) domain.ScheduledPlan {
	return domain.ScheduledPlan{
		ID:           id,
		Kind:         domain.PlanKindCasting,
		Status:       domain.PlanStatusPlanned,
		SequenceRank: rank,
		Interval: domain.Interval{
			Resource: testResource,
			Start:    start,
			End:      end,
		},
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 1, hour, minute, 0, 0, time.UTC)
}

func TestProposeInsertion_NoConflict(t *testing.T) {
	existing := []domain.ScheduledPlan{
		testPlan("a", at(8, 0), at(10, 0), 1),
	}
	requested := domain.Interval{Resource: testResource, Start: at(12, 0), End: at(14, 0)}

	proposal, err := ProposeInsertion(testResource, requested, existing, testNow)
	if err != nil {
		t.Fatalf("ProposeInsertion() err=%v", err)
	}
	if !proposal.Suggested.Start.Equal(requested.Start) {
		t.Fatalf("Suggested.Start=%v, want requested start", proposal.Suggested.Start)
	}
	if len(proposal.Affected) != 0 {
		t.Fatalf("Affected=%v, want none", proposal.Affected)
	}
}

func TestProposeInsertion_AbuttingIsNotConflict(t *testing.T) {
	existing := []domain.ScheduledPlan{
		testPlan("a", at(8, 0), at(10, 0), 1),
	}
	requested := domain.Interval{Resource: testResource, Start: at(10, 0), End: at(12, 0)}

	proposal, err := ProposeInsertion(testResource, requested, existing, testNow)
	if err != nil {
		t.Fatalf("ProposeInsertion() err=%v", err)
	}
	if len(proposal.Affected) != 0 {
		t.Fatalf("Affected=%v, want none for abutting request", proposal.Affected)
	}
}

func TestProposeInsertion_SnapToConflictEnd(t *testing.T) {
	existing := []domain.ScheduledPlan{
		testPlan("a", at(8, 0), at(10, 0), 1),
	}
	requested := domain.Interval{Resource: testResource, Start: at(9, 0), End: at(11, 30)}

	proposal, err := ProposeInsertion(testResource, requested, existing, testNow)
	if err != nil {
		t.Fatalf("ProposeInsertion() err=%v", err)
	}
	if !proposal.Suggested.Start.Equal(at(10, 0)) {
		t.Fatalf("Suggested.Start=%v, want 10:00", proposal.Suggested.Start)
	}
	if proposal.Suggested.Duration() != requested.Duration() {
		t.Fatalf("Duration=%v, want %v preserved", proposal.Suggested.Duration(), requested.Duration())
	}
}

func TestProposeInsertion_CascadeShift(t *testing.T) {
	existing := []domain.ScheduledPlan{
		testPlan("a", at(8, 0), at(10, 0), 1),
		testPlan("b", at(10, 0), at(12, 0), 2),
		testPlan("c", at(12, 30), at(14, 0), 3),
	}
	// Insert a 45 minute job over the end of a: it snaps to 10:00-10:45,
	// pushes b by 45 minutes, and b's new end pushes c by 15 minutes.
	requested := domain.Interval{Resource: testResource, Start: at(9, 30), End: at(10, 15)}

	proposal, err := ProposeInsertion(testResource, requested, existing, testNow)
	if err != nil {
		t.Fatalf("ProposeInsertion() err=%v", err)
	}
	if !proposal.Suggested.Start.Equal(at(10, 0)) || !proposal.Suggested.End.Equal(at(10, 45)) {
		t.Fatalf("Suggested=%v-%v, want 10:00-10:45", proposal.Suggested.Start, proposal.Suggested.End)
	}
	if len(proposal.Affected) != 2 {
		t.Fatalf("len(Affected)=%d, want 2", len(proposal.Affected))
	}

	first := proposal.Affected[0]
	if first.PlanID != "b" || first.ShiftedBy != 45*time.Minute {
		t.Fatalf("Affected[0]=%+v, want b shifted 45m", first)
	}
	if !first.To.Start.Equal(at(10, 45)) || !first.To.End.Equal(at(12, 45)) {
		t.Fatalf("b To=%v-%v, want 10:45-12:45", first.To.Start, first.To.End)
	}

	second := proposal.Affected[1]
	if second.PlanID != "c" || second.ShiftedBy != 15*time.Minute {
		t.Fatalf("Affected[1]=%+v, want c shifted 15m", second)
	}

	if proposal.ShiftDelta != 45*time.Minute {
		t.Fatalf("ShiftDelta=%v, want 45m", proposal.ShiftDelta)
	}
	if !proposal.ShiftFrom.Equal(at(10, 0)) {
		t.Fatalf("ShiftFrom=%v, want 10:00", proposal.ShiftFrom)
	}
}

func TestProposeInsertion_GapStopsCascade(t *testing.T) {
	existing := []domain.ScheduledPlan{
		testPlan("a", at(8, 0), at(10, 0), 1),
		testPlan("b", at(10, 0), at(11, 0), 2),
		testPlan("c", at(15, 0), at(16, 0), 3),
	}
	requested := domain.Interval{Resource: testResource, Start: at(9, 0), End: at(10, 0)}

	proposal, err := ProposeInsertion(testResource, requested, existing, testNow)
	if err != nil {
		t.Fatalf("ProposeInsertion() err=%v", err)
	}
	if len(proposal.Affected) != 1 {
		t.Fatalf("len(Affected)=%d, want 1: cascade stops at the gap", len(proposal.Affected))
	}
	if proposal.Affected[0].PlanID != "b" {
		t.Fatalf("Affected[0].PlanID=%q, want b", proposal.Affected[0].PlanID)
	}
}

func TestProposeInsertion_PreexistingOverlapNotRepaired(t *testing.T) {
	// b sits inside a: dirty data the planner must tolerate, not repair.
	existing := []domain.ScheduledPlan{
		testPlan("a", at(9, 0), at(13, 0), 1),
		testPlan("b", at(10, 0), at(11, 0), 2),
	}
	requested := domain.Interval{Resource: testResource, Start: at(11, 30), End: at(12, 0)}

	proposal, err := ProposeInsertion(testResource, requested, existing, testNow)
	if err != nil {
		t.Fatalf("ProposeInsertion() err=%v", err)
	}
	if !proposal.Suggested.Start.Equal(at(13, 0)) || !proposal.Suggested.End.Equal(at(13, 30)) {
		t.Fatalf("Suggested=%v-%v, want 13:00-13:30", proposal.Suggested.Start, proposal.Suggested.End)
	}
	// b ends before the suggested start; it overlaps nothing the insertion
	// touches and must stay where it is.
	if len(proposal.Affected) != 0 {
		t.Fatalf("Affected=%v, want none", proposal.Affected)
	}

	// Same layout with b locked: a plan the insertion never touches cannot
	// block it either.
	locked := testPlan("b", at(10, 0), at(11, 0), 2)
	locked.Status = domain.PlanStatusMelting
	existing[1] = locked
	proposal, err = ProposeInsertion(testResource, requested, existing, testNow)
	if err != nil {
		t.Fatalf("ProposeInsertion() err=%v with locked nested plan", err)
	}
	if len(proposal.Affected) != 0 {
		t.Fatalf("Affected=%v, want none with locked nested plan", proposal.Affected)
	}
}

func TestProposeInsertion_LockedPlanBlocks(t *testing.T) {
	locked := testPlan("b", at(10, 0), at(12, 0), 2)
	locked.Status = domain.PlanStatusMelting
	existing := []domain.ScheduledPlan{
		testPlan("a", at(8, 0), at(10, 0), 1),
		locked,
	}
	requested := domain.Interval{Resource: testResource, Start: at(9, 0), End: at(11, 0)}

	_, err := ProposeInsertion(testResource, requested, existing, testNow)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err=%T, want *ConflictError", err)
	}
	if conflict.BlockedBy != "b" {
		t.Fatalf("BlockedBy=%q, want b", conflict.BlockedBy)
	}
}

func TestProposeInsertion_RejectsPastAndWrongResource(t *testing.T) {
	requested := domain.Interval{Resource: testResource, Start: testNow.Add(-time.Hour), End: testNow.Add(time.Hour)}
	if _, err := ProposeInsertion(testResource, requested, nil, testNow); err == nil {
		t.Fatalf("expected error for past start")
	}

	other := domain.Interval{Resource: "CASTER-2", Start: at(8, 0), End: at(9, 0)}
	if _, err := ProposeInsertion(testResource, other, nil, testNow); err == nil {
		t.Fatalf("expected error for resource mismatch")
	}
}

func TestProposeInsertion_DoesNotMutateInput(t *testing.T) {
	existing := []domain.ScheduledPlan{
		testPlan("a", at(8, 0), at(10, 0), 1),
		testPlan("b", at(10, 0), at(12, 0), 2),
	}
	requested := domain.Interval{Resource: testResource, Start: at(9, 0), End: at(10, 0)}

	if _, err := ProposeInsertion(testResource, requested, existing, testNow); err != nil {
		t.Fatalf("ProposeInsertion() err=%v", err)
	}
	if !existing[1].Interval.Start.Equal(at(10, 0)) {
		t.Fatalf("input plan b moved to %v; planner must be pure", existing[1].Interval.Start)
	}
}

func TestValidateCommit(t *testing.T) {
	existing := []domain.ScheduledPlan{
		testPlan("a", at(8, 0), at(10, 0), 1),
	}
	requested := domain.Interval{Resource: testResource, Start: at(12, 0), End: at(13, 0)}
	proposal, err := ProposeInsertion(testResource, requested, existing, testNow)
	if err != nil {
		t.Fatalf("ProposeInsertion() err=%v", err)
	}

	if err := ValidateCommit(proposal, existing); err != nil {
		t.Fatalf("ValidateCommit() err=%v", err)
	}

	moved := []domain.ScheduledPlan{
		testPlan("a", at(8, 30), at(10, 30), 1),
	}
	if err := ValidateCommit(proposal, moved); !errors.Is(err, ErrStaleProposal) {
		t.Fatalf("err=%v, want ErrStaleProposal", err)
	}

	added := append([]domain.ScheduledPlan{}, existing...)
	added = append(added, testPlan("b", at(14, 0), at(15, 0), 2))
	if err := ValidateCommit(proposal, added); !errors.Is(err, ErrStaleProposal) {
		t.Fatalf("err=%v, want ErrStaleProposal after insert", err)
	}
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	a := testPlan("a", at(8, 0), at(10, 0), 1)
	b := testPlan("b", at(10, 0), at(12, 0), 2)

	fp1 := Fingerprint([]domain.ScheduledPlan{a, b})
	fp2 := Fingerprint([]domain.ScheduledPlan{b, a})
	if fp1 != fp2 {
		t.Fatalf("fingerprint depends on input order")
	}
}

func TestAvailableSlots(t *testing.T) {
	existing := []domain.ScheduledPlan{
		testPlan("a", at(8, 0), at(10, 0), 1),
		testPlan("b", at(11, 0), at(12, 0), 2),
	}

	slots := AvailableSlots(existing, at(6, 0), at(14, 0), time.Hour)
	if len(slots) != 3 {
		t.Fatalf("len(slots)=%d, want 3: %v", len(slots), slots)
	}
	if !slots[0].Start.Equal(at(6, 0)) || !slots[0].End.Equal(at(8, 0)) {
		t.Fatalf("slots[0]=%v, want 06:00-08:00", slots[0])
	}
	if !slots[1].Start.Equal(at(10, 0)) || !slots[1].End.Equal(at(11, 0)) {
		t.Fatalf("slots[1]=%v, want 10:00-11:00", slots[1])
	}
	if !slots[2].Start.Equal(at(12, 0)) || !slots[2].End.Equal(at(14, 0)) {
		t.Fatalf("slots[2]=%v, want 12:00-14:00", slots[2])
	}

	// A 90 minute job does not fit the middle gap.
	slots = AvailableSlots(existing, at(6, 0), at(14, 0), 90*time.Minute)
	if len(slots) != 2 {
		t.Fatalf("len(slots)=%d, want 2 for 90m minimum", len(slots))
	}

	if got := AvailableSlots(existing, at(14, 0), at(6, 0), time.Hour); got != nil {
		t.Fatalf("slots=%v, want nil for inverted window", got)
	}
}
