package schedule

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"time"

	"github.com/swynix/mes-go/internal/domain"
)

// ErrStaleProposal means the resource's plans changed between propose and
// commit; the caller must re-propose against fresh data.
var ErrStaleProposal = errors.New("schedule proposal is stale: existing plans changed since it was computed")

// PlanShift is one plan moved by a proposal, carrying the not-yet-committed
// new interval.
type PlanShift struct {
	PlanID    string
	From      domain.Interval
	To        domain.Interval
	ShiftedBy time.Duration
}

// Proposal is the planner's answer: where the new plan lands, which existing
// plans move to make room, and a fingerprint of the inputs so commit can
// detect concurrent edits. Nothing is mutated until the caller commits.
type Proposal struct {
	Resource    string
	Suggested   domain.Interval
	Affected    []PlanShift
	ShiftDelta  time.Duration
	ShiftFrom   time.Time
	Fingerprint string
}

// ProposeInsertion places requested on the resource without overlaps,
// snapping to the end of the first conflicting plan and cascading shifts
// forward only as far as each boundary requires. Pure: callers re-invoke
// with fresh data if the underlying plans may have changed.
func ProposeInsertion(resource string, requested domain.Interval, existing []domain.ScheduledPlan, now time.Time) (Proposal, error) {
	if requested.Resource != resource {
		return Proposal{}, domain.NewValidationError("requested", "interval resource %q does not match %q", requested.Resource, resource)
	}
	if requested.Start.Before(now) {
		return Proposal{}, domain.NewValidationError("requested", "start %s is in the past", requested.Start.Format(time.RFC3339))
	}

	sorted := sortPlans(existing)
	proposal := Proposal{
		Resource:    resource,
		Suggested:   requested,
		Affected:    []PlanShift{},
		Fingerprint: Fingerprint(existing),
	}

	// First conflict decides the snap point; plans wholly before the
	// request are untouched.
	conflictAt := -1
	for i, p := range sorted {
		if p.Interval.Overlaps(requested) {
			conflictAt = i
			break
		}
	}
	if conflictAt == -1 {
		return proposal, nil
	}

	duration := requested.Duration()
	snapStart := sorted[conflictAt].Interval.End
	suggested := domain.Interval{
		Resource: resource,
		Start:    snapStart,
		End:      snapStart.Add(duration),
	}
	proposal.Suggested = suggested

	// Cascade: each successor shifts by exactly what its predecessor's new
	// end demands. Sorted order makes a gap terminal: once a plan clears
	// its predecessor, everything after it clears too. The occupied region
	// is contiguous from the suggested start through prevEnd, so a plan
	// ending at or before the suggested start overlaps nothing the
	// insertion touches; such pre-existing overlaps are left as they are.
	prevEnd := suggested.End
	for i := conflictAt + 1; i < len(sorted); i++ {
		p := sorted[i]
		if !p.Interval.Start.Before(prevEnd) {
			break
		}
		if !p.Interval.End.After(suggested.Start) {
			continue
		}
		delta := prevEnd.Sub(p.Interval.Start)
		if !p.Movable() {
			return Proposal{}, &domain.ConflictError{
				Resource:  resource,
				BlockedBy: p.ID,
				Reason:    "insertion requires shifting a plan that is locked in time",
			}
		}
		shifted := p.Interval.Shift(delta)
		proposal.Affected = append(proposal.Affected, PlanShift{
			PlanID:    p.ID,
			From:      p.Interval,
			To:        shifted,
			ShiftedBy: delta,
		})
		prevEnd = shifted.End
	}

	if len(proposal.Affected) > 0 {
		proposal.ShiftDelta = proposal.Affected[0].ShiftedBy
		proposal.ShiftFrom = proposal.Affected[0].From.Start
	}
	return proposal, nil
}

// ValidateCommit re-checks a proposal against the current plan set. A
// fingerprint mismatch means someone else changed the schedule after the
// proposal was computed.
func ValidateCommit(proposal Proposal, current []domain.ScheduledPlan) error {
	if Fingerprint(current) != proposal.Fingerprint {
		return ErrStaleProposal
	}
	return nil
}

// Slot is a free gap on a resource within a query window.
type Slot struct {
	Start time.Time
	End   time.Time
}

// AvailableSlots lists the gaps within [windowStart, windowEnd) that can fit
// at least minDuration, given the resource's existing plans.
func AvailableSlots(existing []domain.ScheduledPlan, windowStart, windowEnd time.Time, minDuration time.Duration) []Slot {
	if !windowEnd.After(windowStart) || minDuration <= 0 {
		return nil
	}
	sorted := sortPlans(existing)

	var slots []Slot
	cursor := windowStart
	for _, p := range sorted {
		if !p.Interval.End.After(windowStart) {
			continue
		}
		if !p.Interval.Start.Before(windowEnd) {
			break
		}
		if p.Interval.Start.Sub(cursor) >= minDuration {
			slots = append(slots, Slot{Start: cursor, End: p.Interval.Start})
		}
		if p.Interval.End.After(cursor) {
			cursor = p.Interval.End
		}
	}
	if windowEnd.Sub(cursor) >= minDuration {
		slots = append(slots, Slot{Start: cursor, End: windowEnd})
	}
	return slots
}

// Fingerprint hashes the plan set's identity and placement. Any change to
// which plans exist or where they sit produces a different value.
func Fingerprint(plans []domain.ScheduledPlan) string {
	sorted := sortPlans(plans)
	h := sha256.New()
	for _, p := range sorted {
		h.Write([]byte(p.ID))
		h.Write([]byte{0})
		h.Write([]byte(p.Interval.Start.UTC().Format(time.RFC3339Nano)))
		h.Write([]byte{0})
		h.Write([]byte(p.Interval.End.UTC().Format(time.RFC3339Nano)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// sortPlans orders by start ascending, ties broken by sequence rank so the
// earlier-created plan keeps its position. The input slice is not modified.
func sortPlans(plans []domain.ScheduledPlan) []domain.ScheduledPlan {
	out := make([]domain.ScheduledPlan, len(plans))
	copy(out, plans)
	sort.SliceStable(out, func(i, j int) bool {
		if c := domain.CompareIntervalsByStart(out[i].Interval, out[j].Interval); c != 0 {
			return c < 0
		}
		return out[i].SequenceRank < out[j].SequenceRank
	})
	return out
}
