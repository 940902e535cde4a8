package domain

import (
	"strings"
	"time"
)

type PlanKind string

const (
	PlanKindCasting  PlanKind = "casting"
	PlanKindDowntime PlanKind = "downtime"
)

type PlanStatus string

const (
	PlanStatusPlanned       PlanStatus = "planned"
	PlanStatusReleased      PlanStatus = "released"
	PlanStatusMelting       PlanStatus = "melting"
	PlanStatusMetalReady    PlanStatus = "metal_ready"
	PlanStatusCasting       PlanStatus = "casting"
	PlanStatusCoilsComplete PlanStatus = "coils_complete"
	PlanStatusNotProduced   PlanStatus = "not_produced"
	PlanStatusCancelled     PlanStatus = "cancelled"
)

// ScheduledPlan is one time-boxed occupation of a caster. Both casting and
// downtime plans block the caster for conflict purposes.
type ScheduledPlan struct {
	ID           string
	CastNo       string
	Kind         PlanKind
	Interval     Interval
	SequenceRank int64
	Status       PlanStatus

	Furnace         string
	Alloy           string
	ProductItem     string
	WidthMM         float64
	FinalGaugeMM    float64
	PlannedWeightMT float64

	DowntimeType   string
	DowntimeReason string

	MeltingBatchID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p ScheduledPlan) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return NewValidationError("id", "is required")
	}
	if p.Interval.Resource == "" || p.Interval.Start.IsZero() {
		return NewValidationError("interval", "is required")
	}
	switch p.Kind {
	case PlanKindCasting:
		if strings.TrimSpace(p.Alloy) == "" {
			return NewValidationError("alloy", "is required for casting plans")
		}
		if strings.TrimSpace(p.ProductItem) == "" {
			return NewValidationError("product_item", "is required for casting plans")
		}
		if p.WidthMM <= 0 {
			return NewValidationError("width_mm", "must be greater than 0")
		}
		if p.FinalGaugeMM <= 0 {
			return NewValidationError("final_gauge_mm", "must be greater than 0")
		}
		if p.PlannedWeightMT < 0 {
			return NewValidationError("planned_weight_mt", "must not be negative")
		}
	case PlanKindDowntime:
		if strings.TrimSpace(p.DowntimeType) == "" {
			return NewValidationError("downtime_type", "is required for downtime plans")
		}
	default:
		return NewValidationError("kind", "must be casting or downtime (got %q)", string(p.Kind))
	}
	return nil
}

// planTransitions is forward-only: no transition skips a state under normal
// operation.
var planTransitions = map[PlanStatus][]PlanStatus{
	PlanStatusPlanned:       {PlanStatusReleased, PlanStatusCancelled},
	PlanStatusReleased:      {PlanStatusMelting, PlanStatusCancelled},
	PlanStatusMelting:       {PlanStatusMetalReady},
	PlanStatusMetalReady:    {PlanStatusCasting},
	PlanStatusCasting:       {PlanStatusCoilsComplete, PlanStatusNotProduced},
	PlanStatusCoilsComplete: {},
	PlanStatusNotProduced:   {},
	PlanStatusCancelled:     {},
}

func (p *ScheduledPlan) TransitionTo(next PlanStatus) error {
	allowed := planTransitions[p.Status]
	for _, s := range allowed {
		if s == next {
			if next == PlanStatusCancelled && p.MeltingBatchID != "" {
				return &GuardRejection{
					Aggregate:  "casting_plan",
					ID:         p.ID,
					Transition: "cancel",
					Current:    string(p.Status),
					Required:   "no melting batch linked (batch " + p.MeltingBatchID + " exists)",
				}
			}
			p.Status = next
			return nil
		}
	}
	return &GuardRejection{
		Aggregate:  "casting_plan",
		ID:         p.ID,
		Transition: "set_status " + string(next),
		Current:    string(p.Status),
		Required:   "one of: " + joinPlanStatuses(allowed),
	}
}

// Movable reports whether the repair planner may shift this plan. Plans
// that have started melting, and plans with a non-draft melting batch, are
// locked in time.
func (p ScheduledPlan) Movable() bool {
	switch p.Status {
	case PlanStatusPlanned, PlanStatusReleased:
		return p.MeltingBatchID == ""
	default:
		return false
	}
}

func joinPlanStatuses(in []PlanStatus) string {
	if len(in) == 0 {
		return "none (terminal status)"
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return strings.Join(out, ", ")
}
