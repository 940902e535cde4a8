package domain

import (
	"fmt"
	"strings"
	"time"
)

type RunStatus string

const (
	RunStatusOpen     RunStatus = "open"
	RunStatusCasting  RunStatus = "casting"
	RunStatusFinished RunStatus = "finished"
	RunStatusAborted  RunStatus = "aborted"
)

// CastingRun tracks one plan's time on the caster, from metal arrival to the
// last coil cut.
type CastingRun struct {
	ID      string
	PlanID  string
	CastNo  string
	Caster  string
	Status  RunStatus
	Coils   int
	TotalKG float64

	StartedAt  time.Time
	StartedBy  string
	FinishedAt time.Time
	FinishedBy string
}

func (r CastingRun) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return NewValidationError("id", "is required")
	}
	if strings.TrimSpace(r.PlanID) == "" {
		return NewValidationError("plan_id", "is required")
	}
	if strings.TrimSpace(r.Caster) == "" {
		return NewValidationError("caster", "is required")
	}
	return nil
}

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusOpen:     {RunStatusCasting, RunStatusAborted},
	RunStatusCasting:  {RunStatusFinished, RunStatusAborted},
	RunStatusFinished: {},
	RunStatusAborted:  {},
}

func (r *CastingRun) TransitionTo(next RunStatus) error {
	for _, allowed := range runTransitions[r.Status] {
		if allowed == next {
			r.Status = next
			return nil
		}
	}
	return &GuardRejection{
		Aggregate:  "casting_run",
		ID:         r.ID,
		Transition: "set_status " + string(next),
		Current:    string(r.Status),
		Required:   "one of: " + joinRunStatuses(runTransitions[r.Status]),
	}
}

type CoilQCStatus string

const (
	CoilQCPending  CoilQCStatus = "pending"
	CoilQCApproved CoilQCStatus = "approved"
	CoilQCRejected CoilQCStatus = "rejected"
)

// Coil is one coil cut on the caster. It carries a temporary floor id at cut
// time; the final id is assigned when the coil is weighed and accepted.
type Coil struct {
	ID       string
	RunID    string
	TempID   string
	FinalID  string
	Sequence int
	QCStatus CoilQCStatus

	WeightKG    float64
	GaugeMM     float64
	WidthMM     float64
	CutAt       time.Time
	CutBy       string
	FinalizedAt time.Time
	FinalizedBy string
	RejectNote  string
}

func (c Coil) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return NewValidationError("id", "is required")
	}
	if strings.TrimSpace(c.RunID) == "" {
		return NewValidationError("run_id", "is required")
	}
	if strings.TrimSpace(c.TempID) == "" {
		return NewValidationError("temp_id", "is required")
	}
	if c.Sequence <= 0 {
		return NewValidationError("sequence", "must be greater than 0")
	}
	return nil
}

// TempCoilID derives the floor id printed at cut time: <cast no>-C<seq>.
func TempCoilID(castNo string, sequence int) string {
	return fmt.Sprintf("%s-C%d", castNo, sequence)
}

// GuardFinish is checked before a run closes: every coil must have a QC
// decision, and approved coils must be weighed and carry a final id.
func (c Coil) GuardFinish() error {
	switch c.QCStatus {
	case CoilQCApproved:
		if c.WeightKG <= 0 {
			return &GuardRejection{
				Aggregate:  "coil",
				ID:         c.ID,
				Transition: "finish_run",
				Current:    string(c.QCStatus),
				Required:   "recorded weight",
			}
		}
		if strings.TrimSpace(c.FinalID) == "" {
			return &GuardRejection{
				Aggregate:  "coil",
				ID:         c.ID,
				Transition: "finish_run",
				Current:    string(c.QCStatus),
				Required:   "final coil id assigned",
			}
		}
		return nil
	case CoilQCRejected:
		return nil
	default:
		return &GuardRejection{
			Aggregate:  "coil",
			ID:         c.ID,
			Transition: "finish_run",
			Current:    string(c.QCStatus),
			Required:   "approved or rejected qc status",
		}
	}
}

// Finalize assigns the final id and weight after QC approval.
func (c *Coil) Finalize(finalID string, weightKG float64, by string, at time.Time) error {
	if c.QCStatus != CoilQCApproved {
		return &GuardRejection{
			Aggregate:  "coil",
			ID:         c.ID,
			Transition: "finalize",
			Current:    string(c.QCStatus),
			Required:   string(CoilQCApproved),
		}
	}
	finalID = strings.TrimSpace(finalID)
	if finalID == "" {
		return NewValidationError("final_id", "is required")
	}
	if weightKG <= 0 {
		return NewValidationError("weight_kg", "must be greater than 0")
	}
	c.FinalID = finalID
	c.WeightKG = weightKG
	c.FinalizedBy = by
	c.FinalizedAt = at
	return nil
}

func joinRunStatuses(in []RunStatus) string {
	if len(in) == 0 {
		return "none (terminal status)"
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return strings.Join(out, ", ")
}
